package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by the logger
type ContextKey string

const (
	// LoggerKey is the context key for the logger instance
	LoggerKey ContextKey = "logger"
)

// Options controls how New builds a logger.
type Options struct {
	Level string // debug, info, warn or error; defaults to info
	JSON  bool   // structured JSON lines instead of console output
}

// New creates a console logger at info level writing to stdout.
func New() zerolog.Logger {
	return NewWithOptions(os.Stdout, Options{})
}

// NewWithOptions creates a logger writing to w.
func NewWithOptions(w io.Writer, opts Options) zerolog.Logger {
	out := w
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Caller().Logger()
}

// NewWithWriter creates a JSON logger with a custom writer
func NewWithWriter(w io.Writer) zerolog.Logger {
	return NewWithOptions(w, Options{JSON: true, Level: "debug"})
}

// ParseLevel maps a level name to a zerolog level. Unknown names mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from the context or returns a default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return New()
}

// WithFields adds structured fields to a logger
func WithFields(logger zerolog.Logger, fields map[string]interface{}) zerolog.Logger {
	ctx := logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}
