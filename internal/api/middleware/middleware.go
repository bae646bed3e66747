package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds client supplied request IDs.
const maxRequestIDLen = 128

// accessLog gathers what inner handlers learn about a request (the caller,
// the uploaded file, the queued job) for the single line Logger writes.
type accessLog struct {
	mu     sync.Mutex
	userID string
	fields map[string]interface{}
}

func accessLogFrom(ctx context.Context) *accessLog {
	al, _ := ctx.Value(accessLogKey).(*accessLog)
	return al
}

// SetLogField adds key to the access log line of the request in ctx. It is a
// no-op outside Logger.
func SetLogField(ctx context.Context, key string, value interface{}) {
	al := accessLogFrom(ctx)
	if al == nil {
		return
	}
	al.mu.Lock()
	al.fields[key] = value
	al.mu.Unlock()
}

func setLogUser(ctx context.Context, userID string) {
	if al := accessLogFrom(ctx); al != nil {
		al.mu.Lock()
		al.userID = userID
		al.mu.Unlock()
	}
}

// Logger writes one access log line per request and puts log into the
// request context. 5xx responses log at error level, 4xx at warn.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			al := &accessLog{fields: map[string]interface{}{}}
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			ctx := context.WithValue(logger.WithContext(r.Context(), log), accessLogKey, al)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			var ev *zerolog.Event
			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				ev = log.Error()
			case wrapped.statusCode >= http.StatusBadRequest:
				ev = log.Warn()
			default:
				ev = log.Info()
			}

			al.mu.Lock()
			if al.userID != "" {
				ev = ev.Str("user_id", al.userID)
			}
			ev = ev.Fields(al.fields)
			al.mu.Unlock()

			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Int64("bytes_in", r.ContentLength).
				Int("bytes_out", wrapped.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("request_id", wrapped.Header().Get(RequestIDHeader)).
				Msg("Handled request")
		})
	}
}

// CORS lets browser clients call the API and read the request ID.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserHeader+", "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)
		h.Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Recovery turns a handler panic into a 500 and logs it with its stack.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Interface("panic", err).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Str("request_id", w.Header().Get(RequestIDHeader)).
						Bytes("stack", debug.Stack()).
						Msg("Panic recovered")

					WriteError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RequestID keeps the caller's X-Request-ID, or assigns a UUID when it is
// missing or too long, and adds it to the context logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		log := logger.FromContext(ctx).With().Str("request_id", requestID).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx, log)))
	})
}

// RequestIDFromContext returns the ID assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// responseWriter records the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

type contextKey string

const (
	requestIDKey contextKey = "requestID"
	userIDKey    contextKey = "userID"
	accessLogKey contextKey = "accessLog"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WriteJSON writes data as the JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a {success:false, message} body.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Success: false, Message: message})
}
