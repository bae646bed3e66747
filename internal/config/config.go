package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendBigQuery = "bigquery"
)

// Config holds settings shared by the API server and the CLI.
type Config struct {
	Port     string
	LogLevel string
	LogJSON  bool

	StoreBackend       string
	DatabaseURL        string
	MongoURI           string
	MongoDatabase      string
	BigQueryProject    string
	BigQueryDataset    string
	GCSBucket          string
	JWTSecret          string
	MaxUploadBytes     int64
	JobWorkers         int
	JobQueueSize       int
	JobMaxRetries      int
	SettingsMaxRetries int
}

// Load reads a .env file when present and then the process environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a getenv-style lookup and validates it.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:            stringOr(getenv("PORT"), "8080"),
		LogLevel:        stringOr(getenv("LOG_LEVEL"), "info"),
		StoreBackend:    strings.ToLower(stringOr(getenv("STORE_BACKEND"), BackendMemory)),
		DatabaseURL:     getenv("DB_CONNECTION_STRING"),
		MongoURI:        getenv("MONGO_URI"),
		MongoDatabase:   stringOr(getenv("MONGO_DATABASE"), "expense_tracker"),
		BigQueryProject: getenv("BIGQUERY_PROJECT"),
		BigQueryDataset: stringOr(getenv("BIGQUERY_DATASET"), "finance"),
		GCSBucket:       getenv("GCS_BUCKET"),
		JWTSecret:       getenv("JWT_SECRET"),
	}

	var err error
	if cfg.LogJSON, err = boolOr(getenv("LOG_JSON"), false); err != nil {
		return Config{}, fmt.Errorf("LOG_JSON: %w", err)
	}
	if cfg.MaxUploadBytes, err = int64Or(getenv("MAX_UPLOAD_BYTES"), 10<<20); err != nil {
		return Config{}, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
	}
	if cfg.JobWorkers, err = intOr(getenv("JOB_WORKERS"), 2); err != nil {
		return Config{}, fmt.Errorf("JOB_WORKERS: %w", err)
	}
	if cfg.JobQueueSize, err = intOr(getenv("JOB_QUEUE_SIZE"), 100); err != nil {
		return Config{}, fmt.Errorf("JOB_QUEUE_SIZE: %w", err)
	}
	if cfg.JobMaxRetries, err = intOr(getenv("JOB_MAX_RETRIES"), 0); err != nil {
		return Config{}, fmt.Errorf("JOB_MAX_RETRIES: %w", err)
	}
	if cfg.SettingsMaxRetries, err = intOr(getenv("SETTINGS_MAX_RETRIES"), 3); err != nil {
		return Config{}, fmt.Errorf("SETTINGS_MAX_RETRIES: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DB_CONNECTION_STRING is required for the postgres backend")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo backend")
		}
	case BackendBigQuery:
		if c.BigQueryProject == "" {
			return fmt.Errorf("BIGQUERY_PROJECT is required for the bigquery backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.JobWorkers <= 0 || c.JobQueueSize <= 0 {
		return fmt.Errorf("JOB_WORKERS and JOB_QUEUE_SIZE must be positive")
	}
	if c.JobMaxRetries < 0 || c.SettingsMaxRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	return nil
}

func stringOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func intOr(v string, def int) (int, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(v))
}

func int64Or(v string, def int64) (int64, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
}

func boolOr(v string, def bool) (bool, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}
