// Package infra wires the configured persistence backend.
package infra

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-tracker/internal/config"
	"github.com/dvloznov/expense-tracker/internal/infra/bigquery"
	"github.com/dvloznov/expense-tracker/internal/infra/mongodb"
	"github.com/dvloznov/expense-tracker/internal/infra/postgres"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/store"
	"github.com/dvloznov/expense-tracker/internal/store/memory"
)

// OpenStore opens the backend selected by cfg.StoreBackend.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	log := logger.FromContext(ctx)

	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return memory.New(), nil
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, nil
	case config.BackendMongo:
		s, err := mongodb.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, nil
	case config.BackendBigQuery:
		s, err := bigquery.NewStore(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("OpenStore: unknown backend %q", cfg.StoreBackend)
	}
}
