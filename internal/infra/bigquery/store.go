package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/store"
	"github.com/google/uuid"
)

const (
	transactionsTable = "transactions"
	stagingTable      = "transactions_staging"
	settingsTable     = "user_settings"
)

// Dataset names the project and dataset that hold the tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the fully qualified, backtick quoted name of table.
func (d Dataset) Table(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.ProjectID, d.DatasetID, table)
}

// Store is a BigQuery implementation of store.Store. It holds a shared
// client and delegates to the XxxWithClient functions.
type Store struct {
	client  *bigquery.Client
	dataset Dataset
	now     func() time.Time
}

// NewStore creates a client for projectID and returns a store over datasetID.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return &Store{
		client:  client,
		dataset: Dataset{ProjectID: projectID, DatasetID: datasetID},
		now:     time.Now,
	}, nil
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// InsertTransactions implements store.TransactionStore.
func (s *Store) InsertTransactions(ctx context.Context, userID string, txs []domain.Transaction) error {
	return InsertTransactionsWithClient(ctx, s.client, s.dataset, userID, uuid.NewString(), s.now(), txs)
}

// DeleteUserTransactions implements store.TransactionStore.
func (s *Store) DeleteUserTransactions(ctx context.Context, userID string) (int64, error) {
	return DeleteUserTransactionsWithClient(ctx, s.client, s.dataset, userID)
}

// ListUserTransactions implements store.TransactionStore.
func (s *Store) ListUserTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return ListUserTransactionsWithClient(ctx, s.client, s.dataset, userID)
}

// CountUserTransactions implements store.TransactionStore.
func (s *Store) CountUserTransactions(ctx context.Context, userID string) (int64, error) {
	return CountUserTransactionsWithClient(ctx, s.client, s.dataset, userID)
}

// ReplaceUserTransactions implements store.TransactionStore.
func (s *Store) ReplaceUserTransactions(ctx context.Context, userID string, txs []domain.Transaction) error {
	return ReplaceUserTransactionsWithClient(ctx, s.client, s.dataset, userID, uuid.NewString(), s.now(), txs)
}

// GetSettings implements store.SettingsStore.
func (s *Store) GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	return GetSettingsWithClient(ctx, s.client, s.dataset, userID)
}

// SaveSettings implements store.SettingsStore.
func (s *Store) SaveSettings(ctx context.Context, settings *domain.UserSettings) error {
	return SaveSettingsWithClient(ctx, s.client, s.dataset, settings, s.now())
}

// runQuery runs a statement, waits for it and returns the number of rows
// changed by DML.
func runQuery(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job failed: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
