package store

import (
	"context"
	"errors"

	"github.com/dvloznov/expense-tracker/internal/domain"
)

var (
	// ErrNotFound is returned when a user has no settings document.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned by SaveSettings when the stored version
	// differs from the one the caller read.
	ErrVersionConflict = errors.New("settings version conflict")
)

// TransactionStore persists a user's transactions. Every implementation keeps
// (user, ID) unique.
type TransactionStore interface {
	// InsertTransactions appends txs for userID.
	InsertTransactions(ctx context.Context, userID string, txs []domain.Transaction) error

	// DeleteUserTransactions removes all of userID's transactions and returns how many were removed.
	DeleteUserTransactions(ctx context.Context, userID string) (int64, error)

	// ListUserTransactions returns all of userID's transactions.
	ListUserTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)

	// CountUserTransactions returns the number of stored transactions for userID.
	CountUserTransactions(ctx context.Context, userID string) (int64, error)

	// ReplaceUserTransactions deletes userID's transactions and inserts txs so
	// that readers observe either the old set or the new set, never a mix.
	ReplaceUserTransactions(ctx context.Context, userID string, txs []domain.Transaction) error
}

// SettingsStore persists one settings document per user.
type SettingsStore interface {
	// GetSettings returns ErrNotFound when userID has no document.
	GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error)

	// SaveSettings replaces the whole document. s.Version must equal the
	// stored version (0 when none exists); on success s.Version is incremented.
	SaveSettings(ctx context.Context, s *domain.UserSettings) error
}

// Store is a complete persistence backend.
type Store interface {
	TransactionStore
	SettingsStore
	Close() error
}
