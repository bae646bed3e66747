package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/store"
)

// Store is an in-memory implementation of store.Store.
// It is safe for concurrent use. Data is lost on restart.
type Store struct {
	mu           sync.RWMutex
	transactions map[string][]domain.Transaction
	settings     map[string]*domain.UserSettings
	now          func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		transactions: make(map[string][]domain.Transaction),
		settings:     make(map[string]*domain.UserSettings),
		now:          time.Now,
	}
}

// InsertTransactions implements store.TransactionStore.
// The insert is all or nothing: a duplicate ID rejects the whole batch.
func (s *Store) InsertTransactions(ctx context.Context, userID string, txs []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.transactions[userID]
	ids := make(map[string]struct{}, len(existing)+len(txs))
	for _, tx := range existing {
		ids[tx.ID] = struct{}{}
	}
	for _, tx := range txs {
		if _, dup := ids[tx.ID]; dup {
			return fmt.Errorf("InsertTransactions: duplicate transaction ID %q for user %q", tx.ID, userID)
		}
		ids[tx.ID] = struct{}{}
	}

	s.transactions[userID] = append(existing, withUser(userID, txs)...)
	return nil
}

// DeleteUserTransactions implements store.TransactionStore.
func (s *Store) DeleteUserTransactions(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.transactions[userID]))
	delete(s.transactions, userID)
	return n, nil
}

// ListUserTransactions implements store.TransactionStore.
func (s *Store) ListUserTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Copy so callers cannot mutate stored state
	out := make([]domain.Transaction, len(s.transactions[userID]))
	copy(out, s.transactions[userID])
	return out, nil
}

// CountUserTransactions implements store.TransactionStore.
func (s *Store) CountUserTransactions(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.transactions[userID])), nil
}

// ReplaceUserTransactions implements store.TransactionStore.
func (s *Store) ReplaceUserTransactions(ctx context.Context, userID string, txs []domain.Transaction) error {
	ids := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		if _, dup := ids[tx.ID]; dup {
			return fmt.Errorf("ReplaceUserTransactions: duplicate transaction ID %q for user %q", tx.ID, userID)
		}
		ids[tx.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions[userID] = withUser(userID, txs)
	return nil
}

// GetSettings implements store.SettingsStore.
func (s *Store) GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[userID]
	if !ok {
		return nil, fmt.Errorf("GetSettings: user %q: %w", userID, store.ErrNotFound)
	}
	return settings.Clone(), nil
}

// SaveSettings implements store.SettingsStore.
func (s *Store) SaveSettings(ctx context.Context, settings *domain.UserSettings) error {
	if settings.UserID == "" {
		return fmt.Errorf("SaveSettings: user ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if cur, ok := s.settings[settings.UserID]; ok {
		stored = cur.Version
	}
	if stored != settings.Version {
		return fmt.Errorf("SaveSettings: user %q has version %d, expected %d: %w",
			settings.UserID, stored, settings.Version, store.ErrVersionConflict)
	}

	settings.Version++
	settings.UpdatedAt = s.now().UTC()
	s.settings[settings.UserID] = settings.Clone()
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func withUser(userID string, txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		tx.UserID = userID
		out[i] = tx
	}
	return out
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
