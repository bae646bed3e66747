package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/store"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS transactions (
	seq          BIGSERIAL,
	user_id      TEXT NOT NULL,
	id           TEXT NOT NULL,
	date         TEXT NOT NULL,
	time         TEXT NOT NULL DEFAULT '',
	account      TEXT NOT NULL DEFAULT '',
	from_account TEXT NOT NULL DEFAULT '',
	to_account   TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	subcategory  TEXT NOT NULL DEFAULT '',
	note         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	inr          DOUBLE PRECISION NOT NULL DEFAULT 0,
	amount       TEXT NOT NULL DEFAULT '0',
	type         TEXT NOT NULL,
	currency     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, id)
)`, `
CREATE TABLE IF NOT EXISTS user_settings (
	user_id    TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
}

const insertTransactionSQL = `
INSERT INTO transactions
	(user_id, id, date, time, account, from_account, to_account, category, subcategory,
	 note, description, inr, amount, type, currency)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const selectTransactionsSQL = `
SELECT user_id, id, date, time, account, from_account, to_account, category, subcategory,
	note, description, inr, amount, type, currency
FROM transactions
WHERE user_id = $1
ORDER BY seq`

// Store is a PostgreSQL implementation of store.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to dsn, verifies the connection and creates missing tables.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: opening connection: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres.Open: connecting: %w", err)
	}

	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("EnsureSchema: %w", err)
		}
	}
	return nil
}

// InsertTransactions implements store.TransactionStore.
func (s *Store) InsertTransactions(ctx context.Context, userID string, txs []domain.Transaction) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertAll(ctx, tx, userID, txs)
	})
	if err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	return nil
}

// DeleteUserTransactions implements store.TransactionStore.
func (s *Store) DeleteUserTransactions(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("DeleteUserTransactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteUserTransactions: rows affected: %w", err)
	}
	return n, nil
}

// ListUserTransactions implements store.TransactionStore.
func (s *Store) ListUserTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, selectTransactionsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("ListUserTransactions: query: %w", err)
	}
	defer rows.Close()

	result := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		var txType string
		if err := rows.Scan(&t.UserID, &t.ID, &t.Date, &t.Time, &t.Account, &t.FromAccount, &t.ToAccount,
			&t.Category, &t.Subcategory, &t.Note, &t.Description, &t.INR, &t.Amount, &txType, &t.Currency); err != nil {
			return nil, fmt.Errorf("ListUserTransactions: scan: %w", err)
		}
		t.Type = domain.TransactionType(txType)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListUserTransactions: iterating rows: %w", err)
	}
	return result, nil
}

// CountUserTransactions implements store.TransactionStore.
func (s *Store) CountUserTransactions(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountUserTransactions: %w", err)
	}
	return n, nil
}

// ReplaceUserTransactions implements store.TransactionStore inside one SQL transaction.
func (s *Store) ReplaceUserTransactions(ctx context.Context, userID string, txs []domain.Transaction) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("deleting: %w", err)
		}
		return insertAll(ctx, tx, userID, txs)
	})
	if err != nil {
		return fmt.Errorf("ReplaceUserTransactions: %w", err)
	}
	return nil
}

// GetSettings implements store.SettingsStore.
func (s *Store) GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	var (
		doc       []byte
		version   int64
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT document, version, updated_at FROM user_settings WHERE user_id = $1`, userID,
	).Scan(&doc, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetSettings: user %q: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetSettings: %w", err)
	}

	settings := domain.DefaultSettings(userID)
	if err := json.Unmarshal(doc, settings); err != nil {
		return nil, fmt.Errorf("GetSettings: decoding document: %w", err)
	}
	settings.UserID = userID
	settings.Version = version
	settings.UpdatedAt = updatedAt
	return settings, nil
}

// SaveSettings implements store.SettingsStore with a compare-and-swap on version.
func (s *Store) SaveSettings(ctx context.Context, settings *domain.UserSettings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("SaveSettings: encoding document: %w", err)
	}
	now := s.now().UTC()

	var res sql.Result
	if settings.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO user_settings (user_id, document, version, updated_at)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (user_id) DO NOTHING`,
			settings.UserID, string(doc), now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE user_settings
			SET document = $2, version = version + 1, updated_at = $3
			WHERE user_id = $1 AND version = $4`,
			settings.UserID, string(doc), now, settings.Version)
	}
	if err != nil {
		return fmt.Errorf("SaveSettings: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SaveSettings: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("SaveSettings: user %q at version %d: %w", settings.UserID, settings.Version, store.ErrVersionConflict)
	}

	settings.Version++
	settings.UpdatedAt = now
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			safeRollback(ctx, tx)
			panic(p)
		} else if err != nil {
			safeRollback(ctx, tx)
		} else {
			err = tx.Commit()
		}
	}()

	return fn(tx)
}

func safeRollback(ctx context.Context, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Error during transaction rollback")
	}
}

func insertAll(ctx context.Context, tx *sql.Tx, userID string, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, insertTransactionSQL)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range txs {
		if _, err := stmt.ExecContext(ctx, userID, t.ID, t.Date, t.Time, t.Account, t.FromAccount, t.ToAccount,
			t.Category, t.Subcategory, t.Note, t.Description, t.INR, t.Amount, string(t.Type), t.Currency); err != nil {
			return fmt.Errorf("inserting transaction %d (%s): %w", i, t.ID, err)
		}
	}
	return nil
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
