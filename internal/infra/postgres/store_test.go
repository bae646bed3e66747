package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcpostgres.WithDatabase("expenses"),
		tcpostgres.WithUsername("expenses"),
		tcpostgres.WithPassword("expenses"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTx(id, account string) domain.Transaction {
	return domain.Transaction{
		ID:       id,
		Date:     "01/01/2024",
		Account:  account,
		Category: "Food",
		INR:      12.5,
		Amount:   "12.50",
		Type:     domain.TypeExpense,
		Currency: "INR",
	}
}

func TestStore_Transactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertTransactions(ctx, "u1", []domain.Transaction{sampleTx("a", "Cash"), sampleTx("b", "Bank")}))
	require.NoError(t, s.InsertTransactions(ctx, "u2", []domain.Transaction{sampleTx("a", "Cash")}))

	list, err := s.ListUserTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "u1", list[0].UserID)
	assert.Equal(t, 12.5, list[0].INR)
	assert.Equal(t, domain.TypeExpense, list[0].Type)

	err = s.InsertTransactions(ctx, "u1", []domain.Transaction{sampleTx("c", "Cash"), sampleTx("a", "Cash")})
	require.Error(t, err, "duplicate (user, ID) must fail")
	n, err := s.CountUserTransactions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "failed batch is rolled back")

	require.NoError(t, s.ReplaceUserTransactions(ctx, "u1", []domain.Transaction{sampleTx("z", "Card")}))
	list, err = s.ListUserTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Card", list[0].Account)

	err = s.ReplaceUserTransactions(ctx, "u1", []domain.Transaction{sampleTx("y", "X"), sampleTx("y", "X")})
	require.Error(t, err)
	list, err = s.ListUserTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1, "failed replace keeps the previous set")
	assert.Equal(t, "z", list[0].ID)

	deleted, err := s.DeleteUserTransactions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err = s.CountUserTransactions(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_Settings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSettings(ctx, "u1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	settings := domain.DefaultSettings("u1")
	settings.Accounts = []string{"Cash"}
	settings.Categories["Food"] = domain.CategorySettings{Type: domain.TypeExpense, Subcategories: []string{"Lunch"}}
	require.NoError(t, s.SaveSettings(ctx, settings))
	assert.Equal(t, int64(1), settings.Version)

	err = s.SaveSettings(ctx, domain.DefaultSettings("u1"))
	assert.True(t, errors.Is(err, store.ErrVersionConflict))

	loaded, err := s.GetSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Cash"}, loaded.Accounts)
	assert.Equal(t, []string{"Lunch"}, loaded.Categories["Food"].Subcategories)
	assert.Equal(t, int64(1), loaded.Version)

	loaded.Accounts = append(loaded.Accounts, "Bank")
	require.NoError(t, s.SaveSettings(ctx, loaded))

	stale := settings
	err = s.SaveSettings(ctx, stale)
	assert.True(t, errors.Is(err, store.ErrVersionConflict))

	final, err := s.GetSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), final.Version)
	assert.Equal(t, []string{"Cash", "Bank"}, final.Accounts)
}
