package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/expense-tracker/internal/api/middleware"
	"github.com/dvloznov/expense-tracker/internal/config"
	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/store"
	"github.com/dvloznov/expense-tracker/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportCSV = "Date,Account,Category,INR,Income/Expense\n" +
	"01/01/2024,Cash,Food,120,Expense\n" +
	"32/01/2024,Cash,Food,10,Expense\n" +
	"02/01/2024,Bank,Salary,5000,Income\n"

func newTestApp(t *testing.T) (*app, *memory.Store) {
	t.Helper()
	s := memory.New()
	return &app{
		cfg: config.Config{
			StoreBackend:       config.BackendMemory,
			MaxUploadBytes:     10 << 20,
			SettingsMaxRetries: 3,
			JWTSecret:          "secret",
		},
		ctx: logger.WithContext(context.Background(), logger.NewWithWriter(io.Discard)),
		openStore: func(context.Context, config.Config) (store.Store, error) {
			return s, nil
		},
	}, s
}

func run(a *app, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCommand(a)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(exportCSV), 0o644))
	return path
}

func TestImportCountSettingsReset(t *testing.T) {
	a, _ := newTestApp(t)
	path := writeExport(t)

	out, err := run(a, "import", "--file", path, "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully imported 2 transactions, 1 rows rejected")
	assert.Contains(t, out, "row 1: invalid_date")

	out, err = run(a, "import", "--file", path, "--user", "u1", "--mode", "merge")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 0 new transactions (2 duplicates skipped)")

	out, err = run(a, "count", "--user", "u1")
	require.NoError(t, err)
	assert.Equal(t, "2", strings.TrimSpace(out))

	out, err = run(a, "settings", "--user", "u1")
	require.NoError(t, err)
	var settings domain.UserSettings
	require.NoError(t, json.Unmarshal([]byte(out), &settings))
	assert.Equal(t, []string{"Cash", "Bank"}, settings.Accounts)

	out, err = run(a, "reset", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 transactions")

	out, err = run(a, "count", "--user", "u1")
	require.NoError(t, err)
	assert.Equal(t, "0", strings.TrimSpace(out))
}

func TestImport_FromGCS(t *testing.T) {
	a, s := newTestApp(t)
	var gotURI string
	a.fetch = func(_ context.Context, uri string) ([]byte, error) {
		gotURI = uri
		return []byte(exportCSV), nil
	}

	_, err := run(a, "import", "--file", "gs://bucket/exports/export.csv", "--user", "u1")

	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/exports/export.csv", gotURI)
	n, err := s.CountUserTransactions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestImport_Errors(t *testing.T) {
	a, _ := newTestApp(t)
	path := writeExport(t)

	_, err := run(a, "import", "--file", path)
	assert.Error(t, err, "--user is required")

	_, err = run(a, "import", "--file", path, "--user", "u1", "--mode", "append")
	assert.True(t, errors.Is(err, domain.ErrInvalidMode))

	_, err = run(a, "import", "--file", filepath.Join(t.TempDir(), "missing.csv"), "--user", "u1")
	assert.Error(t, err)

	a.openStore = func(context.Context, config.Config) (store.Store, error) {
		return nil, errors.New("unreachable")
	}
	_, err = run(a, "count", "--user", "u1")
	assert.ErrorContains(t, err, "unreachable")
}

func TestToken(t *testing.T) {
	a, _ := newTestApp(t)

	out, err := run(a, "token", "--user", "u7")
	require.NoError(t, err)

	userID, err := middleware.ParseToken("secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u7", userID)

	a.cfg.JWTSecret = ""
	_, err = run(a, "token", "--user", "u7")
	assert.Error(t, err)
}
