package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-tracker/internal/config"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Migration is a single numbered SQL file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// migrationPattern matches 0001_name.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

type migrator struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
	log       zerolog.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The migrator only needs BigQuery coordinates, so fall back to flags.
		cfg = config.Config{BigQueryDataset: "finance", LogLevel: "info"}
	}

	projectID := flag.String("project", cfg.BigQueryProject, "GCP project ID (defaults to BIGQUERY_PROJECT)")
	datasetID := flag.String("dataset", cfg.BigQueryDataset, "BigQuery dataset ID")
	appliedBy := flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir := flag.String("migrations", "migrations/bigquery", "Path to migrations directory")
	flag.Parse()

	log := logger.NewWithOptions(os.Stdout, logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	ctx := logger.WithContext(context.Background(), log)

	if *projectID == "" {
		log.Fatal().Msg("-project flag or BIGQUERY_PROJECT is required")
	}

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	m := &migrator{
		client:    client,
		projectID: *projectID,
		datasetID: *datasetID,
		appliedBy: *appliedBy,
		log:       log,
	}

	dir, err := resolveDir(*migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate migrations")
	}

	applied, err := m.run(ctx, dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", applied).Msg("Migrations applied")
	}
}

func (m *migrator) run(ctx context.Context, dir string) (int, error) {
	m.log.Info().Str("project", m.projectID).Str("dataset", m.datasetID).Msg("Connected to BigQuery")

	if err := m.exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)
	`, m.table("schema_migrations")), nil); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations: %w", err)
	}

	migrations, err := readMigrations(dir, m.projectID, m.datasetID)
	if err != nil {
		return 0, err
	}
	m.log.Info().Int("count", len(migrations)).Msg("Found migration files")

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return 0, err
	}
	done := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		done[am.Version] = am
	}

	count := 0
	for _, mig := range migrations {
		label := fmt.Sprintf("%04d_%s", mig.Version, mig.Name)
		if am, ok := done[mig.Version]; ok {
			if am.Checksum != "" && am.Checksum != mig.Checksum {
				m.log.Warn().Str("migration", label).Msg("Applied migration file has changed since it ran")
			}
			m.log.Debug().Str("migration", label).Msg("Skipping, already applied")
			continue
		}

		m.log.Info().Str("migration", label).Msg("Applying")
		if err := m.exec(ctx, mig.SQL, nil); err != nil {
			return count, fmt.Errorf("executing %s: %w", label, err)
		}
		if err := m.record(ctx, mig); err != nil {
			return count, fmt.Errorf("recording %s: %w", label, err)
		}
		count++
	}
	return count, nil
}

func (m *migrator) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", m.projectID, m.datasetID, name)
}

func (m *migrator) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	query := m.client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func (m *migrator) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	query := m.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, m.table("schema_migrations")))

	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (m *migrator) record(ctx context.Context, mig Migration) error {
	return m.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, m.table("schema_migrations")), []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	})
}

// resolveDir finds dir relative to the working directory or the repo root
// when run from cmd/migrate.
func resolveDir(dir string) (string, error) {
	for _, candidate := range []string{dir, filepath.Join("..", "..", dir)} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}

// parseMigrationName splits 0001_name.sql into its version and name.
func parseMigrationName(filename string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// readMigrations loads every migration in dir sorted by version. The checksum
// covers the file before placeholder substitution.
func readMigrations(dir, projectID, datasetID string) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		version, name, ok := parseMigrationName(file.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}
