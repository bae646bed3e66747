package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/store"
	"google.golang.org/api/iterator"
)

// GetSettingsWithClient reads the settings row of userID.
func GetSettingsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) (*domain.UserSettings, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT user_id, document, version, updated_ts
		FROM %s
		WHERE user_id = @user_id
		LIMIT 1
	`, ds.Table(settingsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetSettings: query read: %w", err)
	}

	var row SettingsRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("GetSettings: user %q: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetSettings: reading row: %w", err)
	}
	return settingsFromRow(row)
}

// SaveSettingsWithClient writes the whole document with a MERGE that only
// matches when the stored version equals settings.Version.
func SaveSettingsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, settings *domain.UserSettings, now time.Time) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("SaveSettings: encoding document: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @user_id AS user_id) S
		ON T.user_id = S.user_id
		WHEN MATCHED AND T.version = @expected_version THEN
			UPDATE SET document = @document, version = @expected_version + 1, updated_ts = @updated_ts
		WHEN NOT MATCHED AND @expected_version = 0 THEN
			INSERT (user_id, document, version, updated_ts)
			VALUES (@user_id, @document, 1, @updated_ts)
	`, ds.Table(settingsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: settings.UserID},
		{Name: "document", Value: string(doc)},
		{Name: "expected_version", Value: settings.Version},
		{Name: "updated_ts", Value: now.UTC()},
	}

	n, err := runQuery(ctx, q)
	if err != nil {
		return fmt.Errorf("SaveSettings: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("SaveSettings: user %q at version %d: %w", settings.UserID, settings.Version, store.ErrVersionConflict)
	}

	settings.Version++
	settings.UpdatedAt = now.UTC()
	return nil
}

func settingsFromRow(row SettingsRow) (*domain.UserSettings, error) {
	settings := domain.DefaultSettings(row.UserID)
	if err := json.Unmarshal([]byte(row.Document), settings); err != nil {
		return nil, fmt.Errorf("decoding settings document of %q: %w", row.UserID, err)
	}
	settings.UserID = row.UserID
	settings.Version = row.Version
	settings.UpdatedAt = row.UpdatedTS
	return settings, nil
}
