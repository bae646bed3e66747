package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"google.golang.org/api/iterator"
)

var transactionColumns = []string{
	"user_id", "transaction_id", "import_id", "row_no", "date", "transaction_date", "time",
	"account", "from_account", "to_account", "category", "subcategory", "note", "description",
	"inr", "amount", "type", "currency", "created_ts",
}

// InsertTransactionsWithClient appends txs with a load job. Load jobs are used
// instead of streaming inserts so the rows can be deleted by DML right away.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID, importID string, created time.Time, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	if err := loadRows(ctx, client, ds, transactionsTable, encodeRows(userID, importID, created, txs)); err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	return nil
}

// ReplaceUserTransactionsWithClient loads txs into the staging table and then
// swaps them in with a single multi-statement transaction.
func ReplaceUserTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID, importID string, created time.Time, txs []domain.Transaction) error {
	if len(txs) > 0 {
		if err := loadRows(ctx, client, ds, stagingTable, encodeRows(userID, importID, created, txs)); err != nil {
			return fmt.Errorf("ReplaceUserTransactions: staging: %w", err)
		}
	}

	cols := strings.Join(transactionColumns, ", ")
	q := client.Query(fmt.Sprintf(`
		BEGIN TRANSACTION;
		DELETE FROM %[1]s WHERE user_id = @user_id;
		INSERT INTO %[1]s (%[3]s)
		SELECT %[3]s FROM %[2]s WHERE import_id = @import_id AND user_id = @user_id;
		COMMIT TRANSACTION;
	`, ds.Table(transactionsTable), ds.Table(stagingTable), cols))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "import_id", Value: importID},
	}
	if _, err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("ReplaceUserTransactions: swap: %w", err)
	}

	if len(txs) > 0 {
		cleanup := client.Query(fmt.Sprintf(`DELETE FROM %s WHERE import_id = @import_id`, ds.Table(stagingTable)))
		cleanup.Parameters = []bigquery.QueryParameter{{Name: "import_id", Value: importID}}
		if _, err := runQuery(ctx, cleanup); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("import_id", importID).Msg("Failed to clean up staging rows")
		}
	}
	return nil
}

// DeleteUserTransactionsWithClient removes every transaction of userID.
func DeleteUserTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) (int64, error) {
	q := client.Query(fmt.Sprintf(`DELETE FROM %s WHERE user_id = @user_id`, ds.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	n, err := runQuery(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("DeleteUserTransactions: %w", err)
	}
	return n, nil
}

// ListUserTransactionsWithClient returns userID's transactions in insertion order.
func ListUserTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) ([]domain.Transaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE user_id = @user_id
		ORDER BY created_ts, row_no
	`, strings.Join(transactionColumns, ", "), ds.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListUserTransactions: query read: %w", err)
	}

	result := []domain.Transaction{}
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListUserTransactions: iterating rows: %w", err)
		}
		result = append(result, r.toDomain())
	}
	return result, nil
}

// CountUserTransactionsWithClient counts userID's transactions.
func CountUserTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) (int64, error) {
	q := client.Query(fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s WHERE user_id = @user_id`, ds.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("CountUserTransactions: query read: %w", err)
	}

	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return 0, fmt.Errorf("CountUserTransactions: reading count: %w", err)
	}
	return row.N, nil
}

func encodeRows(userID, importID string, created time.Time, txs []domain.Transaction) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, tx := range txs {
		// Encoding a flat struct of strings and numbers cannot fail.
		_ = enc.Encode(toRow(userID, importID, i, created, tx).toLoadRecord())
	}
	return buf.Bytes()
}

func loadRows(ctx context.Context, client *bigquery.Client, ds Dataset, table string, ndjson []byte) error {
	source := bigquery.NewReaderSource(bytes.NewReader(ndjson))
	source.SourceFormat = bigquery.JSON

	loader := client.DatasetInProject(ds.ProjectID, ds.DatasetID).Table(table).LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateNever

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("starting load into %s: %w", table, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for load into %s: %w", table, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("load into %s: %w", table, err)
	}
	return nil
}
