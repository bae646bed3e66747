package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-tracker/internal/domain"
)

// storedDateLayout is the DD/MM/YYYY text kept in the date column.
const storedDateLayout = "02/01/2006"

// TransactionRow is one row of the transactions and transactions_staging tables.
type TransactionRow struct {
	UserID        string `bigquery:"user_id"`        // REQUIRED
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	ImportID      string `bigquery:"import_id"`      // REQUIRED
	RowNo         int64  `bigquery:"row_no"`         // REQUIRED

	Date            string            `bigquery:"date"`             // REQUIRED, DD/MM/YYYY
	TransactionDate bigquery.NullDate `bigquery:"transaction_date"` // NULLABLE, parsed from date
	Time            string            `bigquery:"time"`

	Account     string `bigquery:"account"`
	FromAccount string `bigquery:"from_account"`
	ToAccount   string `bigquery:"to_account"`
	Category    string `bigquery:"category"`
	Subcategory string `bigquery:"subcategory"`
	Note        string `bigquery:"note"`
	Description string `bigquery:"description"`

	INR      float64 `bigquery:"inr"`
	Amount   string  `bigquery:"amount"`
	Type     string  `bigquery:"type"`
	Currency string  `bigquery:"currency"`

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// loadRecord is the newline-delimited JSON shape of TransactionRow used by load jobs.
type loadRecord struct {
	UserID          string  `json:"user_id"`
	TransactionID   string  `json:"transaction_id"`
	ImportID        string  `json:"import_id"`
	RowNo           int64   `json:"row_no"`
	Date            string  `json:"date"`
	TransactionDate *string `json:"transaction_date"`
	Time            string  `json:"time"`
	Account         string  `json:"account"`
	FromAccount     string  `json:"from_account"`
	ToAccount       string  `json:"to_account"`
	Category        string  `json:"category"`
	Subcategory     string  `json:"subcategory"`
	Note            string  `json:"note"`
	Description     string  `json:"description"`
	INR             float64 `json:"inr"`
	Amount          string  `json:"amount"`
	Type            string  `json:"type"`
	Currency        string  `json:"currency"`
	CreatedTS       string  `json:"created_ts"`
}

// SettingsRow is one row of the user_settings table. Document holds the
// JSON encoded domain.UserSettings.
type SettingsRow struct {
	UserID    string    `bigquery:"user_id"`
	Document  string    `bigquery:"document"`
	Version   int64     `bigquery:"version"`
	UpdatedTS time.Time `bigquery:"updated_ts"`
}

func toRow(userID, importID string, rowNo int, created time.Time, tx domain.Transaction) TransactionRow {
	row := TransactionRow{
		UserID:        userID,
		TransactionID: tx.ID,
		ImportID:      importID,
		RowNo:         int64(rowNo),
		Date:          tx.Date,
		Time:          tx.Time,
		Account:       tx.Account,
		FromAccount:   tx.FromAccount,
		ToAccount:     tx.ToAccount,
		Category:      tx.Category,
		Subcategory:   tx.Subcategory,
		Note:          tx.Note,
		Description:   tx.Description,
		INR:           tx.INR,
		Amount:        tx.Amount,
		Type:          string(tx.Type),
		Currency:      tx.Currency,
		CreatedTS:     created,
	}
	if t, err := time.Parse(storedDateLayout, tx.Date); err == nil {
		row.TransactionDate = bigquery.NullDate{Date: civil.DateOf(t), Valid: true}
	}
	return row
}

func (r TransactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		UserID:      r.UserID,
		ID:          r.TransactionID,
		Date:        r.Date,
		Time:        r.Time,
		Account:     r.Account,
		FromAccount: r.FromAccount,
		ToAccount:   r.ToAccount,
		Category:    r.Category,
		Subcategory: r.Subcategory,
		Note:        r.Note,
		Description: r.Description,
		INR:         r.INR,
		Amount:      r.Amount,
		Type:        domain.TransactionType(r.Type),
		Currency:    r.Currency,
	}
}

func (r TransactionRow) toLoadRecord() loadRecord {
	rec := loadRecord{
		UserID:        r.UserID,
		TransactionID: r.TransactionID,
		ImportID:      r.ImportID,
		RowNo:         r.RowNo,
		Date:          r.Date,
		Time:          r.Time,
		Account:       r.Account,
		FromAccount:   r.FromAccount,
		ToAccount:     r.ToAccount,
		Category:      r.Category,
		Subcategory:   r.Subcategory,
		Note:          r.Note,
		Description:   r.Description,
		INR:           r.INR,
		Amount:        r.Amount,
		Type:          r.Type,
		Currency:      r.Currency,
		CreatedTS:     r.CreatedTS.UTC().Format("2006-01-02 15:04:05.000000"),
	}
	if r.TransactionDate.Valid {
		d := r.TransactionDate.Date.String()
		rec.TransactionDate = &d
	}
	return rec
}
