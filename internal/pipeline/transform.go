package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/google/uuid"
)

// RejectReason says why an input row was not turned into a transaction.
type RejectReason string

const (
	ReasonInvalidDate              RejectReason = "invalid_date"
	ReasonMissingType              RejectReason = "missing_type"
	ReasonUnknownType              RejectReason = "unknown_type"
	ReasonIncompleteTransfer       RejectReason = "incomplete_transfer"
	ReasonMissingAccountOrCategory RejectReason = "missing_account_or_category"
)

// Rejection records a skipped row. Row is the zero-based index among data rows.
type Rejection struct {
	Row    int          `json:"row"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// DefaultCurrency is assigned when a row carries no Currency.
const DefaultCurrency = "INR"

// idNamespace scopes derived transaction IDs.
var idNamespace = uuid.MustParse("5b0f3c1e-8d3a-4f5e-9c1b-2a7d6e4f8b90")

// IDFunc derives an identifier for a row that has none.
type IDFunc func(userID string, batchTime time.Time, rowIndex int) string

// DeriveID returns a name-based UUID of (userID, batchTime, rowIndex).
func DeriveID(userID string, batchTime time.Time, rowIndex int) string {
	name := fmt.Sprintf("%s|%d|%d", userID, batchTime.UnixNano(), rowIndex)
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

// RowTransformer validates parsed rows and maps them to transactions for one
// user and one import batch.
type RowTransformer struct {
	UserID    string
	BatchTime time.Time
	NewID     IDFunc
}

// NewRowTransformer creates a transformer with the default ID derivation.
func NewRowTransformer(userID string, batchTime time.Time) *RowTransformer {
	return &RowTransformer{
		UserID:    userID,
		BatchTime: batchTime,
		NewID:     DeriveID,
	}
}

// Transform maps one row. Exactly one of the results is meaningful: a
// non-nil Rejection means the transaction must be ignored.
func (t *RowTransformer) Transform(row Row, rowIndex int) (domain.Transaction, *Rejection) {
	rawDate, _ := getOptionalField(row, ColDate)
	parsed, ok := ParseDateTime(rawDate)
	if !ok {
		return domain.Transaction{}, &Rejection{
			Row:    rowIndex,
			Reason: ReasonInvalidDate,
			Detail: fmt.Sprintf("cannot read date %q", getStringField(row, ColDate)),
		}
	}

	typeText := getStringField(row, ColType)
	if typeText == "" {
		return domain.Transaction{}, &Rejection{Row: rowIndex, Reason: ReasonMissingType}
	}
	txType, ok := domain.ParseTransactionType(typeText)
	if !ok {
		return domain.Transaction{}, &Rejection{
			Row:    rowIndex,
			Reason: ReasonUnknownType,
			Detail: fmt.Sprintf("unknown type %q", typeText),
		}
	}

	account := getStringField(row, ColAccount)
	category := getStringField(row, ColCategory)

	var kind domain.Kind
	if txType.IsTransfer() {
		if account == "" || category == "" {
			return domain.Transaction{}, &Rejection{
				Row:    rowIndex,
				Reason: ReasonIncompleteTransfer,
				Detail: "transfer needs both Account and Category",
			}
		}
		kind = domain.Transfer{FromAccount: account, ToAccount: category}
	} else {
		if account == "" || category == "" {
			return domain.Transaction{}, &Rejection{Row: rowIndex, Reason: ReasonMissingAccountOrCategory}
		}
		kind = domain.IncomeExpense{
			Account:     account,
			Category:    category,
			Subcategory: getStringField(row, ColSubcategory),
		}
	}

	tx := domain.Transaction{
		UserID:      t.UserID,
		ID:          getStringField(row, ColID),
		Date:        parsed.Format(DateLayout),
		Time:        timeOfDay(row, rawDate, parsed),
		Note:        getStringField(row, ColNote),
		Description: getStringField(row, ColDescription),
		Type:        txType,
		Currency:    getStringField(row, ColCurrency),
	}
	tx.SetKind(kind)

	rawINR, _ := getOptionalField(row, ColINR)
	tx.INR = ParseAmount(rawINR)

	switch amount, ok := getOptionalField(row, ColAmount); {
	case ok:
		tx.Amount = FormatAmount(amount)
	case rawINR != nil:
		tx.Amount = FormatAmount(rawINR)
	default:
		tx.Amount = "0"
	}

	if tx.Currency == "" {
		tx.Currency = DefaultCurrency
	}
	if tx.ID == "" {
		tx.ID = t.NewID(t.UserID, t.BatchTime, rowIndex)
	}
	return tx, nil
}

// TransformAll maps rows in order, collecting rejections separately.
func (t *RowTransformer) TransformAll(rows []Row) ([]domain.Transaction, []Rejection) {
	accepted := make([]domain.Transaction, 0, len(rows))
	var rejected []Rejection
	for i, row := range rows {
		tx, rej := t.Transform(row, i)
		if rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		accepted = append(accepted, tx)
	}
	return accepted, rejected
}

// timeOfDay prefers an explicit Time column, then a clock carried by the date.
func timeOfDay(row Row, rawDate any, parsed time.Time) string {
	if s := getStringField(row, ColTime); s != "" {
		return s
	}
	switch v := rawDate.(type) {
	case string:
		if strings.Contains(v, ":") {
			return parsed.Format(time.TimeOnly)
		}
	case time.Time:
		if v.Hour() != 0 || v.Minute() != 0 || v.Second() != 0 {
			return parsed.Format(time.TimeOnly)
		}
	}
	return ""
}
