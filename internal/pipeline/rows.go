package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Row is one parsed input record keyed by column header.
type Row map[string]any

// Column names of the import file.
const (
	ColDate        = "Date"
	ColTime        = "Time"
	ColAccount     = "Account"
	ColCategory    = "Category"
	ColSubcategory = "Subcategory"
	ColNote        = "Note"
	ColDescription = "Description"
	ColINR         = "INR"
	ColAmount      = "Amount"
	ColType        = "Income/Expense"
	ColCurrency    = "Currency"
	ColID          = "ID"
)

// getStringField returns the trimmed text of key, or "" when absent or null.
func getStringField(row Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64, float32, int, int64:
		return FormatAmount(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// getOptionalField returns the raw value of key, treating blank strings as absent.
func getOptionalField(row Row, key string) (any, bool) {
	v, ok := row[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}
