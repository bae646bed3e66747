package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// numericPrefix matches the longest leading decimal number, optionally signed
// and with an exponent.
var numericPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseAmount reads the leading numeric part of raw. Anything without a
// numeric prefix yields zero. Thousands separators are ignored.
func ParseAmount(raw any) float64 {
	d, ok := parseDecimal(raw)
	if !ok {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// FormatAmount renders raw the way it is stored in the Amount column.
// Numbers use their shortest decimal form, strings are kept verbatim.
func FormatAmount(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return decimal.NewFromFloat(v).String()
	case float32:
		return decimal.NewFromFloat32(v).String()
	case int:
		return decimal.NewFromInt(int64(v)).String()
	case int64:
		return decimal.NewFromInt(v).String()
	default:
		return fmt.Sprint(v)
	}
}

func parseDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, false
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		return parseDecimalString(v.String())
	case string:
		return parseDecimalString(v)
	default:
		return parseDecimalString(fmt.Sprint(v))
	}
}

// parseDecimalString reads the leading number of s. Thousands separators are
// dropped first, so "1,000" is 1000 rather than 1.
func parseDecimalString(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	prefix := numericPrefix.FindString(s)
	if prefix == "" {
		return decimal.Zero, false
	}
	prefix = strings.TrimSuffix(prefix, ".")
	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
