package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  any
		want float64
	}{
		{"100", 100},
		{"100.50", 100.5},
		{"  -42.5 ", -42.5},
		{"12abc", 12},
		{"1,234.50", 1234.5},
		{"1,000", 1000},
		{"abc", 0},
		{"", 0},
		{nil, 0},
		{"₹100", 0},
		{".5", 0.5},
		{"3.", 3},
		{"1e3", 1000},
		{250.75, 250.75},
		{7, 7},
		{json.Number("99.99"), 99.99},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, ParseAmount(tt.raw), 1e-9, "%#v", tt.raw)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "100", FormatAmount(100.0))
	assert.Equal(t, "12.5", FormatAmount(12.5))
	assert.Equal(t, "7", FormatAmount(7))
	assert.Equal(t, "1,200.00", FormatAmount(" 1,200.00 "))
	assert.Equal(t, "99.990", FormatAmount(json.Number("99.990")))
	assert.Equal(t, "", FormatAmount(nil))
}
