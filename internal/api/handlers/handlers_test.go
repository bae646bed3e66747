package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/dvloznov/expense-tracker/internal/pipeline"
	"github.com/stretchr/testify/assert"
)

func TestImportErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pipeline.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{pipeline.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{pipeline.ErrEmptyFile, http.StatusBadRequest},
		{pipeline.ErrTooFewRows, http.StatusBadRequest},
		{pipeline.ErrInvalidJSON, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("Import: pipeline step 2 failed: %w", tt.err)
			status, message := importErrorStatus(wrapped)
			assert.Equal(t, tt.want, status)
			assert.NotContains(t, message, "pipeline step", "internal detail must not leak")
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "Failed to import file: connection reset", message)
			}
		})
	}
}

func TestAllowedMIME(t *testing.T) {
	for _, ct := range []string{
		"",
		"text/csv",
		"text/csv; charset=utf-8",
		"application/octet-stream",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"Application/JSON",
	} {
		assert.True(t, allowedMIME(ct), ct)
	}

	for _, ct := range []string{"application/pdf", "image/png", "text/html", ";;bad"} {
		assert.False(t, allowedMIME(ct), ct)
	}
}
