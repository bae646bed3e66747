package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/expense-tracker/internal/jobs"
	"github.com/dvloznov/expense-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
	"github.com/dvloznov/expense-tracker/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "Date,Account,Category,Subcategory,Note,INR,Income/Expense,Description,Amount,Currency\n"

const twoRows = header +
	"01/01/2024,Cash,Food,Lunch,,120,Expense,,120,INR\n" +
	"02/01/2024,Bank,Salary,,,5000,Income,,5000,INR\n"

func newTestRouter(t *testing.T, opts ...pipeline.Option) (http.Handler, *memory.Store) {
	t.Helper()
	s := memory.New()
	importer := pipeline.NewImporter(s, s, opts...)
	return NewRouter(Deps{Importer: importer, Log: logger.NewWithWriter(io.Discard)}), s
}

type upload struct {
	filename    string
	contentType string
	body        string
	fields      map[string]string
}

func importRequest(t *testing.T, user string, u upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, u.filename))
	if u.contentType != "" {
		h.Set("Content-Type", u.contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(u.body))
	require.NoError(t, err)

	for k, v := range u.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	return req
}

func do(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func get(user, path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-User-ID", user)
	return req
}

func TestImport_OverrideThenMerge(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, body := do(h, importRequest(t, "u1", upload{filename: "export.csv", contentType: "text/csv", body: twoRows}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Successfully imported 2 transactions", body["message"])
	assert.EqualValues(t, 2, body["total"])
	assert.NotContains(t, body, "new")

	merged := twoRows + "03/01/2024,Cash,Fuel,,,800,Expense,,800,INR\n"
	rec, body = do(h, importRequest(t, "u1", upload{
		filename: "export.csv",
		body:     merged,
		fields:   map[string]string{"mode": "merge"},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Imported 1 new transactions (2 duplicates skipped)", body["message"])
	assert.EqualValues(t, 1, body["new"])
	assert.EqualValues(t, 2, body["duplicates"])

	rec, body = do(h, get("u1", "/api/transactions/count"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["totalTransactions"])

	rec, body = do(h, get("u1", "/api/settings"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []interface{}{"Cash", "Bank"}, body["accounts"])
	assert.Contains(t, body["categories"], "Fuel")

	rec, body = do(h, get("u2", "/api/transactions/count"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["totalTransactions"])
}

func TestImport_Errors(t *testing.T) {
	h, _ := newTestRouter(t, pipeline.WithMaxFileBytes(200))

	tests := []struct {
		name   string
		user   string
		upload upload
		want   int
	}{
		{"unsupported extension", "u1", upload{filename: "a.pdf", body: twoRows}, http.StatusUnsupportedMediaType},
		{"unsupported MIME", "u1", upload{filename: "a.csv", contentType: "application/pdf", body: twoRows}, http.StatusUnsupportedMediaType},
		{"too large", "u1", upload{filename: "a.csv", body: twoRows + strings.Repeat("01/01/2024,Cash,Food,,,1,Expense,,1,INR\n", 10)}, http.StatusRequestEntityTooLarge},
		{"header only", "u1", upload{filename: "a.csv", body: header}, http.StatusBadRequest},
		{"empty", "u1", upload{filename: "a.csv", body: ""}, http.StatusBadRequest},
		{"invalid json", "u1", upload{filename: "a.json", body: `{"Date":"x"}`}, http.StatusBadRequest},
		{"invalid mode", "u1", upload{filename: "a.csv", body: twoRows, fields: map[string]string{"mode": "append"}}, http.StatusBadRequest},
		{"async disabled", "u1", upload{filename: "a.csv", body: twoRows, fields: map[string]string{"async": "true"}}, http.StatusServiceUnavailable},
		{"no user", "", upload{filename: "a.csv", body: twoRows}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(h, importRequest(t, tt.user, tt.upload))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestImport_MissingFile(t *testing.T) {
	h, _ := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("mode", "merge"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "u1")

	rec, body := do(h, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", body["message"])
}

func TestResetData(t *testing.T) {
	h, s := newTestRouter(t)
	rec, _ := do(h, importRequest(t, "u1", upload{filename: "a.csv", body: twoRows}))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/data", nil)
	req.Header.Set("X-User-ID", "u1")
	rec, body := do(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["deleted"])

	n, err := s.CountUserTransactions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	settings, err := s.GetSettings(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, settings.Accounts)
}

func TestAsyncImport(t *testing.T) {
	s := memory.New()
	importer := pipeline.NewImporter(s, s)
	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(inmemory.Options{Workers: 1}, jobStore)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, queue.Start(ctx, jobs.ImportHandler(importer)))
	defer queue.Close()

	h := NewRouter(Deps{Importer: importer, Publisher: queue, Jobs: jobStore, Log: logger.NewWithWriter(io.Discard)})

	rec, body := do(h, importRequest(t, "u1", upload{
		filename: "a.csv",
		body:     twoRows,
		fields:   map[string]string{"async": "true"},
	}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID, _ := body["jobId"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		rec, body := do(h, get("u1", "/api/jobs/"+jobID))
		return rec.Code == http.StatusOK && body["status"] == string(jobs.JobStatusCompleted)
	}, 3*time.Second, 10*time.Millisecond)

	_, body = do(h, get("u1", "/api/jobs/"+jobID))
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, result["total"])

	rec, _ = do(h, get("u2", "/api/jobs/"+jobID))
	assert.Equal(t, http.StatusNotFound, rec.Code, "jobs of other users are hidden")

	rec, body = do(h, get("u1", "/api/jobs"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	_, body = do(h, get("u2", "/api/jobs"))
	assert.EqualValues(t, 0, body["count"])
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, body := do(h, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}
