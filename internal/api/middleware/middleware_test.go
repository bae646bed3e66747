package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserIDFromContext(r.Context())
		WriteJSON(w, http.StatusOK, map[string]string{"user": id})
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestAuth_HeaderWithoutSecret(t *testing.T) {
	h := Auth("")(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.Header.Set(UserHeader, "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"u1"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, decodeError(t, rec).Success)
}

func TestAuth_JWT(t *testing.T) {
	const secret = "s3cret"
	h := Auth(secret)(echoUser())

	valid, err := SignToken(secret, "u42", time.Hour)
	require.NoError(t, err)
	expired, err := SignToken(secret, "u42", -time.Hour)
	require.NoError(t, err)
	foreign, err := SignToken("other", "u42", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"no bearer prefix", valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
			req.Header.Set(UserHeader, "spoofed")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"user":"u42"}`, rec.Body.String())
			}
		})
	}
}

func TestParseToken(t *testing.T) {
	token, err := SignToken("k", "u1", time.Minute)
	require.NoError(t, err)

	id, err := ParseToken("k", token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	expired, err := SignToken("k", "u1", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken("k", expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = ParseToken("k", "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuth_HealthIsOpen(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("secret")(echoUser()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "given")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "given", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Len(t, seen, 36, "oversized IDs are replaced by a UUID")
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	h := Recovery(logger.NewWithWriter(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeError(t, rec).Message)
	assert.Contains(t, buf.String(), "Panic recovered")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	h := Logger(logger.NewWithWriter(&buf))(RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		log.Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	out := buf.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"message":"inside"`)
	assert.Contains(t, out, `"request_id"`)
}

func TestLogger_CarriesUserAndImportFields(t *testing.T) {
	var buf bytes.Buffer
	h := Logger(logger.NewWithWriter(&buf))(Auth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetLogField(r.Context(), "filename", "march.csv")
		SetLogField(r.Context(), "imported", 12)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/import", nil)
	req.Header.Set(UserHeader, "u1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"message":"Handled request"`)
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"user_id":"u1"`)
	assert.Contains(t, out, `"filename":"march.csv"`)
	assert.Contains(t, out, `"imported":12`)
	assert.Contains(t, out, `"bytes_out":2`)
}

func TestSetLogField_OutsideLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		SetLogField(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "k", "v")
	})
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/import", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
