package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decodeError(t, w)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
	assert.Zero(t, resp.RetryAfterSeconds)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	resp := decodeError(t, w)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestStatusWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w *httptest.ResponseRecorder)
		status int
		code   string
	}{
		{"bad request", func(w *httptest.ResponseRecorder) { pkghttp.WriteBadRequest(w, "x") }, 400, "bad_request"},
		{"unauthorized", func(w *httptest.ResponseRecorder) { pkghttp.WriteUnauthorized(w, "x") }, 401, "unauthorized"},
		{"invalid credentials", func(w *httptest.ResponseRecorder) { pkghttp.WriteInvalidCredentials(w) }, 401, "invalid_credentials"},
		{"session expired", func(w *httptest.ResponseRecorder) { pkghttp.WriteSessionExpired(w) }, 401, "SESSION_EXPIRED"},
		{"forbidden", func(w *httptest.ResponseRecorder) { pkghttp.WriteForbidden(w, "x") }, 403, "forbidden"},
		{"not found", func(w *httptest.ResponseRecorder) { pkghttp.WriteNotFound(w, "x") }, 404, "not_found"},
		{"conflict", func(w *httptest.ResponseRecorder) { pkghttp.WriteConflict(w, "x") }, 409, "conflict"},
		{"locked", func(w *httptest.ResponseRecorder) { pkghttp.WriteLocked(w, "x") }, 423, "ip_blocked"},
		{"internal", func(w *httptest.ResponseRecorder) { pkghttp.WriteInternalError(w, "x") }, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
		})
	}
}

func TestWriteRateLimited(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteRateLimited(w, "Too many login attempts", 42)

	assert.Equal(t, 429, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))

	resp := decodeError(t, w)
	assert.Equal(t, "rate_limit_exceeded", resp.Error)
	assert.Equal(t, 42, resp.RetryAfterSeconds)
}

func TestWriteRateLimited_NoRetryAfterWhenUnknown(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteRateLimited(w, "slow down", 0)

	assert.Empty(t, w.Header().Get("Retry-After"))
	assert.NotContains(t, w.Body.String(), "retry_after_seconds")
}

func TestErrorResponseJSON(t *testing.T) {
	resp := pkghttp.ErrorResponse{Error: "test_code", Message: "Test message"}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	// omitempty fields stay out of the envelope
	assert.JSONEq(t, `{"error":"test_code","message":"Test message"}`, string(data))
}
