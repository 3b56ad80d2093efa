package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T, status int, target string) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := SecureLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest("GET", target, nil)
	req.RemoteAddr = "203.0.113.9:5000"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSecureLogger_RedactsSensitiveQuery(t *testing.T) {
	entry := captureLog(t, http.StatusOK, "/auth/reset-password?email=a@b.com&token=secret")

	assert.Equal(t, "/auth/reset-password?[REDACTED]", entry["path"])
	assert.NotContains(t, entry["path"], "secret")
	assert.Equal(t, "203.0.113.9", entry["client_ip"])
}

func TestSecureLogger_KeepsHarmlessQuery(t *testing.T) {
	entry := captureLog(t, http.StatusOK, "/admin/ip-blocks?active=true")

	assert.Equal(t, "/admin/ip-blocks?active=true", entry["path"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestSecureLogger_LevelFollowsStatus(t *testing.T) {
	assert.Equal(t, "WARN", captureLog(t, http.StatusUnauthorized, "/auth/me")["level"])
	assert.Equal(t, "ERROR", captureLog(t, http.StatusInternalServerError, "/auth/me")["level"])
}
