package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedAuditLogger(buf *bytes.Buffer) *AuditLogger {
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	al.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return al
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "a***@*******.com", SanitizedEmail("alice@example.com"))
	assert.Equal(t, "a@*.com", SanitizedEmail("a@b.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("k", "v", "production").Value.String())
	assert.Equal(t, "v", RedactedAttr("k", "v", "development").Value.String())
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("token=abc"))
	assert.True(t, SanitizeQueryString("ip=9.9.9.9&minutes=60"))
	assert.False(t, SanitizeQueryString("limit=10&offset=0"))
}

func TestAuditLogger_FailedLoginIsWarnWithMaskedEmail(t *testing.T) {
	var buf bytes.Buffer
	al := newBufferedAuditLogger(&buf)

	al.LogAuthAttempt(AuditEvent{
		EventType:     EventLoginFailed,
		Email:         "alice@example.com",
		IPAddress:     "9.9.9.9",
		FailureReason: "invalid_credentials",
	})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "auth", entry["audit_type"])
	assert.Equal(t, "login_failed", entry["event_type"])
	assert.Equal(t, "a***@*******.com", entry["email"])
	assert.Equal(t, "9.9.9.9", entry["ip_address"])
	assert.Equal(t, "2024-03-01T12:00:00Z", entry["timestamp"])
	assert.NotContains(t, buf.String(), "alice@example.com")
}

func TestAuditLogger_IPBlock(t *testing.T) {
	var buf bytes.Buffer
	al := newBufferedAuditLogger(&buf)

	al.LogIPBlock("9.9.9.9", "Automatic block after 5 failed login attempts", "", true)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "ip_blocked", entry["event_type"])
	assert.Equal(t, "true", entry["automatic"])
	assert.NotContains(t, entry, "user_id")
}
