package logger

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Security event types
const (
	EventLoginSuccess       = "login_success"
	EventLoginFailed        = "login_failed"
	EventLoginBlocked       = "login_blocked"
	EventLoginRateLimited   = "login_rate_limited"
	EventLogout             = "logout"
	EventSessionExpired     = "session_expired"
	EventIPBlocked          = "ip_blocked"
	EventIPUnblocked        = "ip_unblocked"
	EventPasswordResetIssue = "password_reset_requested"
	EventPasswordReset      = "password_reset"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events to the structured log. It is not a store;
// the failed-attempt table remains the source for blocking decisions.
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// LogAuthAttempt logs one login decision
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	al.log("auth", event)
}

// LogIPBlock logs a block being placed. actorID is empty for automatic blocks.
func (al *AuditLogger) LogIPBlock(ipAddress, reason, actorID string, automatic bool) {
	al.log("ip_block", AuditEvent{
		EventType: EventIPBlocked,
		UserID:    actorID,
		IPAddress: ipAddress,
		Success:   true,
		Metadata: map[string]string{
			"reason":    reason,
			"automatic": strconv.FormatBool(automatic),
		},
	})
}

// LogIPUnblock logs a block being lifted by an admin
func (al *AuditLogger) LogIPUnblock(blockID, ipAddress, actorID string) {
	al.log("ip_block", AuditEvent{
		EventType: EventIPUnblocked,
		UserID:    actorID,
		IPAddress: ipAddress,
		Success:   true,
		Metadata:  map[string]string{"block_id": blockID},
	})
}

// LogSessionEvent logs logout and idle expiry
func (al *AuditLogger) LogSessionEvent(eventType, userID, ipAddress string) {
	al.log("session", AuditEvent{
		EventType: eventType,
		UserID:    userID,
		IPAddress: ipAddress,
		Success:   true,
	})
}

// LogPasswordReset logs reset requests and completions
func (al *AuditLogger) LogPasswordReset(eventType, email, ipAddress string, success bool) {
	al.log("password", AuditEvent{
		EventType: eventType,
		Email:     email,
		IPAddress: ipAddress,
		Success:   success,
	})
}

func (al *AuditLogger) log(auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}
