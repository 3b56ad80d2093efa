package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

const sessionIDBytes = 24

// SessionRepository defines the storage used by SessionTracker
type SessionRepository interface {
	Upsert(ctx context.Context, userID, sessionID, ipAddress, userAgent string, at time.Time) (*models.UserSession, error)
	Refresh(ctx context.Context, userID, sessionID, ipAddress, userAgent string, at time.Time) (bool, error)
	GetLatest(ctx context.Context, userID, sessionID string) (*models.UserSession, error)
	End(ctx context.Context, userID, sessionID, reason string, at time.Time) (bool, error)
	EndAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	EndIdleBefore(ctx context.Context, cutoff, at time.Time) (int64, error)
	LatestActivity(ctx context.Context, userID string) (*time.Time, error)
}

// SessionTracker runs the session state machine:
// NoSession -> Active -> {LoggedOut, Expired}. Both end states are terminal.
type SessionTracker struct {
	repo        SessionRepository
	idleTimeout time.Duration
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewSessionTracker creates a tracker that expires sessions idle for idleTimeout
func NewSessionTracker(repo SessionRepository, idleTimeout time.Duration, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *SessionTracker {
	return &SessionTracker{
		repo:        repo,
		idleTimeout: idleTimeout,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Start opens a new session with a random id
func (t *SessionTracker) Start(ctx context.Context, userID, ipAddress, userAgent string) (*models.UserSession, error) {
	sessionID, err := pkgauth.GenerateOpaqueToken(sessionIDBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	session, err := t.repo.Upsert(ctx, userID, sessionID, ipAddress, userAgent, t.now())
	if err != nil {
		return nil, fmt.Errorf("%w: start session: %v", models.ErrStorageFailure, err)
	}
	return session, nil
}

// Touch creates the active session for the pair or refreshes its activity,
// ip and user agent. Concurrent touches are last-write-wins.
func (t *SessionTracker) Touch(ctx context.Context, userID, sessionID, ipAddress, userAgent string) error {
	if _, err := t.repo.Upsert(ctx, userID, sessionID, ipAddress, userAgent, t.now()); err != nil {
		return fmt.Errorf("%w: touch session: %v", models.ErrStorageFailure, err)
	}
	return nil
}

// MarkLoggedOut ends the session. Already ended or unknown sessions are a no-op.
func (t *SessionTracker) MarkLoggedOut(ctx context.Context, sessionID, userID string) error {
	ended, err := t.repo.End(ctx, userID, sessionID, models.SessionEndLogout, t.now())
	if err != nil {
		return fmt.Errorf("%w: logout: %v", models.ErrStorageFailure, err)
	}
	if ended {
		t.auditLogger.LogSessionEvent(pkglogger.EventLogout, userID, "")
	}
	return nil
}

// IsInactive reports whether the user's newest activity across active
// sessions is at least threshold old. No activity at all counts as inactive.
func (t *SessionTracker) IsInactive(ctx context.Context, userID string, threshold time.Duration) (bool, error) {
	latest, err := t.repo.LatestActivity(ctx, userID)
	if err != nil {
		return true, fmt.Errorf("%w: activity lookup: %v", models.ErrStorageFailure, err)
	}
	if latest == nil {
		return true, nil
	}
	return t.now().Sub(*latest) >= threshold, nil
}

// SweepExpired closes every active session idle longer than idleThreshold
func (t *SessionTracker) SweepExpired(ctx context.Context, idleThreshold time.Duration) (int64, error) {
	now := t.now()
	closed, err := t.repo.EndIdleBefore(ctx, now.Add(-idleThreshold), now)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep sessions: %v", models.ErrStorageFailure, err)
	}
	return closed, nil
}

// Enforce runs on every authenticated request. An idle session is closed and
// models.ErrSessionExpired returned; an ended or unknown session yields
// models.ErrSessionInvalid. Otherwise the session's window is extended.
func (t *SessionTracker) Enforce(ctx context.Context, userID, sessionID, ipAddress, userAgent string) error {
	session, err := t.repo.GetLatest(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionInvalid
		}
		return fmt.Errorf("%w: session lookup: %v", models.ErrStorageFailure, err)
	}

	if !session.IsActive {
		if session.EndReason != nil && *session.EndReason == models.SessionEndExpired {
			return models.ErrSessionExpired
		}
		return models.ErrSessionInvalid
	}

	now := t.now()
	if session.IdleFor(now) >= t.idleTimeout {
		if _, err := t.repo.End(ctx, userID, sessionID, models.SessionEndExpired, now); err != nil {
			return fmt.Errorf("%w: expire session: %v", models.ErrStorageFailure, err)
		}
		t.logger.Info("session expired due to inactivity",
			slog.String("user_id", userID),
			slog.Duration("idle", session.IdleFor(now)))
		t.auditLogger.LogSessionEvent(pkglogger.EventSessionExpired, userID, ipAddress)
		return models.ErrSessionExpired
	}

	refreshed, err := t.repo.Refresh(ctx, userID, sessionID, ipAddress, userAgent, now)
	if err != nil {
		return fmt.Errorf("%w: refresh session: %v", models.ErrStorageFailure, err)
	}
	if !refreshed {
		// ended between the lookup and the refresh
		return models.ErrSessionInvalid
	}
	return nil
}

// EndAllForUser revokes every active session of the user
func (t *SessionTracker) EndAllForUser(ctx context.Context, userID string) (int64, error) {
	ended, err := t.repo.EndAllForUser(ctx, userID, models.SessionEndRevoked, t.now())
	if err != nil {
		return 0, fmt.Errorf("%w: end sessions: %v", models.ErrStorageFailure, err)
	}
	return ended, nil
}
