package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// FailedLoginRepository defines the storage used by FailedAttemptRecorder
type FailedLoginRepository interface {
	Create(ctx context.Context, attempt *models.FailedLoginAttempt) error
	CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error)
	CountByEmailSince(ctx context.Context, email string, since time.Time) (int, error)
	ListByIPSince(ctx context.Context, ipAddress string, since time.Time, limit int) ([]*models.FailedLoginAttempt, error)
}

// FailedAttemptRecorder appends rejected credential checks and answers
// sliding-window counts over them
type FailedAttemptRecorder struct {
	repo   FailedLoginRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewFailedAttemptRecorder creates a new FailedAttemptRecorder
func NewFailedAttemptRecorder(repo FailedLoginRepository, logger *slog.Logger) *FailedAttemptRecorder {
	return &FailedAttemptRecorder{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Record stores one failed attempt. It never fails the caller; false means the
// attempt was not stored and must not count toward a block this cycle.
func (r *FailedAttemptRecorder) Record(ctx context.Context, userID *string, ipAddress, email, userAgent string, at time.Time) bool {
	attempt := &models.FailedLoginAttempt{
		UserID:    userID,
		IPAddress: ipAddress,
		Email:     email,
		UserAgent: userAgent,
		CreatedAt: at,
	}

	if err := r.repo.Create(ctx, attempt); err != nil {
		r.logger.Error("failed to record failed login attempt",
			slog.String("ip_address", ipAddress),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return false
	}
	return true
}

// CountRecentByIP counts failures from ipAddress within window of now
func (r *FailedAttemptRecorder) CountRecentByIP(ctx context.Context, ipAddress string, window time.Duration) (int, error) {
	return r.repo.CountByIPSince(ctx, ipAddress, r.now().Add(-window))
}

// CountRecentByEmail counts failures against email within window of now.
// Blocking never uses it; an attacker must not be able to block a victim by
// targeting the victim's email.
func (r *FailedAttemptRecorder) CountRecentByEmail(ctx context.Context, email string, window time.Duration) (int, error) {
	return r.repo.CountByEmailSince(ctx, email, r.now().Add(-window))
}

// History lists recent failures, newest first. An empty ipAddress lists every source.
func (r *FailedAttemptRecorder) History(ctx context.Context, ipAddress string, window time.Duration, limit int) ([]*models.FailedLoginAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.repo.ListByIPSince(ctx, ipAddress, r.now().Add(-window), limit)
}
