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

// PasswordResetRepository defines the storage used by PasswordResetService
type PasswordResetRepository interface {
	Upsert(ctx context.Context, token *models.PasswordResetToken) error
	Consume(ctx context.Context, email, tokenHash string) (*models.PasswordResetToken, error)
	DeleteExpired(ctx context.Context, email string, cutoff time.Time) error
}

// ResetUserStore is the user-record collaborator for resets
type ResetUserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
}

// SessionRevoker ends every session of a user
type SessionRevoker interface {
	EndAllForUser(ctx context.Context, userID string) (int64, error)
}

// PasswordResetService issues and redeems single-use reset tokens. Only the
// SHA-256 of a token is stored, keyed by email, so a new token replaces the old.
type PasswordResetService struct {
	repo        PasswordResetRepository
	users       ResetUserStore
	sessions    SessionRevoker
	mailer      EmailService
	ttl         time.Duration
	hashCost    int
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewPasswordResetService creates a new PasswordResetService
func NewPasswordResetService(
	repo PasswordResetRepository,
	users ResetUserStore,
	sessions SessionRevoker,
	mailer EmailService,
	ttl time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *PasswordResetService {
	return &PasswordResetService{
		repo:        repo,
		users:       users,
		sessions:    sessions,
		mailer:      mailer,
		ttl:         ttl,
		hashCost:    pkgauth.BcryptCost,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Issue creates a token for email and returns the plaintext for delivery
func (s *PasswordResetService) Issue(ctx context.Context, email string) (string, error) {
	email = pkgauth.NormalizeEmail(email)

	token, err := pkgauth.GenerateOpaqueToken(pkgauth.TokenKeyLength)
	if err != nil {
		return "", err
	}

	record := &models.PasswordResetToken{
		Email:     email,
		TokenHash: pkgauth.HashToken(token),
		CreatedAt: s.now(),
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return "", fmt.Errorf("%w: store reset token: %v", models.ErrStorageFailure, err)
	}

	return token, nil
}

// Validate consumes the token if it matches. A matching token is deleted even
// when it turns out to be expired; a miss lazily deletes the email's stale token.
func (s *PasswordResetService) Validate(ctx context.Context, email, token string) (bool, error) {
	email = pkgauth.NormalizeEmail(email)
	if email == "" || token == "" {
		return false, nil
	}

	now := s.now()
	record, err := s.repo.Consume(ctx, email, pkgauth.HashToken(token))
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return false, fmt.Errorf("%w: consume reset token: %v", models.ErrStorageFailure, err)
		}
		if err := s.repo.DeleteExpired(ctx, email, now.Add(-s.ttl)); err != nil {
			s.logger.Warn("failed to delete stale reset token", slog.Any("error", err))
		}
		return false, nil
	}

	return !record.IsExpired(now, s.ttl), nil
}

// RequestReset issues and mails a token when the email belongs to a user. It
// looks the same to the caller either way.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, ipAddress string) {
	email = pkgauth.NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("password reset: user lookup failed", slog.Any("error", err))
		}
		s.auditLogger.LogPasswordReset(pkglogger.EventPasswordResetIssue, email, ipAddress, false)
		return
	}

	token, err := s.Issue(ctx, user.Email)
	if err != nil {
		s.logger.Error("password reset: failed to issue token", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, token, s.now().Add(s.ttl)); err != nil {
		s.logger.Error("password reset: failed to send email", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}

	s.auditLogger.LogPasswordReset(pkglogger.EventPasswordResetIssue, user.Email, ipAddress, true)
}

// ResetPassword redeems token and sets a new password. The policy check runs
// first so a weak password does not burn the token. Every session of the user
// is ended afterwards.
func (s *PasswordResetService) ResetPassword(ctx context.Context, email, token, newPassword, ipAddress string) error {
	email = pkgauth.NormalizeEmail(email)

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %w", models.ErrBadRequest, err)
	}

	valid, err := s.Validate(ctx, email, token)
	if err != nil {
		return err
	}
	if !valid {
		s.auditLogger.LogPasswordReset(pkglogger.EventPasswordReset, email, ipAddress, false)
		return models.ErrTokenInvalidOrExpired
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenInvalidOrExpired
		}
		return fmt.Errorf("%w: user lookup: %v", models.ErrStorageFailure, err)
	}

	hash, err := pkgauth.HashPasswordWithCost(newPassword, s.hashCost)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now()); err != nil {
		return fmt.Errorf("%w: update password: %v", models.ErrStorageFailure, err)
	}

	if ended, err := s.sessions.EndAllForUser(ctx, user.ID); err != nil {
		s.logger.Error("password reset: failed to end sessions", slog.String("user_id", user.ID), slog.Any("error", err))
	} else {
		s.logger.Info("password reset completed",
			slog.String("user_id", user.ID),
			slog.Int64("sessions_ended", ended))
	}

	s.auditLogger.LogPasswordReset(pkglogger.EventPasswordReset, user.Email, ipAddress, true)
	return nil
}
