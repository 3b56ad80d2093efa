package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/ratelimit"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// LoginRateLimiter is the fast per-key throttle consulted before credentials
type LoginRateLimiter interface {
	TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error)
	Hit(ctx context.Context, key string) (int64, error)
	Clear(ctx context.Context, key string) error
	AvailableIn(ctx context.Context, key string) (time.Duration, error)
}

// LastActiveToucher updates the user's last-active timestamp
type LastActiveToucher interface {
	TouchLastActive(ctx context.Context, id string, at time.Time) error
}

// TermsLookup returns the active terms document or models.ErrNotFound
type TermsLookup interface {
	GetActive(ctx context.Context) (*models.TermsDocument, error)
}

// LoginOutcome is the kind of a login decision
type LoginOutcome int

const (
	LoginSucceeded LoginOutcome = iota
	LoginInvalidCredentials
	LoginIPBlocked
	LoginRateLimited
)

func (o LoginOutcome) String() string {
	switch o {
	case LoginSucceeded:
		return "success"
	case LoginInvalidCredentials:
		return "invalid_credentials"
	case LoginIPBlocked:
		return "ip_blocked"
	case LoginRateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("LoginOutcome(%d)", int(o))
	}
}

// LoginAttempt is one inbound login request
type LoginAttempt struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult is a typed login decision. Rejections are results, not errors.
type LoginResult struct {
	Outcome           LoginOutcome
	RetryAfterSeconds int

	// set on success
	User                 *models.User
	SessionToken         string
	SessionID            string
	ExpiresAt            time.Time
	NeedsPasswordChange  bool
	NeedsTermsAcceptance bool
	CurrentTermsVersion  string
}

// LoginConfig holds the login thresholds
type LoginConfig struct {
	MaxFailedAttempts    int           // failures per IP in FailedAttemptsWindow before a block
	FailedAttemptsWindow time.Duration // sliding window for the block threshold
	RateLimitMaxAttempts int           // attempts per IP per limiter window
}

// LoginDependencies groups the collaborators of LoginService
type LoginDependencies struct {
	Verifier     *CredentialVerifier
	Attempts     *FailedAttemptRecorder
	Blocks       *IPBlockRegistry
	Limiter      LoginRateLimiter
	Sessions     *SessionTracker
	Users        LastActiveToucher
	Terms        TermsLookup
	TokenManager *auth.TokenManager
	Timing       *auth.TimingDelay // optional
}

// LoginService decides every login attempt. Gates run in a fixed order:
// IP block, rate limit, credentials.
type LoginService struct {
	LoginDependencies
	config      LoginConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewLoginService creates a new LoginService
func NewLoginService(deps LoginDependencies, config LoginConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *LoginService {
	return &LoginService{
		LoginDependencies: deps,
		config:            config,
		logger:            logger,
		auditLogger:       auditLogger,
		now:               time.Now,
	}
}

// AttemptLogin runs the login pipeline. An error is returned only when
// storage fails in a way that prevents a safe decision.
func (s *LoginService) AttemptLogin(ctx context.Context, attempt LoginAttempt) (*LoginResult, error) {
	start := time.Now()
	email := pkgauth.NormalizeEmail(attempt.Email)
	key := ratelimit.LoginKey(attempt.IPAddress)

	event := pkglogger.AuditEvent{
		Email:     email,
		IPAddress: attempt.IPAddress,
		UserAgent: attempt.UserAgent,
	}

	// 1. block gate
	blocked, err := s.Blocks.IsBlocked(ctx, attempt.IPAddress)
	if err != nil {
		s.logger.Error("login: ip block check failed", slog.Any("error", err))
		return nil, err
	}
	if blocked {
		event.EventType = pkglogger.EventLoginBlocked
		event.FailureReason = "ip_blocked"
		s.auditLogger.LogAuthAttempt(event)
		return &LoginResult{Outcome: LoginIPBlocked}, nil
	}

	// 2. rate limit gate
	if limited, retryAfter := s.rateLimited(ctx, key); limited {
		event.EventType = pkglogger.EventLoginRateLimited
		event.FailureReason = "rate_limited"
		s.auditLogger.LogAuthAttempt(event)
		return &LoginResult{Outcome: LoginRateLimited, RetryAfterSeconds: retryAfter}, nil
	}

	// 3. credential gate
	outcome, err := s.Verifier.Verify(ctx, email, attempt.Password)
	if err != nil {
		s.logger.Error("login: credential check failed", slog.Any("error", err))
		return nil, err
	}

	if !outcome.Matched {
		s.handleFailure(ctx, outcome.User, email, attempt, key)

		event.EventType = pkglogger.EventLoginFailed
		event.FailureReason = "invalid_credentials"
		if outcome.User != nil {
			event.UserID = outcome.User.ID
		}
		s.auditLogger.LogAuthAttempt(event)

		if s.Timing != nil {
			s.Timing.WaitFrom(ctx, start)
		}
		return &LoginResult{Outcome: LoginInvalidCredentials}, nil
	}

	result, err := s.handleSuccess(ctx, outcome.User, attempt, key)
	if err != nil {
		return nil, err
	}

	event.EventType = pkglogger.EventLoginSuccess
	event.UserID = outcome.User.ID
	event.Success = true
	s.auditLogger.LogAuthAttempt(event)

	return result, nil
}

// rateLimited fails open on limiter errors; the block gate still applies
func (s *LoginService) rateLimited(ctx context.Context, key string) (bool, int) {
	limited, err := s.Limiter.TooManyAttempts(ctx, key, s.config.RateLimitMaxAttempts)
	if err != nil {
		s.logger.Warn("login: rate limiter unavailable, allowing attempt", slog.Any("error", err))
		return false, 0
	}
	if !limited {
		return false, 0
	}

	retryAfter := 1
	if available, err := s.Limiter.AvailableIn(ctx, key); err == nil {
		if secs := ratelimit.Seconds(available); secs > 0 {
			retryAfter = secs
		}
	}
	return true, retryAfter
}

func (s *LoginService) handleFailure(ctx context.Context, user *models.User, email string, attempt LoginAttempt, key string) {
	var userID *string
	if user != nil {
		id := user.ID
		userID = &id
	}

	// an unrecorded attempt must not drive escalation
	if s.Attempts.Record(ctx, userID, attempt.IPAddress, email, attempt.UserAgent, s.now()) {
		s.checkAndBlockIP(ctx, attempt.IPAddress)
	}

	if _, err := s.Limiter.Hit(ctx, key); err != nil {
		s.logger.Warn("login: failed to count rate limit hit", slog.Any("error", err))
	}
}

// checkAndBlockIP blocks ipAddress once its recent failures reach the
// threshold. It runs on every failure and relies on the registry to make a
// repeated block a no-op. Errors are logged, never returned.
func (s *LoginService) checkAndBlockIP(ctx context.Context, ipAddress string) {
	count, err := s.Attempts.CountRecentByIP(ctx, ipAddress, s.config.FailedAttemptsWindow)
	if err != nil {
		s.logger.Error("login: failed to count recent failures",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return
	}
	if count < s.config.MaxFailedAttempts {
		return
	}

	reason := fmt.Sprintf(models.IPBlockReasonAutomaticFormat, count)
	if _, _, err := s.Blocks.block(ctx, ipAddress, reason, "", true); err != nil {
		s.logger.Error("login: automatic ip block failed",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
	}
}

func (s *LoginService) handleSuccess(ctx context.Context, user *models.User, attempt LoginAttempt, key string) (*LoginResult, error) {
	terms, err := s.Terms.GetActive(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("login: terms lookup failed", slog.Any("error", err))
			return nil, fmt.Errorf("%w: terms lookup: %v", models.ErrStorageFailure, err)
		}
		terms = nil
	}

	if err := s.Limiter.Clear(ctx, key); err != nil {
		s.logger.Warn("login: failed to clear rate limit state", slog.Any("error", err))
	}

	now := s.now()
	if err := s.Users.TouchLastActive(ctx, user.ID, now); err != nil {
		s.logger.Warn("login: failed to update last active", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	session, err := s.Sessions.Start(ctx, user.ID, attempt.IPAddress, attempt.UserAgent)
	if err != nil {
		s.logger.Error("login: failed to start session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, err
	}

	token, expiresAt, err := s.TokenManager.GenerateAccessToken(user.ID, user.Email, session.SessionID)
	if err != nil {
		s.logger.Error("login: failed to sign token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	result := &LoginResult{
		Outcome:              LoginSucceeded,
		User:                 user,
		SessionToken:         token,
		SessionID:            session.SessionID,
		ExpiresAt:            expiresAt,
		NeedsPasswordChange:  user.IsTemporaryPassword,
		NeedsTermsAcceptance: !user.HasAcceptedTerms(terms),
	}
	if terms != nil {
		result.CurrentTermsVersion = terms.Version
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return result, nil
}

// Logout ends the caller's session. Repeated calls are harmless.
func (s *LoginService) Logout(ctx context.Context, userID, sessionID string) error {
	return s.Sessions.MarkLoggedOut(ctx, sessionID, userID)
}
