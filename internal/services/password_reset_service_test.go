package services

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "Correct-Horse-9-battery"

type resetFixture struct {
	clock    *TestClock
	repo     *MockPasswordResetRepository
	users    *MockUserRepository
	sessions *MockSessionRepository
	tracker  *SessionTracker
	mailer   *MockEmailService
	svc      *PasswordResetService
}

func newResetFixture(t *testing.T, users ...*models.User) *resetFixture {
	t.Helper()

	logger := discardLogger()
	audit := pkglogger.NewAuditLogger(logger)
	f := &resetFixture{
		clock:    NewTestClock(testStart),
		repo:     NewMockPasswordResetRepository(),
		users:    NewMockUserRepository(users...),
		sessions: &MockSessionRepository{},
		mailer:   &MockEmailService{},
	}
	f.tracker = NewSessionTracker(f.sessions, 30*time.Minute, logger, audit)
	f.tracker.now = f.clock.Now

	f.svc = NewPasswordResetService(f.repo, f.users, f.tracker, f.mailer, time.Hour, logger, audit)
	f.svc.now = f.clock.Now
	f.svc.hashCost = bcrypt.MinCost
	return f
}

func TestPasswordReset_TokenIsSingleUse(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, err := f.svc.Issue(ctx, "a@b.com")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotContains(t, token, "=")

	f.clock.Advance(59 * time.Minute)
	valid, err := f.svc.Validate(ctx, "a@b.com", token)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = f.svc.Validate(ctx, "a@b.com", token)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestPasswordReset_ExpiredTokenIsRejectedAndDeleted(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, err := f.svc.Issue(ctx, "a@b.com")
	require.NoError(t, err)

	f.clock.Advance(61 * time.Minute)
	valid, err := f.svc.Validate(ctx, "a@b.com", token)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.False(t, f.repo.Has("a@b.com"))
}

func TestPasswordReset_WrongTokenDeletesOnlyStaleRecord(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, "a@b.com")
	require.NoError(t, err)

	valid, err := f.svc.Validate(ctx, "a@b.com", "not-the-token")
	require.NoError(t, err)
	assert.False(t, valid)
	assert.True(t, f.repo.Has("a@b.com"), "fresh token survives a wrong guess")

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Validate(ctx, "a@b.com", "not-the-token")
	require.NoError(t, err)
	assert.False(t, f.repo.Has("a@b.com"))
}

func TestPasswordReset_ReissueReplacesToken(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, "a@b.com")
	require.NoError(t, err)
	second, err := f.svc.Issue(ctx, "A@B.com ")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	valid, err := f.svc.Validate(ctx, "a@b.com", first)
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = f.svc.Validate(ctx, "a@b.com", second)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestPasswordReset_TokenStoredHashed(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, err := f.svc.Issue(ctx, "a@b.com")
	require.NoError(t, err)

	record, err := f.repo.Consume(ctx, "a@b.com", pkgauth.HashToken(token))
	require.NoError(t, err)
	assert.NotEqual(t, token, record.TokenHash)
	assert.Len(t, record.TokenHash, 64)
}

func TestPasswordReset_RequestReset(t *testing.T) {
	user := testUser(t)
	f := newResetFixture(t, user)
	ctx := context.Background()

	f.svc.RequestReset(ctx, "nobody@b.com", "1.1.1.1")
	assert.Empty(t, f.mailer.Sent)
	assert.False(t, f.repo.Has("nobody@b.com"))

	f.svc.RequestReset(ctx, " A@B.com", "1.1.1.1")
	require.Len(t, f.mailer.Sent, 1)
	sent := f.mailer.Sent[0]
	assert.Equal(t, "a@b.com", sent.Email)
	assert.Equal(t, testStart.Add(time.Hour), sent.ExpiresAt)

	valid, err := f.svc.Validate(ctx, "a@b.com", sent.Token)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestPasswordReset_ResetPassword(t *testing.T) {
	user := testUser(t)
	f := newResetFixture(t, user)
	ctx := context.Background()

	require.NoError(t, f.tracker.Touch(ctx, user.ID, "s1", "1.1.1.1", "ua"))
	require.NoError(t, f.tracker.Touch(ctx, user.ID, "s2", "1.1.1.1", "ua"))

	token, err := f.svc.Issue(ctx, user.Email)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.svc.ResetPassword(ctx, user.Email, token, strongPassword, "1.1.1.1"))

	stored := f.users.User(user.Email)
	assert.NoError(t, pkgauth.ComparePassword(stored.PasswordHash, strongPassword))
	require.NotNil(t, stored.PasswordChangedAt)
	assert.Equal(t, testStart.Add(10*time.Minute), *stored.PasswordChangedAt)

	assert.False(t, f.sessions.Session(user.ID, "s1").IsActive)
	assert.False(t, f.sessions.Session(user.ID, "s2").IsActive)

	err = f.svc.ResetPassword(ctx, user.Email, token, strongPassword, "1.1.1.1")
	assert.ErrorIs(t, err, models.ErrTokenInvalidOrExpired)
}

func TestPasswordReset_WeakPasswordKeepsToken(t *testing.T) {
	user := testUser(t)
	f := newResetFixture(t, user)
	ctx := context.Background()

	token, err := f.svc.Issue(ctx, user.Email)
	require.NoError(t, err)

	err = f.svc.ResetPassword(ctx, user.Email, token, "short", "1.1.1.1")
	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.True(t, f.repo.Has(user.Email))

	require.NoError(t, f.svc.ResetPassword(ctx, user.Email, token, strongPassword, "1.1.1.1"))
}

func TestPasswordReset_InvalidToken(t *testing.T) {
	user := testUser(t)
	f := newResetFixture(t, user)

	err := f.svc.ResetPassword(context.Background(), user.Email, "bogus", strongPassword, "1.1.1.1")
	assert.ErrorIs(t, err, models.ErrTokenInvalidOrExpired)
	assert.NoError(t, pkgauth.ComparePassword(f.users.User(user.Email).PasswordHash, correctPassword))
}
