package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
)

// TestClock is a manually advanced clock for service tests
type TestClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewTestClock(t time.Time) *TestClock {
	return &TestClock{t: t}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// MockUserRepository implements the user collaborator interfaces for testing
type MockUserRepository struct {
	mu                 sync.Mutex
	users              map[string]*models.User
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string, at time.Time) error
}

func NewMockUserRepository(users ...*models.User) *MockUserRepository {
	m := &MockUserRepository{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.Email] = u
	}
	return m
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u.LastActiveAt = &at
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u.PasswordHash = passwordHash
			u.IsTemporaryPassword = false
			u.PasswordChangedAt = &at
			return nil
		}
	}
	return models.ErrNotFound
}

// User returns the stored record for email
func (m *MockUserRepository) User(email string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[email]
}

// MockTermsRepository returns a fixed terms document
type MockTermsRepository struct {
	Doc *models.TermsDocument
	Err error
}

func (m *MockTermsRepository) GetActive(ctx context.Context) (*models.TermsDocument, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Doc == nil {
		return nil, models.ErrNotFound
	}
	return m.Doc, nil
}

// MockFailedLoginRepository is an in-memory append-only attempt log
type MockFailedLoginRepository struct {
	mu         sync.Mutex
	attempts   []*models.FailedLoginAttempt
	CreateFunc func(ctx context.Context, attempt *models.FailedLoginAttempt) error
	CountErr   error
}

func (m *MockFailedLoginRepository) Create(ctx context.Context, attempt *models.FailedLoginAttempt) error {
	if m.CreateFunc != nil {
		if err := m.CreateFunc(ctx, attempt); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt.ID = uuid.New().String()
	clone := *attempt
	m.attempts = append(m.attempts, &clone)
	return nil
}

func (m *MockFailedLoginRepository) CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	return len(m.filter(func(a *models.FailedLoginAttempt) bool {
		return a.IPAddress == ipAddress && !a.CreatedAt.Before(since)
	})), nil
}

func (m *MockFailedLoginRepository) CountByEmailSince(ctx context.Context, email string, since time.Time) (int, error) {
	return len(m.filter(func(a *models.FailedLoginAttempt) bool {
		return a.Email == email && !a.CreatedAt.Before(since)
	})), nil
}

func (m *MockFailedLoginRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return int64(len(m.filter(func(a *models.FailedLoginAttempt) bool {
		return !a.CreatedAt.Before(since)
	}))), nil
}

func (m *MockFailedLoginRepository) ListByIPSince(ctx context.Context, ipAddress string, since time.Time, limit int) ([]*models.FailedLoginAttempt, error) {
	out := m.filter(func(a *models.FailedLoginAttempt) bool {
		return (ipAddress == "" || a.IPAddress == ipAddress) && !a.CreatedAt.Before(since)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockFailedLoginRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

func (m *MockFailedLoginRepository) filter(keep func(*models.FailedLoginAttempt) bool) []*models.FailedLoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FailedLoginAttempt
	for _, a := range m.attempts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// MockIPBlockRepository keeps blocks in memory with the at-most-one-active rule
type MockIPBlockRepository struct {
	mu        sync.Mutex
	blocks    []*models.IPBlock
	ExistsErr error
	CreateErr error
}

func (m *MockIPBlockRepository) CreateIfNotActive(ctx context.Context, ipAddress, reason string, at time.Time) (*models.IPBlock, bool, error) {
	if m.CreateErr != nil {
		return nil, false, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.IPAddress == ipAddress && b.IsActive {
			clone := *b
			return &clone, false, nil
		}
	}
	b := &models.IPBlock{ID: uuid.New().String(), IPAddress: ipAddress, Reason: reason, BlockedAt: at, IsActive: true}
	m.blocks = append(m.blocks, b)
	clone := *b
	return &clone, true, nil
}

func (m *MockIPBlockRepository) ExistsActive(ctx context.Context, ipAddress string) (bool, error) {
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	return m.ActiveCount(ipAddress) > 0, nil
}

func (m *MockIPBlockRepository) Deactivate(ctx context.Context, id string, unblockedBy *string, at time.Time) (*models.IPBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.ID != id {
			continue
		}
		if !b.IsActive {
			return nil, models.ErrAlreadyInactive
		}
		b.IsActive = false
		b.UnblockedAt = &at
		b.UnblockedBy = unblockedBy
		clone := *b
		return &clone, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockIPBlockRepository) List(ctx context.Context, filter models.IPBlockFilter) ([]*models.IPBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.IPBlock
	for _, b := range m.blocks {
		if filter.ActiveOnly && !b.IsActive {
			continue
		}
		if len(filter.IPAddresses) > 0 && !slices.Contains(filter.IPAddresses, b.IPAddress) {
			continue
		}
		clone := *b
		out = append(out, &clone)
	}
	return out, nil
}

func (m *MockIPBlockRepository) CountActive(ctx context.Context) (int64, error) {
	return int64(m.ActiveCount("")), nil
}

func (m *MockIPBlockRepository) CountTotal(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.blocks)), nil
}

func (m *MockIPBlockRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.blocks {
		if !b.BlockedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ActiveCount counts active blocks for ipAddress, or all active blocks when empty
func (m *MockIPBlockRepository) ActiveCount(ipAddress string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.blocks {
		if b.IsActive && (ipAddress == "" || b.IPAddress == ipAddress) {
			n++
		}
	}
	return n
}

// Seed inserts a block as is
func (m *MockIPBlockRepository) Seed(block *models.IPBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, block)
}

// MockSessionRepository keeps sessions in memory
type MockSessionRepository struct {
	mu        sync.Mutex
	sessions  []*models.UserSession
	UpsertErr error
}

func (m *MockSessionRepository) active(userID, sessionID string) *models.UserSession {
	for _, s := range m.sessions {
		if s.UserID == userID && s.SessionID == sessionID && s.IsActive {
			return s
		}
	}
	return nil
}

func (m *MockSessionRepository) Upsert(ctx context.Context, userID, sessionID, ipAddress, userAgent string, at time.Time) (*models.UserSession, error) {
	if m.UpsertErr != nil {
		return nil, m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.active(userID, sessionID)
	if s == nil {
		s = &models.UserSession{
			ID: uuid.New().String(), UserID: userID, SessionID: sessionID,
			LoginAt: at, IsActive: true,
		}
		m.sessions = append(m.sessions, s)
	}
	s.LastActivityAt = at
	s.IPAddress = ipAddress
	s.UserAgent = userAgent
	clone := *s
	return &clone, nil
}

func (m *MockSessionRepository) Refresh(ctx context.Context, userID, sessionID, ipAddress, userAgent string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.active(userID, sessionID)
	if s == nil {
		return false, nil
	}
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	s.IPAddress = ipAddress
	s.UserAgent = userAgent
	return true, nil
}

func (m *MockSessionRepository) GetLatest(ctx context.Context, userID, sessionID string) (*models.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.active(userID, sessionID); s != nil {
		clone := *s
		return &clone, nil
	}
	for i := len(m.sessions) - 1; i >= 0; i-- {
		s := m.sessions[i]
		if s.UserID == userID && s.SessionID == sessionID {
			clone := *s
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) end(s *models.UserSession, reason string, at time.Time) {
	s.IsActive = false
	s.LogoutAt = &at
	s.EndReason = &reason
}

func (m *MockSessionRepository) End(ctx context.Context, userID, sessionID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.active(userID, sessionID)
	if s == nil {
		return false, nil
	}
	m.end(s, reason, at)
	return true, nil
}

func (m *MockSessionRepository) EndAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			m.end(s, reason, at)
			n++
		}
	}
	return n, nil
}

func (m *MockSessionRepository) EndIdleBefore(ctx context.Context, cutoff, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.IsActive && s.LastActivityAt.Before(cutoff) {
			m.end(s, models.SessionEndExpired, at)
			n++
		}
	}
	return n, nil
}

func (m *MockSessionRepository) LatestActivity(ctx context.Context, userID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && (latest == nil || s.LastActivityAt.After(*latest)) {
			t := s.LastActivityAt
			latest = &t
		}
	}
	return latest, nil
}

func (m *MockSessionRepository) CountActive(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.IsActive {
			n++
		}
	}
	return n, nil
}

func (m *MockSessionRepository) CountStartedSince(ctx context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if !s.LoginAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Session returns a copy of the latest row for the pair
func (m *MockSessionRepository) Session(userID, sessionID string) *models.UserSession {
	s, err := m.GetLatest(context.Background(), userID, sessionID)
	if err != nil {
		return nil
	}
	return s
}

// MockPasswordResetRepository stores one token per email
type MockPasswordResetRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.PasswordResetToken
}

func NewMockPasswordResetRepository() *MockPasswordResetRepository {
	return &MockPasswordResetRepository{tokens: make(map[string]*models.PasswordResetToken)}
}

func (m *MockPasswordResetRepository) Upsert(ctx context.Context, token *models.PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *token
	m.tokens[token.Email] = &clone
	return nil
}

func (m *MockPasswordResetRepository) Consume(ctx context.Context, email, tokenHash string) (*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[email]
	if !ok || t.TokenHash != tokenHash {
		return nil, models.ErrNotFound
	}
	delete(m.tokens, email)
	return t, nil
}

func (m *MockPasswordResetRepository) DeleteExpired(ctx context.Context, email string, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[email]; ok && t.CreatedAt.Before(cutoff) {
		delete(m.tokens, email)
	}
	return nil
}

// Has reports whether a token is stored for email
func (m *MockPasswordResetRepository) Has(email string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[email]
	return ok
}

// MockEmailService records sent reset emails
type MockEmailService struct {
	mu       sync.Mutex
	Sent     []SentEmail
	SendFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
}

// SentEmail is one captured message
type SentEmail struct {
	Email     string
	Token     string
	ExpiresAt time.Time
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, email, token, expiresAt); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentEmail{Email: email, Token: token, ExpiresAt: expiresAt})
	return nil
}

// errStorage is a generic storage failure for tests
var errStorage = fmt.Errorf("connection reset by peer")
