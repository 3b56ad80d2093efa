package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds session claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, sessionID string) *http.Request {
	claims := &models.TokenClaims{
		UserID:    userID,
		SessionID: sessionID,
		Type:      models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	AttemptLoginFunc func(ctx context.Context, attempt services.LoginAttempt) (*services.LoginResult, error)
	LogoutFunc       func(ctx context.Context, userID, sessionID string) error
}

func (m *MockLoginService) AttemptLogin(ctx context.Context, attempt services.LoginAttempt) (*services.LoginResult, error) {
	if m.AttemptLoginFunc == nil {
		return &services.LoginResult{Outcome: services.LoginInvalidCredentials}, nil
	}
	return m.AttemptLoginFunc(ctx, attempt)
}

func (m *MockLoginService) Logout(ctx context.Context, userID, sessionID string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, userID, sessionID)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	RequestResetFunc  func(ctx context.Context, email, ipAddress string)
	ResetPasswordFunc func(ctx context.Context, email, token, newPassword, ipAddress string) error
}

func (m *MockPasswordResetService) RequestReset(ctx context.Context, email, ipAddress string) {
	if m.RequestResetFunc != nil {
		m.RequestResetFunc(ctx, email, ipAddress)
	}
}

func (m *MockPasswordResetService) ResetPassword(ctx context.Context, email, token, newPassword, ipAddress string) error {
	if m.ResetPasswordFunc == nil {
		return models.ErrTokenInvalidOrExpired
	}
	return m.ResetPasswordFunc(ctx, email, token, newPassword, ipAddress)
}

// MockUserGetter implements UserGetter for testing
type MockUserGetter struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserGetter) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetByIDFunc(ctx, id)
}

// MockIPBlockService implements IPBlockServiceInterface for testing
type MockIPBlockService struct {
	ListFunc        func(ctx context.Context, filter models.IPBlockFilter) ([]*models.IPBlock, error)
	BlockIPFunc     func(ctx context.Context, ipAddress, reason, actorID string) (*models.IPBlock, bool, error)
	UnblockFunc     func(ctx context.Context, blockID, actorID string) (bool, error)
	BulkUnblockFunc func(ctx context.Context, blockIDs []string, actorID string) (services.BulkUnblockResult, error)
}

func (m *MockIPBlockService) List(ctx context.Context, filter models.IPBlockFilter) ([]*models.IPBlock, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, filter)
}

func (m *MockIPBlockService) BlockIP(ctx context.Context, ipAddress, reason, actorID string) (*models.IPBlock, bool, error) {
	if m.BlockIPFunc == nil {
		return &models.IPBlock{ID: "block-1", IPAddress: ipAddress, Reason: reason, IsActive: true}, true, nil
	}
	return m.BlockIPFunc(ctx, ipAddress, reason, actorID)
}

func (m *MockIPBlockService) Unblock(ctx context.Context, blockID, actorID string) (bool, error) {
	if m.UnblockFunc == nil {
		return false, models.ErrNotFound
	}
	return m.UnblockFunc(ctx, blockID, actorID)
}

func (m *MockIPBlockService) BulkUnblock(ctx context.Context, blockIDs []string, actorID string) (services.BulkUnblockResult, error) {
	if m.BulkUnblockFunc == nil {
		return services.BulkUnblockResult{RequestedCount: len(blockIDs)}, nil
	}
	return m.BulkUnblockFunc(ctx, blockIDs, actorID)
}

// MockAttemptHistory implements AttemptHistoryInterface for testing
type MockAttemptHistory struct {
	HistoryFunc func(ctx context.Context, ipAddress string, window time.Duration, limit int) ([]*models.FailedLoginAttempt, error)
}

func (m *MockAttemptHistory) History(ctx context.Context, ipAddress string, window time.Duration, limit int) ([]*models.FailedLoginAttempt, error) {
	if m.HistoryFunc == nil {
		return nil, nil
	}
	return m.HistoryFunc(ctx, ipAddress, window, limit)
}

// MockStatsService implements StatsServiceInterface for testing
type MockStatsService struct {
	GetStatsFunc func(ctx context.Context) (*models.SecurityStats, error)
}

func (m *MockStatsService) GetStats(ctx context.Context) (*models.SecurityStats, error) {
	if m.GetStatsFunc == nil {
		return &models.SecurityStats{}, nil
	}
	return m.GetStatsFunc(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
//
// Example usage:
//
//	req := httptest.NewRequest("POST", "/admin/ip-blocks/b1/unblock", nil)
//	req = WithChiRouteContext(req, map[string]string{"id": "b1"})
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
