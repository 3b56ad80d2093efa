//go:build integration

package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/database/dbtest"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/ratelimit"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/routes"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

const (
	maxFailures  = 3
	userPassword = "Secret-Pass-1"
)

var testDB *dbtest.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := dbtest.SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test database: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()

	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

// testServer is the full router over a real database, an in-memory limiter
// and a capturing mailer
type testServer struct {
	router http.Handler
	mailer *services.MockEmailService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLogger := pkglogger.NewAuditLogger(logger)
	db := testDB.DB

	userRepo := repositories.NewUserRepository(db)
	termsRepo := repositories.NewTermsRepository(db)
	failedLoginRepo := repositories.NewFailedLoginRepository(db)
	ipBlockRepo := repositories.NewIPBlockRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)

	resolver := pkghttp.NewClientResolver(nil)
	tokenManager := auth.NewTokenManager("integration-test-secret-at-least-32-bytes", 15*time.Minute)
	mailer := &services.MockEmailService{}

	recorder := services.NewFailedAttemptRecorder(failedLoginRepo, logger)
	registry := services.NewIPBlockRegistry(ipBlockRepo, logger, auditLogger)
	tracker := services.NewSessionTracker(sessionRepo, 30*time.Minute, logger, auditLogger)

	loginService := services.NewLoginService(services.LoginDependencies{
		Verifier:     services.NewCredentialVerifier(userRepo),
		Attempts:     recorder,
		Blocks:       registry,
		Limiter:      ratelimit.New(ratelimit.NewMemoryStore(), time.Minute),
		Sessions:     tracker,
		Users:        userRepo,
		Terms:        termsRepo,
		TokenManager: tokenManager,
	}, services.LoginConfig{
		MaxFailedAttempts:    maxFailures,
		FailedAttemptsWindow: 15 * time.Minute,
		RateLimitMaxAttempts: 100,
	}, logger, auditLogger)

	resetService := services.NewPasswordResetService(resetRepo, userRepo, tracker, mailer, time.Hour, logger, auditLogger)
	statsService := services.NewSecurityStatsService(ipBlockRepo, failedLoginRepo, sessionRepo, logger)

	router := chi.NewRouter()
	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:  handlers.NewAuthHandler(loginService, resetService, userRepo, resolver, logger),
		AdminHandler: handlers.NewAdminHandler(registry, recorder, statsService),
		TokenManager: tokenManager,
		Sessions:     tracker,
		Users:        userRepo,
		Resolver:     resolver,
		RateLimit:    middleware.RateLimitConfig{RequestsPerMinute: 1000},
		Logger:       logger,
	})

	return &testServer{router: router, mailer: mailer}
}

func (s *testServer) do(t *testing.T, method, path, ip, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = ip + ":40000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T, ip, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/auth/login", ip, "", handlers.LoginRequest{Email: email, Password: password})
}

func (s *testServer) mustLogin(t *testing.T, ip, email, password string) handlers.LoginResponse {
	t.Helper()
	w := s.login(t, ip, email, password)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp handlers.LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.SessionToken)
	return resp
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Error
}

func TestLogin_RepeatedFailuresBlockTheSourceIP(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := dbtest.SeedUser(ctx, testDB.Pool, "alice@example.com", userPassword, "user")
	require.NoError(t, err)

	const attacker = "203.0.113.7"
	for i := 0; i < maxFailures; i++ {
		w := srv.login(t, attacker, "alice@example.com", "wrong-password")
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, pkghttp.CodeInvalidCredentials, errorCode(t, w))
	}

	// the right password no longer helps from the blocked address
	w := srv.login(t, attacker, "alice@example.com", userPassword)
	require.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, pkghttp.CodeIPBlocked, errorCode(t, w))

	// another source is unaffected
	resp := srv.mustLogin(t, "198.51.100.20", "alice@example.com", userPassword)
	assert.Equal(t, "alice@example.com", resp.User.Email)

	var blocks int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ip_blocks WHERE ip_address = $1 AND is_active`, attacker,
	).Scan(&blocks))
	assert.Equal(t, 1, blocks)
}

func TestLogin_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	srv := newTestServer(t)

	_, err := dbtest.SeedUser(context.Background(), testDB.Pool, "alice@example.com", userPassword, "user")
	require.NoError(t, err)

	unknown := srv.login(t, "198.51.100.1", "nobody@example.com", userPassword)
	wrong := srv.login(t, "198.51.100.2", "alice@example.com", "wrong-password")

	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, unknown.Body.String(), wrong.Body.String())
}

func TestSession_LogoutInvalidatesToken(t *testing.T) {
	srv := newTestServer(t)

	_, err := dbtest.SeedUser(context.Background(), testDB.Pool, "alice@example.com", userPassword, "user")
	require.NoError(t, err)

	resp := srv.mustLogin(t, "198.51.100.20", "alice@example.com", userPassword)

	w := srv.do(t, http.MethodGet, "/auth/me", "198.51.100.20", resp.SessionToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodPost, "/auth/logout", "198.51.100.20", resp.SessionToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = srv.do(t, http.MethodGet, "/auth/me", "198.51.100.20", resp.SessionToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// logging out an ended session is a no-op, not an auth failure
	w = srv.do(t, http.MethodPost, "/auth/logout", "198.51.100.20", resp.SessionToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = srv.do(t, http.MethodPost, "/auth/logout", "198.51.100.20", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdmin_UnblockRestoresAccess(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := dbtest.SeedUser(ctx, testDB.Pool, "alice@example.com", userPassword, "user")
	require.NoError(t, err)
	_, err = dbtest.SeedUser(ctx, testDB.Pool, "admin@example.com", userPassword, "admin")
	require.NoError(t, err)

	const attacker = "203.0.113.7"
	for i := 0; i < maxFailures; i++ {
		srv.login(t, attacker, "alice@example.com", "wrong-password")
	}

	admin := srv.mustLogin(t, "198.51.100.99", "admin@example.com", userPassword)
	user := srv.mustLogin(t, "198.51.100.20", "alice@example.com", userPassword)

	// non-admins are refused
	w := srv.do(t, http.MethodGet, "/admin/ip-blocks", "198.51.100.20", user.SessionToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = srv.do(t, http.MethodGet, "/admin/ip-blocks?active=true&ip="+attacker, "198.51.100.99", admin.SessionToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list handlers.IPBlockListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	block := list.Blocks[0]
	assert.Equal(t, attacker, block.IPAddress)
	assert.Equal(t, fmt.Sprintf(models.IPBlockReasonAutomaticFormat, maxFailures), block.Reason)

	w = srv.do(t, http.MethodPost, "/admin/ip-blocks/"+block.ID+"/unblock", "198.51.100.99", admin.SessionToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodPost, "/admin/ip-blocks/"+block.ID+"/unblock", "198.51.100.99", admin.SessionToken, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	srv.mustLogin(t, attacker, "alice@example.com", userPassword)

	w = srv.do(t, http.MethodGet, "/admin/security/stats", "198.51.100.99", admin.SessionToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats models.SecurityStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, int64(0), stats.ActiveBlocks)
	assert.Equal(t, int64(1), stats.TotalBlocks)
	assert.Equal(t, int64(maxFailures), stats.FailedAttemptsLastHour)
	assert.Equal(t, int64(3), stats.ActiveSessions)
}

func TestPasswordReset_EndToEnd(t *testing.T) {
	srv := newTestServer(t)

	_, err := dbtest.SeedUser(context.Background(), testDB.Pool, "alice@example.com", userPassword, "user")
	require.NoError(t, err)

	before := srv.mustLogin(t, "198.51.100.20", "alice@example.com", userPassword)

	w := srv.do(t, http.MethodPost, "/auth/forgot-password", "198.51.100.20", "", handlers.ForgotPasswordRequest{Email: "alice@example.com"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = srv.do(t, http.MethodPost, "/auth/forgot-password", "198.51.100.20", "", handlers.ForgotPasswordRequest{Email: "nobody@example.com"})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, srv.mailer.Sent, 1)
	token := srv.mailer.Sent[0].Token

	const newPassword = "Another-Secret-2"
	reset := handlers.ResetPasswordRequest{Email: "alice@example.com", Token: token, NewPassword: newPassword}

	w = srv.do(t, http.MethodPost, "/auth/reset-password", "198.51.100.20", "", reset)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = srv.do(t, http.MethodPost, "/auth/reset-password", "198.51.100.20", "", reset)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, pkghttp.CodeTokenInvalid, errorCode(t, w))

	// sessions opened before the reset are gone
	w = srv.do(t, http.MethodGet, "/auth/me", "198.51.100.20", before.SessionToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = srv.login(t, "198.51.100.20", "alice@example.com", userPassword)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	srv.mustLogin(t, "198.51.100.20", "alice@example.com", newPassword)
}
