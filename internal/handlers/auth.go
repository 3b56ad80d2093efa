package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// LoginServiceInterface defines the login orchestrator used by AuthHandler
type LoginServiceInterface interface {
	AttemptLogin(ctx context.Context, attempt services.LoginAttempt) (*services.LoginResult, error)
	Logout(ctx context.Context, userID, sessionID string) error
}

// PasswordResetServiceInterface defines the reset flow used by AuthHandler
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email, ipAddress string)
	ResetPassword(ctx context.Context, email, token, newPassword, ipAddress string) error
}

// UserGetter loads the current user for /auth/me
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	login    LoginServiceInterface
	resets   PasswordResetServiceInterface
	users    UserGetter
	resolver *pkghttp.ClientResolver
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(login LoginServiceInterface, resets PasswordResetServiceInterface, users UserGetter, resolver *pkghttp.ClientResolver, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		login:    login,
		resets:   resets,
		users:    users,
		resolver: resolver,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// ForgotPasswordRequest represents the request body for starting a reset
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Token       string `json:"token" validate:"required,max=256"`
	NewPassword string `json:"new_password" validate:"required"`
}

// Response DTOs

// UserResponse is the public view of a user
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// LoginResponse is returned on a successful login
type LoginResponse struct {
	SessionToken         string       `json:"session_token"`
	ExpiresAt            time.Time    `json:"expires_at"`
	User                 UserResponse `json:"user"`
	NeedsPasswordChange  bool         `json:"needs_password_change"`
	NeedsTermsAcceptance bool         `json:"needs_terms_acceptance"`
	CurrentTermsVersion  string       `json:"current_terms_version,omitempty"`
}

// MessageResponse carries a human-readable confirmation
type MessageResponse struct {
	Message string `json:"message"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.login.AttemptLogin(r.Context(), services.LoginAttempt{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: h.resolver.ClientIP(r),
		UserAgent: pkghttp.UserAgent(r),
	})
	if err != nil {
		h.logger.Error("login failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	switch result.Outcome {
	case services.LoginSucceeded:
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			SessionToken:         result.SessionToken,
			ExpiresAt:            result.ExpiresAt,
			User:                 toUserResponse(result.User),
			NeedsPasswordChange:  result.NeedsPasswordChange,
			NeedsTermsAcceptance: result.NeedsTermsAcceptance,
			CurrentTermsVersion:  result.CurrentTermsVersion,
		})
	case services.LoginIPBlocked:
		pkghttp.WriteLocked(w, "Access from this IP address has been blocked")
	case services.LoginRateLimited:
		pkghttp.WriteRateLimited(w, "Too many login attempts. Please try again later.", result.RetryAfterSeconds)
	default:
		pkghttp.WriteInvalidCredentials(w)
	}
}

// Logout ends the caller's session
// @Summary User logout
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.login.Logout(r.Context(), claims.UserID, claims.SessionID); err != nil {
		h.logger.Error("logout failed", slog.String("user_id", claims.UserID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user
// @Summary Current user
// @Security BearerAuth
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// ForgotPassword starts a reset. The response never reveals whether the email exists.
// @Summary Request password reset
// @Accept json
// @Param request body ForgotPasswordRequest true "Forgot password request"
// @Produce json
// @Success 202 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.resets.RequestReset(r.Context(), req.Email, h.resolver.ClientIP(r))

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an account exists with this email, a password reset link will be sent.",
	})
}

// ResetPassword redeems a reset token
// @Summary Reset password
// @Accept json
// @Param request body ResetPasswordRequest true "Reset password request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.resets.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword, h.resolver.ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenInvalidOrExpired):
			pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeTokenInvalid, "Reset link is invalid or has expired")
		case errors.Is(err, models.ErrBadRequest):
			details := err.Error()
			var policyErr *pkgauth.PasswordValidationError
			if errors.As(err, &policyErr) {
				details = "password " + strings.Join(policyErr.Errors, ", ")
			}
			pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, pkghttp.CodeBadRequest, "Password does not meet requirements", details)
		default:
			h.logger.Error("password reset failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{
		Message: "Password has been reset. Please log in with your new password.",
	})
}
