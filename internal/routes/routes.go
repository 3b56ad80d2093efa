package routes

import (
	"log/slog"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies are the handlers and guards the routes are built from
type Dependencies struct {
	AuthHandler  *handlers.AuthHandler
	AdminHandler *handlers.AdminHandler
	TokenManager *auth.TokenManager
	Sessions     auth.SessionEnforcer
	Users        auth.UserRepository
	Resolver     *pkghttp.ClientResolver
	RateLimit    middleware.RateLimitConfig
	Logger       *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	publicLimit := middleware.RateLimitByIP(deps.RateLimit, deps.Resolver)

	// Public routes - no session required
	router.Group(func(r chi.Router) {
		r.Use(publicLimit)
		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/forgot-password", deps.AuthHandler.ForgotPassword)
		r.Post("/auth/reset-password", deps.AuthHandler.ResetPassword)
	})

	// Logout needs a valid token but not a live session, so repeating it is harmless
	router.With(auth.RequireToken(deps.TokenManager)).Post("/auth/logout", deps.AuthHandler.Logout)

	// Protected routes - every request passes through the session enforcer
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(deps.TokenManager, deps.Sessions, deps.Resolver, deps.Logger))

		r.Get("/auth/me", deps.AuthHandler.Me)

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Users, "admin"))
			r.Use(middleware.RateLimitByUserID(deps.RateLimit, deps.Resolver))

			r.Get("/ip-blocks", deps.AdminHandler.ListIPBlocks)
			r.Post("/ip-blocks", deps.AdminHandler.CreateIPBlock)
			r.Post("/ip-blocks/bulk-unblock", deps.AdminHandler.BulkUnblock)
			r.Post("/ip-blocks/{id}/unblock", deps.AdminHandler.UnblockIP)
			r.Get("/failed-attempts", deps.AdminHandler.ListFailedAttempts)
			r.Get("/security/stats", deps.AdminHandler.GetSecurityStats)
		})
	})
}
