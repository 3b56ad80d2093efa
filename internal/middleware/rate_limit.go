package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns the coarse limit for public auth endpoints (30 requests per minute).
// The login limiter in internal/ratelimit is the authoritative per-IP throttle.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
	}
}

func limitHandler(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteRateLimited(w, "Rate limit exceeded", int(time.Minute/time.Second))
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// The IP is resolved the same way the login service sees it.
func RateLimitByIP(config RateLimitConfig, resolver *pkghttp.ClientResolver) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "ip:" + resolver.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(limitHandler),
	)
}

// RateLimitByUserID limits authenticated requests per user, falling back to
// the client IP when no claims are present. Must run after RequireSession.
func RateLimitByUserID(config RateLimitConfig, resolver *pkghttp.ClientResolver) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				return "user:" + claims.UserID, nil
			}
			return "ip:" + resolver.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(limitHandler),
	)
}
