package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/background"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/handlers"
	middlewareCustom "github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/ratelimit"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/routes"
	"github.com/BradenHooton/sentinel/internal/services"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	termsRepo := repositories.NewTermsRepository(db)
	failedLoginRepo := repositories.NewFailedLoginRepository(db)
	ipBlockRepo := repositories.NewIPBlockRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)
	resolver := pkghttp.NewClientResolver(cfg.Server.TrustedProxies)

	// Rate limiter backend: Redis when configured, process memory otherwise
	var (
		limiterStore ratelimit.Store
		memoryStore  *ratelimit.MemoryStore
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup; login limiter will fail open until it recovers", slog.Any("error", err))
		}
		pingCancel()

		limiterStore = ratelimit.NewRedisStore(redisClient, "")
		logger.Info("login rate limiter using redis", slog.String("addr", cfg.Redis.Addr))
	} else {
		memoryStore = ratelimit.NewMemoryStore()
		limiterStore = memoryStore
		logger.Info("login rate limiter using process memory")
	}
	limiter := ratelimit.New(limiterStore, cfg.Security.LoginDecay)

	// Token manager and timing delay
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandMs,
	})

	// Email delivery: SES when a sender is configured, log otherwise
	var mailer services.EmailService
	if cfg.Email.FromAddress != "" {
		sesCtx, sesCancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesService, err := services.NewAWSSESEmailService(sesCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.ResetURLBase, logger)
		sesCancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		mailer = sesService
	} else {
		logger.Warn("EMAIL_FROM_ADDRESS not set, password reset links will only be logged")
		mailer = services.NewLogEmailService(cfg.Email.ResetURLBase, cfg.Server.Env, logger)
	}

	// Security core
	verifier := services.NewCredentialVerifier(userRepo)
	recorder := services.NewFailedAttemptRecorder(failedLoginRepo, logger)
	registry := services.NewIPBlockRegistry(ipBlockRepo, logger, auditLogger)
	tracker := services.NewSessionTracker(sessionRepo, cfg.Security.SessionIdleTimeout, logger, auditLogger)

	loginService := services.NewLoginService(services.LoginDependencies{
		Verifier:     verifier,
		Attempts:     recorder,
		Blocks:       registry,
		Limiter:      limiter,
		Sessions:     tracker,
		Users:        userRepo,
		Terms:        termsRepo,
		TokenManager: tokenManager,
		Timing:       timingDelay,
	}, services.LoginConfig{
		MaxFailedAttempts:    cfg.Security.MaxFailedAttempts,
		FailedAttemptsWindow: cfg.Security.FailedAttemptsWindow,
		RateLimitMaxAttempts: cfg.Security.LoginMaxAttempts,
	}, logger, auditLogger)

	resetService := services.NewPasswordResetService(resetRepo, userRepo, tracker, mailer, cfg.Auth.PasswordResetTTL, logger, auditLogger)
	statsService := services.NewSecurityStatsService(ipBlockRepo, failedLoginRepo, sessionRepo, logger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(loginService, resetService, userRepo, resolver, logger)
	adminHandler := handlers.NewAdminHandler(registry, recorder, statsService)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, resolver))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:  authHandler,
		AdminHandler: adminHandler,
		TokenManager: tokenManager,
		Sessions:     tracker,
		Users:        userRepo,
		Resolver:     resolver,
		RateLimit:    middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Security.HTTPRequestsPerMinute},
		Logger:       logger,
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session sweeper
	sweeper := background.NewSessionSweeper(tracker, prunerOrNil(memoryStore), cfg.Security.SessionSweepThreshold, cfg.Security.SessionSweepInterval, logger)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweepCancel()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// prunerOrNil avoids handing the sweeper a typed nil
func prunerOrNil(store *ratelimit.MemoryStore) background.CounterPruner {
	if store == nil {
		return nil
	}
	return store
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := pkgauth.NormalizeEmail(os.Getenv("ADMIN_EMAIL"))
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD does not meet the password policy: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin := &models.User{
		Email:             adminEmail,
		PasswordHash:      hashedPassword,
		Name:              "Admin",
		Role:              "admin",
		PasswordChangedAt: &now,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
