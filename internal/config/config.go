package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Redis    RedisConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	PasswordResetTTL  time.Duration
	TimingDelayBaseMs int
	TimingDelayRandMs int
}

// SecurityConfig holds the thresholds of the login gates and session lifecycle
type SecurityConfig struct {
	MaxFailedAttempts     int
	FailedAttemptsWindow  time.Duration
	LoginMaxAttempts      int
	LoginDecay            time.Duration
	SessionIdleTimeout    time.Duration
	SessionSweepInterval  time.Duration
	SessionSweepThreshold time.Duration
	HTTPRequestsPerMinute int
}

// RedisConfig selects the rate limiter backend; an empty Addr keeps counters in memory
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EmailConfig struct {
	AWSRegion    string
	FromAddress  string
	ResetURLBase string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sentinel"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 12*time.Hour),
			PasswordResetTTL:  getEnvAsDuration("PASSWORD_RESET_TTL", 60*time.Minute),
			TimingDelayBaseMs: getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
		},
		Security: SecurityConfig{
			MaxFailedAttempts:     getEnvAsInt("MAX_FAILED_ATTEMPTS", 5),
			FailedAttemptsWindow:  getEnvAsDuration("FAILED_ATTEMPTS_WINDOW", 60*time.Minute),
			LoginMaxAttempts:      getEnvAsInt("LOGIN_RATE_LIMIT_MAX", 5),
			LoginDecay:            getEnvAsDuration("LOGIN_RATE_LIMIT_DECAY", 60*time.Second),
			SessionIdleTimeout:    getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			SessionSweepInterval:  getEnvAsDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			SessionSweepThreshold: getEnvAsDuration("SESSION_SWEEP_THRESHOLD", 2*time.Hour),
			HTTPRequestsPerMinute: getEnvAsInt("HTTP_AUTH_REQUESTS_PER_MINUTE", 30),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
			ResetURLBase: getEnv("PASSWORD_RESET_URL_BASE", "http://localhost:5173"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Security.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (s *SecurityConfig) validate() error {
	if s.MaxFailedAttempts < 1 {
		return fmt.Errorf("MAX_FAILED_ATTEMPTS must be at least 1")
	}
	if s.LoginMaxAttempts < 1 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_MAX must be at least 1")
	}
	if s.FailedAttemptsWindow <= 0 || s.LoginDecay <= 0 {
		return fmt.Errorf("FAILED_ATTEMPTS_WINDOW and LOGIN_RATE_LIMIT_DECAY must be positive")
	}
	if s.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	if s.SessionSweepThreshold < s.SessionIdleTimeout {
		return fmt.Errorf("SESSION_SWEEP_THRESHOLD (%s) must not be shorter than SESSION_IDLE_TIMEOUT (%s)",
			s.SessionSweepThreshold, s.SessionIdleTimeout)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
