// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Backend names for pluggable stores.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// minSessionSecretLen is the shortest accepted HMAC key for session cookies.
const minSessionSecretLen = 32

// Config validation errors.
var (
	ErrSessionSecretTooShort = errors.New("SESSION_SECRET must be at least 32 bytes")
	ErrInvalidBackend        = errors.New("invalid backend")
	ErrInvalidRedirectURL    = errors.New("LOGIN_REDIRECT_URL must be a local path")
	ErrInvalidRateLimit      = errors.New("login rate limit must be positive")
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8000"`
	OpsPort int    `env:"OPS_PORT" envDefault:"9090"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required,notEmpty"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Sessions
	SessionSecret     string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME" envDefault:"cgpa_session"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"336h"`
	SessionBackend    string        `env:"SESSION_BACKEND" envDefault:"redis"`

	// Where a successful login lands when no safe "next" was supplied.
	LoginRedirectURL string `env:"LOGIN_REDIRECT_URL" envDefault:"/"`

	// Login rate limiting (per client IP)
	RateLimitLoginEnabled bool   `env:"RATE_LIMIT_LOGIN_ENABLED" envDefault:"true"`
	RateLimitLoginRPS     int    `env:"RATE_LIMIT_LOGIN_RPS" envDefault:"1"`
	RateLimitLoginBurst   int    `env:"RATE_LIMIT_LOGIN_BURST" envDefault:"5"`
	RateLimitBackend      string `env:"RATE_LIMIT_BACKEND" envDefault:"redis"`

	// Auth event audit trail
	AuditEnabled   bool          `env:"AUDIT_ENABLED" envDefault:"true"`
	AuditBatchSize int           `env:"AUDIT_BATCH_SIZE" envDefault:"200"`
	AuditClaimIdle time.Duration `env:"AUDIT_CLAIM_IDLE" envDefault:"30s"`

	// Request body size limit in bytes (default 64KB, login forms are tiny)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"65536"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Validate checks values that struct tags cannot express.
func (c *Config) Validate() error {
	if len(c.SessionSecret) < minSessionSecretLen {
		return ErrSessionSecretTooShort
	}
	if !validBackend(c.SessionBackend) {
		return fmt.Errorf("SESSION_BACKEND %q: %w", c.SessionBackend, ErrInvalidBackend)
	}
	if !validBackend(c.RateLimitBackend) {
		return fmt.Errorf("RATE_LIMIT_BACKEND %q: %w", c.RateLimitBackend, ErrInvalidBackend)
	}
	if c.RateLimitLoginEnabled && (c.RateLimitLoginRPS < 1 || c.RateLimitLoginBurst < 1) {
		return ErrInvalidRateLimit
	}
	if len(c.LoginRedirectURL) == 0 || c.LoginRedirectURL[0] != '/' ||
		(len(c.LoginRedirectURL) > 1 && (c.LoginRedirectURL[1] == '/' || c.LoginRedirectURL[1] == '\\')) {
		return ErrInvalidRedirectURL
	}
	return nil
}

func validBackend(b string) bool {
	return b == BackendRedis || b == BackendMemory
}

// Load parses environment variables and returns a Config.
// A .env file in the working directory is read first when present;
// variables already set in the environment take precedence.
// Returns an error if required variables are missing or invalid.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DatabaseConfig is the subset of configuration the admin CLI needs.
type DatabaseConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
}

// LoadDatabase reads only DATABASE_URL (after .env), so maintenance
// commands run without session or Redis settings.
func LoadDatabase() (*DatabaseConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &DatabaseConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
