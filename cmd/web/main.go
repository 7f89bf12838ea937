// Package main is the entrypoint for the CGPA calculator web server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/cgpacalc/cgpacalc/internal/audit"
	"github.com/cgpacalc/cgpacalc/internal/cache"
	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/config"
	"github.com/cgpacalc/cgpacalc/internal/handler"
	"github.com/cgpacalc/cgpacalc/internal/metrics"
	"github.com/cgpacalc/cgpacalc/internal/middleware"
	"github.com/cgpacalc/cgpacalc/internal/render"
	"github.com/cgpacalc/cgpacalc/internal/repository"
	"github.com/cgpacalc/cgpacalc/internal/router"
	"github.com/cgpacalc/cgpacalc/internal/server"
	"github.com/cgpacalc/cgpacalc/internal/service"
	"github.com/cgpacalc/cgpacalc/internal/session"
)

func main() {
	// Initialize context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	clk := clock.Real{}
	metricsRecorder := metrics.NewInMemory()

	// Session storage and login limiter backends
	var sessionStore session.Store = cacheClient.Sessions()
	if cfg.SessionBackend == config.BackendMemory {
		sessionStore = session.NewMemoryStore(clk)
		logger.Warn("using in-memory session store; sessions are lost on restart")
	}

	var limiter middleware.LoginLimiter = cacheClient
	if cfg.RateLimitBackend == config.BackendMemory {
		limiter = cache.NewLocalRateLimiter(clk)
	}

	sessions := session.NewManager(sessionStore, clk, session.Options{
		CookieName: cfg.SessionCookieName,
		TTL:        cfg.SessionTTL,
		Secure:     !cfg.IsDevelopment(),
		HashKey:    []byte(cfg.SessionSecret),
		Users:      repo,
	})

	// Initialize services
	authService := service.NewAuthService(repo, clk, logger)

	renderer, err := render.New(router.URL, metricsRecorder, render.DefaultProcessors()...)
	if err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	// Auth event audit trail
	var publisher *audit.Publisher
	var worker *audit.Worker
	if cfg.AuditEnabled {
		publisher = audit.NewPublisher(cacheClient.Client(), logger, metricsRecorder)
		worker = audit.NewWorker(
			cacheClient.Client(),
			repository.NewAuthEventRepository(repo),
			logger,
			audit.NewConsumerID(),
			metricsRecorder,
		)
		worker.SetBatchSize(cfg.AuditBatchSize)
		worker.SetClaimIdle(cfg.AuditClaimIdle)
	}

	// Setup routers
	r := router.New(router.Deps{
		Config:   cfg,
		Logger:   logger,
		Clock:    clk,
		Metrics:  metricsRecorder,
		Renderer: renderer,
		Sessions: sessions,
		Auth:     authService,
		Limiter:  limiter,
		Audit:    publisher,
	})
	opsRouter := router.NewOps(
		logger,
		handler.NewHealthHandler(repo, cacheClient),
		handler.NewMetricsHandler(metricsRecorder),
	)

	// Create servers
	srv := server.New(
		"web",
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	opsSrv := server.New(
		"ops",
		opsRouter,
		cfg.OpsPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	if worker != nil {
		go func() {
			if err := worker.Run(ctx); err != nil {
				logger.Error("audit worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("audit-worker", worker.Shutdown)
	}

	opsSrv.Start()
	srv.OnShutdown("ops-server", opsSrv.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"ops_port", cfg.OpsPort,
		"env", cfg.AppEnv,
		"session_backend", cfg.SessionBackend,
		"rate_limit_backend", cfg.RateLimitBackend,
		"audit_enabled", cfg.AuditEnabled,
		"routes", router.Routes(r),
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
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

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

// redactURL drops the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
