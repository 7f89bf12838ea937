// Package router wires middleware and handlers into the public and ops
// HTTP routers.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/config"
	"github.com/cgpacalc/cgpacalc/internal/handler"
	"github.com/cgpacalc/cgpacalc/internal/metrics"
	"github.com/cgpacalc/cgpacalc/internal/middleware"
	"github.com/cgpacalc/cgpacalc/internal/render"
)

// Route names.
const (
	NameCalculator = "cgpa_calculator"
	NameLogin      = "login"
	NameLogout     = "logout"
)

var paths = map[string]string{
	NameCalculator: "/",
	NameLogin:      "/login/",
	NameLogout:     "/logout/",
}

// URL resolves a route name to its path, or "" for an unknown name.
// It backs the {{url}} template function.
func URL(name string) string {
	return paths[name]
}

// Sessions is what the router needs from the session manager.
type Sessions interface {
	middleware.SessionLoader
	handler.SessionManager
}

// Deps holds everything the public router wires together.
type Deps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Clock    clock.Clock
	Metrics  metrics.Recorder
	Renderer render.Renderer
	Sessions Sessions
	Auth     handler.Authenticator
	Limiter  middleware.LoginLimiter
	Audit    handler.AuditSink
}

// New builds the public router. It serves exactly three routes.
func New(deps Deps) *chi.Mux {
	cfg := deps.Config
	logger := deps.Logger
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}

	h := handler.New(deps.Renderer, logger)
	pageHandler := handler.NewPageHandler(deps.Renderer, deps.Clock, logger)
	authHandler := handler.NewAuthHandler(handler.AuthDeps{
		Auth:        deps.Auth,
		Sessions:    deps.Sessions,
		Renderer:    deps.Renderer,
		Audit:       deps.Audit,
		Metrics:     deps.Metrics,
		Clock:       deps.Clock,
		Logger:      logger,
		Errors:      h.Error,
		LoginURL:    URL(NameLogin),
		RedirectURL: cfg.LoginRedirectURL,
	})

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, h.Error))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:    logger,
		Limiter:   deps.Limiter,
		Metrics:   deps.Metrics,
		ErrorPage: h.Error,
		Enabled:   cfg.RateLimitLoginEnabled && deps.Limiter != nil,
		RPS:       cfg.RateLimitLoginRPS,
		Burst:     cfg.RateLimitLoginBurst,
	}

	// Session and CSRF handling only apply to matched routes, so unknown
	// paths and wrong methods get their 404/405 page untouched.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Sessions(deps.Sessions, logger))
		r.Use(middleware.CSRF(middleware.CSRFConfig{
			Logger:    logger,
			Metrics:   deps.Metrics,
			ErrorPage: h.Error,
			Secure:    !cfg.IsDevelopment(),
		}))

		// Calculator page (login required, any method)
		r.With(middleware.LoginRequired(URL(NameLogin), deps.Metrics)).
			HandleFunc(URL(NameCalculator), pageHandler.CGPACalculator)

		// Login form and credential submission
		r.Get(URL(NameLogin), authHandler.Login)
		r.Head(URL(NameLogin), authHandler.Login)
		r.With(middleware.RateLimitLogin(rateLimitCfg)).Post(URL(NameLogin), authHandler.Login)

		// Logout (any method)
		r.HandleFunc(URL(NameLogout), authHandler.Logout)
	})

	// 404 and 405 handlers
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

// NewOps builds the operational router served on OPS_PORT.
func NewOps(logger *slog.Logger, healthHandler *handler.HealthHandler, metricsHandler *handler.MetricsHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, nil))

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Get("/metrics", metricsHandler.Metrics)

	return r
}

// Routes lists the public route patterns, for startup logging and tests.
func Routes(r chi.Routes) []string {
	var out []string
	_ = chi.Walk(r, func(method, route string, h http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		for _, existing := range out {
			if existing == route {
				return nil
			}
		}
		out = append(out, route)
		return nil
	})
	return out
}
