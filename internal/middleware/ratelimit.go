package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cgpacalc/cgpacalc/internal/cache"
	"github.com/cgpacalc/cgpacalc/internal/metrics"
)

// LoginLimiter is satisfied by cache.Cache and cache.LocalRateLimiter.
type LoginLimiter interface {
	CheckLoginRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for login rate limiting.
type RateLimitConfig struct {
	Logger    *slog.Logger
	Limiter   LoginLimiter
	Metrics   metrics.Recorder
	ErrorPage ErrorPageFunc
	Enabled   bool
	RPS       int
	Burst     int
}

// RateLimitLogin limits credential submissions per client IP.
// Only POST is counted so showing the form is never throttled.
func RateLimitLogin(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.ErrorPage == nil {
		cfg.ErrorPage = PlainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			result, err := cfg.Limiter.CheckLoginRateLimit(r.Context(), ip, cfg.RPS, cfg.Burst)
			if err != nil {
				cfg.Logger.Error("login rate limit check failed",
					slog.String("error", err.Error()),
				)
				// Fail open - allow request
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "login"),
					slog.String("ip_hash", cache.HashIP(ip)),
					slog.Int("retry_after_seconds", retryAfter),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				cfg.Metrics.IncLogin(metrics.LoginLimited)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				cfg.ErrorPage(w, r, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the client address without a port.
// chi's RealIP middleware has already folded X-Forwarded-For / X-Real-IP
// into RemoteAddr when a proxy set them.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
