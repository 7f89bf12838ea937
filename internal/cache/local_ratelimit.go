package cache

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cgpacalc/cgpacalc/internal/clock"
)

// localLimiterIdle is how long an unused bucket survives a sweep.
const localLimiterIdle = 10 * time.Minute

// localLimiterSweepAt triggers a sweep of idle buckets.
const localLimiterSweepAt = 4096

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalRateLimiter is an in-process login limiter with the same contract as
// Cache.CheckLoginRateLimit. Buckets are not shared between instances.
type LocalRateLimiter struct {
	clock   clock.Clock
	mu      sync.Mutex
	buckets map[string]*localBucket
}

// NewLocalRateLimiter creates an empty limiter.
func NewLocalRateLimiter(clk clock.Clock) *LocalRateLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &LocalRateLimiter{
		clock:   clk,
		buckets: make(map[string]*localBucket),
	}
}

// CheckLoginRateLimit consumes one token from the IP's bucket.
func (l *LocalRateLimiter) CheckLoginRateLimit(_ context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	now := l.clock.Now()
	key := HashIP(ip)

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) >= localLimiterSweepAt {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	resetAt := now.Add(time.Duration(float64(time.Second) / float64(ratePerSecond)))

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return &RateLimitResult{Allowed: false, ResetAt: resetAt, RetryAfter: time.Second}, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		secs := math.Ceil(delay.Seconds())
		return &RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: time.Duration(secs) * time.Second,
		}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: int64(math.Floor(b.limiter.TokensAt(now))),
		ResetAt:   resetAt,
	}, nil
}

func (l *LocalRateLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > localLimiterIdle {
			delete(l.buckets, k)
		}
	}
}
