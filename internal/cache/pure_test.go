package cache

import (
	"context"
	"testing"
	"time"

	"github.com/cgpacalc/cgpacalc/internal/clock"
)

func TestHashIP_Deterministic(t *testing.T) {
	t.Parallel()

	ip := "192.168.1.100"
	if HashIP(ip) != HashIP(ip) {
		t.Error("Same IP should produce same hash")
	}
}

func TestHashIP_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip   string
	}{
		{"IPv4", "192.168.1.1"},
		{"IPv6 localhost", "::1"},
		{"IPv6 full", "2001:0db8:85a3:0000:0000:8a2e:0370:7334"},
		{"empty", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if hash := HashIP(tt.ip); len(hash) != 16 {
				t.Errorf("HashIP(%q) length = %d, want 16", tt.ip, len(hash))
			}
		})
	}
}

func TestHashIP_Different(t *testing.T) {
	t.Parallel()

	if HashIP("10.0.0.1") == HashIP("10.0.0.2") {
		t.Error("Different IPs should produce different hashes")
	}
}

func TestSessionKey(t *testing.T) {
	t.Parallel()

	if got := SessionKey("sess_abc"); got != "session:sess_abc" {
		t.Errorf("SessionKey() = %q, want session:sess_abc", got)
	}
}

func TestLocalRateLimiter_Burst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewFixed(time.Unix(1700000000, 0))
	l := NewLocalRateLimiter(clk)

	for i := 0; i < 3; i++ {
		res, err := l.CheckLoginRateLimit(ctx, "10.0.0.1", 1, 3)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d should be allowed within burst", i)
		}
	}

	res, _ := l.CheckLoginRateLimit(ctx, "10.0.0.1", 1, 3)
	if res.Allowed {
		t.Fatal("fourth attempt should be denied")
	}
	if res.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %v, want 1s", res.RetryAfter)
	}

	// Other clients keep their own bucket.
	if res, _ := l.CheckLoginRateLimit(ctx, "10.0.0.2", 1, 3); !res.Allowed {
		t.Error("different IP should not be limited")
	}
}

func TestLocalRateLimiter_Refill(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewFixed(time.Unix(1700000000, 0))
	l := NewLocalRateLimiter(clk)

	if res, _ := l.CheckLoginRateLimit(ctx, "10.0.0.1", 1, 1); !res.Allowed {
		t.Fatal("first attempt should be allowed")
	}
	if res, _ := l.CheckLoginRateLimit(ctx, "10.0.0.1", 1, 1); res.Allowed {
		t.Fatal("second attempt should be denied")
	}

	clk.Advance(time.Second)
	if res, _ := l.CheckLoginRateLimit(ctx, "10.0.0.1", 1, 1); !res.Allowed {
		t.Error("attempt after refill should be allowed")
	}
}

func TestLocalRateLimiter_Sweep(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Unix(1700000000, 0))
	l := NewLocalRateLimiter(clk)
	_, _ = l.CheckLoginRateLimit(context.Background(), "10.0.0.1", 1, 1)

	clk.Advance(localLimiterIdle + time.Second)
	l.mu.Lock()
	l.sweep(clk.Now())
	n := len(l.buckets)
	l.mu.Unlock()

	if n != 0 {
		t.Errorf("idle bucket should be swept, %d left", n)
	}
}
