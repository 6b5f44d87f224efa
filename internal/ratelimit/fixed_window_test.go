package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, window)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return limiter, mr
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()
	for i, want := range []bool{true, true, false} {
		d, err := limiter.Take(ctx, "ip-1")
		if err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
		if d.Allowed != want {
			t.Fatalf("request %d allowed = %v, want %v", i+1, d.Allowed, want)
		}
	}
	if d, err := limiter.Take(ctx, "ip-2"); err != nil || !d.Allowed {
		t.Fatalf("other keys have their own window: %+v err=%v", d, err)
	}
}

func TestFixedWindowLimiterDecision(t *testing.T) {
	limiter, _ := newTestLimiter(t, 3, time.Minute)
	fixed := time.Date(2026, 10, 16, 12, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }

	d, err := limiter.Take(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if !d.Allowed || d.Limit != 3 || d.Remaining != 2 {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if want := time.Date(2026, 10, 16, 12, 1, 0, 0, time.UTC); !d.Reset.Equal(want) {
		t.Fatalf("reset = %v, want %v", d.Reset, want)
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1, time.Second)
	mr.Close()
	if d, err := limiter.Take(context.Background(), "ip-1"); err == nil || d.Allowed {
		t.Fatalf("expected denied decision with error, got %+v err=%v", d, err)
	}
}

func TestFixedWindowLimiterRequiresClientAndLimits(t *testing.T) {
	if l, err := NewFixedWindowLimiter(nil, "p", 1, time.Second); err == nil || l != nil {
		t.Fatalf("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewFixedWindowLimiter(client, "p", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewFixedWindowLimiter(client, "p", 1, 0); err == nil {
		t.Fatalf("expected error for zero window")
	}
}
