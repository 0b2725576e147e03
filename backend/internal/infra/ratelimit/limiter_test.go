package ratelimit

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && (errors.Is(opErr.Err, syscall.EPERM) || errors.Is(opErr.Err, syscall.EACCES)) {
			t.Skipf("当前环境禁止监听端口: %v", err)
		}
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return client, server
}

func TestRedisLimiterWindowResets(t *testing.T) {
	client, server := newRedis(t)
	limiter := NewRedisLimiter(client, "rl")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "1.2.3.4", 2, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	res, err := limiter.Allow(ctx, "1.2.3.4", 2, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed || res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Fatalf("expected blocked with retry-after, got %+v", res)
	}

	count, ttl, err := limiter.Peek(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if count != 3 || ttl <= 0 {
		t.Fatalf("unexpected peek result count=%d ttl=%v", count, ttl)
	}

	// 被拒绝的请求不会顺延窗口。
	server.FastForward(61 * time.Second)
	res, err = limiter.Allow(ctx, "1.2.3.4", 2, time.Minute)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("expected fresh window, got %+v", res)
	}
}

func TestRedisLimiterDisabled(t *testing.T) {
	var limiter *RedisLimiter
	res, err := limiter.Allow(context.Background(), "k", 1, time.Second)
	if err != nil || !res.Allowed {
		t.Fatalf("nil limiter should allow, got %+v %v", res, err)
	}

	client, _ := newRedis(t)
	res, err = NewRedisLimiter(client, "").Allow(context.Background(), "k", 0, time.Second)
	if err != nil || !res.Allowed || res.Remaining != -1 {
		t.Fatalf("zero limit should allow, got %+v %v", res, err)
	}
}

func TestMemoryLimiterMatchesRedisBehaviour(t *testing.T) {
	now := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if res, _ := limiter.Allow(ctx, "ip", 1, time.Minute); !res.Allowed || res.Remaining != 0 {
		t.Fatalf("first request should pass, got %+v", res)
	}
	res, _ := limiter.Allow(ctx, "ip", 1, time.Minute)
	if res.Allowed || res.RetryAfter != time.Minute {
		t.Fatalf("second request should be blocked for a minute, got %+v", res)
	}

	now = now.Add(time.Minute)
	if res, _ := limiter.Allow(ctx, "ip", 1, time.Minute); !res.Allowed {
		t.Fatalf("window should reset, got %+v", res)
	}
	if count, ttl := limiter.Peek("ip"); count != 1 || ttl != time.Minute {
		t.Fatalf("unexpected peek count=%d ttl=%v", count, ttl)
	}
}

func TestMemoryLimiterSweep(t *testing.T) {
	now := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "a", 5, time.Second)
	_, _ = limiter.Allow(ctx, "b", 5, time.Hour)
	now = now.Add(2 * time.Second)
	limiter.Sweep()

	if limiter.Len() != 1 {
		t.Fatalf("expected expired window to be swept, have %d keys", limiter.Len())
	}
}
