package captcha_test

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"newsroom-cms/backend/internal/infra/captcha"
	"newsroom-cms/backend/internal/infra/ratelimit"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
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

func newManager(t *testing.T, client *redis.Client, opts captcha.Options) *captcha.Manager {
	t.Helper()
	manager, err := captcha.NewManager(client, ratelimit.NewRedisLimiter(client, "captcha_test"), opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestManagerGenerateAndVerify(t *testing.T) {
	client, _ := newRedisClient(t)
	manager := newManager(t, client, captcha.Options{
		Prefix:          "test-captcha",
		TTL:             time.Minute,
		Length:          4,
		RateLimitPerMin: 5,
	})

	ctx := context.Background()
	id, b64, remaining, err := manager.Generate(ctx, "127.0.0.1")
	if err != nil {
		t.Fatalf("generate captcha: %v", err)
	}
	if id == "" || b64 == "" {
		t.Fatalf("expected id and image to be non-empty")
	}
	if remaining != 4 {
		t.Fatalf("expected remaining attempts to be 4, got %d", remaining)
	}

	stored, err := client.Get(ctx, "test-captcha:"+id).Result()
	if err != nil {
		t.Fatalf("get stored answer: %v", err)
	}
	if err := manager.Verify(ctx, id, stored); err != nil {
		t.Fatalf("verify captcha: %v", err)
	}
	if _, err := client.Get(ctx, "test-captcha:"+id).Result(); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected captcha entry to be deleted after verify, got %v", err)
	}
}

func TestManagerVerifyMismatchConsumesAnswer(t *testing.T) {
	client, _ := newRedisClient(t)
	manager := newManager(t, client, captcha.Options{Prefix: "c", TTL: time.Minute, RateLimitPerMin: 5})
	ctx := context.Background()

	id, _, _, err := manager.Generate(ctx, "10.0.0.2")
	if err != nil {
		t.Fatalf("generate captcha: %v", err)
	}
	if err := manager.Verify(ctx, id, "wrong"); !errors.Is(err, captcha.ErrCaptchaMismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if err := manager.Verify(ctx, id, "wrong"); !errors.Is(err, captcha.ErrCaptchaNotFound) {
		t.Fatalf("expected second verify to miss, got %v", err)
	}
}

func TestManagerVerifyExpired(t *testing.T) {
	client, server := newRedisClient(t)
	manager := newManager(t, client, captcha.Options{Prefix: "c", TTL: time.Minute, RateLimitPerMin: 5})
	ctx := context.Background()

	id, _, _, err := manager.Generate(ctx, "10.0.0.3")
	if err != nil {
		t.Fatalf("generate captcha: %v", err)
	}
	server.FastForward(2 * time.Minute)

	if err := manager.Verify(ctx, id, "whatever"); !errors.Is(err, captcha.ErrCaptchaNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := manager.Verify(ctx, "", "1234"); !errors.Is(err, captcha.ErrCaptchaNotFound) {
		t.Fatalf("expected empty id to be rejected, got %v", err)
	}
}

func TestManagerRateLimit(t *testing.T) {
	client, _ := newRedisClient(t)
	manager := newManager(t, client, captcha.Options{Prefix: "rl", TTL: time.Minute, RateLimitPerMin: 1})

	ctx := context.Background()
	if _, _, remaining, err := manager.Generate(ctx, "8.8.8.8"); err != nil {
		t.Fatalf("first generate should succeed: %v", err)
	} else if remaining != 0 {
		t.Fatalf("expected remaining attempts to be 0 after first request, got %d", remaining)
	}
	if _, _, _, err := manager.Generate(ctx, "8.8.8.8"); !errors.Is(err, captcha.ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if _, _, _, err := manager.Generate(ctx, "8.8.4.4"); err != nil {
		t.Fatalf("other ip should not be limited: %v", err)
	}
}

func TestNewManagerRequiresRedis(t *testing.T) {
	if _, err := captcha.NewManager(nil, nil, captcha.Options{}); err == nil {
		t.Fatal("expected error without redis client")
	}
}

func TestLoadOptionsFromEnv(t *testing.T) {
	t.Setenv("CAPTCHA_PREFIX", "custom")
	t.Setenv("CAPTCHA_TTL", "90s")
	t.Setenv("CAPTCHA_LENGTH", "6")
	t.Setenv("CAPTCHA_MAX_SKEW", "0.4")
	t.Setenv("CAPTCHA_RATE_LIMIT_PER_MIN", "3")

	opts, err := captcha.LoadOptionsFromEnv()
	if err != nil {
		t.Fatalf("load options: %v", err)
	}
	if opts.Prefix != "custom" || opts.TTL != 90*time.Second || opts.Length != 6 || opts.RateLimitPerMin != 3 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.MaxSkew != 0.4 {
		t.Fatalf("expected max skew 0.4, got %v", opts.MaxSkew)
	}

	t.Setenv("CAPTCHA_TTL", "soon")
	if _, err := captcha.LoadOptionsFromEnv(); err == nil {
		t.Fatal("expected invalid ttl to fail")
	}
}
