/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-10 17:01:17
 * @FilePath: \newsroom-cms\backend\internal\infra\ratelimit\limiter.go
 * @LastEditTime: 2025-10-20 16:12:40
 */
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AllowResult 描述限流请求的结果。
type AllowResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Limiter 定义限流器的通用能力，公开接口与验证码共用。
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (AllowResult, error)
}

// fixedWindowScript 只在窗口内第一次计数时设置过期时间，保证窗口到期后计数清零。
// 返回 {当前计数, 剩余毫秒}。
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter 使用 Redis 实现固定窗口计数限流，多实例部署时共享计数。
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter 根据 Redis 客户端构造限流器，可自定义 key 前缀。
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "newsroom:ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

// Allow 返回是否放行、剩余次数与等待时间。limit <= 0 表示不限流。
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (AllowResult, error) {
	if limit <= 0 {
		return AllowResult{Allowed: true, Remaining: -1}, nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if r == nil || r.client == nil {
		return AllowResult{Allowed: true, Remaining: -1}, nil
	}

	values, err := fixedWindowScript.Run(ctx, r.client, []string{r.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return AllowResult{}, fmt.Errorf("ratelimit incr: %w", err)
	}
	if len(values) != 2 {
		return AllowResult{}, fmt.Errorf("ratelimit incr: unexpected reply %v", values)
	}

	count := int(values[0])
	ttl := time.Duration(values[1]) * time.Millisecond
	if count > limit {
		return AllowResult{Allowed: false, RetryAfter: ttl, Remaining: 0}, nil
	}
	return AllowResult{Allowed: true, Remaining: limit - count}, nil
}

// Peek 返回指定 key 当前的计数与剩余有效期。
func (r *RedisLimiter) Peek(ctx context.Context, key string) (int, time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, 0, nil
	}
	namespaced := r.key(key)
	value, err := r.client.Get(ctx, namespaced).Result()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return 0, 0, err
	}
	ttl, err := r.client.PTTL(ctx, namespaced).Result()
	if err != nil {
		return 0, 0, err
	}
	return count, ttl, nil
}

func (r *RedisLimiter) key(key string) string {
	return r.prefix + ":" + key
}

// MemoryLimiter 是 Redis 不可用时的替代方案，用于本地模式与单元测试。
type MemoryLimiter struct {
	mu    sync.Mutex
	store map[string]entry
	now   func() time.Time
	calls int
}

type entry struct {
	count   int
	expires time.Time
}

// sweepEvery 控制惰性清理的频率，避免公开接口被大量不同 IP 访问后 map 无限增长。
const sweepEvery = 1024

// NewMemoryLimiter 构建内存版限流器。
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{store: make(map[string]entry), now: time.Now}
}

// WithClock 替换时间来源，便于测试窗口过期。
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	if now != nil {
		m.now = now
	}
	return m
}

// Allow 通过内存 map 统计请求次数，行为与 RedisLimiter 一致。
func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (AllowResult, error) {
	if limit <= 0 {
		return AllowResult{Allowed: true, Remaining: -1}, nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if m == nil {
		return AllowResult{Allowed: true, Remaining: -1}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	ent, ok := m.store[key]
	if !ok || !now.Before(ent.expires) {
		ent = entry{expires: now.Add(window)}
	}
	ent.count++
	m.store[key] = ent

	if ent.count > limit {
		return AllowResult{Allowed: false, RetryAfter: ent.expires.Sub(now), Remaining: 0}, nil
	}
	return AllowResult{Allowed: true, Remaining: limit - ent.count}, nil
}

// Peek 获取内存限流器中指定 key 的计数与剩余有效期。
func (m *MemoryLimiter) Peek(key string) (int, time.Duration) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.store[key]
	if !ok {
		return 0, 0
	}
	remaining := ent.expires.Sub(m.now())
	if remaining <= 0 {
		delete(m.store, key)
		return 0, 0
	}
	return ent.count, remaining
}

// Len 返回当前缓存的 key 数量。
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

// Sweep 主动清理已过期的窗口。
func (m *MemoryLimiter) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
}

func (m *MemoryLimiter) sweepLocked(now time.Time) {
	for key, ent := range m.store {
		if !now.Before(ent.expires) {
			delete(m.store, key)
		}
	}
}
