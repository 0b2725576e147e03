package viewcount

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"newsroom-cms/backend/internal/infra/metrics"
	"newsroom-cms/backend/internal/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config 描述阅读数缓冲的 Redis 键与刷库参数。
type Config struct {
	BufferKey    string
	GuardPrefix  string
	GuardTTL     time.Duration
	FlushLockKey string
	FlushLockTTL time.Duration
	FlushBatch   int
}

func (c Config) normalized() Config {
	if c.BufferKey == "" {
		c.BufferKey = "newsroom:views:pending"
	}
	if c.GuardPrefix == "" {
		c.GuardPrefix = "newsroom:views:guard"
	}
	if c.GuardTTL <= 0 {
		c.GuardTTL = time.Minute
	}
	if c.FlushLockKey == "" {
		c.FlushLockKey = "newsroom:views:flush:lock"
	}
	if c.FlushLockTTL <= 0 {
		c.FlushLockTTL = 30 * time.Second
	}
	if c.FlushBatch <= 0 {
		c.FlushBatch = 256
	}
	return c
}

// decrementScript 扣减已落库的增量，归零后删除字段，刷库期间新到的累加不会丢失。
const decrementScript = `
local left = redis.call("HINCRBY", KEYS[1], ARGV[1], -tonumber(ARGV[2]))
if left <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return left
`

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Counter 负责公告阅读数累加。配置 Redis 时先写入 Hash 缓冲再由巡检批量落库，否则直接写库。
// 所有失败只记录日志与指标，不向调用方返回错误。
type Counter struct {
	announcements *repository.AnnouncementRepository
	redis         *redis.Client
	cfg           Config
	lockValue     string
	logger        *zap.SugaredLogger
}

// NewCounter 创建阅读数计数器，redisClient 为 nil 时使用直接写库模式。
func NewCounter(announcements *repository.AnnouncementRepository, redisClient *redis.Client, cfg Config, logger *zap.SugaredLogger) *Counter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Counter{
		announcements: announcements,
		redis:         redisClient,
		cfg:           cfg.normalized(),
		lockValue:     uuid.NewString(),
		logger:        logger,
	}
}

// Buffered 表示当前是否使用 Redis 缓冲。
func (c *Counter) Buffered() bool {
	return c.redis != nil
}

// Increment 记录一次阅读。visitor 非空时同一访客在 GuardTTL 内只计一次。
func (c *Counter) Increment(ctx context.Context, announcementID uint, visitor string) {
	if announcementID == 0 {
		return
	}
	if visitor != "" && !c.acquireGuard(ctx, announcementID, visitor) {
		return
	}
	if c.redis == nil {
		c.incrementDirect(ctx, announcementID)
		return
	}
	if err := c.redis.HIncrBy(ctx, c.cfg.BufferKey, fieldKey(announcementID), 1).Err(); err != nil {
		c.logger.Warnw("buffer view failed, falling back to database", "error", err, "announcement_id", announcementID)
		metrics.RecordViewDropped("buffer")
		c.incrementDirect(ctx, announcementID)
	}
}

// Pending 返回尚未落库的阅读增量。
func (c *Counter) Pending(ctx context.Context, announcementID uint) uint64 {
	if c.redis == nil || announcementID == 0 {
		return 0
	}
	raw, err := c.redis.HGet(ctx, c.cfg.BufferKey, fieldKey(announcementID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warnw("load pending views failed", "error", err, "announcement_id", announcementID)
		}
		return 0
	}
	delta, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || delta <= 0 {
		return 0
	}
	return uint64(delta)
}

// Flush 将 Redis 缓冲中的阅读增量写回数据库，返回本轮落库的公告数。
// 通过 SETNX 锁避免多实例重复刷写；未拿到锁时直接返回 0。
func (c *Counter) Flush(ctx context.Context) (int, error) {
	if c.redis == nil {
		return 0, nil
	}
	ok, err := c.redis.SetNX(ctx, c.cfg.FlushLockKey, c.lockValue, c.cfg.FlushLockTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("acquire view flush lock: %w", err)
	}
	if !ok {
		return 0, nil
	}
	defer c.releaseLock(context.WithoutCancel(ctx))

	flushed := 0
	cursor := uint64(0)
	for {
		results, next, err := c.redis.HScan(ctx, c.cfg.BufferKey, cursor, "*", int64(c.cfg.FlushBatch)).Result()
		if err != nil {
			return flushed, fmt.Errorf("scan view buffer: %w", err)
		}
		for i := 0; i+1 < len(results); i += 2 {
			if c.flushEntry(ctx, results[i], results[i+1]) {
				flushed++
			}
		}
		if next == 0 {
			return flushed, nil
		}
		cursor = next
	}
}

func (c *Counter) flushEntry(ctx context.Context, field, rawDelta string) bool {
	id, err := strconv.ParseUint(field, 10, 64)
	if err != nil {
		c.logger.Warnw("drop malformed view buffer field", "field", field)
		c.redis.HDel(ctx, c.cfg.BufferKey, field)
		return false
	}
	delta, err := strconv.ParseInt(rawDelta, 10, 64)
	if err != nil || delta <= 0 {
		c.redis.HDel(ctx, c.cfg.BufferKey, field)
		return false
	}

	if err := c.announcements.IncrementViewCount(ctx, uint(id), delta); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.Warnw("flush view count failed", "error", err, "announcement_id", id, "delta", delta)
			metrics.RecordViewDropped("flush")
			return false
		}
		// 公告已删除，缓冲直接丢弃。
	}
	if err := c.redis.Eval(ctx, decrementScript, []string{c.cfg.BufferKey}, field, delta).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warnw("settle view buffer failed", "error", err, "announcement_id", id)
	}
	return true
}

func (c *Counter) incrementDirect(ctx context.Context, announcementID uint) {
	if err := c.announcements.IncrementViewCount(ctx, announcementID, 1); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return
		}
		c.logger.Warnw("increment view count failed", "error", err, "announcement_id", announcementID)
		metrics.RecordViewDropped("direct")
	}
}

func (c *Counter) acquireGuard(ctx context.Context, announcementID uint, visitor string) bool {
	if c.redis == nil {
		return true
	}
	key := fmt.Sprintf("%s:%d:%s", c.cfg.GuardPrefix, announcementID, visitor)
	ok, err := c.redis.SetNX(ctx, key, "1", c.cfg.GuardTTL).Result()
	if err != nil {
		c.logger.Warnw("acquire view guard failed", "error", err, "announcement_id", announcementID)
		return true
	}
	return ok
}

func (c *Counter) releaseLock(ctx context.Context) {
	if _, err := c.redis.Eval(ctx, releaseLockScript, []string{c.cfg.FlushLockKey}, c.lockValue).Result(); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warnw("release view flush lock failed", "error", err)
	}
}

func fieldKey(announcementID uint) string {
	return strconv.FormatUint(uint64(announcementID), 10)
}
