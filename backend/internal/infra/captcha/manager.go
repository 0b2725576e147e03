package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"newsroom-cms/backend/internal/infra/ratelimit"

	"github.com/mojocn/base64Captcha"
	"github.com/redis/go-redis/v9"
)

var (
	ErrCaptchaNotFound = errors.New("captcha not found or expired")
	ErrCaptchaMismatch = errors.New("captcha code mismatch")
	ErrRateLimited     = errors.New("captcha requests too frequent")
)

// Generator 生成验证码图片。
type Generator interface {
	Generate(ctx context.Context, ip string) (id string, b64 string, remaining int, err error)
}

// Verifier 校验验证码答案。
type Verifier interface {
	Verify(ctx context.Context, id string, answer string) error
}

// Manager 封装验证码生成、答案存储以及按 IP 限流的完整逻辑，订阅接口通过它防止脚本批量提交。
type Manager struct {
	store   *redis.Client        // 缓存验证码答案
	driver  base64Captcha.Driver // 负责生成具体的验证码图片与答案
	limiter ratelimit.Limiter    // 按 IP 限制获取验证码的频率
	prefix  string               // Redis Key 前缀，避免不同业务污染
	ttl     time.Duration        // 验证码存活时间
	maxHits int                  // 限流阈值：窗口内允许的最大请求次数
	rlTTL   time.Duration        // 限流计数窗口长度
}

// Options 聚合了验证码图像参数以及限流设置。
type Options struct {
	Prefix          string
	TTL             time.Duration
	Width           int
	Height          int
	Length          int
	MaxSkew         float64
	DotCount        int
	RateLimitPerMin int
	// RateLimitWindow 控制单个 IP 的计数窗口长度，超过该时间自动清零。
	RateLimitWindow time.Duration
}

const (
	defaultPrefix  = "newsroom:captcha" // 默认 Redis Key 前缀
	defaultTTL     = 5 * time.Minute    // 验证码默认过期时间
	defaultWidth   = 200                // 默认图片宽度
	defaultHeight  = 64                 // 默认图片高度
	defaultLength  = 4                  // 默认验证码位数
	defaultMaxSkew = 0.6                // 默认字符扭曲程度
	defaultDot     = 60                 // 默认噪点数量
	defaultHits    = 10                 // 默认每窗口允许获取次数
)

// NewManager 根据给定的选项构造验证码管理器。limiter 为 nil 时基于同一 Redis 构造固定窗口限流器。
func NewManager(redisClient *redis.Client, limiter ratelimit.Limiter, opts Options) (*Manager, error) {
	if redisClient == nil {
		return nil, errors.New("captcha manager requires redis client")
	}

	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	if limiter == nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, prefix+":rl")
	}

	maxHits := opts.RateLimitPerMin
	if maxHits == 0 {
		maxHits = defaultHits
	}
	if maxHits < 0 {
		maxHits = 0
	}

	// 纯数字验证码，订阅表单上足够友好。
	driver := base64Captcha.NewDriverDigit(
		positiveOr(opts.Height, defaultHeight),
		positiveOr(opts.Width, defaultWidth),
		positiveOr(opts.Length, defaultLength),
		positiveFloatOr(opts.MaxSkew, defaultMaxSkew),
		positiveOr(opts.DotCount, defaultDot),
	)

	return &Manager{
		store:   redisClient,
		driver:  driver,
		limiter: limiter,
		prefix:  prefix,
		ttl:     positiveDurationOr(opts.TTL, defaultTTL),
		maxHits: maxHits,
		rlTTL:   positiveDurationOr(opts.RateLimitWindow, time.Minute),
	}, nil
}

// Generate 输出 base64 图像和对应的验证码 ID，并在 Redis 中缓存答案。
// remaining 为当前窗口剩余可获取次数，未限流时为 -1。
func (m *Manager) Generate(ctx context.Context, ip string) (string, string, int, error) {
	remaining := -1
	if m.maxHits > 0 && strings.TrimSpace(ip) != "" {
		result, err := m.limiter.Allow(ctx, "captcha:"+ip, m.maxHits, m.rlTTL)
		if err != nil {
			return "", "", 0, fmt.Errorf("captcha rate limit: %w", err)
		}
		if !result.Allowed {
			return "", "", 0, ErrRateLimited
		}
		remaining = result.Remaining
	}

	id, content, answer := m.driver.GenerateIdQuestionAnswer()
	item, err := m.driver.DrawCaptcha(content)
	if err != nil {
		return "", "", 0, fmt.Errorf("draw captcha: %w", err)
	}

	if err := m.store.Set(ctx, m.key(id), strings.ToLower(answer), m.ttl).Err(); err != nil {
		return "", "", 0, fmt.Errorf("store captcha: %w", err)
	}
	return id, item.EncodeB64string(), remaining, nil
}

// Verify 对比用户提交的验证码答案。答案只能使用一次，无论成功与否都会删除缓存。
func (m *Manager) Verify(ctx context.Context, id string, answer string) error {
	if strings.TrimSpace(id) == "" {
		return ErrCaptchaNotFound
	}

	stored, err := m.store.GetDel(ctx, m.key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCaptchaNotFound
		}
		return fmt.Errorf("get captcha: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(answer), stored) {
		return ErrCaptchaMismatch
	}
	return nil
}

// key 统一生成 Redis Key，减少散落的格式字符串。
func (m *Manager) key(id string) string {
	return fmt.Sprintf("%s:%s", m.prefix, id)
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func positiveFloatOr(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func positiveDurationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
