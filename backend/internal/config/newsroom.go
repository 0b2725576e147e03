package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// NewsroomConfig 汇总服务运行所需的业务配置，启动时读取一次并显式传入各组件。
type NewsroomConfig struct {
	HTTP    HTTPConfig
	Site    SiteConfig
	Paging  PagingConfig
	Ledger  LedgerConfig
	Sweeper SweeperConfig
	Views   ViewConfig
	Feed    FeedConfig
	Auth    AuthConfig
	Public  PublicConfig
}

// HTTPConfig HTTP 监听配置。
type HTTPConfig struct {
	Port            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	AccessLog       bool
}

// SiteConfig 公开站点信息，用于生成 RSS。
type SiteConfig struct {
	Title       string
	BaseURL     string
	Description string
	Language    string
	MediaDir    string // 公告图片/视频所在目录，经 /media 只读暴露
}

// PagingConfig 分页默认值与上限。
type PagingConfig struct {
	PublicDefault   int
	PublicMax       int
	AdminDefault    int
	AdminMax        int
	RevisionDefault int
	RevisionMax     int
}

// LedgerConfig 修订版本号分配的重试策略。
type LedgerConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// SweeperConfig 定时发布/下线巡检配置。
type SweeperConfig struct {
	Enabled  bool
	Interval time.Duration
}

// ViewConfig 阅读数累加配置。BufferInRedis 为 false 或无 Redis 时直接写库。
type ViewConfig struct {
	BufferInRedis bool
	HashKey       string
}

// FeedConfig RSS 输出配置。
type FeedConfig struct {
	Limit    int
	CacheTTL time.Duration
	CacheKey string
}

// AuthConfig 校验外部认证服务签发的访问令牌。
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// PublicConfig 公开接口的限流与验证码开关。
type PublicConfig struct {
	RateLimitPerMinute int
	RateLimitWindow    time.Duration
	SubscribeLimit     int
	SubscribeWindow    time.Duration
	CaptchaEnabled     bool
}

// LoadNewsroomConfig 从环境变量读取业务配置，非法值回退到默认值。
func LoadNewsroomConfig() NewsroomConfig {
	return NewsroomConfig{
		HTTP: HTTPConfig{
			Port:            envString("SERVER_PORT", "8080"),
			ShutdownTimeout: envDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  envList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			AccessLog:       envBool("HTTP_ACCESS_LOG", true),
		},
		Site: SiteConfig{
			Title:       envString("SITE_TITLE", "Newsroom"),
			BaseURL:     strings.TrimRight(envString("SITE_BASE_URL", "http://localhost:8080"), "/"),
			Description: envString("SITE_DESCRIPTION", "Company announcements"),
			Language:    envString("SITE_LANGUAGE", "zh-cn"),
			MediaDir:    envString("MEDIA_DIR", "media"),
		},
		Paging: PagingConfig{
			PublicDefault:   envInt("PUBLIC_PAGE_SIZE", 10),
			PublicMax:       envInt("PUBLIC_PAGE_SIZE_MAX", 50),
			AdminDefault:    envInt("ADMIN_PAGE_SIZE", 20),
			AdminMax:        envInt("ADMIN_PAGE_SIZE_MAX", 100),
			RevisionDefault: envInt("REVISION_PAGE_SIZE", 20),
			RevisionMax:     envInt("REVISION_PAGE_SIZE_MAX", 100),
		},
		Ledger: LedgerConfig{
			MaxAttempts:  envInt("LEDGER_MAX_ATTEMPTS", 5),
			RetryBackoff: envDuration("LEDGER_RETRY_BACKOFF", 20*time.Millisecond),
		},
		Sweeper: SweeperConfig{
			Enabled:  envBool("SWEEPER_ENABLED", true),
			Interval: envDuration("SWEEPER_INTERVAL", time.Minute),
		},
		Views: ViewConfig{
			BufferInRedis: envBool("VIEW_BUFFER_REDIS", true),
			HashKey:       envString("VIEW_BUFFER_KEY", "newsroom:views:pending"),
		},
		Feed: FeedConfig{
			Limit:    envInt("FEED_LIMIT", 20),
			CacheTTL: envDuration("FEED_CACHE_TTL", 5*time.Minute),
			CacheKey: envString("FEED_CACHE_KEY", "newsroom:feed:rss"),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(os.Getenv("JWT_SECRET")),
			Issuer:    strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		},
		Public: PublicConfig{
			RateLimitPerMinute: envInt("PUBLIC_RATE_LIMIT", 120),
			RateLimitWindow:    envDuration("PUBLIC_RATE_WINDOW", time.Minute),
			SubscribeLimit:     envInt("SUBSCRIBE_RATE_LIMIT", 5),
			SubscribeWindow:    envDuration("SUBSCRIBE_RATE_WINDOW", time.Hour),
			CaptchaEnabled:     envBool("CAPTCHA_ENABLED", true),
		},
	}
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

// envDuration 接受 time.ParseDuration 格式，纯数字按秒处理。
func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
