/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-13 23:10:00
 * @FilePath: \newsroom-cms\backend\internal\middleware\ip_guard_middleware.go
 * @LastEditTime: 2025-10-20 18:04:27
 */
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	response "newsroom-cms/backend/internal/infra/common"
	"newsroom-cms/backend/internal/infra/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IPGuardConfig 描述公开接口按 IP 限流的参数。
type IPGuardConfig struct {
	Scope       string // 区分不同接口组的计数，例如 public、subscribe
	MaxRequests int    // <= 0 表示不限流
	Window      time.Duration
}

// IPGuardMiddleware 使用 ratelimit.Limiter 对公开接口按客户端 IP 做固定窗口限流。
type IPGuardMiddleware struct {
	limiter ratelimit.Limiter
	cfg     IPGuardConfig
	logger  *zap.SugaredLogger
}

// NewIPGuardMiddleware 构建 IPGuardMiddleware。limiter 为空时退化为内存实现。
func NewIPGuardMiddleware(limiter ratelimit.Limiter, cfg IPGuardConfig, logger *zap.SugaredLogger) *IPGuardMiddleware {
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter()
	}
	if cfg.Scope == "" {
		cfg.Scope = "public"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &IPGuardMiddleware{
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With("scope", cfg.Scope),
	}
}

// Handle 返回 Gin 中间件。限流器故障时放行请求，只记录告警。
func (m *IPGuardMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.cfg.MaxRequests <= 0 {
			c.Next()
			return
		}
		ip := strings.TrimSpace(c.ClientIP())
		if ip == "" {
			c.Next()
			return
		}

		result, err := m.limiter.Allow(c.Request.Context(), m.cfg.Scope+":"+ip, m.cfg.MaxRequests, m.cfg.Window)
		if err != nil {
			m.logger.Warnw("ip guard allow failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(m.cfg.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			if result.RetryAfter > 0 {
				seconds := int((result.RetryAfter + time.Second - 1) / time.Second)
				c.Header("Retry-After", strconv.Itoa(seconds))
			}
			m.logger.Infow("request rate limited", "ip", ip, "path", c.FullPath())
			response.Fail(c, http.StatusTooManyRequests, response.ErrTooManyRequests, "request rate limited", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}
