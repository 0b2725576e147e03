package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"newsroom-cms/backend/internal/handler"
	"newsroom-cms/backend/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	AnnouncementHandler *handler.AnnouncementHandler
	RevisionHandler     *handler.RevisionHandler
	CategoryHandler     *handler.CategoryHandler
	SubscriberHandler   *handler.SubscriberHandler
	PublicHandler       *handler.PublicHandler
	UserHandler         *handler.UserHandler
	AuthMW              middleware.Authenticator
	PublicGuard         *middleware.IPGuardMiddleware
	SubscribeGuard      *middleware.IPGuardMiddleware
	AllowedOrigins      []string
	MediaFS             http.FileSystem
	AccessLog           bool
}

// NewRouter 构建应用的 Gin Engine，汇总后台与公开接口以及公共中间件配置。
func NewRouter(opts RouterOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// gin 中间件配置
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  false,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
		AllowOriginFunc:  allowOrigin(opts.AllowedOrigins),
	}))
	if opts.AccessLog {
		r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
			Formatter: gin.LogFormatter(func(params gin.LogFormatterParams) string {
				return fmt.Sprintf("%s - [%s] \"%s %s\" %d %s\n",
					params.ClientIP,
					params.TimeStamp.Format(time.RFC3339),
					params.Method,
					params.Path,
					params.StatusCode,
					params.Latency,
				)
			}),
		}))
	}

	if opts.MediaFS != nil {
		r.StaticFS("/media", opts.MediaFS)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// 公开站点：全部经过按 IP 限流。
	public := r.Group("")
	if opts.PublicGuard != nil {
		public.Use(opts.PublicGuard.Handle())
	}
	if opts.PublicHandler != nil {
		public.GET("/feed.xml", opts.PublicHandler.Feed)
		public.GET("/api/announcements", opts.PublicHandler.ListAnnouncements)
		public.GET("/api/announcements/:slug", opts.PublicHandler.GetAnnouncement)
		public.GET("/api/categories", opts.PublicHandler.ListCategories)
	}
	if opts.SubscriberHandler != nil {
		newsletter := public.Group("/api/newsletter")
		newsletter.GET("/captcha", opts.SubscriberHandler.Captcha)
		newsletter.POST("/unsubscribe", opts.SubscriberHandler.Unsubscribe)
		// 订阅接口额外使用更严格的窗口，防止批量灌入邮箱。
		if opts.SubscribeGuard != nil {
			newsletter.POST("/subscribe", opts.SubscribeGuard.Handle(), opts.SubscriberHandler.Subscribe)
		} else {
			newsletter.POST("/subscribe", opts.SubscriberHandler.Subscribe)
		}
	}

	// 后台：需要编辑身份，写操作以该身份记入修订。
	admin := r.Group("/api/admin")
	if opts.AuthMW != nil {
		admin.Use(opts.AuthMW.Handle())
	}
	if opts.UserHandler != nil {
		admin.GET("/me", opts.UserHandler.GetMe)
	}
	if opts.AnnouncementHandler != nil {
		announcements := admin.Group("/announcements")
		announcements.GET("", opts.AnnouncementHandler.List)
		announcements.POST("", opts.AnnouncementHandler.Create)
		announcements.GET("/:id", opts.AnnouncementHandler.Get)
		announcements.PUT("/:id", opts.AnnouncementHandler.Update)
		announcements.DELETE("/:id", opts.AnnouncementHandler.Delete)
		announcements.POST("/:id/publish", opts.AnnouncementHandler.Publish)
		announcements.POST("/:id/unpublish", opts.AnnouncementHandler.Unpublish)
		announcements.GET("/:id/visibility", opts.AnnouncementHandler.Visibility)
		if opts.RevisionHandler != nil {
			announcements.GET("/:id/revisions", opts.RevisionHandler.List)
			announcements.GET("/:id/revisions/:revisionId", opts.RevisionHandler.Get)
			announcements.POST("/:id/revisions/:revisionId/restore", opts.RevisionHandler.Restore)
		}
	}
	if opts.CategoryHandler != nil {
		categories := admin.Group("/categories")
		categories.GET("", opts.CategoryHandler.List)
		categories.POST("", opts.CategoryHandler.Create)
		categories.PUT("/:id", opts.CategoryHandler.Update)
		categories.DELETE("/:id", opts.CategoryHandler.Delete)
	}
	if opts.SubscriberHandler != nil {
		// 订阅者名单属于个人信息，仅管理员可见。
		subscribers := admin.Group("/subscribers", middleware.RequireAdmin())
		subscribers.GET("", opts.SubscriberHandler.List)
		subscribers.PATCH("/:id", opts.SubscriberHandler.UpdateStatus)
		subscribers.DELETE("/:id", opts.SubscriberHandler.Delete)
	}

	return r
}

// allowOrigin 放行配置中的来源以及本机开发地址。
func allowOrigin(allowed []string) func(string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return func(origin string) bool {
		if origin == "" {
			return false
		}
		if _, ok := set["*"]; ok {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		return strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
	}
}
