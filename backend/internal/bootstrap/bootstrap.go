/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-09 20:51:28
 * @FilePath: \newsroom-cms\backend\internal\bootstrap\bootstrap.go
 * @LastEditTime: 2025-10-20 16:48:30
 */
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"newsroom-cms/backend/internal/app"
	"newsroom-cms/backend/internal/bootstrapdata"
	"newsroom-cms/backend/internal/handler"
	"newsroom-cms/backend/internal/infra/captcha"
	"newsroom-cms/backend/internal/infra/ratelimit"
	"newsroom-cms/backend/internal/infra/token"
	"newsroom-cms/backend/internal/middleware"
	"newsroom-cms/backend/internal/repository"
	"newsroom-cms/backend/internal/server"
	announcementsvc "newsroom-cms/backend/internal/service/announcement"
	categorysvc "newsroom-cms/backend/internal/service/category"
	feedsvc "newsroom-cms/backend/internal/service/feed"
	revisionsvc "newsroom-cms/backend/internal/service/revision"
	"newsroom-cms/backend/internal/service/scheduler"
	subscribersvc "newsroom-cms/backend/internal/service/subscriber"
	usersvc "newsroom-cms/backend/internal/service/user"
	"newsroom-cms/backend/internal/service/viewcount"

	"go.uber.org/zap"
)

// Application 聚合 HTTP 路由与需要随进程启停的后台组件。
type Application struct {
	Resources     *app.Resources
	Announcements *announcementsvc.Service
	Revisions     *revisionsvc.Service
	Views         *viewcount.Counter
	Sweeper       *scheduler.Sweeper
	Router        http.Handler
}

// BuildApplication 按配置装配仓储、服务、中间件与路由。
func BuildApplication(ctx context.Context, logger *zap.SugaredLogger, resources *app.Resources) (*Application, error) {
	if resources == nil || resources.GORM == nil {
		return nil, errors.New("resources not initialised")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg := resources.Config
	db := resources.GORM

	announcementRepo := repository.NewAnnouncementRepository(db)
	revisionRepo := repository.NewRevisionRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	subscriberRepo := repository.NewSubscriberRepository(db)
	userRepo := repository.NewUserRepository(db)

	ledger := revisionsvc.NewService(db, announcementRepo, revisionRepo, revisionsvc.Config{
		MaxAttempts:     cfg.Ledger.MaxAttempts,
		RetryBackoff:    cfg.Ledger.RetryBackoff,
		DefaultPageSize: cfg.Paging.RevisionDefault,
		MaxPageSize:     cfg.Paging.RevisionMax,
	}, logger.With("component", "revision.ledger"))

	viewRedis := resources.Redis
	if !cfg.Views.BufferInRedis {
		viewRedis = nil
	}
	views := viewcount.NewCounter(announcementRepo, viewRedis, viewcount.Config{
		BufferKey: cfg.Views.HashKey,
	}, logger.With("component", "viewcount"))

	feedService := feedsvc.NewService(announcementRepo, categoryRepo, resources.Redis, feedsvc.Config{
		Title:       cfg.Site.Title,
		BaseURL:     cfg.Site.BaseURL,
		Description: cfg.Site.Description,
		Language:    cfg.Site.Language,
		Limit:       cfg.Feed.Limit,
		CacheKey:    cfg.Feed.CacheKey,
		CacheTTL:    cfg.Feed.CacheTTL,
	}, logger.With("component", "feed"))

	announcementService := announcementsvc.NewService(
		announcementRepo,
		categoryRepo,
		userRepo,
		ledger,
		views,
		feedService,
		announcementsvc.Config{
			AdminDefaultPageSize:  cfg.Paging.AdminDefault,
			AdminMaxPageSize:      cfg.Paging.AdminMax,
			PublicDefaultPageSize: cfg.Paging.PublicDefault,
			PublicMaxPageSize:     cfg.Paging.PublicMax,
		},
		logger.With("component", "announcement.service"),
	)
	categoryService := categorysvc.NewService(categoryRepo, announcementRepo, logger.With("component", "category.service"))
	subscriberService := subscribersvc.NewService(subscriberRepo, categoryRepo, logger.With("component", "subscriber.service"))
	userService := usersvc.NewService(userRepo, logger.With("component", "user.service"))

	if resources.Flags.IsLocal() {
		if err := seedLocalData(ctx, resources, announcementService, logger); err != nil {
			return nil, err
		}
	}

	limiter := newLimiter(resources, logger)
	publicGuard := middleware.NewIPGuardMiddleware(limiter, middleware.IPGuardConfig{
		Scope:       "public",
		MaxRequests: cfg.Public.RateLimitPerMinute,
		Window:      cfg.Public.RateLimitWindow,
	}, logger)
	subscribeGuard := middleware.NewIPGuardMiddleware(limiter, middleware.IPGuardConfig{
		Scope:       "subscribe",
		MaxRequests: cfg.Public.SubscribeLimit,
		Window:      cfg.Public.SubscribeWindow,
	}, logger)

	captchaProvider, err := initCaptcha(resources, limiter, logger)
	if err != nil {
		return nil, err
	}

	authMW, err := initAuth(resources, userService, logger)
	if err != nil {
		return nil, err
	}

	router := server.NewRouter(server.RouterOptions{
		AnnouncementHandler: handler.NewAnnouncementHandler(announcementService),
		RevisionHandler:     handler.NewRevisionHandler(ledger, announcementService),
		CategoryHandler:     handler.NewCategoryHandler(categoryService),
		SubscriberHandler:   handler.NewSubscriberHandler(subscriberService, captchaProvider),
		PublicHandler:       handler.NewPublicHandler(announcementService, categoryService, feedService),
		UserHandler:         handler.NewUserHandler(userService),
		AuthMW:              authMW,
		PublicGuard:         publicGuard,
		SubscribeGuard:      subscribeGuard,
		AllowedOrigins:      cfg.HTTP.AllowedOrigins,
		MediaFS:             server.NewMediaFS(cfg.Site.MediaDir),
		AccessLog:           cfg.HTTP.AccessLog,
	})

	var sweeper *scheduler.Sweeper
	if cfg.Sweeper.Enabled {
		sweeper = scheduler.NewSweeper(announcementRepo, feedService, views, cfg.Sweeper.Interval, logger.With("component", "scheduler.sweeper"))
	}

	return &Application{
		Resources:     resources,
		Announcements: announcementService,
		Revisions:     ledger,
		Views:         views,
		Sweeper:       sweeper,
		Router:        router,
	}, nil
}

// newLimiter 有 Redis 时使用跨实例共享的固定窗口计数，否则退化为进程内计数。
func newLimiter(resources *app.Resources, logger *zap.SugaredLogger) ratelimit.Limiter {
	if resources.Redis != nil {
		return ratelimit.NewRedisLimiter(resources.Redis, "")
	}
	logger.Infow("using in-memory rate limiter; limits are per process")
	return ratelimit.NewMemoryLimiter()
}

// initCaptcha 返回 nil 表示订阅接口不要求验证码。
func initCaptcha(resources *app.Resources, limiter ratelimit.Limiter, logger *zap.SugaredLogger) (handler.CaptchaProvider, error) {
	if !resources.Config.Public.CaptchaEnabled {
		return nil, nil
	}
	if resources.Redis == nil {
		logger.Warnw("captcha enabled but redis not configured; subscribe captcha disabled")
		return nil, nil
	}

	opts, err := captcha.LoadOptionsFromEnv()
	if err != nil {
		logger.Errorw("load captcha config failed", "error", err)
		return nil, fmt.Errorf("load captcha config: %w", err)
	}
	manager, err := captcha.NewManager(resources.Redis, limiter, opts)
	if err != nil {
		return nil, fmt.Errorf("init captcha: %w", err)
	}
	logger.Infow("captcha enabled", "prefix", opts.Prefix, "ttl", opts.TTL)
	return manager, nil
}

// initAuth 本地模式注入固定编辑，在线模式校验外部签发的访问令牌。
func initAuth(resources *app.Resources, users *usersvc.Service, logger *zap.SugaredLogger) (middleware.Authenticator, error) {
	if resources.Flags.IsLocal() {
		local := resources.Flags.Local
		logger.Infow("local mode: admin routes use the fixed editor identity", "user_id", local.UserID)
		return middleware.NewOfflineAuthMiddleware(local.UserID, local.IsAdmin), nil
	}

	authCfg := resources.Config.Auth
	if authCfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required in online mode")
	}
	verifier := token.NewJWTManager(authCfg.JWTSecret, authCfg.Issuer, 0)
	return middleware.NewAuthMiddleware(verifier, users, logger.With("component", "auth.middleware")), nil
}

func seedLocalData(ctx context.Context, resources *app.Resources, creator bootstrapdata.AnnouncementCreator, logger *zap.SugaredLogger) error {
	seed, err := bootstrapdata.Load(bootstrapdata.ResolveSeedFile())
	if err != nil {
		return fmt.Errorf("load seed data: %w", err)
	}
	if _, err := bootstrapdata.SeedCategories(ctx, resources.GORM, seed, logger); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	if _, err := bootstrapdata.SeedAnnouncements(ctx, resources.GORM, creator, resources.Flags.Local.UserID, seed, logger); err != nil {
		return fmt.Errorf("seed announcements: %w", err)
	}
	return nil
}
