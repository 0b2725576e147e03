package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"newsroom-cms/backend/internal/app"
	"newsroom-cms/backend/internal/bootstrap"
	"newsroom-cms/backend/internal/bootstrapdata"
	"newsroom-cms/backend/internal/config"
	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/domain/category"
	"newsroom-cms/backend/internal/infra/logger"
	"newsroom-cms/backend/internal/infra/token"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	outputPath = flag.String("output", "", "指定生成的 SQLite 文件路径")
	seedFile   = flag.String("seed", "", "指定预置数据 YAML，默认读取 LOCAL_BOOTSTRAP_SEED_FILE 或内置数据")
	issueToken = flag.Bool("issue-token", false, "按 JWT_SECRET 为本地编辑签发一枚访问令牌，便于联调在线模式")
	tokenTTL   = flag.Duration("token-ttl", 24*time.Hour, "签发令牌的有效期")
)

// main 是离线引导工具入口，用于生成带有预置分类与公告的本地 SQLite 文件。
func main() {
	flag.Parse()

	config.LoadEnvFiles()
	ensureLocalMode()

	if *outputPath != "" {
		if err := os.Setenv("LOCAL_SQLITE_PATH", strings.TrimSpace(*outputPath)); err != nil {
			panic(fmt.Sprintf("set LOCAL_SQLITE_PATH failed: %v", err))
		}
	}
	if *seedFile != "" {
		if err := os.Setenv("LOCAL_BOOTSTRAP_SEED_FILE", strings.TrimSpace(*seedFile)); err != nil {
			panic(fmt.Sprintf("set LOCAL_BOOTSTRAP_SEED_FILE failed: %v", err))
		}
	}

	zapLogger, err := logger.Init()
	if err != nil {
		panic(fmt.Sprintf("init logger failed: %v", err))
	}
	defer logger.Sync()
	sugar := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resources, err := app.InitResources(ctx, config.LoadRuntimeFlags())
	if err != nil {
		sugar.Fatalw("initialise resources failed", "error", err)
	}
	defer func() {
		if closeErr := resources.Close(); closeErr != nil {
			sugar.Warnw("close resources failed", "error", closeErr)
		}
	}()

	// 装配过程会导入预置数据，公告经由公告服务写入以生成首个修订。
	if _, err := bootstrap.BuildApplication(ctx, sugar, resources); err != nil {
		sugar.Fatalw("seed local database failed", "error", err)
	}

	if err := reportSeedSummary(ctx, resources.GORM, sugar); err != nil {
		sugar.Warnw("report seed summary failed", "error", err)
	}

	sugar.Infow(
		"offline database ready",
		"sqlite_path", resources.Flags.Local.DBPath,
		"seed_file", bootstrapdata.ResolveSeedFile(),
	)

	if *issueToken {
		if err := printDevToken(resources, *tokenTTL); err != nil {
			sugar.Fatalw("issue token failed", "error", err)
		}
	}
}

// ensureLocalMode 确保命令在本地模式下运行，便于自动应用 SQLite 与预置数据逻辑。
func ensureLocalMode() {
	if mode := strings.TrimSpace(os.Getenv("APP_MODE")); !strings.EqualFold(mode, config.ModeLocal) {
		if err := os.Setenv("APP_MODE", config.ModeLocal); err != nil {
			panic(fmt.Sprintf("set APP_MODE failed: %v", err))
		}
	}
}

// reportSeedSummary 统计关键表的记录数，便于调用者确认导入结果。
func reportSeedSummary(ctx context.Context, db *gorm.DB, sugar *zap.SugaredLogger) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	var categoryCount int64
	if err := db.WithContext(ctx).Model(&category.Category{}).Count(&categoryCount).Error; err != nil {
		return fmt.Errorf("count categories: %w", err)
	}

	var announcementCount int64
	if err := db.WithContext(ctx).Model(&domain.Announcement{}).Count(&announcementCount).Error; err != nil {
		return fmt.Errorf("count announcements: %w", err)
	}

	var revisionCount int64
	if err := db.WithContext(ctx).Model(&domain.Revision{}).Count(&revisionCount).Error; err != nil {
		return fmt.Errorf("count revisions: %w", err)
	}

	sugar.Infow(
		"seed summary",
		"categories", categoryCount,
		"announcements", announcementCount,
		"revisions", revisionCount,
	)
	return nil
}

// printDevToken 使用 JWT_SECRET 为本地编辑签发令牌并输出到标准输出。
func printDevToken(resources *app.Resources, ttl time.Duration) error {
	authCfg := resources.Config.Auth
	if authCfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	local := resources.Flags.Local
	manager := token.NewJWTManager(authCfg.JWTSecret, authCfg.Issuer, ttl)
	raw, expiresAt, err := manager.Issue(token.Claims{
		UserID:      local.UserID,
		Username:    local.Username,
		DisplayName: local.Username,
		Email:       local.Email,
		IsAdmin:     local.IsAdmin,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Authorization: Bearer %s\n# expires at %s\n", raw, expiresAt.Format(time.RFC3339))
	return nil
}
