/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 19:54:47
 * @FilePath: \newsroom-cms\backend\internal\app\app.go
 * @LastEditTime: 2025-10-20 16:21:08
 */
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"newsroom-cms/backend/internal/config"
	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/domain/category"
	"newsroom-cms/backend/internal/domain/subscriber"
	"newsroom-cms/backend/internal/domain/user"
	infra "newsroom-cms/backend/internal/infra/client"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Resources 聚合进程级的外部资源，由 Close 统一释放。
type Resources struct {
	Flags  config.RuntimeFlags
	Config config.NewsroomConfig
	GORM   *gorm.DB
	DB     *sql.DB
	Redis  *redis.Client // 未配置 REDIS_ENDPOINT 时为 nil
}

// InitResources 按运行模式建立数据库与 Redis 连接并完成表结构迁移。
// 在线模式使用 MySQL，本地模式使用 SQLite 并写入固定的编辑账号。
func InitResources(ctx context.Context, flags config.RuntimeFlags) (*Resources, error) {
	config.LoadEnvFiles()

	res := &Resources{
		Flags:  flags,
		Config: config.LoadNewsroomConfig(),
	}

	logLevel := gormLogLevel(os.Getenv("GORM_LOG_LEVEL"))
	var err error
	if flags.IsLocal() {
		res.GORM, res.DB, err = infra.NewGORMSQLite(flags.Local.DBPath, logLevel)
		if err != nil {
			return nil, fmt.Errorf("open local database: %w", err)
		}
	} else {
		mysqlCfg, cfgErr := infra.LoadMySQLConfigFromEnv()
		if cfgErr != nil {
			return nil, fmt.Errorf("load mysql config: %w", cfgErr)
		}
		res.GORM, res.DB, err = infra.NewGORMMySQL(mysqlCfg, logLevel)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
	}

	if err := AutoMigrate(ctx, res.GORM); err != nil {
		_ = res.Close()
		return nil, err
	}

	if flags.IsLocal() {
		if err := ensureLocalEditor(ctx, res.GORM, flags.Local); err != nil {
			_ = res.Close()
			return nil, err
		}
	}

	redisOpts, err := infra.NewDefaultRedisOptions()
	switch {
	case errors.Is(err, infra.ErrRedisNotConfigured):
		log.Printf("[app] redis not configured, caches and view buffer disabled")
	case err != nil:
		_ = res.Close()
		return nil, fmt.Errorf("load redis options: %w", err)
	default:
		client, connErr := infra.NewRedisClient(redisOpts)
		if connErr != nil {
			_ = res.Close()
			return nil, fmt.Errorf("connect redis: %w", connErr)
		}
		res.Redis = client
	}

	return res, nil
}

// AutoMigrate 同步全部业务表结构。
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&user.User{},
		&category.Category{},
		&domain.Announcement{},
		&domain.Revision{},
		&subscriber.Subscriber{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// ensureLocalEditor 写入或刷新本地模式的编辑账号，保证修订作者可被解析。
func ensureLocalEditor(ctx context.Context, db *gorm.DB, local config.LocalRuntime) error {
	editor := user.User{
		ID:          local.UserID,
		Username:    local.Username,
		DisplayName: local.Username,
		Email:       local.Email,
		IsAdmin:     local.IsAdmin,
	}
	err := db.WithContext(ctx).
		Where(user.User{ID: local.UserID}).
		Assign(user.User{Username: editor.Username, DisplayName: editor.DisplayName, Email: editor.Email, IsAdmin: editor.IsAdmin}).
		FirstOrCreate(&editor).Error
	if err != nil {
		return fmt.Errorf("ensure local editor: %w", err)
	}
	return nil
}

// Close 依次释放 Redis 与数据库连接。
func (r *Resources) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DBConn 返回底层 *sql.DB。
func (r *Resources) DBConn() *sql.DB {
	if r == nil {
		return nil
	}
	return r.DB
}

// WithShutdown 执行 fn，返回错误时直接退出进程。
func WithShutdown(ctx context.Context, cancel func(), fn func(context.Context) error) {
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func gormLogLevel(raw string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
