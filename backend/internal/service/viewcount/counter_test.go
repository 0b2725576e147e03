package viewcount_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/repository"
	"newsroom-cms/backend/internal/service/viewcount"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
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

func newRepository(t *testing.T) (*repository.AnnouncementRepository, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&domain.Announcement{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return repository.NewAnnouncementRepository(db), db
}

func seedAnnouncement(t *testing.T, db *gorm.DB, slug string) *domain.Announcement {
	t.Helper()
	item := &domain.Announcement{Title: slug, Slug: slug, Content: "x", AuthorID: 1, IsPublished: true}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	return item
}

func storedViews(t *testing.T, db *gorm.DB, id uint) uint64 {
	t.Helper()
	var item domain.Announcement
	if err := db.First(&item, id).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	return item.ViewCount
}

func TestDirectModeWritesThrough(t *testing.T) {
	repo, db := newRepository(t)
	item := seedAnnouncement(t, db, "direct")
	counter := viewcount.NewCounter(repo, nil, viewcount.Config{}, nil)
	ctx := context.Background()

	if counter.Buffered() {
		t.Fatalf("counter without redis should not buffer")
	}
	counter.Increment(ctx, item.ID, "10.0.0.1")
	counter.Increment(ctx, item.ID, "10.0.0.1")
	counter.Increment(ctx, 9999, "10.0.0.1")

	if got := storedViews(t, db, item.ID); got != 2 {
		t.Fatalf("expected 2 views, got %d", got)
	}
	if n, err := counter.Flush(ctx); err != nil || n != 0 {
		t.Fatalf("flush without redis should be a no-op, n=%d err=%v", n, err)
	}
}

func TestBufferedIncrementsDedupeVisitors(t *testing.T) {
	repo, db := newRepository(t)
	item := seedAnnouncement(t, db, "buffered")
	client, server := newRedisClient(t)
	counter := viewcount.NewCounter(repo, client, viewcount.Config{GuardTTL: time.Minute}, nil)
	ctx := context.Background()

	counter.Increment(ctx, item.ID, "10.0.0.1")
	counter.Increment(ctx, item.ID, "10.0.0.1")
	counter.Increment(ctx, item.ID, "10.0.0.2")
	counter.Increment(ctx, item.ID, "")

	if got := counter.Pending(ctx, item.ID); got != 3 {
		t.Fatalf("expected 3 pending views, got %d", got)
	}
	if got := storedViews(t, db, item.ID); got != 0 {
		t.Fatalf("buffered views must not hit the database yet, got %d", got)
	}

	server.FastForward(2 * time.Minute)
	counter.Increment(ctx, item.ID, "10.0.0.1")
	if got := counter.Pending(ctx, item.ID); got != 4 {
		t.Fatalf("guard expiry should allow the visitor again, got %d", got)
	}
}

func TestFlushMovesBufferToDatabase(t *testing.T) {
	repo, db := newRepository(t)
	first := seedAnnouncement(t, db, "first")
	second := seedAnnouncement(t, db, "second")
	client, server := newRedisClient(t)
	counter := viewcount.NewCounter(repo, client, viewcount.Config{BufferKey: "test:views"}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		counter.Increment(ctx, first.ID, "")
	}
	counter.Increment(ctx, second.ID, "")
	// 已删除公告的缓冲会被丢弃。
	if err := client.HSet(ctx, "test:views", "9999", 5).Err(); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}

	flushed, err := counter.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if flushed != 3 {
		t.Fatalf("expected 3 settled entries, got %d", flushed)
	}
	if got := storedViews(t, db, first.ID); got != 3 {
		t.Fatalf("first: expected 3 views, got %d", got)
	}
	if got := storedViews(t, db, second.ID); got != 1 {
		t.Fatalf("second: expected 1 view, got %d", got)
	}
	if server.Exists("test:views") {
		t.Fatalf("buffer should be empty after flush")
	}
	if counter.Pending(ctx, first.ID) != 0 {
		t.Fatalf("pending views should be cleared")
	}
}

func TestFlushSkipsWhenLocked(t *testing.T) {
	repo, db := newRepository(t)
	item := seedAnnouncement(t, db, "locked")
	client, server := newRedisClient(t)
	counter := viewcount.NewCounter(repo, client, viewcount.Config{FlushLockKey: "test:lock"}, nil)
	ctx := context.Background()

	counter.Increment(ctx, item.ID, "")
	if err := server.Set("test:lock", "other-instance"); err != nil {
		t.Fatalf("hold lock: %v", err)
	}

	flushed, err := counter.Flush(ctx)
	if err != nil || flushed != 0 {
		t.Fatalf("locked flush should skip, n=%d err=%v", flushed, err)
	}
	if got := storedViews(t, db, item.ID); got != 0 {
		t.Fatalf("nothing should be written while another instance flushes, got %d", got)
	}
	if got, _ := server.Get("test:lock"); got != "other-instance" {
		t.Fatalf("foreign lock must not be released, got %q", got)
	}
}
