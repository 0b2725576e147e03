package feed_test

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
	"newsroom-cms/backend/internal/domain/category"
	"newsroom-cms/backend/internal/repository"
	feedsvc "newsroom-cms/backend/internal/service/feed"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/mmcdole/gofeed"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var base = time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
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

	if err := db.AutoMigrate(&category.Category{}, &domain.Announcement{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newRedisClient(t *testing.T) *redis.Client {
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
	return client
}

func seedFeed(t *testing.T, db *gorm.DB) {
	t.Helper()

	news := category.Category{Name: "Company News", Slug: "company-news"}
	if err := db.Create(&news).Error; err != nil {
		t.Fatalf("seed category: %v", err)
	}
	future := base.Add(time.Hour)
	past := base.Add(-time.Hour)
	items := []domain.Announcement{
		{
			Title: "Visible & <bold>", Slug: "visible", Content: "<p>body ]]> tail</p>", Excerpt: "short",
			AuthorID: 1, IsPublished: true, CategoryID: &news.ID,
			Media:     domain.MediaField{Media: domain.Image{Path: "media/hero.png"}},
			CreatedAt: base.Add(-2 * time.Hour),
		},
		{Title: "Draft", Slug: "draft", Content: "x", AuthorID: 1, CreatedAt: base.Add(-2 * time.Hour)},
		{Title: "Scheduled", Slug: "scheduled", Content: "x", AuthorID: 1, IsPublished: true, ScheduledAt: &future},
		{Title: "Expired", Slug: "expired", Content: "x", AuthorID: 1, IsPublished: true, TakedownAt: &past},
	}
	if err := db.Create(&items).Error; err != nil {
		t.Fatalf("seed announcements: %v", err)
	}
}

func newService(db *gorm.DB, client *redis.Client) *feedsvc.Service {
	return feedsvc.NewService(
		repository.NewAnnouncementRepository(db),
		repository.NewCategoryRepository(db),
		client,
		feedsvc.Config{
			Title:       "Newsroom",
			BaseURL:     "https://news.example.com",
			Description: "Company announcements",
			Language:    "en",
			CacheKey:    "test:feed",
			CacheTTL:    time.Minute,
		},
		nil,
	).WithClock(func() time.Time { return base })
}

func TestGenerateIncludesOnlyVisibleAnnouncements(t *testing.T) {
	db := newTestDB(t)
	seedFeed(t, db)
	svc := newService(db, nil)

	doc, err := svc.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	parsed, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		t.Fatalf("parse rss: %v\n%s", err, doc)
	}
	if parsed.Title != "Newsroom" || parsed.Language != "en" {
		t.Fatalf("unexpected channel: title=%q language=%q", parsed.Title, parsed.Language)
	}
	if len(parsed.Items) != 1 {
		t.Fatalf("expected exactly one item, got %d", len(parsed.Items))
	}

	item := parsed.Items[0]
	if item.Title != "Visible & <bold>" {
		t.Fatalf("title not escaped correctly: %q", item.Title)
	}
	if item.Link != "https://news.example.com/announcements/visible" {
		t.Fatalf("unexpected link %q", item.Link)
	}
	if item.Description != "short" {
		t.Fatalf("unexpected description %q", item.Description)
	}
	if item.Content != "<p>body ]]> tail</p>" {
		t.Fatalf("content should survive CDATA splitting, got %q", item.Content)
	}
	if len(item.Categories) != 1 || item.Categories[0] != "Company News" {
		t.Fatalf("unexpected categories %v", item.Categories)
	}
	if len(item.Enclosures) != 1 || item.Enclosures[0].URL != "https://news.example.com/media/hero.png" || item.Enclosures[0].Type != "image/png" {
		t.Fatalf("unexpected enclosure %+v", item.Enclosures)
	}
	if item.PublishedParsed == nil || !item.PublishedParsed.Equal(base.Add(-2*time.Hour)) {
		t.Fatalf("unexpected pubDate %v", item.PublishedParsed)
	}
}

func TestRSSUsesCacheUntilInvalidated(t *testing.T) {
	db := newTestDB(t)
	seedFeed(t, db)
	client := newRedisClient(t)
	svc := newService(db, client)
	ctx := context.Background()

	first, err := svc.RSS(ctx)
	if err != nil {
		t.Fatalf("rss: %v", err)
	}
	if cached, err := client.Get(ctx, "test:feed").Result(); err != nil || cached != first {
		t.Fatalf("expected rss to be cached, err=%v", err)
	}

	if err := db.Model(&domain.Announcement{}).Where("slug = ?", "draft").Update("is_published", true).Error; err != nil {
		t.Fatalf("publish draft: %v", err)
	}
	second, err := svc.RSS(ctx)
	if err != nil {
		t.Fatalf("rss: %v", err)
	}
	if second != first {
		t.Fatalf("cached document should be served until invalidated")
	}

	svc.Invalidate(ctx)
	third, err := svc.RSS(ctx)
	if err != nil {
		t.Fatalf("rss: %v", err)
	}
	if !strings.Contains(third, "/announcements/draft") {
		t.Fatalf("regenerated feed should include the newly published item")
	}
}
