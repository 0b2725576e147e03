package scheduler_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/repository"
	"newsroom-cms/backend/internal/service/scheduler"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type countingCache struct {
	calls atomic.Int32
}

func (c *countingCache) Invalidate(context.Context) {
	c.calls.Add(1)
}

type fakeFlusher struct {
	calls atomic.Int32
	n     int
}

func (f *fakeFlusher) Flush(context.Context) (int, error) {
	f.calls.Add(1)
	return f.n, nil
}

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

	if err := db.AutoMigrate(&domain.Announcement{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func at(base time.Time, d time.Duration) *time.Time {
	v := base.Add(d)
	return &v
}

func TestRunOnceReportsBoundaryCrossings(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)

	seed := []domain.Announcement{
		{Title: "Goes live", Slug: "goes-live", Content: "x", AuthorID: 1, IsPublished: true, ScheduledAt: at(base, 30*time.Second)},
		{Title: "Goes away", Slug: "goes-away", Content: "x", AuthorID: 1, IsPublished: true, TakedownAt: at(base, 90*time.Second)},
		{Title: "Still draft", Slug: "still-draft", Content: "x", AuthorID: 1, ScheduledAt: at(base, 30*time.Second)},
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := base.Add(time.Minute)
	cache := &countingCache{}
	views := &fakeFlusher{n: 2}
	sweeper := scheduler.NewSweeper(repository.NewAnnouncementRepository(db), cache, views, time.Minute, nil).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	report, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if len(report.Transitions) != 1 || report.Transitions[0].Slug != "goes-live" || !report.Transitions[0].Visible {
		t.Fatalf("expected goes-live to become visible, got %+v", report.Transitions)
	}
	if report.ViewsFlushed != 2 {
		t.Fatalf("expected flushed views to be reported, got %d", report.ViewsFlushed)
	}
	if cache.calls.Load() != 1 {
		t.Fatalf("expected cache invalidation after a transition")
	}

	now = base.Add(2 * time.Minute)
	report, err = sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if !report.From.Equal(base.Add(time.Minute)) {
		t.Fatalf("sweep window should start at the previous sweep, got %s", report.From)
	}
	if len(report.Transitions) != 1 || report.Transitions[0].Slug != "goes-away" || report.Transitions[0].Visible {
		t.Fatalf("expected goes-away to be hidden, got %+v", report.Transitions)
	}
	if report.Transitions[0].Reason != domain.ReasonTakedown {
		t.Fatalf("expected takedown reason, got %s", report.Transitions[0].Reason)
	}

	report, err = sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("third sweep: %v", err)
	}
	if len(report.Transitions) != 0 {
		t.Fatalf("empty window must not report transitions, got %+v", report.Transitions)
	}
	if cache.calls.Load() != 2 {
		t.Fatalf("cache should only be invalidated when something changed, got %d", cache.calls.Load())
	}
}

func TestSweeperDoesNotTouchPublishFlag(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)

	item := domain.Announcement{Title: "Ends", Slug: "ends", Content: "x", AuthorID: 1, IsPublished: true, TakedownAt: at(base, 10*time.Second)}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	sweeper := scheduler.NewSweeper(repository.NewAnnouncementRepository(db), nil, nil, time.Minute, nil).
		WithClock(func() time.Time { return base.Add(time.Minute) })
	if _, err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var stored domain.Announcement
	if err := db.First(&stored, item.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !stored.IsPublished {
		t.Fatalf("sweeper must not rewrite is_published")
	}
	if stored.Visibility(base.Add(time.Minute)).Visible {
		t.Fatalf("announcement should read as hidden after takedown")
	}
}

func TestStartAndStopFlushViews(t *testing.T) {
	db := newTestDB(t)
	views := &fakeFlusher{}
	sweeper := scheduler.NewSweeper(repository.NewAnnouncementRepository(db), nil, views, 10*time.Millisecond, nil)

	sweeper.Start()
	deadline := time.Now().Add(2 * time.Second)
	for views.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	before := views.calls.Load()
	if before < 2 {
		t.Fatalf("expected periodic sweeps, got %d", before)
	}

	sweeper.Stop()
	if views.calls.Load() <= before {
		t.Fatalf("stop should run a final flush")
	}
}
