package announcement_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/domain/category"
	"newsroom-cms/backend/internal/domain/user"
	"newsroom-cms/backend/internal/repository"
	announcementsvc "newsroom-cms/backend/internal/service/announcement"
	"newsroom-cms/backend/internal/service/revision"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const editorID uint = 1

type recordingViews struct {
	mu       sync.Mutex
	visitors []string
	pending  uint64
}

func (r *recordingViews) Increment(_ context.Context, _ uint, visitor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visitors = append(r.visitors, visitor)
}

func (r *recordingViews) Pending(context.Context, uint) uint64 {
	return r.pending
}

type countingCache struct {
	calls int
}

func (c *countingCache) Invalidate(context.Context) {
	c.calls++
}

type fixture struct {
	svc    *announcementsvc.Service
	ledger *revision.Service
	db     *gorm.DB
	views  *recordingViews
	cache  *countingCache
	now    time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&user.User{}, &category.Category{}, &domain.Announcement{}, &domain.Revision{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	if err := db.Create(&user.User{ID: editorID, Username: "editor", DisplayName: "Editor", Email: "editor@example.com"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	f := &fixture{
		db:    db,
		views: &recordingViews{},
		cache: &countingCache{},
		now:   time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	announcements := repository.NewAnnouncementRepository(db)
	f.ledger = revision.NewService(db, announcements, repository.NewRevisionRepository(db), revision.Config{}, nil).WithClock(clock)
	f.svc = announcementsvc.NewService(
		announcements,
		repository.NewCategoryRepository(db),
		repository.NewUserRepository(db),
		f.ledger,
		f.views,
		f.cache,
		announcementsvc.Config{},
		nil,
	).WithClock(clock)
	return f
}

func (f *fixture) create(t *testing.T, input announcementsvc.CreateInput) *domain.Announcement {
	t.Helper()
	if input.Content == "" {
		input.Content = "<p>" + input.Title + " body</p>"
	}
	item, err := f.svc.Create(context.Background(), editorID, input)
	if err != nil {
		t.Fatalf("create %q: %v", input.Title, err)
	}
	return item
}

func (f *fixture) changeTypes(t *testing.T, id uint) []domain.ChangeType {
	t.Helper()
	page, err := f.ledger.List(context.Background(), id, 100, 0)
	if err != nil {
		t.Fatalf("list revisions: %v", err)
	}
	types := make([]domain.ChangeType, 0, len(page.Items))
	for i := len(page.Items) - 1; i >= 0; i-- {
		types = append(types, page.Items[i].ChangeType)
	}
	return types
}

func boolPtr(v bool) *bool {
	return &v
}

func strPtr(v string) *string {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}

func TestCreateRecordsInitialRevision(t *testing.T) {
	f := newFixture(t)

	item := f.create(t, announcementsvc.CreateInput{
		Title:   "Quarterly Results",
		Content: "<p>Revenue grew <strong>12%</strong> this quarter.</p>",
	})

	if item.Slug != "quarterly-results" {
		t.Fatalf("unexpected slug %q", item.Slug)
	}
	if item.IsPublished {
		t.Fatalf("new announcements default to draft")
	}
	if item.Excerpt != "Revenue grew 12% this quarter." {
		t.Fatalf("unexpected excerpt %q", item.Excerpt)
	}
	if got := f.changeTypes(t, item.ID); len(got) != 1 || got[0] != domain.ChangeCreate {
		t.Fatalf("expected a single CREATE revision, got %v", got)
	}
	if f.cache.calls != 1 {
		t.Fatalf("expected cache invalidation, got %d calls", f.cache.calls)
	}
}

func TestCreateAllocatesSlugSuffixes(t *testing.T) {
	f := newFixture(t)

	var slugs []string
	for i := 0; i < 3; i++ {
		slugs = append(slugs, f.create(t, announcementsvc.CreateInput{Title: "Office Move"}).Slug)
	}
	want := []string{"office-move", "office-move-2", "office-move-3"}
	for i := range want {
		if slugs[i] != want[i] {
			t.Fatalf("slug #%d: want %q, got %q", i, want[i], slugs[i])
		}
	}

	_, err := f.svc.Create(context.Background(), editorID, announcementsvc.CreateInput{
		Title:   "Another",
		Slug:    "office-move",
		Content: "x",
	})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "slug" {
		t.Fatalf("expected slug validation error, got %v", err)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	missingCategory := uint(42)

	cases := []struct {
		name  string
		actor uint
		input announcementsvc.CreateInput
		field string
	}{
		{"missing actor", 0, announcementsvc.CreateInput{Title: "t", Content: "c"}, "actor_id"},
		{"blank title", editorID, announcementsvc.CreateInput{Title: "  ", Content: "c"}, "title"},
		{"blank content", editorID, announcementsvc.CreateInput{Title: "t", Content: " "}, "content"},
		{"bad slug", editorID, announcementsvc.CreateInput{Title: "t", Content: "c", Slug: "Not A Slug"}, "slug"},
		{"image with url", editorID, announcementsvc.CreateInput{Title: "t", Content: "c", Media: &announcementsvc.MediaInput{Kind: "image", Path: "a.png", URL: "https://x"}}, "media"},
		{"unknown category", editorID, announcementsvc.CreateInput{Title: "t", Content: "c", CategoryID: &missingCategory}, "category_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tc.actor, tc.input)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if vErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, vErr.Field)
			}
		})
	}

	var count int64
	f.db.Model(&domain.Announcement{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected input must not be persisted, got %d rows", count)
	}
}

func TestUpdateTagsPublishTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.create(t, announcementsvc.CreateInput{Title: "Benefits"})

	steps := []announcementsvc.UpdateInput{
		{IsPublished: boolPtr(true)},
		{Title: strPtr("Benefits 2026")},
		{IsPublished: boolPtr(true), Content: strPtr("<p>still published</p>")},
		{IsPublished: boolPtr(false)},
	}
	for i, step := range steps {
		if _, err := f.svc.Update(ctx, editorID, item.ID, step); err != nil {
			t.Fatalf("update #%d: %v", i, err)
		}
	}

	want := []domain.ChangeType{domain.ChangeCreate, domain.ChangePublish, domain.ChangeEdit, domain.ChangeEdit, domain.ChangeUnpublish}
	got := f.changeTypes(t, item.ID)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("change types: want %v, got %v", want, got)
	}
}

func TestUpdateRefreshesAutoExcerpt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	auto := f.create(t, announcementsvc.CreateInput{Title: "Auto", Content: "<p>first</p>"})
	updated, err := f.svc.Update(ctx, editorID, auto.ID, announcementsvc.UpdateInput{Content: strPtr("<p>second</p>")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Excerpt != "second" {
		t.Fatalf("auto excerpt should follow content, got %q", updated.Excerpt)
	}

	manual := f.create(t, announcementsvc.CreateInput{Title: "Manual", Content: "<p>first</p>", Excerpt: "hand written"})
	updated, err = f.svc.Update(ctx, editorID, manual.ID, announcementsvc.UpdateInput{Content: strPtr("<p>second</p>")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Excerpt != "hand written" {
		t.Fatalf("manual excerpt should be kept, got %q", updated.Excerpt)
	}
}

func TestUpdateMissingAnnouncement(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Update(context.Background(), editorID, 404, announcementsvc.UpdateInput{Title: strPtr("x")})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetPublishedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.create(t, announcementsvc.CreateInput{Title: "Holiday Schedule"})

	_, changed, err := f.svc.SetPublished(ctx, editorID, item.ID, false, "")
	if err != nil {
		t.Fatalf("unpublish draft: %v", err)
	}
	if changed {
		t.Fatalf("unpublishing a draft should be a no-op")
	}

	result, changed, err := f.svc.SetPublished(ctx, editorID, item.ID, true, "go live")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !changed || !result.IsPublished {
		t.Fatalf("expected publish to change the flag")
	}

	if _, changed, err = f.svc.SetPublished(ctx, editorID, item.ID, true, ""); err != nil || changed {
		t.Fatalf("second publish should be a no-op, changed=%v err=%v", changed, err)
	}

	got := f.changeTypes(t, item.ID)
	if len(got) != 2 || got[1] != domain.ChangePublish {
		t.Fatalf("expected CREATE then PUBLISH, got %v", got)
	}

	page, err := f.ledger.List(ctx, item.ID, 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Items[0].ChangeSummary != "go live" {
		t.Fatalf("expected change summary to be stored, got %q", page.Items[0].ChangeSummary)
	}
}

func TestHeroSlotIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, announcementsvc.CreateInput{Title: "First Hero", IsHero: true})
	second := f.create(t, announcementsvc.CreateInput{Title: "Second Hero", IsHero: true})

	reload := func(id uint) domain.Announcement {
		var item domain.Announcement
		if err := f.db.First(&item, id).Error; err != nil {
			t.Fatalf("reload %d: %v", id, err)
		}
		return item
	}
	if reload(first.ID).IsHero || !reload(second.ID).IsHero {
		t.Fatalf("creating a hero should clear the previous one")
	}

	if _, err := f.svc.Update(ctx, editorID, first.ID, announcementsvc.UpdateInput{IsHero: boolPtr(true)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !reload(first.ID).IsHero || reload(second.ID).IsHero {
		t.Fatalf("promoting a hero should clear the others")
	}
}

func TestPublicReadsFollowSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scheduled := f.create(t, announcementsvc.CreateInput{
		Title:       "Product Launch",
		IsPublished: true,
		ScheduledAt: timePtr(f.now.Add(time.Hour)),
		TakedownAt:  timePtr(f.now.Add(3 * time.Hour)),
	})
	f.create(t, announcementsvc.CreateInput{Title: "Draft Only"})

	list, err := f.svc.ListPublic(ctx, announcementsvc.PublicFilter{})
	if err != nil {
		t.Fatalf("list public: %v", err)
	}
	if len(list.Items) != 0 {
		t.Fatalf("nothing should be public yet, got %d", len(list.Items))
	}
	if _, err := f.svc.GetPublicBySlug(ctx, scheduled.Slug, "10.0.0.1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("scheduled announcement must read as not found, got %v", err)
	}

	f.advance(time.Hour)
	list, err = f.svc.ListPublic(ctx, announcementsvc.PublicFilter{})
	if err != nil {
		t.Fatalf("list public: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != scheduled.ID || list.Total != 1 {
		t.Fatalf("expected the scheduled announcement at its start time, got %+v", list)
	}
	view, err := f.svc.GetPublicBySlug(ctx, scheduled.Slug, "10.0.0.1")
	if err != nil {
		t.Fatalf("get public: %v", err)
	}
	if view.Status != domain.StatePublished || view.Author == nil || view.Author.DisplayName != "Editor" {
		t.Fatalf("unexpected public view: %+v", view)
	}
	if len(f.views.visitors) != 1 || f.views.visitors[0] != "10.0.0.1" {
		t.Fatalf("expected one recorded view, got %v", f.views.visitors)
	}

	f.advance(2 * time.Hour)
	if _, err := f.svc.GetPublicBySlug(ctx, scheduled.Slug, "10.0.0.1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("taken down announcement must read as not found, got %v", err)
	}
	if len(f.views.visitors) != 1 {
		t.Fatalf("hidden reads must not count views")
	}
}

func TestPublicListPutsPinnedFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pinned := f.create(t, announcementsvc.CreateInput{Title: "Pinned", IsPublished: true, IsPinned: true})
	f.advance(time.Minute)
	f.create(t, announcementsvc.CreateInput{Title: "Newer", IsPublished: true})

	list, err := f.svc.ListPublic(ctx, announcementsvc.PublicFilter{})
	if err != nil {
		t.Fatalf("list public: %v", err)
	}
	if len(list.Items) != 2 || list.Items[0].ID != pinned.ID {
		t.Fatalf("pinned announcement should come first")
	}

	list, err = f.svc.ListPublic(ctx, announcementsvc.PublicFilter{PinnedOnly: true})
	if err != nil {
		t.Fatalf("list pinned: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("expected only pinned items, got %d", len(list.Items))
	}
}

func TestAdminListFiltersByState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, announcementsvc.CreateInput{Title: "Draft"})
	f.create(t, announcementsvc.CreateInput{Title: "Live", IsPublished: true})
	f.create(t, announcementsvc.CreateInput{Title: "Later", IsPublished: true, ScheduledAt: timePtr(f.now.Add(time.Hour))})
	f.create(t, announcementsvc.CreateInput{Title: "Gone", IsPublished: true, TakedownAt: timePtr(f.now.Add(-time.Minute))})

	for state, title := range map[domain.State]string{
		domain.StateDraft:     "Draft",
		domain.StatePublished: "Live",
		domain.StateScheduled: "Later",
		domain.StateTakenDown: "Gone",
	} {
		result, err := f.svc.List(ctx, announcementsvc.ListFilter{State: state})
		if err != nil {
			t.Fatalf("list %s: %v", state, err)
		}
		if len(result.Items) != 1 || result.Items[0].Title != title {
			t.Fatalf("state %s: expected %q, got %+v", state, title, result.Items)
		}
		if result.Items[0].Status != state {
			t.Fatalf("state %s: decorated status %s", state, result.Items[0].Status)
		}
	}

	result, err := f.svc.List(ctx, announcementsvc.ListFilter{Query: "liv"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("expected keyword search to match one item, got %d", result.Total)
	}
}

func TestVisibilityAtInstant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.create(t, announcementsvc.CreateInput{
		Title:       "Window",
		IsPublished: true,
		ScheduledAt: timePtr(f.now.Add(time.Hour)),
		TakedownAt:  timePtr(f.now.Add(2 * time.Hour)),
	})

	cases := []struct {
		at      time.Time
		visible bool
		reason  domain.VisibilityReason
	}{
		{f.now, false, domain.ReasonScheduled},
		{f.now.Add(time.Hour), true, domain.ReasonPublishFlag},
		{f.now.Add(2 * time.Hour), false, domain.ReasonTakedown},
	}
	for _, tc := range cases {
		result, err := f.svc.Visibility(ctx, item.ID, tc.at)
		if err != nil {
			t.Fatalf("visibility: %v", err)
		}
		if result.Visible != tc.visible || result.Reason != tc.reason {
			t.Fatalf("at %s: want visible=%v reason=%s, got %+v", tc.at, tc.visible, tc.reason, result)
		}
	}

	if _, err := f.svc.Visibility(ctx, 999, time.Time{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestoreInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.create(t, announcementsvc.CreateInput{Title: "Policy", Media: &announcementsvc.MediaInput{Kind: "image", Path: "policy.png"}})
	if _, err := f.svc.Update(ctx, editorID, item.ID, announcementsvc.UpdateInput{
		Title: strPtr("Policy v2"),
		Media: &announcementsvc.MediaInput{Kind: "image", Path: "policy-v2.png"},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	page, err := f.ledger.List(ctx, item.ID, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	first := page.Items[len(page.Items)-1]

	before := f.cache.calls
	result, err := f.svc.Restore(ctx, editorID, item.ID, first.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if f.cache.calls != before+1 {
		t.Fatalf("restore should invalidate public caches")
	}
	if result.Announcement.Title != "Policy" || result.Announcement.Media.ImagePath() != "policy.png" {
		t.Fatalf("restore should bring back title and image, got %q %q", result.Announcement.Title, result.Announcement.Media.ImagePath())
	}
}

func TestDeleteRemovesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.create(t, announcementsvc.CreateInput{Title: "Temporary"})

	if err := f.svc.Delete(ctx, editorID, item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var revisions int64
	f.db.Model(&domain.Revision{}).Where("announcement_id = ?", item.ID).Count(&revisions)
	if revisions != 0 {
		t.Fatalf("expected revisions removed, got %d", revisions)
	}
	if err := f.svc.Delete(ctx, editorID, item.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
