package bootstrapdata_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/domain/category"
	"newsroom-cms/backend/internal/bootstrapdata"
	announcementsvc "newsroom-cms/backend/internal/service/announcement"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type recordingCreator struct {
	db     *gorm.DB
	inputs []announcementsvc.CreateInput
}

func (c *recordingCreator) Create(ctx context.Context, actorID uint, input announcementsvc.CreateInput) (*domain.Announcement, error) {
	c.inputs = append(c.inputs, input)
	entity := &domain.Announcement{
		Title:      input.Title,
		Slug:       input.Slug,
		Content:    input.Content,
		AuthorID:   actorID,
		CategoryID: input.CategoryID,
	}
	if err := c.db.WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return entity, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
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

	if err := db.AutoMigrate(&category.Category{}, &domain.Announcement{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestLoadEmbeddedSeed(t *testing.T) {
	seed, err := bootstrapdata.Load("")
	if err != nil {
		t.Fatalf("load embedded seed: %v", err)
	}
	if len(seed.Categories) != 4 {
		t.Fatalf("expected 4 categories, got %d", len(seed.Categories))
	}
	if len(seed.Announcements) != 3 {
		t.Fatalf("expected 3 announcements, got %d", len(seed.Announcements))
	}
	heroes := 0
	for _, item := range seed.Announcements {
		if item.Slug == "" {
			t.Fatalf("embedded announcement %q should carry an explicit slug", item.Title)
		}
		if item.Hero {
			heroes++
		}
	}
	if heroes != 1 {
		t.Fatalf("expected exactly one hero announcement, got %d", heroes)
	}
}

func TestLoadFromFileAndValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := "categories:\n  - name: Ops\n    slug: ops\nannouncements:\n  - title: Maintenance\n    content: <p>tonight</p>\n    category: ops\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	seed, err := bootstrapdata.Load(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(seed.Categories) != 1 || seed.Announcements[0].Category != "ops" {
		t.Fatalf("unexpected seed %+v", seed)
	}

	if _, err := bootstrapdata.Parse([]byte("categories:\n  - name: NoSlug\n")); err == nil {
		t.Fatalf("expected error for category without slug")
	}
	if _, err := bootstrapdata.Parse([]byte("announcements:\n  - title: Empty\n")); err == nil {
		t.Fatalf("expected error for announcement without content")
	}
	if _, err := bootstrapdata.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolveSeedFile(t *testing.T) {
	t.Setenv("LOCAL_BOOTSTRAP_SEED_FILE", "  /tmp/seed.yaml ")
	if got := bootstrapdata.ResolveSeedFile(); got != "/tmp/seed.yaml" {
		t.Fatalf("unexpected seed file %q", got)
	}
}

func TestSeedCategoriesIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed, err := bootstrapdata.Load("")
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}

	created, err := bootstrapdata.SeedCategories(ctx, db, seed, nil)
	if err != nil {
		t.Fatalf("seed categories: %v", err)
	}
	if created != len(seed.Categories) {
		t.Fatalf("expected %d categories, got %d", len(seed.Categories), created)
	}
	again, err := bootstrapdata.SeedCategories(ctx, db, seed, nil)
	if err != nil {
		t.Fatalf("reseed categories: %v", err)
	}
	if again != 0 {
		t.Fatalf("second run should not create categories, got %d", again)
	}
}

func TestSeedAnnouncementsOnlyWhenEmpty(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed, err := bootstrapdata.Load("")
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if _, err := bootstrapdata.SeedCategories(ctx, db, seed, nil); err != nil {
		t.Fatalf("seed categories: %v", err)
	}

	creator := &recordingCreator{db: db}
	if n, err := bootstrapdata.SeedAnnouncements(ctx, db, creator, 0, seed, nil); err != nil || n != 0 {
		t.Fatalf("missing author should skip seeding, got n=%d err=%v", n, err)
	}

	created, err := bootstrapdata.SeedAnnouncements(ctx, db, creator, 1, seed, nil)
	if err != nil {
		t.Fatalf("seed announcements: %v", err)
	}
	if created != len(seed.Announcements) {
		t.Fatalf("expected %d announcements, got %d", len(seed.Announcements), created)
	}

	var news category.Category
	if err := db.Where("slug = ?", "company-news").First(&news).Error; err != nil {
		t.Fatalf("load category: %v", err)
	}
	first := creator.inputs[0]
	if first.CategoryID == nil || *first.CategoryID != news.ID {
		t.Fatalf("expected category slug mapped to id %d, got %v", news.ID, first.CategoryID)
	}
	if first.ChangeSummary != "seed data" {
		t.Fatalf("unexpected change summary %q", first.ChangeSummary)
	}
	if first.Media == nil || first.Media.Kind != string(domain.MediaImage) {
		t.Fatalf("expected image media on the hero announcement, got %+v", first.Media)
	}

	again, err := bootstrapdata.SeedAnnouncements(ctx, db, creator, 1, seed, nil)
	if err != nil {
		t.Fatalf("reseed announcements: %v", err)
	}
	if again != 0 || len(creator.inputs) != len(seed.Announcements) {
		t.Fatalf("non-empty table should not be reseeded")
	}
}
