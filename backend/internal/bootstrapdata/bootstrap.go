package bootstrapdata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/domain/category"
	announcementsvc "newsroom-cms/backend/internal/service/announcement"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

const envSeedFile = "LOCAL_BOOTSTRAP_SEED_FILE"

//go:embed seed.yaml
var defaultSeed []byte

// Seed 描述本地模式的预置数据。
type Seed struct {
	Categories    []CategorySeed     `yaml:"categories"`
	Announcements []AnnouncementSeed `yaml:"announcements"`
}

// CategorySeed 预置分类。
type CategorySeed struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
	SortOrder   int    `yaml:"sort_order"`
}

// AnnouncementSeed 预置公告，Category 填分类 slug。
type AnnouncementSeed struct {
	Title     string `yaml:"title"`
	Slug      string `yaml:"slug"`
	Category  string `yaml:"category"`
	Content   string `yaml:"content"`
	Excerpt   string `yaml:"excerpt"`
	Image     string `yaml:"image"`
	Published bool   `yaml:"published"`
	Pinned    bool   `yaml:"pinned"`
	Hero      bool   `yaml:"hero"`
}

// AnnouncementCreator 由公告服务实现，保证预置公告同样带有 CREATE 修订。
type AnnouncementCreator interface {
	Create(ctx context.Context, actorID uint, input announcementsvc.CreateInput) (*domain.Announcement, error)
}

// ResolveSeedFile 返回 LOCAL_BOOTSTRAP_SEED_FILE 指定的文件，未设置时为空（使用内置数据）。
func ResolveSeedFile() string {
	return strings.TrimSpace(os.Getenv(envSeedFile))
}

// Load 解析预置数据。path 为空时使用内置的 seed.yaml。
func Load(path string) (*Seed, error) {
	raw := defaultSeed
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		raw = data
	}
	return Parse(raw)
}

// Parse 解析 YAML 并校验必填字段。
func Parse(raw []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	for i, item := range seed.Categories {
		if strings.TrimSpace(item.Name) == "" || strings.TrimSpace(item.Slug) == "" {
			return nil, fmt.Errorf("category #%d: name and slug are required", i+1)
		}
	}
	for i, item := range seed.Announcements {
		if strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Content) == "" {
			return nil, fmt.Errorf("announcement #%d: title and content are required", i+1)
		}
	}
	return &seed, nil
}

// SeedCategories 按 slug 导入缺失的分类，返回新增数量。
func SeedCategories(ctx context.Context, db *gorm.DB, seed *Seed, logger *zap.SugaredLogger) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if seed == nil {
		return 0, nil
	}

	created := 0
	for _, item := range seed.Categories {
		var existing category.Category
		err := db.WithContext(ctx).Where("slug = ?", item.Slug).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return created, fmt.Errorf("lookup category %s: %w", item.Slug, err)
		}
		record := category.Category{
			Name:        strings.TrimSpace(item.Name),
			Slug:        strings.TrimSpace(item.Slug),
			Description: strings.TrimSpace(item.Description),
			SortOrder:   item.SortOrder,
		}
		if err := db.WithContext(ctx).Create(&record).Error; err != nil {
			return created, fmt.Errorf("create category %s: %w", item.Slug, err)
		}
		created++
	}
	if created > 0 {
		logger.Infow("seeded categories", "count", created)
	}
	return created, nil
}

// SeedAnnouncements 仅在公告表为空时导入预置公告，返回新增数量。
func SeedAnnouncements(ctx context.Context, db *gorm.DB, creator AnnouncementCreator, authorID uint, seed *Seed, logger *zap.SugaredLogger) (int, error) {
	if db == nil || creator == nil {
		return 0, errors.New("db and creator are required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if seed == nil || len(seed.Announcements) == 0 {
		return 0, nil
	}
	if authorID == 0 {
		logger.Infow("skip announcement seed because author id missing")
		return 0, nil
	}

	var count int64
	if err := db.WithContext(ctx).Model(&domain.Announcement{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count announcements: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	var categories []category.Category
	if err := db.WithContext(ctx).Find(&categories).Error; err != nil {
		return 0, fmt.Errorf("list categories: %w", err)
	}
	bySlug := make(map[string]uint, len(categories))
	for _, item := range categories {
		bySlug[item.Slug] = item.ID
	}

	created := 0
	for _, item := range seed.Announcements {
		input := announcementsvc.CreateInput{
			Title:         item.Title,
			Slug:          item.Slug,
			Content:       item.Content,
			Excerpt:       item.Excerpt,
			IsPublished:   item.Published,
			IsPinned:      item.Pinned,
			IsHero:        item.Hero,
			ChangeSummary: "seed data",
		}
		if id, ok := bySlug[item.Category]; ok {
			categoryID := id
			input.CategoryID = &categoryID
		}
		if item.Image != "" {
			input.Media = &announcementsvc.MediaInput{Kind: string(domain.MediaImage), Path: item.Image}
		}
		if _, err := creator.Create(ctx, authorID, input); err != nil {
			return created, fmt.Errorf("create announcement %q: %w", item.Title, err)
		}
		created++
	}
	logger.Infow("seeded announcements", "count", created)
	return created, nil
}
