package category

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	domain "newsroom-cms/backend/internal/domain/category"
	"newsroom-cms/backend/internal/infra/textutil"
	"newsroom-cms/backend/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrCategoryNotFound 表示分类不存在。
	ErrCategoryNotFound = errors.New("category not found")
	// ErrCategoryInUse 表示分类仍被公告引用，不能删除。
	ErrCategoryInUse = errors.New("category is referenced by announcements")
	// ErrSlugTaken 表示 slug 已被其他分类占用。
	ErrSlugTaken = errors.New("category slug already in use")
	// ErrInvalidInput 表示字段未通过校验。
	ErrInvalidInput = errors.New("invalid category input")
)

// Service 封装分类的增删改查。
type Service struct {
	categories    *repository.CategoryRepository
	announcements *repository.AnnouncementRepository
	logger        *zap.SugaredLogger
}

// NewService 构造分类服务。
func NewService(categories *repository.CategoryRepository, announcements *repository.AnnouncementRepository, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{categories: categories, announcements: announcements, logger: logger}
}

// Params 描述新增/更新分类时允许填写的字段。
type Params struct {
	Name        string
	Slug        string
	Description string
	SortOrder   int
}

// List 返回全部分类。
func (s *Service) List(ctx context.Context) ([]domain.Category, error) {
	return s.categories.List(ctx)
}

// Create 新增分类，slug 为空时由名称生成。
func (s *Service) Create(ctx context.Context, params Params) (*domain.Category, error) {
	return s.persist(ctx, 0, params)
}

// Update 更新分类。
func (s *Service) Update(ctx context.Context, id uint, params Params) (*domain.Category, error) {
	return s.persist(ctx, id, params)
}

// Delete 删除分类，仍被公告引用时返回 ErrCategoryInUse。
func (s *Service) Delete(ctx context.Context, id uint) error {
	count, err := s.announcements.CountByCategory(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrCategoryInUse
	}
	if err := s.categories.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("delete category: %w", err)
	}
	s.logger.Infow("category deleted", "category_id", id)
	return nil
}

func (s *Service) persist(ctx context.Context, id uint, params Params) (*domain.Category, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" || utf8.RuneCountInString(name) > 128 {
		return nil, fmt.Errorf("%w: name must be 1-128 characters", ErrInvalidInput)
	}
	slug := strings.TrimSpace(params.Slug)
	if slug == "" {
		slug = textutil.Slugify(name)
	}
	if !textutil.IsValidSlug(slug) {
		return nil, fmt.Errorf("%w: slug must be lowercase letters, digits and dashes", ErrInvalidInput)
	}

	var model *domain.Category
	if id != 0 {
		current, err := s.categories.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCategoryNotFound
			}
			return nil, fmt.Errorf("load category: %w", err)
		}
		model = current
	} else {
		model = &domain.Category{}
	}

	if existing, err := s.categories.FindBySlug(ctx, slug); err == nil && existing.ID != id {
		return nil, ErrSlugTaken
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check category slug: %w", err)
	}

	model.Name = name
	model.Slug = slug
	model.Description = strings.TrimSpace(params.Description)
	model.SortOrder = params.SortOrder

	var err error
	if id == 0 {
		err = s.categories.Create(ctx, model)
	} else {
		err = s.categories.Update(ctx, model)
	}
	if err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("save category: %w", err)
	}
	return model, nil
}
