/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-20 14:10:52
 * @FilePath: \newsroom-cms\backend\internal\service\announcement\service.go
 * @LastEditTime: 2025-10-20 14:10:52
 */
package announcement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/infra/textutil"
	"newsroom-cms/backend/internal/repository"
	"newsroom-cms/backend/internal/service/revision"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTitleLength   = 255
	maxSummaryLength = 512
)

// ViewRecorder 负责阅读数累加，实现需保证失败不影响调用方。
type ViewRecorder interface {
	Increment(ctx context.Context, announcementID uint, visitor string)
	Pending(ctx context.Context, announcementID uint) uint64
}

// CacheInvalidator 在公开内容变化后清理下游缓存（如 RSS）。
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// Config 描述公告服务的分页与摘要参数。
type Config struct {
	AdminDefaultPageSize  int
	AdminMaxPageSize      int
	PublicDefaultPageSize int
	PublicMaxPageSize     int
	ExcerptLength         int
}

func (c Config) normalized() Config {
	if c.AdminMaxPageSize <= 0 {
		c.AdminMaxPageSize = 100
	}
	if c.AdminDefaultPageSize <= 0 || c.AdminDefaultPageSize > c.AdminMaxPageSize {
		c.AdminDefaultPageSize = min(20, c.AdminMaxPageSize)
	}
	if c.PublicMaxPageSize <= 0 {
		c.PublicMaxPageSize = 50
	}
	if c.PublicDefaultPageSize <= 0 || c.PublicDefaultPageSize > c.PublicMaxPageSize {
		c.PublicDefaultPageSize = min(10, c.PublicMaxPageSize)
	}
	if c.ExcerptLength <= 0 {
		c.ExcerptLength = textutil.DefaultExcerptLength
	}
	return c
}

// Service 负责公告的写入、后台查询与公开读取。每次写入都与对应修订在同一事务内提交。
type Service struct {
	announcements *repository.AnnouncementRepository
	categories    *repository.CategoryRepository
	users         *repository.UserRepository
	ledger        *revision.Service
	views         ViewRecorder
	cache         CacheInvalidator
	cfg           Config
	logger        *zap.SugaredLogger
	now           func() time.Time
}

// NewService 创建公告服务。views 与 cache 可为 nil。
func NewService(
	announcements *repository.AnnouncementRepository,
	categories *repository.CategoryRepository,
	users *repository.UserRepository,
	ledger *revision.Service,
	views ViewRecorder,
	cache CacheInvalidator,
	cfg Config,
	logger *zap.SugaredLogger,
) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		announcements: announcements,
		categories:    categories,
		users:         users,
		ledger:        ledger,
		views:         views,
		cache:         cache,
		cfg:           cfg.normalized(),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock 替换时间来源，测试使用。
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// MediaInput 是媒体字段的请求载荷，Kind 为空表示无媒体。
type MediaInput struct {
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

// CreateInput 描述新建公告允许填写的字段。
type CreateInput struct {
	Title         string
	Slug          string
	Content       string
	Excerpt       string
	CategoryID    *uint
	Media         *MediaInput
	IsPublished   bool
	IsPinned      bool
	IsHero        bool
	ScheduledAt   *time.Time
	TakedownAt    *time.Time
	ChangeSummary string
}

// UpdateInput 描述部分更新，nil 字段保持不变；Clear* 用于显式清空可空字段。
type UpdateInput struct {
	Title         *string
	Slug          *string
	Content       *string
	Excerpt       *string
	CategoryID    *uint
	ClearCategory bool
	Media         *MediaInput
	IsPublished   *bool
	IsPinned      *bool
	IsHero        *bool
	ScheduledAt   *time.Time
	ClearSchedule bool
	TakedownAt    *time.Time
	ClearTakedown bool
	ChangeSummary string
}

// Create 新建公告（默认草稿），并在同一事务内写入 CREATE 修订。
func (s *Service) Create(ctx context.Context, actorID uint, input CreateInput) (*domain.Announcement, error) {
	if actorID == 0 {
		return nil, domain.NewValidationError("actor_id", "actor id is required")
	}
	title, err := validateTitle(input.Title)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domain.NewValidationError("content", "content is required")
	}
	requestedSlug, err := validateRequestedSlug(input.Slug)
	if err != nil {
		return nil, err
	}
	media, err := buildMedia(input.Media)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCategory(ctx, input.CategoryID); err != nil {
		return nil, err
	}
	summary, err := validateSummary(input.ChangeSummary)
	if err != nil {
		return nil, err
	}

	excerpt := strings.TrimSpace(input.Excerpt)
	if excerpt == "" {
		excerpt = textutil.Excerpt(content, s.cfg.ExcerptLength)
	}
	scheduledAt := normalizeTime(input.ScheduledAt)
	takedownAt := normalizeTime(input.TakedownAt)
	s.warnInvertedWindow(0, scheduledAt, takedownAt)

	var created *domain.Announcement
	err = s.ledger.Transact(ctx, func(tx *gorm.DB) error {
		repo := s.announcements.WithDB(tx)
		slug, err := s.allocateSlug(ctx, repo, requestedSlug, title, 0)
		if err != nil {
			return err
		}
		if input.IsHero {
			if err := repo.ClearHeroExcept(ctx, 0); err != nil {
				return err
			}
		}

		now := s.now()
		entity := &domain.Announcement{
			Title:       title,
			Slug:        slug,
			Content:     content,
			Excerpt:     excerpt,
			CategoryID:  input.CategoryID,
			AuthorID:    actorID,
			Media:       domain.MediaField{Media: media},
			IsPublished: input.IsPublished,
			IsPinned:    input.IsPinned,
			IsHero:      input.IsHero,
			ScheduledAt: scheduledAt,
			TakedownAt:  takedownAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.Create(ctx, entity); err != nil {
			return err
		}
		if _, err := s.ledger.Record(ctx, tx, revision.RecordInput{
			AnnouncementID: entity.ID,
			Snapshot:       entity.Snapshot(),
			ChangeType:     domain.ChangeCreate,
			ActorID:        actorID,
			Summary:        summary,
		}); err != nil {
			return err
		}
		created = entity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.logger.Infow("announcement created", "announcement_id", created.ID, "slug", created.Slug, "actor_id", actorID)
	return created, nil
}

// Update 按字段更新公告并记录修订：发布开关 false→true 记为 PUBLISH，true→false 记为 UNPUBLISH，其余记为 EDIT。
func (s *Service) Update(ctx context.Context, actorID, id uint, input UpdateInput) (*domain.Announcement, error) {
	if actorID == 0 {
		return nil, domain.NewValidationError("actor_id", "actor id is required")
	}
	var (
		title, content, requestedSlug string
		err                           error
	)
	if input.Title != nil {
		if title, err = validateTitle(*input.Title); err != nil {
			return nil, err
		}
	}
	if input.Content != nil {
		content = strings.TrimSpace(*input.Content)
		if content == "" {
			return nil, domain.NewValidationError("content", "content is required")
		}
	}
	if input.Slug != nil {
		if requestedSlug, err = validateRequestedSlug(*input.Slug); err != nil {
			return nil, err
		}
	}
	var media domain.Media
	if input.Media != nil {
		if media, err = buildMedia(input.Media); err != nil {
			return nil, err
		}
	}
	if input.CategoryID != nil && !input.ClearCategory {
		if err := s.ensureCategory(ctx, input.CategoryID); err != nil {
			return nil, err
		}
	}
	summary, err := validateSummary(input.ChangeSummary)
	if err != nil {
		return nil, err
	}

	var updated *domain.Announcement
	err = s.ledger.Transact(ctx, func(tx *gorm.DB) error {
		current, err := s.ledger.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		repo := s.announcements.WithDB(tx)
		wasPublished := current.IsPublished
		autoExcerpt := current.Excerpt == textutil.Excerpt(current.Content, s.cfg.ExcerptLength)

		if input.Title != nil {
			current.Title = title
		}
		if input.Content != nil {
			current.Content = content
		}
		switch {
		case input.Excerpt != nil && strings.TrimSpace(*input.Excerpt) != "":
			current.Excerpt = strings.TrimSpace(*input.Excerpt)
		case input.Excerpt != nil, input.Content != nil && autoExcerpt:
			current.Excerpt = textutil.Excerpt(current.Content, s.cfg.ExcerptLength)
		}
		if input.Slug != nil {
			slug, err := s.allocateSlug(ctx, repo, requestedSlug, current.Title, current.ID)
			if err != nil {
				return err
			}
			current.Slug = slug
		}
		switch {
		case input.ClearCategory:
			current.CategoryID = nil
		case input.CategoryID != nil:
			categoryID := *input.CategoryID
			current.CategoryID = &categoryID
		}
		if input.Media != nil {
			current.Media = domain.MediaField{Media: media}
		}
		if input.IsPublished != nil {
			current.IsPublished = *input.IsPublished
		}
		if input.IsPinned != nil {
			current.IsPinned = *input.IsPinned
		}
		if input.IsHero != nil {
			current.IsHero = *input.IsHero
			if current.IsHero {
				if err := repo.ClearHeroExcept(ctx, current.ID); err != nil {
					return err
				}
			}
		}
		switch {
		case input.ClearSchedule:
			current.ScheduledAt = nil
		case input.ScheduledAt != nil:
			current.ScheduledAt = normalizeTime(input.ScheduledAt)
		}
		switch {
		case input.ClearTakedown:
			current.TakedownAt = nil
		case input.TakedownAt != nil:
			current.TakedownAt = normalizeTime(input.TakedownAt)
		}
		s.warnInvertedWindow(current.ID, current.ScheduledAt, current.TakedownAt)

		current.UpdatedAt = s.now()
		if err := repo.Update(ctx, current); err != nil {
			return err
		}
		if _, err := s.ledger.Record(ctx, tx, revision.RecordInput{
			AnnouncementID: current.ID,
			Snapshot:       current.Snapshot(),
			ChangeType:     changeTypeFor(wasPublished, current.IsPublished),
			ActorID:        actorID,
			Summary:        summary,
		}); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.logger.Infow("announcement updated", "announcement_id", id, "actor_id", actorID)
	return updated, nil
}

// SetPublished 切换发布开关并记录 PUBLISH/UNPUBLISH 修订；开关已处于目标值时不做任何写入。
func (s *Service) SetPublished(ctx context.Context, actorID, id uint, publish bool, changeSummary string) (*domain.Announcement, bool, error) {
	if actorID == 0 {
		return nil, false, domain.NewValidationError("actor_id", "actor id is required")
	}
	summary, err := validateSummary(changeSummary)
	if err != nil {
		return nil, false, err
	}

	var (
		result  *domain.Announcement
		changed bool
	)
	err = s.ledger.Transact(ctx, func(tx *gorm.DB) error {
		current, err := s.ledger.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.IsPublished == publish {
			result, changed = current, false
			return nil
		}
		wasPublished := current.IsPublished
		current.IsPublished = publish
		current.UpdatedAt = s.now()
		if err := s.announcements.WithDB(tx).Update(ctx, current); err != nil {
			return err
		}
		if _, err := s.ledger.Record(ctx, tx, revision.RecordInput{
			AnnouncementID: current.ID,
			Snapshot:       current.Snapshot(),
			ChangeType:     changeTypeFor(wasPublished, publish),
			ActorID:        actorID,
			Summary:        summary,
		}); err != nil {
			return err
		}
		result, changed = current, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.invalidate(ctx)
		s.logger.Infow("announcement publish flag changed", "announcement_id", id, "published", publish, "actor_id", actorID)
	}
	return result, changed, nil
}

// Delete 物理删除公告及其修订，删除本身不产生修订。
func (s *Service) Delete(ctx context.Context, actorID, id uint) error {
	if err := s.announcements.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete announcement: %w", err)
	}
	s.invalidate(ctx)
	s.logger.Infow("announcement deleted", "announcement_id", id, "actor_id", actorID)
	return nil
}

// Restore 回滚到指定修订，成功后刷新公开缓存。
func (s *Service) Restore(ctx context.Context, actorID, id, revisionID uint) (*revision.RestoreResult, error) {
	result, err := s.ledger.Restore(ctx, id, revisionID, actorID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return result, nil
}

func changeTypeFor(wasPublished, isPublished bool) domain.ChangeType {
	switch {
	case !wasPublished && isPublished:
		return domain.ChangePublish
	case wasPublished && !isPublished:
		return domain.ChangeUnpublish
	default:
		return domain.ChangeEdit
	}
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", domain.NewValidationError("title", "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", domain.NewValidationError("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	return title, nil
}

func validateSummary(raw string) (string, error) {
	summary := strings.TrimSpace(raw)
	if utf8.RuneCountInString(summary) > maxSummaryLength {
		return "", domain.NewValidationError("change_summary", fmt.Sprintf("change summary must be at most %d characters", maxSummaryLength))
	}
	return summary, nil
}

func buildMedia(input *MediaInput) (domain.Media, error) {
	if input == nil {
		return nil, nil
	}
	return domain.NewMedia(domain.MediaKind(strings.TrimSpace(input.Kind)), input.Path, input.Format, input.URL)
}

func (s *Service) ensureCategory(ctx context.Context, categoryID *uint) error {
	if categoryID == nil || s.categories == nil {
		return nil
	}
	if *categoryID == 0 {
		return domain.NewValidationError("category_id", "category id must be positive")
	}
	if _, err := s.categories.FindByID(ctx, *categoryID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewValidationError("category_id", "category does not exist")
		}
		return fmt.Errorf("load category: %w", err)
	}
	return nil
}

// normalizeTime 统一以 UTC 秒精度存储定时字段，保证 SQL 过滤与内存判定一致。
func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC().Truncate(time.Second)
	return &v
}

func (s *Service) warnInvertedWindow(id uint, scheduledAt, takedownAt *time.Time) {
	if scheduledAt != nil && takedownAt != nil && !takedownAt.After(*scheduledAt) {
		s.logger.Warnw("takedown is not after schedule, announcement will stay hidden",
			"announcement_id", id, "scheduled_at", scheduledAt, "takedown_at", takedownAt)
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}
