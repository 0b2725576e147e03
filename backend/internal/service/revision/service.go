/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-20 13:02:11
 * @FilePath: \newsroom-cms\backend\internal\service\revision\service.go
 * @LastEditTime: 2025-10-20 13:02:11
 */
package revision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/infra/metrics"
	"newsroom-cms/backend/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 20 * time.Millisecond
	defaultPageSize    = 20
	defaultMaxPageSize = 100

	preRestoreSummary = "snapshot before restore"
)

// Config 控制版本分配的重试策略与分页上限。
type Config struct {
	MaxAttempts     int
	RetryBackoff    time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	} else if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultBackoff
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = defaultPageSize
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = defaultMaxPageSize
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	return c
}

// Service 维护公告的只追加修订账本：写入、分页查询与回滚。
// 版本号在事务内按 max+1 分配，同一公告的写入通过行锁串行化，唯一索引兜底，冲突时整体重试。
type Service struct {
	db            *gorm.DB
	announcements *repository.AnnouncementRepository
	revisions     *repository.RevisionRepository
	cfg           Config
	logger        *zap.SugaredLogger
	now           func() time.Time
}

// NewService 创建修订账本服务。
func NewService(db *gorm.DB, announcements *repository.AnnouncementRepository, revisions *repository.RevisionRepository, cfg Config, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		db:            db,
		announcements: announcements,
		revisions:     revisions,
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

// RecordInput 描述一次修订写入。
type RecordInput struct {
	AnnouncementID uint
	Snapshot       announcement.Snapshot
	ChangeType     announcement.ChangeType
	ActorID        uint
	Summary        string
}

// Transact 在单个数据库事务中执行 fn。fn 返回唯一索引冲突时按配置退避重试，
// 重试耗尽后返回 announcement.ErrConflict。fn 可能被执行多次，不应包含事务外副作用。
func (s *Service) Transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !repository.IsDuplicateKey(err) && !errors.Is(err, announcement.ErrConflict) {
			return err
		}
		lastErr = err
		if attempt == s.cfg.MaxAttempts {
			break
		}
		metrics.RecordVersionConflict("retried")
		s.logger.Debugw("version allocation conflict, retrying", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	metrics.RecordVersionConflict("exhausted")
	s.logger.Warnw("version allocation retries exhausted", "attempts", s.cfg.MaxAttempts, "error", lastErr)
	return fmt.Errorf("%w: %v", announcement.ErrConflict, lastErr)
}

// Lock 在事务内读取并锁定公告行，不存在时返回 announcement.ErrNotFound。
func (s *Service) Lock(ctx context.Context, tx *gorm.DB, announcementID uint) (*announcement.Announcement, error) {
	entity, err := s.announcements.WithDB(tx).FindByIDForUpdate(ctx, announcementID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, announcement.ErrNotFound
		}
		return nil, fmt.Errorf("lock announcement: %w", err)
	}
	return entity, nil
}

// Record 在调用方事务内追加一条修订。调用方需先通过 Lock 锁定公告行（新建公告除外），
// 以保证同一公告的版本分配串行。
func (s *Service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*announcement.Revision, error) {
	if input.AnnouncementID == 0 {
		return nil, announcement.NewValidationError("announcement_id", "announcement id is required")
	}
	if !input.ChangeType.Valid() {
		return nil, announcement.NewValidationError("change_type", fmt.Sprintf("unknown change type %q", input.ChangeType))
	}
	if input.ActorID == 0 {
		return nil, announcement.NewValidationError("actor_id", "actor id is required")
	}
	if strings.TrimSpace(input.Snapshot.Title) == "" {
		return nil, announcement.NewValidationError("title", "title is required")
	}

	revisions := s.revisions.WithDB(tx)
	current, err := revisions.MaxVersion(ctx, input.AnnouncementID)
	if err != nil {
		return nil, err
	}
	if current == 0 && input.ChangeType != announcement.ChangeCreate {
		return nil, announcement.NewValidationError("change_type", "first revision must be CREATE")
	}

	rev := &announcement.Revision{
		AnnouncementID: input.AnnouncementID,
		Version:        current + 1,
		Title:          input.Snapshot.Title,
		Content:        input.Snapshot.Content,
		Excerpt:        input.Snapshot.Excerpt,
		ImagePath:      input.Snapshot.ImagePath,
		ChangeType:     input.ChangeType,
		ChangeSummary:  strings.TrimSpace(input.Summary),
		AuthorID:       input.ActorID,
		CreatedAt:      s.now(),
	}
	if err := revisions.Create(ctx, rev); err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, err
		}
		return nil, fmt.Errorf("insert revision: %w", err)
	}
	metrics.RecordRevision(string(input.ChangeType))
	return rev, nil
}

// Page 是分页查询结果。
type Page struct {
	Items  []announcement.Revision `json:"items"`
	Total  int64                   `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// List 按版本号倒序分页返回修订，附带总数。
func (s *Service) List(ctx context.Context, announcementID uint, limit, offset int) (*Page, error) {
	if _, err := s.announcements.FindByID(ctx, announcementID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, announcement.ErrNotFound
		}
		return nil, fmt.Errorf("load announcement: %w", err)
	}

	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.revisions.ListByAnnouncement(ctx, announcementID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// PageSizeLimits 返回默认与最大分页大小，供 handler 换算页码。
func (s *Service) PageSizeLimits() (int, int) {
	return s.cfg.DefaultPageSize, s.cfg.MaxPageSize
}

// Get 返回公告下的单条修订，修订不属于该公告时视为不存在。
func (s *Service) Get(ctx context.Context, announcementID, revisionID uint) (*announcement.Revision, error) {
	rev, err := s.revisions.FindByID(ctx, revisionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, announcement.ErrNotFound
		}
		return nil, fmt.Errorf("load revision: %w", err)
	}
	if rev.AnnouncementID != announcementID {
		return nil, announcement.ErrNotFound
	}
	return rev, nil
}

// RestoreResult 是回滚结果。
type RestoreResult struct {
	Announcement  *announcement.Announcement `json:"announcement"`
	Revision      *announcement.Revision     `json:"revision"`
	PreRestore    *announcement.Revision     `json:"pre_restore,omitempty"`
	RevisionCount int64                      `json:"revision_count"`
}

// Restore 将公告回滚到指定修订。
// 若当前内容与最新修订不一致，先把当前内容记为一条 EDIT 修订，再写回目标快照并追加 RESTORE 修订，
// 整个过程位于同一事务内，失败时不产生任何变更。
func (s *Service) Restore(ctx context.Context, announcementID, revisionID, actorID uint) (*RestoreResult, error) {
	if actorID == 0 {
		metrics.RecordRestore("invalid")
		return nil, announcement.NewValidationError("actor_id", "actor id is required")
	}

	var result *RestoreResult
	err := s.Transact(ctx, func(tx *gorm.DB) error {
		current, err := s.Lock(ctx, tx, announcementID)
		if err != nil {
			return err
		}

		revisions := s.revisions.WithDB(tx)
		target, err := revisions.FindByID(ctx, revisionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return announcement.ErrNotFound
			}
			return fmt.Errorf("load revision: %w", err)
		}
		if target.AnnouncementID != announcementID {
			return announcement.ErrNotFound
		}

		var preRestore *announcement.Revision
		latest, err := revisions.FindLatest(ctx, announcementID)
		switch {
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("load latest revision: %w", err)
		case err != nil || latest.Snapshot() != current.Snapshot():
			changeType := announcement.ChangeEdit
			if err != nil {
				changeType = announcement.ChangeCreate
			}
			preRestore, err = s.Record(ctx, tx, RecordInput{
				AnnouncementID: announcementID,
				Snapshot:       current.Snapshot(),
				ChangeType:     changeType,
				ActorID:        actorID,
				Summary:        preRestoreSummary,
			})
			if err != nil {
				return err
			}
		}

		current.ApplySnapshot(target.Snapshot())
		current.UpdatedAt = s.now()
		if err := s.announcements.WithDB(tx).Update(ctx, current); err != nil {
			return err
		}

		restored, err := s.Record(ctx, tx, RecordInput{
			AnnouncementID: announcementID,
			Snapshot:       current.Snapshot(),
			ChangeType:     announcement.ChangeRestore,
			ActorID:        actorID,
			Summary:        fmt.Sprintf("restored from version %d", target.Version),
		})
		if err != nil {
			return err
		}

		count, err := revisions.Count(ctx, announcementID)
		if err != nil {
			return err
		}

		result = &RestoreResult{
			Announcement:  current,
			Revision:      restored,
			PreRestore:    preRestore,
			RevisionCount: count,
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, announcement.ErrNotFound):
			metrics.RecordRestore("not_found")
		case errors.Is(err, announcement.ErrConflict):
			metrics.RecordRestore("conflict")
		default:
			metrics.RecordRestore("error")
			s.logger.Errorw("restore announcement failed", "announcement_id", announcementID, "revision_id", revisionID, "error", err)
		}
		return nil, err
	}

	metrics.RecordRestore("ok")
	s.logger.Infow("announcement restored",
		"announcement_id", announcementID,
		"revision_id", revisionID,
		"version", result.Revision.Version,
		"actor_id", actorID,
	)
	return result, nil
}
