/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-20 11:20:31
 * @FilePath: \newsroom-cms\backend\internal\repository\announcement_repository.go
 * @LastEditTime: 2025-10-20 11:20:31
 */
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"newsroom-cms/backend/internal/domain/announcement"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnnouncementListFilter 描述后台与公开列表共用的过滤条件。
type AnnouncementListFilter struct {
	Query      string
	CategoryID uint
	State      announcement.State // 为空表示不过滤
	Now        time.Time          // State 过滤使用的参考时间
	PinnedOnly bool
	Limit      int
	Offset     int
	PublicSort bool // true 时置顶优先、按创建时间倒序
}

// AnnouncementRepository 负责公告表的持久化操作。
type AnnouncementRepository struct {
	db *gorm.DB
}

// NewAnnouncementRepository 创建 AnnouncementRepository。
func NewAnnouncementRepository(db *gorm.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// WithDB 基于传入的 gorm.DB 派生新的仓储，用于事务场景。
func (r *AnnouncementRepository) WithDB(db *gorm.DB) *AnnouncementRepository {
	return NewAnnouncementRepository(db)
}

// Create 新增公告。
func (r *AnnouncementRepository) Create(ctx context.Context, entity *announcement.Announcement) error {
	if entity == nil {
		return errors.New("announcement entity is nil")
	}
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("create announcement: %w", err)
	}
	return nil
}

// Update 保存公告全部字段。
func (r *AnnouncementRepository) Update(ctx context.Context, entity *announcement.Announcement) error {
	if entity == nil {
		return errors.New("announcement entity is nil")
	}
	if err := r.db.WithContext(ctx).Save(entity).Error; err != nil {
		return fmt.Errorf("update announcement: %w", err)
	}
	return nil
}

// FindByID 根据主键查询公告。
func (r *AnnouncementRepository) FindByID(ctx context.Context, id uint) (*announcement.Announcement, error) {
	var entity announcement.Announcement
	if err := r.db.WithContext(ctx).First(&entity, id).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// FindByIDForUpdate 在事务内读取并锁定公告行，使同一公告的版本分配串行化。
// SQLite 不支持行锁，写事务本身即为串行。
func (r *AnnouncementRepository) FindByIDForUpdate(ctx context.Context, id uint) (*announcement.Announcement, error) {
	query := r.db.WithContext(ctx)
	if query.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var entity announcement.Announcement
	if err := query.First(&entity, id).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// FindBySlug 根据 slug 查询公告。
func (r *AnnouncementRepository) FindBySlug(ctx context.Context, slug string) (*announcement.Announcement, error) {
	var entity announcement.Announcement
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&entity).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// SlugExists 判断 slug 是否已被其他公告占用。
func (r *AnnouncementRepository) SlugExists(ctx context.Context, slug string, excludeID uint) (bool, error) {
	query := r.db.WithContext(ctx).Model(&announcement.Announcement{}).Where("slug = ?", slug)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return count > 0, nil
}

// List 返回符合条件的公告与总数。State 过滤在 SQL 中复刻可见性判定的优先级。
func (r *AnnouncementRepository) List(ctx context.Context, filter AnnouncementListFilter) ([]announcement.Announcement, int64, error) {
	query := r.db.WithContext(ctx).Model(&announcement.Announcement{})

	if q := strings.TrimSpace(filter.Query); q != "" {
		keyword := "%" + q + "%"
		query = query.Where("(title LIKE ? OR excerpt LIKE ? OR slug LIKE ?)", keyword, keyword, keyword)
	}
	if filter.CategoryID != 0 {
		query = query.Where("category_id = ?", filter.CategoryID)
	}
	if filter.PinnedOnly {
		query = query.Where("is_pinned = ?", true)
	}
	if filter.State != "" {
		now := filter.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		query = applyStateFilter(query, filter.State, now)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count announcements: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.PublicSort {
		query = query.Order("is_pinned DESC, created_at DESC, id DESC")
	} else {
		query = query.Order("updated_at DESC, id DESC")
	}

	var records []announcement.Announcement
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("list announcements: %w", err)
	}
	return records, total, nil
}

// applyStateFilter 与 announcement.ResolveState 保持同一判定顺序：takedown > schedule > is_published。
func applyStateFilter(query *gorm.DB, state announcement.State, now time.Time) *gorm.DB {
	const (
		takenDown  = "(takedown_at IS NOT NULL AND takedown_at <= ?)"
		notTaken   = "(takedown_at IS NULL OR takedown_at > ?)"
		pending    = "(scheduled_at IS NOT NULL AND scheduled_at > ?)"
		notPending = "(scheduled_at IS NULL OR scheduled_at <= ?)"
	)
	switch state {
	case announcement.StateTakenDown:
		return query.Where(takenDown, now)
	case announcement.StateScheduled:
		return query.Where(notTaken, now).Where(pending, now)
	case announcement.StatePublished:
		return query.Where(notTaken, now).Where(notPending, now).Where("is_published = ?", true)
	case announcement.StateDraft:
		return query.Where(notTaken, now).Where(notPending, now).Where("is_published = ?", false)
	default:
		return query
	}
}

// ListBoundaryCrossings 返回定时发布或定时下线时间落在 (from, to] 区间内的公告。
func (r *AnnouncementRepository) ListBoundaryCrossings(ctx context.Context, from, to time.Time) ([]announcement.Announcement, error) {
	var records []announcement.Announcement
	if err := r.db.WithContext(ctx).
		Where("(scheduled_at > ? AND scheduled_at <= ?) OR (takedown_at > ? AND takedown_at <= ?)", from, to, from, to).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list boundary crossings: %w", err)
	}
	return records, nil
}

// IncrementViewCount 原子累加阅读数，不更新 updated_at。
func (r *AnnouncementRepository) IncrementViewCount(ctx context.Context, id uint, delta int64) error {
	if delta <= 0 {
		return nil
	}
	result := r.db.WithContext(ctx).
		Model(&announcement.Announcement{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", delta))
	if result.Error != nil {
		return fmt.Errorf("increment view count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearHeroExcept 取消除 keepID 之外所有公告的头图标记，保证头图位唯一。
func (r *AnnouncementRepository) ClearHeroExcept(ctx context.Context, keepID uint) error {
	query := r.db.WithContext(ctx).Model(&announcement.Announcement{}).Where("is_hero = ?", true)
	if keepID != 0 {
		query = query.Where("id <> ?", keepID)
	}
	if err := query.UpdateColumn("is_hero", false).Error; err != nil {
		return fmt.Errorf("clear hero flag: %w", err)
	}
	return nil
}

// CountByCategory 统计某分类下的公告数量。
func (r *AnnouncementRepository) CountByCategory(ctx context.Context, categoryID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&announcement.Announcement{}).
		Where("category_id = ?", categoryID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count announcements by category: %w", err)
	}
	return count, nil
}

// Delete 物理删除公告及其修订记录。
func (r *AnnouncementRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("announcement_id = ?", id).Delete(&announcement.Revision{}).Error; err != nil {
			return fmt.Errorf("delete revisions: %w", err)
		}
		res := tx.Delete(&announcement.Announcement{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete announcement: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
