package repository

import (
	"context"
	"errors"
	"fmt"

	"newsroom-cms/backend/internal/domain/announcement"

	"gorm.io/gorm"
)

// RevisionRepository 负责修订表的读写。修订只追加，不提供更新与单条删除。
type RevisionRepository struct {
	db *gorm.DB
}

// NewRevisionRepository 创建 RevisionRepository。
func NewRevisionRepository(db *gorm.DB) *RevisionRepository {
	return &RevisionRepository{db: db}
}

// WithDB 基于事务句柄派生仓储。
func (r *RevisionRepository) WithDB(db *gorm.DB) *RevisionRepository {
	return NewRevisionRepository(db)
}

// MaxVersion 返回公告当前最大版本号，没有修订时为 0。
func (r *RevisionRepository) MaxVersion(ctx context.Context, announcementID uint) (int, error) {
	var maxVersion int
	if err := r.db.WithContext(ctx).
		Model(&announcement.Revision{}).
		Where("announcement_id = ?", announcementID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&maxVersion).Error; err != nil {
		return 0, fmt.Errorf("query max version: %w", err)
	}
	return maxVersion, nil
}

// Create 追加一条修订。版本号冲突时原样返回唯一索引错误，由调用方判断是否重试。
func (r *RevisionRepository) Create(ctx context.Context, rev *announcement.Revision) error {
	if rev == nil {
		return errors.New("revision entity is nil")
	}
	return r.db.WithContext(ctx).Create(rev).Error
}

// FindByID 根据主键查询修订。
func (r *RevisionRepository) FindByID(ctx context.Context, id uint) (*announcement.Revision, error) {
	var rev announcement.Revision
	if err := r.db.WithContext(ctx).First(&rev, id).Error; err != nil {
		return nil, err
	}
	return &rev, nil
}

// FindLatest 返回公告版本号最大的修订。
func (r *RevisionRepository) FindLatest(ctx context.Context, announcementID uint) (*announcement.Revision, error) {
	var rev announcement.Revision
	if err := r.db.WithContext(ctx).
		Where("announcement_id = ?", announcementID).
		Order("version DESC").
		First(&rev).Error; err != nil {
		return nil, err
	}
	return &rev, nil
}

// ListByAnnouncement 按版本号倒序分页列出修订，并返回总数。
func (r *RevisionRepository) ListByAnnouncement(ctx context.Context, announcementID uint, limit, offset int) ([]announcement.Revision, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&announcement.Revision{}).
		Where("announcement_id = ?", announcementID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count revisions: %w", err)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var revisions []announcement.Revision
	if err := query.Order("version DESC").Find(&revisions).Error; err != nil {
		return nil, 0, fmt.Errorf("list revisions: %w", err)
	}
	return revisions, total, nil
}

// Count 返回公告的修订数量。
func (r *RevisionRepository) Count(ctx context.Context, announcementID uint) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&announcement.Revision{}).
		Where("announcement_id = ?", announcementID).
		Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count revisions: %w", err)
	}
	return total, nil
}
