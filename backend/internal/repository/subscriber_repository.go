package repository

import (
	"context"
	"fmt"
	"strings"

	"newsroom-cms/backend/internal/domain/subscriber"

	"gorm.io/gorm"
)

// SubscriberListFilter 描述后台订阅者列表的过滤条件。
type SubscriberListFilter struct {
	Query  string
	Status string
	Limit  int
	Offset int
}

// SubscriberRepository 负责邮件订阅者的持久化。
type SubscriberRepository struct {
	db *gorm.DB
}

// NewSubscriberRepository 创建 SubscriberRepository。
func NewSubscriberRepository(db *gorm.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// Create 新增订阅者。
func (r *SubscriberRepository) Create(ctx context.Context, item *subscriber.Subscriber) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// Update 保存订阅者。
func (r *SubscriberRepository) Update(ctx context.Context, item *subscriber.Subscriber) error {
	return r.db.WithContext(ctx).Save(item).Error
}

// FindByID 根据主键查询订阅者。
func (r *SubscriberRepository) FindByID(ctx context.Context, id uint) (*subscriber.Subscriber, error) {
	var item subscriber.Subscriber
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// FindByEmail 根据邮箱查询订阅者。
func (r *SubscriberRepository) FindByEmail(ctx context.Context, email string) (*subscriber.Subscriber, error) {
	var item subscriber.Subscriber
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// FindByToken 根据退订令牌查询订阅者。
func (r *SubscriberRepository) FindByToken(ctx context.Context, token string) (*subscriber.Subscriber, error) {
	var item subscriber.Subscriber
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// List 分页查询订阅者并返回总数。
func (r *SubscriberRepository) List(ctx context.Context, filter SubscriberListFilter) ([]subscriber.Subscriber, int64, error) {
	query := r.db.WithContext(ctx).Model(&subscriber.Subscriber{})
	if q := strings.TrimSpace(filter.Query); q != "" {
		query = query.Where("email LIKE ?", "%"+q+"%")
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count subscribers: %w", err)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var items []subscriber.Subscriber
	if err := query.Order("created_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("list subscribers: %w", err)
	}
	return items, total, nil
}

// Delete 删除订阅者。
func (r *SubscriberRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&subscriber.Subscriber{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
