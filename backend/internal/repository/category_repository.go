package repository

import (
	"context"
	"fmt"

	"newsroom-cms/backend/internal/domain/category"

	"gorm.io/gorm"
)

// CategoryRepository 负责公告分类的持久化。
type CategoryRepository struct {
	db *gorm.DB
}

// NewCategoryRepository 创建 CategoryRepository。
func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// List 按排序值与主键升序返回全部分类。
func (r *CategoryRepository) List(ctx context.Context) ([]category.Category, error) {
	var items []category.Category
	if err := r.db.WithContext(ctx).Order("sort_order ASC, id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return items, nil
}

// FindByID 根据主键查询分类。
func (r *CategoryRepository) FindByID(ctx context.Context, id uint) (*category.Category, error) {
	var item category.Category
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// FindBySlug 根据 slug 查询分类。
func (r *CategoryRepository) FindBySlug(ctx context.Context, slug string) (*category.Category, error) {
	var item category.Category
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// Create 新增分类。
func (r *CategoryRepository) Create(ctx context.Context, item *category.Category) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// Update 保存分类。
func (r *CategoryRepository) Update(ctx context.Context, item *category.Category) error {
	return r.db.WithContext(ctx).Save(item).Error
}

// Delete 删除分类。
func (r *CategoryRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&category.Category{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Count 返回分类总数，用于判断是否需要写入初始数据。
func (r *CategoryRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&category.Category{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return total, nil
}
