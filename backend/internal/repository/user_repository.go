/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 20:39:17
 * @FilePath: \newsroom-cms\backend\internal\repository\user_repository.go
 * @LastEditTime: 2025-10-20 11:31:05
 */
package repository

import (
	"context"
	"fmt"

	"newsroom-cms/backend/internal/domain/user"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository 封装编辑账号的数据访问方法，基于 GORM 实现。
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储实例，接收共享的 *gorm.DB。
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据主键查找用户。
func (r *UserRepository) FindByID(ctx context.Context, id uint) (*user.User, error) {
	var u user.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByIDs 批量查询用户，返回以 ID 为键的映射，缺失的 ID 不报错。
func (r *UserRepository) FindByIDs(ctx context.Context, ids []uint) (map[uint]user.User, error) {
	result := make(map[uint]user.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var users []user.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// Upsert 同步外部认证服务下发的账号资料，按主键插入或覆盖。
func (r *UserRepository) Upsert(ctx context.Context, u *user.User) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "display_name", "email", "avatar_url", "is_admin", "updated_at"}),
		}).
		Create(u).Error
}

// Delete 删除账号。
func (r *UserRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&user.User{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
