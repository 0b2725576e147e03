/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 22:37:41
 * @FilePath: \newsroom-cms\backend\internal\service\user\service.go
 * @LastEditTime: 2025-10-20 17:42:10
 */
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "newsroom-cms/backend/internal/domain/user"
	"newsroom-cms/backend/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrUserNotFound 表示请求的用户不存在。
var ErrUserNotFound = errors.New("user not found")

// defaultSyncInterval 同一账号资料未变化时的最短回写间隔。
const defaultSyncInterval = 10 * time.Minute

// Profile 是认证令牌携带的编辑资料。
type Profile struct {
	ID          uint
	Username    string
	DisplayName string
	Email       string
	IsAdmin     bool
}

// Service 负责作者资料的查询，以及把外部认证服务的身份同步到本地 users 表，
// 公告作者署名从这张表读取。
type Service struct {
	users    *repository.UserRepository
	logger   *zap.SugaredLogger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	synced map[uint]syncEntry
}

type syncEntry struct {
	profile Profile
	at      time.Time
}

// NewService 构造用户服务层实例。
func NewService(users *repository.UserRepository, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		users:    users,
		logger:   logger,
		interval: defaultSyncInterval,
		now:      time.Now,
		synced:   make(map[uint]syncEntry),
	}
}

// GetProfile 返回指定用户的资料。
func (s *Service) GetProfile(ctx context.Context, userID uint) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// SyncProfile 在资料变化或超过回写间隔时写入 users 表，其余情况直接返回。
func (s *Service) SyncProfile(ctx context.Context, profile Profile) error {
	if profile.ID == 0 {
		return errors.New("sync profile: user id is required")
	}
	profile.Username = strings.TrimSpace(profile.Username)
	profile.DisplayName = strings.TrimSpace(profile.DisplayName)
	profile.Email = strings.TrimSpace(profile.Email)
	if profile.Username == "" {
		profile.Username = fmt.Sprintf("user-%d", profile.ID)
	}

	now := s.now()
	s.mu.Lock()
	entry, ok := s.synced[profile.ID]
	s.mu.Unlock()
	if ok && entry.profile == profile && now.Sub(entry.at) < s.interval {
		return nil
	}

	record := &domain.User{
		ID:          profile.ID,
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		Email:       emailOrPlaceholder(profile),
		IsAdmin:     profile.IsAdmin,
	}
	if err := s.users.Upsert(ctx, record); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	s.mu.Lock()
	s.synced[profile.ID] = syncEntry{profile: profile, at: now}
	s.mu.Unlock()
	s.logger.Debugw("author profile synced", "user_id", profile.ID, "username", profile.Username)
	return nil
}

// emailOrPlaceholder 保证唯一索引列不为空串，令牌未携带邮箱时使用占位地址。
func emailOrPlaceholder(p Profile) string {
	if p.Email != "" {
		return p.Email
	}
	return fmt.Sprintf("user-%d@users.invalid", p.ID)
}
