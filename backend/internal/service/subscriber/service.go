package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	domain "newsroom-cms/backend/internal/domain/subscriber"
	"newsroom-cms/backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrSubscriberNotFound 表示订阅者不存在或退订令牌无效。
	ErrSubscriberNotFound = errors.New("subscriber not found")
	// ErrInvalidEmail 表示邮箱格式不合法。
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidStatus 表示状态值不合法。
	ErrInvalidStatus = errors.New("invalid subscriber status")
	// ErrSubscriberBlocked 表示该邮箱已被管理员屏蔽。
	ErrSubscriberBlocked = errors.New("subscriber is blocked")
)

// Service 管理邮件简报订阅，实际投递由外部服务完成。
type Service struct {
	subscribers *repository.SubscriberRepository
	categories  *repository.CategoryRepository
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewService 构造订阅服务。
func NewService(subscribers *repository.SubscriberRepository, categories *repository.CategoryRepository, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		subscribers: subscribers,
		categories:  categories,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SubscribeInput 描述公开订阅请求。
type SubscribeInput struct {
	Email       string
	CategoryIDs []uint
	SourceIP    string
}

// SubscribeResult 返回订阅结果，Created 为 false 表示邮箱已存在。
type SubscribeResult struct {
	Subscriber *domain.Subscriber
	Created    bool
}

// Subscribe 订阅简报。已订阅的邮箱幂等返回；已退订的邮箱重新激活并更换令牌。
func (s *Service) Subscribe(ctx context.Context, input SubscribeInput) (*SubscribeResult, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	categories, err := s.encodeCategories(ctx, input.CategoryIDs)
	if err != nil {
		return nil, err
	}

	existing, err := s.subscribers.FindByEmail(ctx, email)
	switch {
	case err == nil:
		switch existing.Status {
		case domain.StatusBlocked:
			return nil, ErrSubscriberBlocked
		case domain.StatusUnsubscribed:
			existing.Status = domain.StatusActive
			existing.Token = uuid.NewString()
			existing.UnsubscribedAt = nil
		}
		if len(input.CategoryIDs) > 0 {
			existing.Categories = categories
		}
		if err := s.subscribers.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("update subscriber: %w", err)
		}
		return &SubscribeResult{Subscriber: existing}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("load subscriber: %w", err)
	}

	item := &domain.Subscriber{
		Email:      email,
		Status:     domain.StatusActive,
		Token:      uuid.NewString(),
		Categories: categories,
		SourceIP:   input.SourceIP,
	}
	if err := s.subscribers.Create(ctx, item); err != nil {
		if repository.IsDuplicateKey(err) {
			// 并发订阅同一邮箱，按已存在处理。
			current, findErr := s.subscribers.FindByEmail(ctx, email)
			if findErr == nil {
				return &SubscribeResult{Subscriber: current}, nil
			}
		}
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	s.logger.Infow("newsletter subscribed", "subscriber_id", item.ID)
	return &SubscribeResult{Subscriber: item, Created: true}, nil
}

// Unsubscribe 通过退订令牌退订。
func (s *Service) Unsubscribe(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrSubscriberNotFound
	}
	item, err := s.subscribers.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriberNotFound
		}
		return fmt.Errorf("load subscriber: %w", err)
	}
	if item.Status == domain.StatusUnsubscribed {
		return nil
	}
	now := s.now()
	item.Status = domain.StatusUnsubscribed
	item.UnsubscribedAt = &now
	if err := s.subscribers.Update(ctx, item); err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	s.logger.Infow("newsletter unsubscribed", "subscriber_id", item.ID)
	return nil
}

// ListFilter 描述后台列表过滤条件。
type ListFilter struct {
	Query    string
	Status   string
	Page     int
	PageSize int
}

// ListResult 描述后台分页结果。
type ListResult struct {
	Items    []domain.Subscriber `json:"items"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Total    int64               `json:"total"`
}

// List 分页查询订阅者。
func (s *Service) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.Status != "" && !domain.ValidStatus(filter.Status) {
		return nil, ErrInvalidStatus
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	items, total, err := s.subscribers.List(ctx, repository.SubscriberListFilter{
		Query:  filter.Query,
		Status: filter.Status,
		Limit:  filter.PageSize,
		Offset: (filter.Page - 1) * filter.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return &ListResult{Items: items, Page: filter.Page, PageSize: filter.PageSize, Total: total}, nil
}

// SetStatus 由管理员修改订阅状态。
func (s *Service) SetStatus(ctx context.Context, id uint, status string) (*domain.Subscriber, error) {
	if !domain.ValidStatus(status) {
		return nil, ErrInvalidStatus
	}
	item, err := s.subscribers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("load subscriber: %w", err)
	}
	item.Status = status
	if status == domain.StatusUnsubscribed {
		now := s.now()
		item.UnsubscribedAt = &now
	} else {
		item.UnsubscribedAt = nil
	}
	if err := s.subscribers.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("update subscriber: %w", err)
	}
	return item, nil
}

// Delete 删除订阅者。
func (s *Service) Delete(ctx context.Context, id uint) error {
	if err := s.subscribers.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriberNotFound
		}
		return fmt.Errorf("delete subscriber: %w", err)
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > 255 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// encodeCategories 过滤掉不存在的分类后编码为 JSON 数组。
func (s *Service) encodeCategories(ctx context.Context, ids []uint) (datatypes.JSON, error) {
	valid := make([]uint, 0, len(ids))
	if len(ids) > 0 && s.categories != nil {
		list, err := s.categories.List(ctx)
		if err != nil {
			return nil, err
		}
		known := make(map[uint]struct{}, len(list))
		for _, c := range list {
			known[c.ID] = struct{}{}
		}
		seen := make(map[uint]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := known[id]; !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			valid = append(valid, id)
		}
	}
	data, err := json.Marshal(valid)
	if err != nil {
		return nil, fmt.Errorf("encode categories: %w", err)
	}
	return datatypes.JSON(data), nil
}
