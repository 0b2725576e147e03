package announcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/domain/user"
	"newsroom-cms/backend/internal/repository"

	"gorm.io/gorm"
)

// View 是返回给前端的公告视图，附带按当前时间推导的状态与作者摘要。
type View struct {
	domain.Announcement
	Status     domain.State `json:"state"`
	Visible    bool         `json:"visible"`
	Author     *user.Brief  `json:"author,omitempty"`
	ViewsTotal uint64       `json:"views_total"`
}

// ListFilter 描述后台列表的过滤条件。
type ListFilter struct {
	Query      string
	CategoryID uint
	State      domain.State
	Page       int
	PageSize   int
}

// PublicFilter 描述公开列表的过滤条件。
type PublicFilter struct {
	CategoryID uint
	PinnedOnly bool
	Page       int
	PageSize   int
}

// ListResult 描述分页列表的返回值。
type ListResult struct {
	Items      []View `json:"items"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	Total      int64  `json:"total"`
	TotalPages int    `json:"total_pages"`
}

// VisibilityResult 是"当前是否公开可见"查询的结果。
type VisibilityResult struct {
	AnnouncementID uint                    `json:"announcement_id"`
	At             time.Time               `json:"at"`
	Visible        bool                    `json:"visible"`
	Reason         domain.VisibilityReason `json:"reason"`
	State          domain.State            `json:"state"`
}

// Get 返回后台详情。
func (s *Service) Get(ctx context.Context, id uint) (*View, error) {
	entity, err := s.announcements.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load announcement: %w", err)
	}
	views := s.decorate(ctx, []domain.Announcement{*entity}, s.now())
	return &views[0], nil
}

// List 返回后台分页列表，可按关键字、分类与生命周期状态过滤。
func (s *Service) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize, s.cfg.AdminDefaultPageSize, s.cfg.AdminMaxPageSize)
	now := s.now()
	items, total, err := s.announcements.List(ctx, repository.AnnouncementListFilter{
		Query:      filter.Query,
		CategoryID: filter.CategoryID,
		State:      filter.State,
		Now:        now,
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	})
	if err != nil {
		return nil, err
	}
	return buildListResult(s.decorate(ctx, items, now), page, pageSize, total), nil
}

// AdminPageSizeBounds 返回后台分页的默认与最大条目数。
func (s *Service) AdminPageSizeBounds() (int, int) {
	return s.cfg.AdminDefaultPageSize, s.cfg.AdminMaxPageSize
}

// Visibility 计算公告在 at 时刻的有效可见性，at 为零值时取当前时间。
func (s *Service) Visibility(ctx context.Context, id uint, at time.Time) (*VisibilityResult, error) {
	entity, err := s.announcements.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load announcement: %w", err)
	}
	if at.IsZero() {
		at = s.now()
	}
	v := entity.Visibility(at)
	return &VisibilityResult{
		AnnouncementID: entity.ID,
		At:             at,
		Visible:        v.Visible,
		Reason:         v.Reason,
		State:          entity.State(at),
	}, nil
}

// ListPublic 返回当前公开可见的公告，置顶优先、按创建时间倒序。
func (s *Service) ListPublic(ctx context.Context, filter PublicFilter) (*ListResult, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize, s.cfg.PublicDefaultPageSize, s.cfg.PublicMaxPageSize)
	now := s.now()
	items, total, err := s.announcements.List(ctx, repository.AnnouncementListFilter{
		CategoryID: filter.CategoryID,
		PinnedOnly: filter.PinnedOnly,
		State:      domain.StatePublished,
		Now:        now,
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
		PublicSort: true,
	})
	if err != nil {
		return nil, err
	}

	// SQL 过滤与内存判定使用同一优先级，这里再过一遍以内存判定为准。
	visible := items[:0]
	for _, item := range items {
		if item.Visibility(now).Visible {
			visible = append(visible, item)
		}
	}
	return buildListResult(s.decorate(ctx, visible, now), page, pageSize, total), nil
}

// PublicPageSizeBounds 返回公开分页的默认与最大条目数。
func (s *Service) PublicPageSizeBounds() (int, int) {
	return s.cfg.PublicDefaultPageSize, s.cfg.PublicMaxPageSize
}

// GetPublicBySlug 返回公开可见的公告详情并累加阅读数；不可见时与不存在一样返回 ErrNotFound。
func (s *Service) GetPublicBySlug(ctx context.Context, slug, visitor string) (*View, error) {
	entity, err := s.announcements.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load announcement: %w", err)
	}
	now := s.now()
	if !entity.Visibility(now).Visible {
		return nil, domain.ErrNotFound
	}
	if s.views != nil {
		s.views.Increment(ctx, entity.ID, visitor)
	}
	views := s.decorate(ctx, []domain.Announcement{*entity}, now)
	return &views[0], nil
}

// decorate 补充状态、作者与未落库的阅读增量。作者查询失败只记录日志。
func (s *Service) decorate(ctx context.Context, items []domain.Announcement, now time.Time) []View {
	authors := map[uint]user.User{}
	if s.users != nil && len(items) > 0 {
		ids := make([]uint, 0, len(items))
		seen := make(map[uint]struct{}, len(items))
		for _, item := range items {
			if _, ok := seen[item.AuthorID]; ok {
				continue
			}
			seen[item.AuthorID] = struct{}{}
			ids = append(ids, item.AuthorID)
		}
		loaded, err := s.users.FindByIDs(ctx, ids)
		if err != nil {
			s.logger.Warnw("load announcement authors failed", "error", err)
		} else {
			authors = loaded
		}
	}

	result := make([]View, 0, len(items))
	for _, item := range items {
		view := View{
			Announcement: item,
			Status:       item.State(now),
			Visible:      item.Visibility(now).Visible,
			ViewsTotal:   item.ViewCount,
		}
		if s.views != nil {
			view.ViewsTotal += s.views.Pending(ctx, item.ID)
		}
		if author, ok := authors[item.AuthorID]; ok {
			brief := author.Brief()
			view.Author = &brief
		}
		result = append(result, view)
	}
	return result
}

func normalizePage(page, pageSize, defaultSize, maxSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if maxSize > 0 && pageSize > maxSize {
		pageSize = maxSize
	}
	return page, pageSize
}

func buildListResult(items []View, page, pageSize int, total int64) *ListResult {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return &ListResult{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}
