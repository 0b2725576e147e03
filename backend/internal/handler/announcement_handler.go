/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-20 18:31:07
 * @FilePath: \newsroom-cms\backend\internal\handler\announcement_handler.go
 * @LastEditTime: 2025-10-20 18:31:07
 */
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "newsroom-cms/backend/internal/domain/announcement"
	response "newsroom-cms/backend/internal/infra/common"
	appLogger "newsroom-cms/backend/internal/infra/logger"
	announcementsvc "newsroom-cms/backend/internal/service/announcement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AnnouncementHandler 提供后台公告管理接口。
type AnnouncementHandler struct {
	service *announcementsvc.Service
	logger  *zap.SugaredLogger
}

// NewAnnouncementHandler 构造 handler。
func NewAnnouncementHandler(service *announcementsvc.Service) *AnnouncementHandler {
	baseLogger := appLogger.S().With("component", "announcement.handler")
	return &AnnouncementHandler{service: service, logger: baseLogger}
}

type announcementCreateRequest struct {
	Title         string                      `json:"title"`
	Slug          string                      `json:"slug"`
	Content       string                      `json:"content"`
	Excerpt       string                      `json:"excerpt"`
	CategoryID    *uint                       `json:"category_id"`
	Media         *announcementsvc.MediaInput `json:"media"`
	IsPublished   bool                        `json:"is_published"`
	IsPinned      bool                        `json:"is_pinned"`
	IsHero        bool                        `json:"is_hero"`
	ScheduledAt   *time.Time                  `json:"scheduled_at"`
	TakedownAt    *time.Time                  `json:"takedown_at"`
	ChangeSummary string                      `json:"change_summary"`
}

type announcementUpdateRequest struct {
	Title         *string                     `json:"title"`
	Slug          *string                     `json:"slug"`
	Content       *string                     `json:"content"`
	Excerpt       *string                     `json:"excerpt"`
	CategoryID    *uint                       `json:"category_id"`
	ClearCategory bool                        `json:"clear_category"`
	Media         *announcementsvc.MediaInput `json:"media"`
	IsPublished   *bool                       `json:"is_published"`
	IsPinned      *bool                       `json:"is_pinned"`
	IsHero        *bool                       `json:"is_hero"`
	ScheduledAt   *time.Time                  `json:"scheduled_at"`
	ClearSchedule bool                        `json:"clear_schedule"`
	TakedownAt    *time.Time                  `json:"takedown_at"`
	ClearTakedown bool                        `json:"clear_takedown"`
	ChangeSummary string                      `json:"change_summary"`
}

type publishRequest struct {
	ChangeSummary string `json:"change_summary"`
}

// List 返回后台公告列表。查询失败时返回空列表并标记可重试，避免后台页面整体报错。
func (h *AnnouncementHandler) List(c *gin.Context) {
	defaultSize, maxSize := h.service.AdminPageSizeBounds()
	filter := announcementsvc.ListFilter{
		Query:    strings.TrimSpace(c.Query("q")),
		Page:     parsePositiveQuery(c, "page", 1),
		PageSize: min(parsePositiveQuery(c, "page_size", defaultSize), maxSize),
	}
	if raw := strings.TrimSpace(c.Query("category_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, "invalid category_id", nil)
			return
		}
		filter.CategoryID = uint(id)
	}
	if raw := strings.TrimSpace(c.Query("state")); raw != "" {
		state, ok := domain.ParseState(raw)
		if !ok {
			response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, "invalid state", nil)
			return
		}
		filter.State = state
	}

	result, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Errorw("list announcements failed", "error", err)
		response.Success(c, http.StatusOK, gin.H{"items": []announcementsvc.View{}}, response.MetaRetryable{Retryable: true})
		return
	}

	response.Success(c, http.StatusOK, gin.H{"items": result.Items},
		response.NewMetaPagination(result.Page, result.PageSize, result.Total, len(result.Items)))
}

// Get 返回公告详情。
func (h *AnnouncementHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	view, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "get announcement failed", "id", id)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"announcement": view}, nil)
}

// Create 新建公告并记录 CREATE 修订。
func (h *AnnouncementHandler) Create(c *gin.Context) {
	userID, ok := extractUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	var req announcementCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}

	entity, err := h.service.Create(c.Request.Context(), userID, announcementsvc.CreateInput{
		Title:         req.Title,
		Slug:          req.Slug,
		Content:       req.Content,
		Excerpt:       req.Excerpt,
		CategoryID:    req.CategoryID,
		Media:         req.Media,
		IsPublished:   req.IsPublished,
		IsPinned:      req.IsPinned,
		IsHero:        req.IsHero,
		ScheduledAt:   req.ScheduledAt,
		TakedownAt:    req.TakedownAt,
		ChangeSummary: req.ChangeSummary,
	})
	if err != nil {
		h.fail(c, err, "create announcement failed", "user_id", userID)
		return
	}

	response.Created(c, gin.H{"announcement": entity}, nil)
}

// Update 部分更新公告，按发布开关变化记录 PUBLISH/UNPUBLISH/EDIT 修订。
func (h *AnnouncementHandler) Update(c *gin.Context) {
	userID, ok := extractUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req announcementUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}

	entity, err := h.service.Update(c.Request.Context(), userID, id, announcementsvc.UpdateInput{
		Title:         req.Title,
		Slug:          req.Slug,
		Content:       req.Content,
		Excerpt:       req.Excerpt,
		CategoryID:    req.CategoryID,
		ClearCategory: req.ClearCategory,
		Media:         req.Media,
		IsPublished:   req.IsPublished,
		IsPinned:      req.IsPinned,
		IsHero:        req.IsHero,
		ScheduledAt:   req.ScheduledAt,
		ClearSchedule: req.ClearSchedule,
		TakedownAt:    req.TakedownAt,
		ClearTakedown: req.ClearTakedown,
		ChangeSummary: req.ChangeSummary,
	})
	if err != nil {
		h.fail(c, err, "update announcement failed", "id", id)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"announcement": entity}, nil)
}

// Publish 打开发布开关。
func (h *AnnouncementHandler) Publish(c *gin.Context) {
	h.setPublished(c, true)
}

// Unpublish 关闭发布开关。
func (h *AnnouncementHandler) Unpublish(c *gin.Context) {
	h.setPublished(c, false)
}

func (h *AnnouncementHandler) setPublished(c *gin.Context, publish bool) {
	userID, ok := extractUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req publishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
			return
		}
	}

	entity, changed, err := h.service.SetPublished(c.Request.Context(), userID, id, publish, req.ChangeSummary)
	if err != nil {
		h.fail(c, err, "toggle publish failed", "id", id, "publish", publish)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"announcement": entity, "changed": changed}, nil)
}

// Delete 删除公告及其全部修订。
func (h *AnnouncementHandler) Delete(c *gin.Context) {
	userID, ok := extractUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, id); err != nil {
		h.fail(c, err, "delete announcement failed", "id", id)
		return
	}
	response.NoContent(c)
}

// Visibility 返回公告在 at（RFC3339，缺省为当前时间）时刻的有效可见性。
func (h *AnnouncementHandler) Visibility(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var at time.Time
	if raw := strings.TrimSpace(c.Query("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, "at must be RFC3339", nil)
			return
		}
		at = parsed.UTC()
	}

	result, err := h.service.Visibility(c.Request.Context(), id, at)
	if err != nil {
		h.fail(c, err, "resolve visibility failed", "id", id)
		return
	}
	response.Success(c, http.StatusOK, result, nil)
}

// fail 将公告领域错误映射为统一响应。
func (h *AnnouncementHandler) fail(c *gin.Context, err error, message string, keysAndValues ...any) {
	if respondDomainError(c, err) {
		return
	}
	h.logger.Errorw(message, append(keysAndValues, "error", err)...)
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal, message, nil)
}

// respondDomainError 处理校验、不存在与并发冲突三类错误，已响应时返回 true。
func respondDomainError(c *gin.Context, err error) bool {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		response.ValidationFailed(c, validationErr.Error(), gin.H{"field": validationErr.Field, "message": validationErr.Message})
	case errors.Is(err, domain.ErrValidation):
		response.ValidationFailed(c, err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound, "announcement not found", nil)
	case errors.Is(err, domain.ErrConflict):
		response.Fail(c, http.StatusConflict, response.ErrConflict, "announcement was modified concurrently, please retry", nil)
	default:
		return false
	}
	return true
}
