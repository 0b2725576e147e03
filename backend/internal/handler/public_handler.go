package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/domain/category"
	response "newsroom-cms/backend/internal/infra/common"
	appLogger "newsroom-cms/backend/internal/infra/logger"
	announcementsvc "newsroom-cms/backend/internal/service/announcement"
	categorysvc "newsroom-cms/backend/internal/service/category"
	feedsvc "newsroom-cms/backend/internal/service/feed"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PublicHandler 负责公开站点的只读接口，所有结果都经过可见性判定。
type PublicHandler struct {
	announcements *announcementsvc.Service
	categories    *categorysvc.Service
	feed          *feedsvc.Service
	logger        *zap.SugaredLogger
}

// NewPublicHandler 构造公开接口 handler。
func NewPublicHandler(announcements *announcementsvc.Service, categories *categorysvc.Service, feed *feedsvc.Service) *PublicHandler {
	baseLogger := appLogger.S().With("component", "public.handler")
	return &PublicHandler{announcements: announcements, categories: categories, feed: feed, logger: baseLogger}
}

// ListAnnouncements 返回当前可见的公告，置顶优先。
func (h *PublicHandler) ListAnnouncements(c *gin.Context) {
	defaultSize, maxSize := h.announcements.PublicPageSizeBounds()
	filter := announcementsvc.PublicFilter{
		Page:       parsePositiveQuery(c, "page", 1),
		PageSize:   min(parsePositiveQuery(c, "page_size", defaultSize), maxSize),
		PinnedOnly: c.Query("pinned") == "true" || c.Query("pinned") == "1",
	}
	if raw := strings.TrimSpace(c.Query("category_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, "invalid category_id", nil)
			return
		}
		filter.CategoryID = uint(id)
	}

	result, err := h.announcements.ListPublic(c.Request.Context(), filter)
	if err != nil {
		h.logger.Errorw("list public announcements failed", "error", err)
		response.Success(c, http.StatusOK, gin.H{"items": []announcementsvc.View{}}, response.MetaRetryable{Retryable: true})
		return
	}

	response.Success(c, http.StatusOK, gin.H{"items": result.Items},
		response.NewMetaPagination(result.Page, result.PageSize, result.Total, len(result.Items)))
}

// GetAnnouncement 按 slug 返回公告详情，不可见与不存在一律返回 404。
func (h *PublicHandler) GetAnnouncement(c *gin.Context) {
	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, "invalid slug", nil)
		return
	}

	view, err := h.announcements.GetPublicBySlug(c.Request.Context(), slug, c.ClientIP())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound, "announcement not found", nil)
			return
		}
		h.logger.Errorw("get public announcement failed", "error", err, "slug", slug)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "get announcement failed", nil)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"announcement": view}, nil)
}

// ListCategories 返回全部分类。
func (h *PublicHandler) ListCategories(c *gin.Context) {
	items, err := h.categories.List(c.Request.Context())
	if err != nil {
		h.logger.Errorw("list categories failed", "error", err)
		response.Success(c, http.StatusOK, gin.H{"items": []category.Category{}}, response.MetaRetryable{Retryable: true})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"items": items}, nil)
}

// Feed 输出 RSS 2.0。
func (h *PublicHandler) Feed(c *gin.Context) {
	body, err := h.feed.RSS(c.Request.Context())
	if err != nil {
		h.logger.Errorw("render feed failed", "error", err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "render feed failed", nil)
		return
	}
	c.Header("Cache-Control", "public, max-age=60")
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(body))
}
