package handler

import (
	"errors"
	"net/http"

	domain "newsroom-cms/backend/internal/domain/announcement"
	response "newsroom-cms/backend/internal/infra/common"
	appLogger "newsroom-cms/backend/internal/infra/logger"
	announcementsvc "newsroom-cms/backend/internal/service/announcement"
	revisionsvc "newsroom-cms/backend/internal/service/revision"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RevisionHandler 提供修订历史查询与回滚接口。
type RevisionHandler struct {
	revisions     *revisionsvc.Service
	announcements *announcementsvc.Service
	logger        *zap.SugaredLogger
}

// NewRevisionHandler 构造 handler。回滚经由公告服务执行，以便同步清理公开缓存。
func NewRevisionHandler(revisions *revisionsvc.Service, announcements *announcementsvc.Service) *RevisionHandler {
	baseLogger := appLogger.S().With("component", "revision.handler")
	return &RevisionHandler{revisions: revisions, announcements: announcements, logger: baseLogger}
}

// List 按版本号倒序分页返回修订历史。
func (h *RevisionHandler) List(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	defaultSize, maxSize := h.revisions.PageSizeLimits()
	page := parsePositiveQuery(c, "page", 1)
	pageSize := min(parsePositiveQuery(c, "page_size", defaultSize), maxSize)

	result, err := h.revisions.List(c.Request.Context(), id, pageSize, (page-1)*pageSize)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound, "announcement not found", nil)
			return
		}
		h.logger.Errorw("list revisions failed", "error", err, "announcement_id", id)
		response.Success(c, http.StatusOK, gin.H{"items": []domain.Revision{}}, response.MetaRetryable{Retryable: true})
		return
	}

	response.Success(c, http.StatusOK, gin.H{"items": result.Items},
		response.NewMetaPagination(page, result.Limit, result.Total, len(result.Items)))
}

// Get 返回单条修订的完整快照。
func (h *RevisionHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	revisionID, ok := parseIDParam(c, "revisionId")
	if !ok {
		return
	}

	rev, err := h.revisions.Get(c.Request.Context(), id, revisionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound, "revision not found", nil)
			return
		}
		h.logger.Errorw("get revision failed", "error", err, "announcement_id", id, "revision_id", revisionID)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "get revision failed", nil)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revision": rev}, nil)
}

// Restore 把公告回滚到指定修订。失败时公告保持原样，前端只展示 "could not restore"。
func (h *RevisionHandler) Restore(c *gin.Context) {
	userID, ok := extractUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	revisionID, ok := parseIDParam(c, "revisionId")
	if !ok {
		return
	}

	result, err := h.announcements.Restore(c.Request.Context(), userID, id, revisionID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound, "revision not found", nil)
		case errors.Is(err, domain.ErrConflict):
			h.logger.Warnw("restore conflict", "error", err, "announcement_id", id, "revision_id", revisionID)
			response.Fail(c, http.StatusConflict, response.ErrRestoreFailed, "could not restore", nil)
		default:
			h.logger.Errorw("restore failed", "error", err, "announcement_id", id, "revision_id", revisionID)
			response.Fail(c, http.StatusInternalServerError, response.ErrRestoreFailed, "could not restore", nil)
		}
		return
	}

	response.Success(c, http.StatusOK, result, nil)
}
