/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-12 11:24:03
 * @FilePath: \newsroom-cms\backend\internal\handler\category_handler.go
 * @LastEditTime: 2025-10-20 18:52:36
 */
package handler

import (
	"errors"
	"net/http"

	"newsroom-cms/backend/internal/domain/category"
	response "newsroom-cms/backend/internal/infra/common"
	appLogger "newsroom-cms/backend/internal/infra/logger"
	categorysvc "newsroom-cms/backend/internal/service/category"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CategoryHandler 提供分类管理的 HTTP 入口。
type CategoryHandler struct {
	service *categorysvc.Service
	logger  *zap.SugaredLogger
}

// NewCategoryHandler 构造 handler。
func NewCategoryHandler(service *categorysvc.Service) *CategoryHandler {
	baseLogger := appLogger.S().With("component", "category.handler")
	return &CategoryHandler{service: service, logger: baseLogger}
}

type categoryRequest struct {
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

func (r categoryRequest) params() categorysvc.Params {
	return categorysvc.Params{Name: r.Name, Slug: r.Slug, Description: r.Description, SortOrder: r.SortOrder}
}

// List 返回全部分类。
func (h *CategoryHandler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context())
	if err != nil {
		h.logger.Errorw("list categories failed", "error", err)
		response.Success(c, http.StatusOK, gin.H{"items": []category.Category{}}, response.MetaRetryable{Retryable: true})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"items": items}, nil)
}

// Create 新增分类。
func (h *CategoryHandler) Create(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}

	item, err := h.service.Create(c.Request.Context(), req.params())
	if err != nil {
		h.fail(c, err, "create category failed", "name", req.Name)
		return
	}
	response.Created(c, gin.H{"category": item}, nil)
}

// Update 编辑分类。
func (h *CategoryHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}

	item, err := h.service.Update(c.Request.Context(), id, req.params())
	if err != nil {
		h.fail(c, err, "update category failed", "id", id)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"category": item}, nil)
}

// Delete 删除分类，仍被公告引用时返回 409。
func (h *CategoryHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err, "delete category failed", "id", id)
		return
	}
	response.NoContent(c)
}

func (h *CategoryHandler) fail(c *gin.Context, err error, message string, keysAndValues ...any) {
	switch {
	case errors.Is(err, categorysvc.ErrCategoryNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound, err.Error(), nil)
	case errors.Is(err, categorysvc.ErrCategoryInUse), errors.Is(err, categorysvc.ErrSlugTaken):
		response.Fail(c, http.StatusConflict, response.ErrConflict, err.Error(), nil)
	case errors.Is(err, categorysvc.ErrInvalidInput):
		response.ValidationFailed(c, err.Error(), nil)
	default:
		h.logger.Errorw(message, append(keysAndValues, "error", err)...)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, message, nil)
	}
}
