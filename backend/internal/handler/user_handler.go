/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 22:38:26
 * @FilePath: \newsroom-cms\backend\internal\handler\user_handler.go
 * @LastEditTime: 2025-10-20 18:20:51
 */
package handler

import (
	"errors"
	"net/http"
	"strconv"

	response "newsroom-cms/backend/internal/infra/common"
	appLogger "newsroom-cms/backend/internal/infra/logger"
	usersvc "newsroom-cms/backend/internal/service/user"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserHandler 返回当前编辑的资料。
type UserHandler struct {
	service *usersvc.Service
	logger  *zap.SugaredLogger
}

// NewUserHandler 构造用户 handler。
func NewUserHandler(service *usersvc.Service) *UserHandler {
	baseLogger := appLogger.S().With("component", "user.handler")
	return &UserHandler{service: service, logger: baseLogger}
}

// GetMe 返回当前登录编辑的资料与权限。
func (h *UserHandler) GetMe(c *gin.Context) {
	log := h.logger.With("operation", "get_me")

	userID, ok := extractUserID(c)
	if !ok {
		log.Warnw("missing user id")
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing user id", nil)
		return
	}

	profile, err := h.service.GetProfile(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, usersvc.ErrUserNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound, err.Error(), nil)
			return
		}
		log.Errorw("get profile failed", "error", err, "user_id", userID)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "get profile failed", nil)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": profile, "is_admin": isAdmin(c)}, nil)
}

func extractUserID(c *gin.Context) (uint, bool) {
	val, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	switch id := val.(type) {
	case uint:
		return id, id > 0
	case uint64:
		return uint(id), id > 0
	case int:
		if id <= 0 {
			return 0, false
		}
		return uint(id), true
	case int64:
		if id <= 0 {
			return 0, false
		}
		return uint(id), true
	default:
		return 0, false
	}
}

func isAdmin(c *gin.Context) bool {
	val, ok := c.Get("isAdmin")
	if !ok {
		return false
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

// parseIDParam 解析路径中的正整数 ID。
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id64 == 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, "invalid "+name, nil)
		return 0, false
	}
	return uint(id64), true
}

// parsePositiveQuery 读取正整数查询参数，缺失或非法时返回 fallback。
func parsePositiveQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
