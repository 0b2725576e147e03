package handler

import (
	"errors"
	"net/http"
	"strings"

	subscriberdomain "newsroom-cms/backend/internal/domain/subscriber"
	"newsroom-cms/backend/internal/infra/captcha"
	response "newsroom-cms/backend/internal/infra/common"
	appLogger "newsroom-cms/backend/internal/infra/logger"
	subscribersvc "newsroom-cms/backend/internal/service/subscriber"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CaptchaProvider 组合验证码的生成与校验，未启用验证码时传 nil。
type CaptchaProvider interface {
	captcha.Generator
	captcha.Verifier
}

// SubscriberHandler 负责邮件简报的公开订阅与后台管理接口。
type SubscriberHandler struct {
	service *subscribersvc.Service
	captcha CaptchaProvider
	logger  *zap.SugaredLogger
}

// NewSubscriberHandler 构造 handler。
func NewSubscriberHandler(service *subscribersvc.Service, captchaProvider CaptchaProvider) *SubscriberHandler {
	baseLogger := appLogger.S().With("component", "subscriber.handler")
	return &SubscriberHandler{service: service, captcha: captchaProvider, logger: baseLogger}
}

type subscribeRequest struct {
	Email       string `json:"email" binding:"required"`
	CategoryIDs []uint `json:"category_ids"`
	CaptchaID   string `json:"captcha_id"`
	CaptchaCode string `json:"captcha_code"`
}

type unsubscribeRequest struct {
	Token string `json:"token" binding:"required"`
}

type subscriberStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Captcha 返回订阅表单使用的图形验证码。
func (h *SubscriberHandler) Captcha(c *gin.Context) {
	if h.captcha == nil {
		response.Success(c, http.StatusOK, gin.H{"enabled": false}, nil)
		return
	}

	id, image, remaining, err := h.captcha.Generate(c.Request.Context(), c.ClientIP())
	if err != nil {
		if errors.Is(err, captcha.ErrRateLimited) {
			response.Fail(c, http.StatusTooManyRequests, response.ErrTooManyRequests, "captcha requests too frequent", nil)
			return
		}
		h.logger.Errorw("generate captcha failed", "error", err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "generate captcha failed", nil)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"enabled":    true,
		"captcha_id": id,
		"image":      image,
		"remaining":  remaining,
	}, nil)
}

// Subscribe 订阅简报。已订阅邮箱返回 200，新订阅返回 201。
func (h *SubscriberHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}

	if h.captcha != nil {
		if strings.TrimSpace(req.CaptchaID) == "" || strings.TrimSpace(req.CaptchaCode) == "" {
			response.Fail(c, http.StatusBadRequest, response.ErrCaptchaRequired, "captcha is required", nil)
			return
		}
		if err := h.captcha.Verify(c.Request.Context(), req.CaptchaID, req.CaptchaCode); err != nil {
			switch {
			case errors.Is(err, captcha.ErrCaptchaNotFound):
				response.Fail(c, http.StatusBadRequest, response.ErrCaptchaExpired, "captcha expired", nil)
			case errors.Is(err, captcha.ErrCaptchaMismatch):
				response.Fail(c, http.StatusBadRequest, response.ErrCaptchaInvalid, "captcha mismatch", nil)
			default:
				h.logger.Errorw("verify captcha failed", "error", err)
				response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "verify captcha failed", nil)
			}
			return
		}
	}

	result, err := h.service.Subscribe(c.Request.Context(), subscribersvc.SubscribeInput{
		Email:       req.Email,
		CategoryIDs: req.CategoryIDs,
		SourceIP:    c.ClientIP(),
	})
	if err != nil {
		h.fail(c, err, "subscribe failed")
		return
	}

	payload := gin.H{"email": result.Subscriber.Email, "status": result.Subscriber.Status}
	if result.Created {
		response.Created(c, payload, nil)
		return
	}
	response.Success(c, http.StatusOK, payload, nil)
}

// Unsubscribe 通过邮件中的令牌退订。
func (h *SubscriberHandler) Unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}
	if err := h.service.Unsubscribe(c.Request.Context(), req.Token); err != nil {
		h.fail(c, err, "unsubscribe failed")
		return
	}
	response.NoContent(c)
}

// List 后台分页查询订阅者。
func (h *SubscriberHandler) List(c *gin.Context) {
	result, err := h.service.List(c.Request.Context(), subscribersvc.ListFilter{
		Query:    strings.TrimSpace(c.Query("q")),
		Status:   strings.TrimSpace(c.Query("status")),
		Page:     parsePositiveQuery(c, "page", 1),
		PageSize: parsePositiveQuery(c, "page_size", 0),
	})
	if err != nil {
		if errors.Is(err, subscribersvc.ErrInvalidStatus) {
			response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
			return
		}
		h.logger.Errorw("list subscribers failed", "error", err)
		response.Success(c, http.StatusOK, gin.H{"items": []subscriberdomain.Subscriber{}}, response.MetaRetryable{Retryable: true})
		return
	}

	response.Success(c, http.StatusOK, gin.H{"items": result.Items},
		response.NewMetaPagination(result.Page, result.PageSize, result.Total, len(result.Items)))
}

// UpdateStatus 修改订阅状态（屏蔽、恢复、退订）。
func (h *SubscriberHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req subscriberStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadRequest, err.Error(), nil)
		return
	}

	item, err := h.service.SetStatus(c.Request.Context(), id, strings.TrimSpace(req.Status))
	if err != nil {
		h.fail(c, err, "update subscriber failed", "id", id)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"subscriber": item}, nil)
}

// Delete 删除订阅者。
func (h *SubscriberHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err, "delete subscriber failed", "id", id)
		return
	}
	response.NoContent(c)
}

func (h *SubscriberHandler) fail(c *gin.Context, err error, message string, keysAndValues ...any) {
	switch {
	case errors.Is(err, subscribersvc.ErrSubscriberNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound, err.Error(), nil)
	case errors.Is(err, subscribersvc.ErrInvalidEmail):
		response.ValidationFailed(c, err.Error(), gin.H{"field": "email"})
	case errors.Is(err, subscribersvc.ErrInvalidStatus):
		response.ValidationFailed(c, err.Error(), gin.H{"field": "status"})
	case errors.Is(err, subscribersvc.ErrSubscriberBlocked):
		response.Fail(c, http.StatusForbidden, response.ErrSubscriberBlocked, err.Error(), nil)
	default:
		h.logger.Errorw(message, append(keysAndValues, "error", err)...)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, message, nil)
	}
}
