/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 20:41:15
 * @FilePath: \newsroom-cms\backend\internal\middleware\auth_middleware.go
 * @LastEditTime: 2025-10-20 17:58:44
 */
package middleware

import (
	"context"
	"net/http"
	"strings"

	response "newsroom-cms/backend/internal/infra/common"
	"newsroom-cms/backend/internal/infra/token"
	usersvc "newsroom-cms/backend/internal/service/user"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 上下文中的身份字段，handler 通过同名 key 读取。
const (
	ContextUserID  = "userID"
	ContextIsAdmin = "isAdmin"
	ContextClaims  = "claims"
)

// TokenVerifier 校验访问令牌并返回编辑身份。
type TokenVerifier interface {
	Parse(raw string) (token.Claims, error)
}

// ProfileSyncer 把令牌中的资料同步到本地作者表。
type ProfileSyncer interface {
	SyncProfile(ctx context.Context, profile usersvc.Profile) error
}

// AuthMiddleware 基于共享密钥校验外部认证服务签发的 JWT，保护后台路由。
type AuthMiddleware struct {
	verifier TokenVerifier
	syncer   ProfileSyncer
	logger   *zap.SugaredLogger
}

// NewAuthMiddleware 创建鉴权中间件实例。syncer 可为空。
func NewAuthMiddleware(verifier TokenVerifier, syncer ProfileSyncer, logger *zap.SugaredLogger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AuthMiddleware{verifier: verifier, syncer: syncer, logger: logger}
}

// Handle 返回 Gin 中间件，验证 Bearer Token 并在上下文中注入 userID/isAdmin。
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "bearer ") {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing authorization header", nil)
			c.Abort()
			return
		}

		claims, err := m.verifier.Parse(authHeader[7:])
		if err != nil {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "invalid token", nil)
			c.Abort()
			return
		}

		// 资料同步失败不影响本次请求，作者署名下次再补。
		if m.syncer != nil {
			profile := usersvc.Profile{
				ID:          claims.UserID,
				Username:    claims.Username,
				DisplayName: claims.DisplayName,
				Email:       claims.Email,
				IsAdmin:     claims.IsAdmin,
			}
			if err := m.syncer.SyncProfile(c.Request.Context(), profile); err != nil {
				m.logger.Warnw("sync author profile failed", "user_id", claims.UserID, "error", err)
			}
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextIsAdmin, claims.IsAdmin)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}
