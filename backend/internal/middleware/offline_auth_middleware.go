package middleware

import "github.com/gin-gonic/gin"

// OfflineAuthMiddleware 在本地模式下注入固定编辑身份，绕过 JWT 校验流程。
type OfflineAuthMiddleware struct {
	userID  uint
	isAdmin bool
}

// NewOfflineAuthMiddleware 构造用于本地模式的鉴权中间件。
func NewOfflineAuthMiddleware(userID uint, isAdmin bool) *OfflineAuthMiddleware {
	return &OfflineAuthMiddleware{
		userID:  userID,
		isAdmin: isAdmin,
	}
}

// Handle 将固定编辑写入上下文，修订记录的作者即为该身份。
func (m *OfflineAuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextUserID, m.userID)
		c.Set(ContextIsAdmin, m.isAdmin)
		c.Next()
	}
}
