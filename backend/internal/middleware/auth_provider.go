package middleware

import (
	"net/http"

	response "newsroom-cms/backend/internal/infra/common"

	"github.com/gin-gonic/gin"
)

// Authenticator 抽象鉴权中间件，实现 Handle() 的结构体即可插入路由。
type Authenticator interface {
	Handle() gin.HandlerFunc
}

// RequireAdmin 仅允许管理员访问，需挂在 Authenticator 之后。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin, ok := c.Get(ContextIsAdmin); !ok || isAdmin != true {
			response.Fail(c, http.StatusForbidden, response.ErrForbidden, "admin permission required", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
