package middleware

import (
	"ledger-backend/internal/dto"
	"ledger-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminAuthMiddleware 管理员认证中间件
type AdminAuthMiddleware struct {
	validate func(token string) (*dto.AdminClaims, error)
	logger   *logrus.Logger
}

// NewAdminAuthMiddleware 创建管理员认证中间件
func NewAdminAuthMiddleware(validate func(token string) (*dto.AdminClaims, error), logger *logrus.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		validate: validate,
		logger:   logger,
	}
}

// RequireAdminAuth 要求管理员认证
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, code, message := bearerToken(c)
		if code != "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"code":   code,
			}).Warn("Admin auth failed")
			abortUnauthorized(c, message, code)
			return
		}

		// 验证管理员 JWT token（含角色检查）
		claims, err := a.validate(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("Admin auth failed - invalid token")
			abortUnauthorized(c, "Invalid or expired token", "INVALID_TOKEN")
			return
		}

		// 将用户信息存储到上下文
		c.Set(handlers.ContextAdminName, claims.Username)
		c.Next()
	}
}
