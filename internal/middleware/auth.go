package middleware

import (
	"net/http"
	"strings"

	"ledger-backend/internal/dto"
	"ledger-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthMiddleware JWT
type AuthMiddleware struct {
	validate func(token string) (*dto.JWTClaims, error)
	logger   *logrus.Logger
}

// NewAuthMiddleware create JWT middleware
func NewAuthMiddleware(validate func(token string) (*dto.JWTClaims, error), logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validate: validate,
		logger:   logger,
	}
}

// RequireAuth JWT
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, code, message := bearerToken(c)
		if code != "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"code":   code,
			}).Warn("JWT auth failed")
			abortUnauthorized(c, message, code)
			return
		}

		claims, err := a.validate(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("JWT auth failed - token verify failed")
			abortUnauthorized(c, "Invalid or expired token", "INVALID_TOKEN")
			return
		}

		c.Set(handlers.ContextUserAddress, claims.UserAddress)
		c.Set(handlers.ContextUserRole, claims.Role)

		a.logger.WithFields(logrus.Fields{
			"path":         c.Request.URL.Path,
			"method":       c.Request.Method,
			"user_address": claims.UserAddress,
		}).Debug("JWT auth success")

		c.Next()
	}
}

// bearerToken extracts the token; code is non-empty on failure
func bearerToken(c *gin.Context) (token, code, message string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "MISSING_AUTH_HEADER", "Authentication required"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "INVALID_AUTH_FORMAT", "Authorization header must be in format: Bearer <token>"
	}
	token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "EMPTY_TOKEN", "Token cannot be empty"
	}
	return token, "", ""
}

func abortUnauthorized(c *gin.Context, message, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
