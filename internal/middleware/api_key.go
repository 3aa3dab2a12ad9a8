package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"ledger-backend/internal/config"
	"ledger-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// APIKeyHeader partner key header
const APIKeyHeader = "X-API-Key"

// APIKeyMiddleware partner API keys, configured as sha256 hex digests
type APIKeyMiddleware struct {
	keys   []config.APIKeyConfig
	logger *logrus.Logger
}

// NewAPIKeyMiddleware create
func NewAPIKeyMiddleware(keys []config.APIKeyConfig, logger *logrus.Logger) *APIKeyMiddleware {
	return &APIKeyMiddleware{keys: keys, logger: logger}
}

// HashAPIKey digest stored in apiKeys[].keyHash
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// RequireAPIKey sets the key name as the audit actor id
func (m *APIKeyMiddleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "API key required",
				"code":    "MISSING_API_KEY",
			})
			return
		}

		digest := []byte(HashAPIKey(key))
		for _, k := range m.keys {
			if subtle.ConstantTimeCompare(digest, []byte(strings.ToLower(k.KeyHash))) == 1 {
				c.Set(handlers.ContextAPIKeyName, k.Name)
				c.Next()
				return
			}
		}

		m.logger.WithFields(logrus.Fields{
			"path":      c.Request.URL.Path,
			"client_ip": c.ClientIP(),
		}).Warn("🚫 Unknown API key")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid API key",
			"code":    "INVALID_API_KEY",
		})
	}
}
