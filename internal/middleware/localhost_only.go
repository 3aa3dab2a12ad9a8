package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocalhostOnly middleware - only allow localhost or whitelisted IPs access
type LocalhostOnly struct {
	logger   *logrus.Logger
	networks []*net.IPNet // parsed allowedIPs, single IPs as /32 or /128
}

// NewLocalhostOnly 创建 IP 白名单中间件，allowedIPs 支持单个 IP 或 CIDR
func NewLocalhostOnly(logger *logrus.Logger, allowedIPs []string) *LocalhostOnly {
	l := &LocalhostOnly{logger: logger}
	for _, allowed := range allowedIPs {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if !strings.Contains(allowed, "/") {
			if ip := net.ParseIP(allowed); ip != nil && ip.To4() != nil {
				allowed += "/32"
			} else {
				allowed += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(allowed)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"allowed": allowed,
				"error":   err.Error(),
			}).Warn("Invalid entry in admin.allowedIPs")
			continue
		}
		l.networks = append(l.networks, ipNet)
	}
	return l
}

// Restrict restrict access to localhost and the whitelist
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		// c.ClientIP() 依赖路由层 SetTrustedProxies 的配置
		clientIP := c.ClientIP()
		if l.IsAllowed(clientIP) {
			c.Next()
			return
		}

		l.logger.WithFields(logrus.Fields{
			"client_ip":  clientIP,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"user_agent": c.GetHeader("User-Agent"),
		}).Warn("Reject non-whitelisted access to admin API")

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "This API is only accessible from allowed IP addresses",
			"code":    "IP_NOT_ALLOWED",
		})
	}
}

// IsAllowed Check if IP is localhost or inside the whitelist
func (l *LocalhostOnly) IsAllowed(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return ip == "localhost"
	}
	if parsedIP.IsLoopback() {
		return true
	}
	for _, network := range l.networks {
		if network.Contains(parsedIP) {
			return true
		}
	}
	return false
}
