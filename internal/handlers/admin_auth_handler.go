package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/dto"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminRole     = "admin"
	adminTokenTTL = 12 * time.Hour
)

// AdminAuthHandler 管理员认证处理器
type AdminAuthHandler struct {
	username     string
	passwordHash []byte
	totpSecret   string
	jwtSecret    []byte
	logger       *logrus.Logger
}

// NewAdminAuthHandler 创建管理员认证处理器
func NewAdminAuthHandler(cfg config.AdminConfig, logger *logrus.Logger) *AdminAuthHandler {
	if cfg.PasswordHash == "" {
		logger.Warn("⚠️ 安全警告: 未设置 admin.passwordHash，管理员登录将被拒绝")
	}
	if cfg.TOTPSecret == "" {
		logger.Warn("⚠️ 未设置 admin.totpSecret，管理员登录不需要 TOTP")
	}
	return &AdminAuthHandler{
		username:     cfg.Username,
		passwordHash: []byte(cfg.PasswordHash),
		totpSecret:   cfg.TOTPSecret,
		jwtSecret:    []byte(cfg.JWTSecret),
		logger:       logger,
	}
}

// AdminLoginHandler 管理员登录处理
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if len(h.passwordHash) == 0 || len(h.jwtSecret) == 0 {
		c.JSON(http.StatusServiceUnavailable, dto.AdminLoginResponse{
			Success: false,
			Message: "Admin login is not configured",
		})
		return
	}

	var req dto.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.AdminLoginResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	// 故意使用通用的错误消息
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)) == nil
	if !userOK || !passOK {
		h.logger.WithFields(logrus.Fields{
			"username":  req.Username,
			"client_ip": c.ClientIP(),
		}).Warn("🚫 Admin login rejected")
		c.JSON(http.StatusUnauthorized, dto.AdminLoginResponse{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	// 验证 TOTP
	if h.totpSecret != "" && !totp.Validate(req.TOTPCode, h.totpSecret) {
		c.JSON(http.StatusUnauthorized, dto.AdminLoginResponse{
			Success: false,
			Message: "Invalid TOTP code",
		})
		return
	}

	token, err := IssueAdminToken(h.jwtSecret, req.Username, adminTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.AdminLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	h.logger.WithField("username", req.Username).Info("🔑 Admin logged in")
	c.JSON(http.StatusOK, dto.AdminLoginResponse{
		Success: true,
		Token:   token,
		Message: "Login successful",
	})
}

// ValidateToken 验证管理员 JWT token
func (h *AdminAuthHandler) ValidateToken(tokenString string) (*dto.AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &dto.AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*dto.AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Role != adminRole {
		return nil, fmt.Errorf("insufficient permissions")
	}
	return claims, nil
}

// IssueAdminToken 生成管理员 JWT token
func IssueAdminToken(secret []byte, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := dto.AdminClaims{
		Username: username,
		Role:     adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "ledger-backend-admin",
			Subject:   username,
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
