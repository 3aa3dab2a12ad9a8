package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/dto"
	"ledger-backend/internal/services"
	"ledger-backend/internal/utils"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const nonceTTL = 5 * time.Minute

type pendingNonce struct {
	message   string
	expiresAt time.Time
}

// nonceStore one outstanding login message per address, single use
type nonceStore struct {
	mu      sync.Mutex
	pending map[string]pendingNonce
}

func newNonceStore() *nonceStore {
	return &nonceStore{pending: make(map[string]pendingNonce)}
}

func (s *nonceStore) put(address, message string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for addr, p := range s.pending {
		if now.After(p.expiresAt) {
			delete(s.pending, addr)
		}
	}
	s.pending[address] = pendingNonce{message: message, expiresAt: expiresAt}
}

// take consumes the nonce when message matches and is still valid
func (s *nonceStore) take(address, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[address]
	if !ok || p.message != message || time.Now().After(p.expiresAt) {
		return false
	}
	delete(s.pending, address)
	return true
}

// AuthHandler wallet login: nonce + personal_sign → JWT
type AuthHandler struct {
	secret []byte
	issuer string
	ttl    time.Duration
	nonces *nonceStore
	ledger *services.WalletLedger
	logger *logrus.Logger
}

// NewAuthHandler create
func NewAuthHandler(cfg config.AuthConfig, ledger *services.WalletLedger, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.TokenTTL) * time.Hour,
		nonces: newNonceStore(),
		ledger: ledger,
		logger: logger,
	}
}

// GenerateNonceHandler POST /api/auth/nonce
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	var req dto.NonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	address, err := utils.NormalizeEvmAddress(req.UserAddress)
	if err != nil {
		badRequest(c, "INVALID_ADDRESS", err.Error())
		return
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		respondError(c, fmt.Errorf("failed to generate nonce: %w", err))
		return
	}

	now := time.Now()
	expiresAt := now.Add(nonceTTL)
	message := fmt.Sprintf("Ledger Authentication\nAddress: %s\nNonce: %s\nTimestamp: %d",
		address, hex.EncodeToString(nonce), now.Unix())
	h.nonces.put(address, message, expiresAt)

	c.JSON(http.StatusOK, dto.NonceResponse{
		Success:   true,
		Message:   message,
		ExpiresAt: expiresAt.Unix(),
	})
}

// AuthenticateHandler POST /api/auth/login
func (h *AuthHandler) AuthenticateHandler(c *gin.Context) {
	var req dto.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.AuthResponse{Success: false, Message: err.Error()})
		return
	}
	address, err := utils.NormalizeEvmAddress(req.UserAddress)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.AuthResponse{Success: false, Message: err.Error()})
		return
	}

	signer, err := RecoverPersonalSigner(req.Message, req.Signature)
	if err != nil || utils.AddressKey(signer) != address {
		h.logger.WithFields(logrus.Fields{
			"user_address": address,
			"error":        err,
		}).Warn("🔐 Signature verification failed")
		c.JSON(http.StatusUnauthorized, dto.AuthResponse{Success: false, Message: "signature verification failed"})
		return
	}
	if !h.nonces.take(address, req.Message) {
		c.JSON(http.StatusUnauthorized, dto.AuthResponse{Success: false, Message: "nonce expired or already used"})
		return
	}

	wallet, err := h.ledger.GetWallet(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := IssueUserToken(h.secret, h.issuer, h.ttl, address, wallet.Role)
	if err != nil {
		h.logger.WithError(err).Error("❌ JWT signing failed")
		c.JSON(http.StatusInternalServerError, dto.AuthResponse{Success: false, Message: "token generation failed"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"user_address": address,
		"role":         wallet.Role,
	}).Info("✅ User authenticated")

	c.JSON(http.StatusOK, dto.AuthResponse{Success: true, Token: token, Message: "success"})
}

// ValidateToken parses and verifies a user JWT
func (h *AuthHandler) ValidateToken(tokenString string) (*dto.JWTClaims, error) {
	return ValidateUserToken(h.secret, tokenString)
}

// RecoverPersonalSigner recovers the address that personal_signed message
func RecoverPersonalSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// IssueUserToken signs a user JWT (HS256)
func IssueUserToken(secret []byte, issuer string, ttl time.Duration, address, role string) (string, error) {
	now := time.Now()
	claims := dto.JWTClaims{
		UserAddress: address,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   address,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ValidateUserToken verifies signature, expiry and the address claim
func ValidateUserToken(secret []byte, tokenString string) (*dto.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &dto.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*dto.JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	address, err := utils.NormalizeEvmAddress(claims.UserAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid address claim: %w", err)
	}
	claims.UserAddress = address
	return claims, nil
}
