package dto

import "github.com/golang-jwt/jwt/v5"

// ==================== Auth DTOs ====================

// NonceRequest asks for a one-time login message
type NonceRequest struct {
	UserAddress string `json:"user_address" binding:"required"`
}

// NonceResponse message the wallet must personal_sign
type NonceResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthRequest Authentication request structure
type AuthRequest struct {
	UserAddress string `json:"user_address" binding:"required"` // user wallet address
	Message     string `json:"message" binding:"required"`      // message returned by /auth/nonce
	Signature   string `json:"signature" binding:"required"`    // 65-byte personal_sign signature, hex
}

// AuthResponse Authentication response structure
type AuthResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// JWTClaims JWT Claims structure
type JWTClaims struct {
	UserAddress string `json:"user_address"` // lowercase wallet address
	Role        string `json:"role"`         // USER | INSTITUTION
	jwt.RegisteredClaims
}

// AdminLoginRequest admin password + TOTP login
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code"`
}

// AdminLoginResponse admin login result
type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// AdminClaims admin JWT claims
type AdminClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"` // always "admin"
	jwt.RegisteredClaims
}
