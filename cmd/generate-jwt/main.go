package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/handlers"
	"ledger-backend/internal/middleware"
	"ledger-backend/internal/models"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml")
	mode := flag.String("mode", "user", "user | admin | apikey | password | totp")
	address := flag.String("address", "0x742d35cc6634c0532925a3b0f26750c66d78eb66", "wallet address for user tokens")
	role := flag.String("role", models.WalletRoleUser, "wallet role for user tokens")
	username := flag.String("username", "admin", "admin username")
	password := flag.String("password", "", "password to hash (mode=password)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	fmt.Println(strings.Repeat("=", 60))

	switch *mode {
	case "user":
		cfg := loadConfig(*configPath)
		token, err := handlers.IssueUserToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, *ttl, strings.ToLower(*address), *role)
		if err != nil {
			log.Fatalf("Error generating token: %v", err)
		}
		fmt.Println("User JWT generated for testing")
		fmt.Printf("  Address: %s\n  Role: %s\n  Expires: %s\n\n", strings.ToLower(*address), *role, time.Now().Add(*ttl).Format(time.RFC3339))
		fmt.Println(token)
		fmt.Printf("\nexport JWT_TOKEN='%s'\n", token)

	case "admin":
		cfg := loadConfig(*configPath)
		token, err := handlers.IssueAdminToken([]byte(cfg.Admin.JWTSecret), *username, *ttl)
		if err != nil {
			log.Fatalf("Error generating token: %v", err)
		}
		fmt.Println("Admin JWT generated for testing")
		fmt.Printf("  Username: %s\n\n", *username)
		fmt.Println(token)

	case "apikey":
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			log.Fatalf("Error reading random bytes: %v", err)
		}
		key := hex.EncodeToString(raw)
		fmt.Println("Partner API key generated")
		fmt.Printf("  Key (give to partner): %s\n", key)
		fmt.Printf("  keyHash (config.yaml): %s\n", middleware.HashAPIKey(key))

	case "password":
		if *password == "" {
			log.Fatal("-password is required")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Error hashing password: %v", err)
		}
		fmt.Println("admin.passwordHash:")
		fmt.Println(string(hash))

	case "totp":
		// 有 ADMIN_TOTP_SECRET 时只打印当前 code
		secret := os.Getenv("ADMIN_TOTP_SECRET")
		if secret == "" {
			key, err := totp.Generate(totp.GenerateOpts{Issuer: "ledger-backend", AccountName: *username})
			if err != nil {
				log.Fatalf("Error generating TOTP secret: %v", err)
			}
			secret = key.Secret()
			fmt.Println("admin.totpSecret (new):")
			fmt.Println(secret)
			fmt.Printf("  otpauth URL: %s\n\n", key.URL())
		}
		code, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			log.Fatalf("Error generating TOTP code: %v", err)
		}
		fmt.Printf("Current TOTP Code: %s\n", code)
		fmt.Println("Valid for: ~30 seconds")

	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	fmt.Println(strings.Repeat("=", 60))
}

func loadConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
