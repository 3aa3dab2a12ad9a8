package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Auth       AuthConfig       `yaml:"auth"`
	APIKeys    []APIKeyConfig   `yaml:"apiKeys"`
	Admin      AdminConfig      `yaml:"admin"`
	Tickets    TicketConfig     `yaml:"tickets"`
	Reputation ReputationConfig `yaml:"reputation"`
	Audit      AuditConfig      `yaml:"audit"`
	CORS       CORSConfig       `yaml:"cors"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // seconds
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	Enabled       bool             `yaml:"enabled"`
	URL           string           `yaml:"url"`
	Timeout       int              `yaml:"timeout"`        // seconds
	ReconnectWait int              `yaml:"reconnect_wait"` // seconds
	MaxReconnects int              `yaml:"max_reconnects"`
	Subjects      NATSSubjectNames `yaml:"subjects"`
}

// NATSSubjectNames subjects used by the ledger
type NATSSubjectNames struct {
	ReputationRecompute string `yaml:"reputationRecompute"`
	BalanceChanged      string `yaml:"balanceChanged"`
	DepositCredited     string `yaml:"depositCredited"`
}

// BlockchainConfig deposit stream configuration
type BlockchainConfig struct {
	ChainID           int64             `yaml:"chainId"`
	RPCEndpoints      []string          `yaml:"rpcEndpoints"`
	TreasuryContract  string            `yaml:"treasuryContract"`
	TokenDecimals     int               `yaml:"tokenDecimals"`
	StartBlock        uint64            `yaml:"startBlock"`    // 0 = seed from chain head
	Confirmations     uint64            `yaml:"confirmations"` // blocks subtracted from head
	MaxBlockRange     uint64            `yaml:"maxBlockRange"`
	PollInterval      int               `yaml:"pollInterval"` // seconds
	MaxRetries        int               `yaml:"maxRetries"`
	BackoffBaseMs     int               `yaml:"backoffBaseMs"`
	BackoffMaxMs      int               `yaml:"backoffMaxMs"`
	RPCTimeout        int               `yaml:"rpcTimeout"` // seconds
	OwnershipContract map[string]string `yaml:"ownershipContracts"` // ticket scope -> ERC721 contract
	Enabled           bool              `yaml:"enabled"`
}

// AuthConfig user JWT configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	TokenTTL  int    `yaml:"tokenTTL"` // hours
	Issuer    string `yaml:"issuer"`
}

// APIKeyConfig partner API key (sha256 hex of the raw key)
type APIKeyConfig struct {
	Name    string `yaml:"name"`
	KeyHash string `yaml:"keyHash"`
}

// AdminConfig Admin API access control configuration
type AdminConfig struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"passwordHash"` // bcrypt
	TOTPSecret   string   `yaml:"totpSecret"`
	JWTSecret    string   `yaml:"jwtSecret"`
	AllowedIPs   []string `yaml:"allowedIPs"` // IPs or CIDR ranges
}

// TicketConfig verification ticket defaults
type TicketConfig struct {
	IssueFee         string `yaml:"issueFee"` // decimal string, "0" disables charging
	DefaultMaxUses   int    `yaml:"defaultMaxUses"`
	DefaultTTL       int    `yaml:"defaultTTL"`       // seconds
	MaxTTL           int    `yaml:"maxTTL"`           // seconds
	OwnershipTimeout int    `yaml:"ownershipTimeout"` // seconds
}

// ReputationConfig post-commit recompute queue
type ReputationConfig struct {
	Workers       int `yaml:"workers"`
	QueueSize     int `yaml:"queueSize"`
	SweepInterval int `yaml:"sweepInterval"` // seconds
	Timeout       int `yaml:"timeout"`       // seconds
}

// AuditConfig ledger audit schedule
type AuditConfig struct {
	Enabled  bool `yaml:"enabled"`
	Interval int  `yaml:"interval"` // minutes
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// LogConfig logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// LoadConfig Load configuration file. An empty path selects config.local.yaml
// when present, else config.yaml.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// .env is optional; values already in the environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("⚠️ Failed to load .env file")
	}

	overrideFromEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"path":      configPath,
		"chain_id":  cfg.Blockchain.ChainID,
		"treasury":  cfg.Blockchain.TreasuryContract,
		"endpoints": len(cfg.Blockchain.RPCEndpoints),
		"nats":      cfg.NATS.Enabled,
	}).Info("✅ Configuration loaded")

	return &cfg, nil
}

// overrideFromEnv Override configuration from environment
func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.NATS.URL = natsURL
		cfg.NATS.Enabled = true
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			cfg.NATS.Timeout = t
		}
	}

	if rpc := os.Getenv("RPC_ENDPOINTS"); rpc != "" {
		cfg.Blockchain.RPCEndpoints = splitList(rpc)
	}
	if treasury := os.Getenv("TREASURY_CONTRACT"); treasury != "" {
		cfg.Blockchain.TreasuryContract = treasury
	}
	if start := os.Getenv("START_BLOCK"); start != "" {
		if b, err := strconv.ParseUint(start, 10, 64); err == nil {
			cfg.Blockchain.StartBlock = b
		}
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			cfg.Blockchain.ChainID = id
		}
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if username := os.Getenv("ADMIN_USERNAME"); username != "" {
		cfg.Admin.Username = username
	}
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		cfg.Admin.PasswordHash = hash
	}
	if totpSecret := os.Getenv("ADMIN_TOTP_SECRET"); totpSecret != "" {
		cfg.Admin.TOTPSecret = totpSecret
	}
	if adminSecret := os.Getenv("ADMIN_JWT_SECRET"); adminSecret != "" {
		cfg.Admin.JWTSecret = adminSecret
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		cfg.CORS.AllowedOrigins = splitList(corsOrigins)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Blockchain.TokenDecimals == 0 {
		cfg.Blockchain.TokenDecimals = 18
	}
	if cfg.Blockchain.MaxBlockRange == 0 {
		cfg.Blockchain.MaxBlockRange = 2000
	}
	if cfg.Blockchain.PollInterval == 0 {
		cfg.Blockchain.PollInterval = 15
	}
	if cfg.Blockchain.MaxRetries == 0 {
		cfg.Blockchain.MaxRetries = 10
	}
	if cfg.Blockchain.BackoffBaseMs == 0 {
		cfg.Blockchain.BackoffBaseMs = 1000
	}
	if cfg.Blockchain.BackoffMaxMs == 0 {
		cfg.Blockchain.BackoffMaxMs = 60000
	}
	if cfg.Blockchain.RPCTimeout == 0 {
		cfg.Blockchain.RPCTimeout = 20
	}
	if cfg.NATS.Timeout == 0 {
		cfg.NATS.Timeout = 10
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = 5
	}
	if cfg.NATS.Subjects.ReputationRecompute == "" {
		cfg.NATS.Subjects.ReputationRecompute = "reputation.recompute"
	}
	if cfg.NATS.Subjects.BalanceChanged == "" {
		cfg.NATS.Subjects.BalanceChanged = "ledger.balance.changed"
	}
	if cfg.NATS.Subjects.DepositCredited == "" {
		cfg.NATS.Subjects.DepositCredited = "ledger.deposit.credited"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "ledger-backend"
	}
	if cfg.Admin.Username == "" {
		cfg.Admin.Username = "admin"
	}
	if cfg.Tickets.IssueFee == "" {
		cfg.Tickets.IssueFee = "0"
	}
	if cfg.Tickets.DefaultMaxUses == 0 {
		cfg.Tickets.DefaultMaxUses = 3
	}
	if cfg.Tickets.DefaultTTL == 0 {
		cfg.Tickets.DefaultTTL = 24 * 3600
	}
	if cfg.Tickets.MaxTTL == 0 {
		cfg.Tickets.MaxTTL = 30 * 24 * 3600
	}
	if cfg.Tickets.OwnershipTimeout == 0 {
		cfg.Tickets.OwnershipTimeout = 10
	}
	if cfg.Reputation.Workers == 0 {
		cfg.Reputation.Workers = 2
	}
	if cfg.Reputation.QueueSize == 0 {
		cfg.Reputation.QueueSize = 256
	}
	if cfg.Reputation.SweepInterval == 0 {
		cfg.Reputation.SweepInterval = 60
	}
	if cfg.Reputation.Timeout == 0 {
		cfg.Reputation.Timeout = 10
	}
	if cfg.Audit.Interval == 0 {
		cfg.Audit.Interval = 10
	}
	if cfg.CORS.MaxAge == 0 {
		cfg.CORS.MaxAge = 3600
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects configurations the ledger cannot run with
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Blockchain.Enabled {
		if len(c.Blockchain.RPCEndpoints) == 0 {
			return fmt.Errorf("blockchain.rpcEndpoints is required when blockchain is enabled")
		}
		if c.Blockchain.TreasuryContract == "" {
			return fmt.Errorf("blockchain.treasuryContract is required when blockchain is enabled")
		}
	}
	if c.Blockchain.TokenDecimals < 0 || c.Blockchain.TokenDecimals > 36 {
		return fmt.Errorf("blockchain.tokenDecimals out of range: %d", c.Blockchain.TokenDecimals)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is required")
	}
	return nil
}

// StreamID identifies the deposit event stream for cursor storage
func (b BlockchainConfig) StreamID() string {
	return fmt.Sprintf("deposit:%d:%s", b.ChainID, strings.ToLower(b.TreasuryContract))
}

// LogLevel parses the configured level, falling back to info
func (l LogConfig) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
