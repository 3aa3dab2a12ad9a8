package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/db"
	"ledger-backend/internal/handlers"
	"ledger-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testWallet = "0x1111111111111111111111111111111111111111"

func newContainer(t *testing.T) *ServiceContainer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gormDB, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), db.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := gormDB.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		Auth:       config.AuthConfig{JWTSecret: "test", TokenTTL: 1, Issuer: "ledger-test"},
		Tickets:    config.TicketConfig{IssueFee: "0.5", DefaultMaxUses: 3, DefaultTTL: 3600, MaxTTL: 86400, OwnershipTimeout: 5},
		Reputation: config.ReputationConfig{Workers: 1, QueueSize: 8, SweepInterval: 60, Timeout: 5},
		Audit:      config.AuditConfig{Enabled: true, Interval: 10},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := NewServiceContainer(cfg, gormDB, Options{}, logger)
	if err != nil {
		t.Fatalf("NewServiceContainer: %v", err)
	}
	return c
}

func do(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var payload io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		payload = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestContainerWithoutChainOrNATS(t *testing.T) {
	c := newContainer(t)
	if c.Scanner != nil || c.Listener != nil {
		t.Fatal("chain sync should be disabled without a chain client")
	}

	c.Start()
	c.Stop()
}

func TestRouterBillingRoundTrip(t *testing.T) {
	c := newContainer(t)
	r := c.Router()

	if _, _, err := c.Ledger.ManualCredit(context.Background(), testWallet, models.WalletRoleUser, decimal.RequireFromString("2"), "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	token, err := handlers.IssueUserToken([]byte("test"), "ledger-test", time.Hour, testWallet, models.WalletRoleUser)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	if w := do(r, http.MethodGet, "/api/wallet/balance", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous balance status = %d", w.Code)
	}

	w := do(r, http.MethodPost, "/api/billing/charge", token, map[string]string{
		"action_id": "act-1", "amount": "0.75", "action_type": "INFERENCE",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("charge status = %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/api/billing/charge", token, map[string]string{
		"action_id": "act-2", "amount": "5", "action_type": "INFERENCE",
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("overdraft status = %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/wallet/balance", token, nil)
	var balance struct {
		Balance string `json:"balance"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &balance)
	if w.Code != http.StatusOK || !decimal.RequireFromString(balance.Balance).Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("balance = %d %s", w.Code, w.Body.String())
	}
}

func TestRouterMetricsAndNotFound(t *testing.T) {
	r := newContainer(t).Router()

	// httptest requests come from 192.0.2.1
	if w := do(r, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusForbidden {
		t.Fatalf("metrics status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("loopback metrics status = %d", w.Code)
	}

	if w := do(r, http.MethodGet, "/api/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown route status = %d", w.Code)
	}
}

func TestRechargeWithoutChainIsUnavailable(t *testing.T) {
	c := newContainer(t)
	token, _ := handlers.IssueUserToken([]byte("test"), "ledger-test", time.Hour, testWallet, models.WalletRoleUser)

	w := do(c.Router(), http.MethodPost, "/api/wallet/recharge", token, map[string]string{
		"tx_hash": "0x" + strings.Repeat("a", 64),
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("recharge status = %d %s", w.Code, w.Body.String())
	}
}
