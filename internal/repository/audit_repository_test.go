package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"ledger-backend/internal/db"
	"ledger-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// txRecorder remembers the options of every transaction gorm opens
type txRecorder struct {
	*sql.DB
	mu   sync.Mutex
	opts []*sql.TxOptions
}

func (r *txRecorder) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	r.mu.Lock()
	r.opts = append(r.opts, opts)
	r.mu.Unlock()
	return r.DB.BeginTx(ctx, opts)
}

func (r *txRecorder) reset() {
	r.mu.Lock()
	r.opts = nil
	r.mu.Unlock()
}

func newRecordedDB(t *testing.T) (*gorm.DB, *txRecorder) {
	t.Helper()
	raw, err := sql.Open("sqlite3", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = raw.Close() })

	recorder := &txRecorder{DB: raw}
	gormDB, err := gorm.Open(sqlite.Dialector{Conn: recorder}, db.GormConfig())
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormDB, recorder
}

func TestTotalsReadOneSnapshot(t *testing.T) {
	gormDB, recorder := newRecordedDB(t)
	now := time.Now()
	wallet := &models.Wallet{Address: "0x1111111111111111111111111111111111111111", Role: models.WalletRoleUser, Balance: decimal.RequireFromString("3.5"), CreatedAt: now, UpdatedAt: now}
	if err := gormDB.Create(wallet).Error; err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	recorder.reset()

	totals, err := NewAuditRepository(gormDB).Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if !totals.WalletTotal.Equal(decimal.RequireFromString("3.5")) {
		t.Fatalf("wallet total = %s", totals.WalletTotal)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.opts) != 1 {
		t.Fatalf("transactions opened = %d, want 1", len(recorder.opts))
	}
	opts := recorder.opts[0]
	if opts == nil || opts.Isolation != sql.LevelRepeatableRead || !opts.ReadOnly {
		t.Fatalf("tx options = %+v, want read-only repeatable read", opts)
	}
}
