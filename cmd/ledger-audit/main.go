package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/db"
	"ledger-backend/internal/repository"
	"ledger-backend/internal/services"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml")
	migrate := flag.Bool("migrate", false, "run pending data migrations before the report")
	flag.Parse()

	fmt.Println("🔍 Ledger conservation report")
	fmt.Println(strings.Repeat("=", 60))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	sqlDB, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("Failed to reach database: %v", err)
	}

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	if *migrate {
		if err := db.RunDataMigrations(sqlDB); err != nil {
			log.Fatalf("Data migrations failed: %v", err)
		}
	}

	ctx := context.Background()
	tx, err := sqlDB.BeginTx(ctx, repository.AuditTxOptions)
	if err != nil {
		log.Fatalf("Failed to open snapshot: %v", err)
	}
	defer tx.Rollback()

	totals := &repository.LedgerTotals{}
	queries := []struct {
		name   string
		target *decimal.Decimal
		query  string
	}{
		{"wallets", &totals.WalletTotal, `SELECT COALESCE(SUM(balance), 0)::text FROM wallets`},
		{"pool", &totals.RevenuePool, `SELECT COALESCE(SUM(balance), 0)::text FROM revenue_pools`},
		{"deposits", &totals.DepositTotal, `SELECT COALESCE(SUM(amount), 0)::text FROM deposits`},
		{"credits", &totals.CreditTotal, `SELECT COALESCE(SUM(delta), 0)::text FROM wallet_transactions WHERE delta > 0 AND action_type NOT IN ('DEPOSIT', 'REFUND')`},
		{"refunds", &totals.RefundTotal, `SELECT COALESCE(SUM(delta), 0)::text FROM wallet_transactions WHERE action_type = 'REFUND'`},
		{"deltas", &totals.DeltaTotal, `SELECT COALESCE(SUM(delta), 0)::text FROM wallet_transactions`},
		{"skims", &totals.SkimTotal, `SELECT COALESCE(SUM(skimmed), 0)::text FROM wallet_transactions`},
	}
	for _, q := range queries {
		var raw string
		if err := tx.QueryRowContext(ctx, q.query).Scan(&raw); err != nil {
			log.Fatalf("Failed to sum %s: %v", q.name, err)
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			log.Fatalf("Bad aggregate for %s: %v", q.name, err)
		}
		*q.target = value
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("Failed to close snapshot: %v", err)
	}

	for _, q := range queries {
		fmt.Printf("   %-10s %s\n", q.name, q.target.StringFixed(4))
	}
	fmt.Println()

	report := services.BuildAuditReport(totals, time.Now())
	for _, check := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"wallet drift (balances - ledger deltas)", report.WalletDrift},
		{"pool drift (pool - skims)", report.PoolDrift},
		{"conservation (balances + pool - inflows)", report.Imbalance},
	} {
		mark := "✅"
		if check.value.Abs().GreaterThan(services.BalanceEpsilon) {
			mark = "❌"
		}
		fmt.Printf("%s %s: %s\n", mark, check.name, check.value.String())
	}

	if !report.Consistent {
		fmt.Println("\n⚠️ Ledger is NOT consistent")
		os.Exit(1)
	}
	fmt.Println("\n✅ Ledger is consistent")
}
