package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"ledger-backend/internal/config"
	"ledger-backend/internal/db"
)

type columnSpec struct {
	table     string
	column    string
	dataType  string // information_schema data_type
	length    int64  // varchar length
	precision int64  // numeric precision
	scale     int64  // numeric scale
}

// ledger columns whose width matters for correctness
var expectedColumns = []columnSpec{
	{table: "wallets", column: "address", dataType: "character varying", length: 42},
	{table: "wallets", column: "balance", dataType: "numeric", precision: 36, scale: 4},
	{table: "revenue_pools", column: "balance", dataType: "numeric", precision: 36, scale: 4},
	{table: "deposits", column: "tx_hash", dataType: "character varying", length: 66},
	{table: "deposits", column: "amount", dataType: "numeric", precision: 36, scale: 4},
	{table: "billing_ledger_entries", column: "amount", dataType: "numeric", precision: 36, scale: 4},
	{table: "wallet_transactions", column: "delta", dataType: "numeric", precision: 36, scale: 4},
	{table: "wallet_transactions", column: "balance_after", dataType: "numeric", precision: 36, scale: 4},
	{table: "wallet_transactions", column: "skimmed", dataType: "numeric", precision: 36, scale: 4},
}

func main() {
	configPath := flag.String("config", "", "path to config yaml")
	flag.Parse()

	fmt.Println("🔍 Verifying database connection and ledger column types...")
	fmt.Println(strings.Repeat("=", 60))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	defer db.Close(gormDB)

	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	problems := 0
	for _, col := range expectedColumns {
		if !checkColumn(sqlDB, col) {
			problems++
		}
	}

	fmt.Println(strings.Repeat("=", 60))
	if problems > 0 {
		fmt.Printf("❌ %d column(s) do not match the ledger schema\n", problems)
		os.Exit(1)
	}
	fmt.Println("✅ All ledger columns match")
}

func checkColumn(sqlDB *sql.DB, col columnSpec) bool {
	var (
		dataType  string
		length    sql.NullInt64
		precision sql.NullInt64
		scale     sql.NullInt64
	)
	err := sqlDB.QueryRow(`
		SELECT data_type, character_maximum_length, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		AND table_name = $1
		AND column_name = $2
	`, col.table, col.column).Scan(&dataType, &length, &precision, &scale)

	name := col.table + "." + col.column
	if err == sql.ErrNoRows {
		fmt.Printf("❌ %s does not exist\n", name)
		return false
	}
	if err != nil {
		log.Fatalf("Failed to query %s: %v", name, err)
	}

	if dataType != col.dataType {
		fmt.Printf("❌ %s is %s, want %s\n", name, dataType, col.dataType)
		return false
	}
	switch col.dataType {
	case "numeric":
		if precision.Int64 != col.precision || scale.Int64 != col.scale {
			fmt.Printf("❌ %s is NUMERIC(%d,%d), want NUMERIC(%d,%d)\n", name, precision.Int64, scale.Int64, col.precision, col.scale)
			return false
		}
		fmt.Printf("✅ %s NUMERIC(%d,%d)\n", name, precision.Int64, scale.Int64)
	default:
		if length.Int64 < col.length {
			fmt.Printf("❌ %s is VARCHAR(%d), need VARCHAR(%d)\n", name, length.Int64, col.length)
			return false
		}
		fmt.Printf("✅ %s VARCHAR(%d)\n", name, length.Int64)
	}
	return true
}
