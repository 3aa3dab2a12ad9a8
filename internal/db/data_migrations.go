package db

import (
	"database/sql"
	"fmt"
	"log"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(*sql.DB) error
}

// GetDataMigrations return all data migrations
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "ledger_001",
			Description: "Lowercase wallet addresses in ledger tables",
			Up:          lowercaseLedgerAddresses,
		},
		{
			Version:     "ledger_002",
			Description: "Backfill missing wallet_transactions opening rows",
			Up:          backfillOpeningTransactions,
		},
	}
}

// lowercaseLedgerAddresses normalizes address columns written before
// addresses were lowercased at the API boundary
func lowercaseLedgerAddresses(db *sql.DB) error {
	log.Println("🔄 Lowercasing ledger wallet addresses...")

	// wallets.address is a primary key; mixed-case duplicates need a manual merge
	var mixed int
	if err := db.QueryRow(`SELECT COUNT(*) FROM wallets WHERE address <> LOWER(address)`).Scan(&mixed); err != nil {
		return err
	}
	if mixed > 0 {
		log.Printf("❌ Found %d mixed-case wallets - migration aborted", mixed)
		return fmt.Errorf("found %d mixed-case rows in wallets.address, merge them manually", mixed)
	}

	columns := map[string]string{
		"deposits":               "wallet_address",
		"billing_ledger_entries": "wallet_address",
		"verification_tickets":   "user_address",
		"wallet_transactions":    "wallet_address",
		"reputation_jobs":        "wallet_address",
	}
	for table, column := range columns {
		result, err := db.Exec(`UPDATE ` + table + ` SET ` + column + ` = LOWER(` + column + `) WHERE ` + column + ` <> LOWER(` + column + `)`)
		if err != nil {
			log.Printf("❌ Failed to migrate %s: %v", table, err)
			return err
		}
		rowsAffected, _ := result.RowsAffected()
		log.Printf("✅ Lowercased %d rows in %s.%s", rowsAffected, table, column)
	}
	return nil
}

// backfillOpeningTransactions gives wallets that predate the audit trail an
// opening row so that the audit's balance drift starts at zero
func backfillOpeningTransactions(db *sql.DB) error {
	log.Println("🔄 Backfilling opening wallet transactions...")

	result, err := db.Exec(`
		INSERT INTO wallet_transactions (id, wallet_address, role, action_type, target_id, delta, balance_after, skimmed, created_at)
		SELECT md5(w.address || ':opening'), w.address, w.role, 'OPENING_BALANCE', '', w.balance, w.balance, 0, NOW()
		FROM wallets w
		WHERE NOT EXISTS (SELECT 1 FROM wallet_transactions t WHERE t.wallet_address = w.address)
		  AND w.balance <> 0
	`)
	if err != nil {
		return err
	}
	rowsAffected, _ := result.RowsAffected()
	log.Printf("✅ Backfilled %d opening rows", rowsAffected)
	return nil
}

// RunDataMigrations applies pending data migrations, recording each in
// schema_migrations_log
func RunDataMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations_log (
			id SERIAL PRIMARY KEY,
			version VARCHAR(50) NOT NULL UNIQUE,
			description TEXT,
			executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			status VARCHAR(20) DEFAULT 'completed'
		)
	`); err != nil {
		return err
	}

	for _, migration := range GetDataMigrations() {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations_log WHERE version = $1",
			migration.Version,
		).Scan(&count)
		if err != nil {
			return err
		}

		if count > 0 {
			log.Printf("📋 Data migration %s already applied", migration.Version)
			continue
		}

		log.Printf("🚀 Running data migration: %s", migration.Description)
		if err := migration.Up(db); err != nil {
			return fmt.Errorf("data migration %s: %w", migration.Version, err)
		}

		if _, err := db.Exec(
			"INSERT INTO schema_migrations_log (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			return err
		}

		log.Printf("✅ Data migration %s completed", migration.Version)
	}

	return nil
}
