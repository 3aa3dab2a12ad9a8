package db

import (
	"fmt"
	"log"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL, migrates the ledger schema and returns the
// handle every component receives. Close it with Close at shutdown.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	gormDB, err := gorm.Open(postgres.Open(cfg.DSN), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	log.Println("✅ Database connected successfully")

	if err := Migrate(gormDB); err != nil {
		return nil, err
	}

	return gormDB, nil
}

// GormConfig shared GORM settings. Default transactions stay on so that every
// single-statement write is atomic; TranslateError maps unique violations to
// gorm.ErrDuplicatedKey.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		CreateBatchSize:                          1000,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	}
}

// Migrate creates the ledger tables and seeds the platform revenue pool
func Migrate(gormDB *gorm.DB) error {
	log.Println("🚀 Starting database schema migration with GORM AutoMigrate...")

	if err := gormDB.AutoMigrate(
		&models.Wallet{},
		&models.Deposit{},
		&models.SyncCursor{},
		&models.BillingLedgerEntry{},
		&models.RevenuePool{},
		&models.VerificationTicket{},
		&models.WalletTransaction{}, // audit trail of every wallet mutation
		&models.TicketUsage{},       // audit trail of ticket consumption
		&models.ReputationJob{},
		&models.LedgerAuditReport{},
	); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}

	if err := initRevenuePool(gormDB); err != nil {
		return err
	}

	log.Println("✅ Database schema migrated successfully")
	return nil
}

// initRevenuePool ensures the single platform pool row exists
func initRevenuePool(gormDB *gorm.DB) error {
	pool := models.RevenuePool{ID: models.PlatformPoolID}
	result := gormDB.Clauses(clause.OnConflict{DoNothing: true}).Create(&pool)
	if result.Error != nil {
		return fmt.Errorf("failed to seed revenue pool: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("✅ Initialized revenue pool: %s", models.PlatformPoolID)
	}
	return nil
}

// Close releases the connection pool
func Close(gormDB *gorm.DB) error {
	if gormDB == nil {
		return nil
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
