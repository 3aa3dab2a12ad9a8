package repository

import (
	"context"
	"time"

	"ledger-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletRepository defines the interface for wallet, audit trail and revenue pool data access
type WalletRepository interface {
	WithTx(tx *gorm.DB) WalletRepository

	// Wallet operations
	EnsureWallet(ctx context.Context, address, role string) error
	LockWallet(ctx context.Context, address string) (*models.Wallet, error)
	GetWallet(ctx context.Context, address string) (*models.Wallet, error)
	UpdateBalance(ctx context.Context, address string, balance decimal.Decimal) error

	// Audit trail operations
	AppendTransaction(ctx context.Context, txn *models.WalletTransaction) error
	FindTransactionsByWallet(ctx context.Context, address string, page, limit int) ([]*models.WalletTransaction, int64, error)
	FindTransactionByTarget(ctx context.Context, actionType, targetID string) (*models.WalletTransaction, error)

	// Revenue pool operations
	LockRevenuePool(ctx context.Context) (*models.RevenuePool, error)
	GetRevenuePool(ctx context.Context) (*models.RevenuePool, error)
	UpdateRevenuePool(ctx context.Context, balance decimal.Decimal) error
}

// walletRepository implements WalletRepository
type walletRepository struct {
	db *gorm.DB
}

// NewWalletRepository creates a new WalletRepository instance
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) WithTx(tx *gorm.DB) WalletRepository {
	return &walletRepository{db: tx}
}

// EnsureWallet inserts a zero-balance wallet unless one exists; an existing role is kept
func (r *walletRepository) EnsureWallet(ctx context.Context, address, role string) error {
	wallet := models.Wallet{Address: address, Role: role, Balance: decimal.Zero}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&wallet).Error
}

func (r *walletRepository) LockWallet(ctx context.Context, address string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", address).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepository) GetWallet(ctx context.Context, address string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepository) UpdateBalance(ctx context.Context, address string, balance decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("address = ?", address).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": time.Now(),
		}).Error
}

func (r *walletRepository) AppendTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *walletRepository) FindTransactionsByWallet(ctx context.Context, address string, page, limit int) ([]*models.WalletTransaction, int64, error) {
	var txns []*models.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&models.WalletTransaction{}).Where("wallet_address = ?", address)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&txns).Error
	if err != nil {
		return nil, 0, err
	}

	return txns, total, nil
}

func (r *walletRepository) FindTransactionByTarget(ctx context.Context, actionType, targetID string) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("action_type = ? AND target_id = ?", actionType, targetID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// LockRevenuePool locks the platform pool row, creating it when missing
func (r *walletRepository) LockRevenuePool(ctx context.Context) (*models.RevenuePool, error) {
	seed := models.RevenuePool{ID: models.PlatformPoolID, Balance: decimal.Zero}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}

	var pool models.RevenuePool
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", models.PlatformPoolID).
		First(&pool).Error
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *walletRepository) GetRevenuePool(ctx context.Context) (*models.RevenuePool, error) {
	var pool models.RevenuePool
	err := r.db.WithContext(ctx).Where("id = ?", models.PlatformPoolID).First(&pool).Error
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *walletRepository) UpdateRevenuePool(ctx context.Context, balance decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&models.RevenuePool{}).
		Where("id = ?", models.PlatformPoolID).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": time.Now(),
		}).Error
}
