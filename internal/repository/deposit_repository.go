package repository

import (
	"context"

	"ledger-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DepositRepository defines the interface for credited on-chain deposits
type DepositRepository interface {
	WithTx(tx *gorm.DB) DepositRepository
	InsertIfAbsent(ctx context.Context, deposit *models.Deposit) (bool, error)
	FindByTxHash(ctx context.Context, txHash string) ([]*models.Deposit, error)
	FindByWallet(ctx context.Context, wallet string, page, limit int) ([]*models.Deposit, int64, error)
	Count(ctx context.Context) (int64, error)
}

// depositRepository implements DepositRepository
type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository creates a new DepositRepository instance
func NewDepositRepository(db *gorm.DB) DepositRepository {
	return &depositRepository{db: db}
}

func (r *depositRepository) WithTx(tx *gorm.DB) DepositRepository {
	return &depositRepository{db: tx}
}

// InsertIfAbsent returns false when (tx_hash, log_index) was already recorded
func (r *depositRepository) InsertIfAbsent(ctx context.Context, deposit *models.Deposit) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
			DoNothing: true,
		}).
		Create(deposit)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *depositRepository) FindByTxHash(ctx context.Context, txHash string) ([]*models.Deposit, error) {
	var deposits []*models.Deposit
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).Order("log_index ASC").Find(&deposits).Error
	if err != nil {
		return nil, err
	}
	return deposits, nil
}

func (r *depositRepository) FindByWallet(ctx context.Context, wallet string, page, limit int) ([]*models.Deposit, int64, error) {
	var deposits []*models.Deposit
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Deposit{}).Where("wallet_address = ?", wallet)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("block_number DESC, log_index DESC").Find(&deposits).Error
	if err != nil {
		return nil, 0, err
	}

	return deposits, total, nil
}

func (r *depositRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Deposit{}).Count(&total).Error
	return total, err
}
