package repository

import (
	"context"
	"time"

	"ledger-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillingRepository defines the interface for action billing entries
type BillingRepository interface {
	WithTx(tx *gorm.DB) BillingRepository
	InsertIfAbsent(ctx context.Context, entry *models.BillingLedgerEntry) (bool, error)
	LockEntry(ctx context.Context, actionID string) (*models.BillingLedgerEntry, error)
	GetEntry(ctx context.Context, actionID string) (*models.BillingLedgerEntry, error)
	MarkRefunded(ctx context.Context, actionID string, at time.Time) error
	FindByWallet(ctx context.Context, wallet string, page, limit int) ([]*models.BillingLedgerEntry, int64, error)
}

type billingRepository struct {
	db *gorm.DB
}

// NewBillingRepository creates a new BillingRepository instance
func NewBillingRepository(db *gorm.DB) BillingRepository {
	return &billingRepository{db: db}
}

func (r *billingRepository) WithTx(tx *gorm.DB) BillingRepository {
	return &billingRepository{db: tx}
}

// InsertIfAbsent returns false when action_id is already taken
func (r *billingRepository) InsertIfAbsent(ctx context.Context, entry *models.BillingLedgerEntry) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "action_id"}}, DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *billingRepository) LockEntry(ctx context.Context, actionID string) (*models.BillingLedgerEntry, error) {
	var entry models.BillingLedgerEntry
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("action_id = ?", actionID).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *billingRepository) GetEntry(ctx context.Context, actionID string) (*models.BillingLedgerEntry, error) {
	var entry models.BillingLedgerEntry
	err := r.db.WithContext(ctx).Where("action_id = ?", actionID).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkRefunded flips DEBITED to REFUNDED; the status guard keeps the transition one-way
func (r *billingRepository) MarkRefunded(ctx context.Context, actionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.BillingLedgerEntry{}).
		Where("action_id = ? AND status = ?", actionID, models.BillingStatusDebited).
		Updates(map[string]interface{}{
			"status":      models.BillingStatusRefunded,
			"refunded_at": at,
			"updated_at":  at,
		}).Error
}

func (r *billingRepository) FindByWallet(ctx context.Context, wallet string, page, limit int) ([]*models.BillingLedgerEntry, int64, error) {
	var entries []*models.BillingLedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&models.BillingLedgerEntry{}).Where("wallet_address = ?", wallet)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
