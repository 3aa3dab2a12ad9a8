package repository

import (
	"context"
	"database/sql"

	"ledger-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerTotals aggregates read by the ledger audit
type LedgerTotals struct {
	WalletTotal  decimal.Decimal
	RevenuePool  decimal.Decimal
	DepositTotal decimal.Decimal
	CreditTotal  decimal.Decimal // positive deltas other than deposits and refunds
	RefundTotal  decimal.Decimal
	DeltaTotal   decimal.Decimal
	SkimTotal    decimal.Decimal
}

// AuditRepository defines the interface for ledger aggregates and audit reports
type AuditRepository interface {
	Totals(ctx context.Context) (*LedgerTotals, error)
	Save(ctx context.Context, report *models.LedgerAuditReport) error
	Latest(ctx context.Context) (*models.LedgerAuditReport, error)
	FindRecent(ctx context.Context, limit int) ([]*models.LedgerAuditReport, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new AuditRepository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// AuditTxOptions every aggregate of one audit reads the same snapshot
var AuditTxOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// Totals reads every aggregate from one REPEATABLE READ snapshot
func (r *auditRepository) Totals(ctx context.Context) (*LedgerTotals, error) {
	totals := &LedgerTotals{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sums := []struct {
			target *decimal.Decimal
			query  *gorm.DB
		}{
			{&totals.WalletTotal, tx.Model(&models.Wallet{}).Select("COALESCE(SUM(balance), 0)")},
			{&totals.RevenuePool, tx.Model(&models.RevenuePool{}).Select("COALESCE(SUM(balance), 0)")},
			{&totals.DepositTotal, tx.Model(&models.Deposit{}).Select("COALESCE(SUM(amount), 0)")},
			{&totals.CreditTotal, tx.Model(&models.WalletTransaction{}).Select("COALESCE(SUM(delta), 0)").
				Where("delta > 0 AND action_type NOT IN ?", []string{models.ActionTypeDeposit, models.ActionTypeRefund})},
			{&totals.RefundTotal, tx.Model(&models.WalletTransaction{}).Select("COALESCE(SUM(delta), 0)").
				Where("action_type = ?", models.ActionTypeRefund)},
			{&totals.DeltaTotal, tx.Model(&models.WalletTransaction{}).Select("COALESCE(SUM(delta), 0)")},
			{&totals.SkimTotal, tx.Model(&models.WalletTransaction{}).Select("COALESCE(SUM(skimmed), 0)")},
		}
		for _, s := range sums {
			value, err := scanDecimal(s.query)
			if err != nil {
				return err
			}
			*s.target = value
		}
		return nil
	}, AuditTxOptions)
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// scanDecimal reads a single aggregate. Drivers return numeric sums as
// strings, ints or floats; all are brought back to ledger scale.
func scanDecimal(query *gorm.DB) (decimal.Decimal, error) {
	var value decimal.NullDecimal
	if err := query.Row().Scan(&value); err != nil {
		return decimal.Zero, err
	}
	if !value.Valid {
		return decimal.Zero, nil
	}
	return value.Decimal.Round(4), nil
}

func (r *auditRepository) Save(ctx context.Context, report *models.LedgerAuditReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *auditRepository) Latest(ctx context.Context) (*models.LedgerAuditReport, error) {
	var report models.LedgerAuditReport
	err := r.db.WithContext(ctx).Order("id DESC").First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *auditRepository) FindRecent(ctx context.Context, limit int) ([]*models.LedgerAuditReport, error) {
	var reports []*models.LedgerAuditReport
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}
