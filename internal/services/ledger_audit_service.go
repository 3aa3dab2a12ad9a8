package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/repository"
	"ledger-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LedgerAuditService checks the ledger conservation identities:
//
//	Σ wallet balances == Σ wallet_transactions.delta
//	revenue pool      == Σ wallet_transactions.skimmed
//	Σ balances + pool == Σ deposits + Σ other credits + Σ refunds
type LedgerAuditService struct {
	audits repository.AuditRepository
	logger *logrus.Logger
}

// NewLedgerAuditService creates the audit service
func NewLedgerAuditService(db *gorm.DB, logger *logrus.Logger) *LedgerAuditService {
	return &LedgerAuditService{
		audits: repository.NewAuditRepository(db),
		logger: logger,
	}
}

// BuildAuditReport derives drifts and the conservation imbalance from raw totals
func BuildAuditReport(totals *repository.LedgerTotals, now time.Time) *models.LedgerAuditReport {
	walletDrift := totals.WalletTotal.Sub(totals.DeltaTotal)
	poolDrift := totals.RevenuePool.Sub(totals.SkimTotal)
	imbalance := totals.WalletTotal.Add(totals.RevenuePool).
		Sub(totals.DepositTotal.Add(totals.CreditTotal).Add(totals.RefundTotal))

	return &models.LedgerAuditReport{
		WalletTotal:  totals.WalletTotal,
		RevenuePool:  totals.RevenuePool,
		DepositTotal: totals.DepositTotal,
		CreditTotal:  totals.CreditTotal,
		RefundTotal:  totals.RefundTotal,
		WalletDrift:  walletDrift,
		PoolDrift:    poolDrift,
		Imbalance:    imbalance,
		Consistent:   withinEpsilon(walletDrift) && withinEpsilon(poolDrift) && withinEpsilon(imbalance),
		CreatedAt:    now,
	}
}

func withinEpsilon(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(BalanceEpsilon)
}

// Run computes, persists and exports one audit report
func (s *LedgerAuditService) Run(ctx context.Context) (*models.LedgerAuditReport, error) {
	totals, err := s.audits.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger totals: %w", err)
	}

	report := BuildAuditReport(totals, time.Now())
	if err := s.audits.Save(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save audit report: %w", err)
	}

	metrics.AuditImbalance.WithLabelValues("wallet_drift").Set(report.WalletDrift.InexactFloat64())
	metrics.AuditImbalance.WithLabelValues("pool_drift").Set(report.PoolDrift.InexactFloat64())
	metrics.AuditImbalance.WithLabelValues("conservation").Set(report.Imbalance.InexactFloat64())

	fields := logrus.Fields{
		"report_id":    report.ID,
		"wallet_total": utils.FormatAmount(report.WalletTotal),
		"revenue_pool": utils.FormatAmount(report.RevenuePool),
		"deposits":     utils.FormatAmount(report.DepositTotal),
		"credits":      utils.FormatAmount(report.CreditTotal),
		"refunds":      utils.FormatAmount(report.RefundTotal),
	}
	if report.Consistent {
		s.logger.WithFields(fields).Info("✅ Ledger audit consistent")
	} else {
		fields["wallet_drift"] = utils.FormatAmount(report.WalletDrift)
		fields["pool_drift"] = utils.FormatAmount(report.PoolDrift)
		fields["imbalance"] = utils.FormatAmount(report.Imbalance)
		s.logger.WithFields(fields).Error("🚨 Ledger audit found drift")
	}
	return report, nil
}

// Latest most recent report, nil when the audit never ran
func (s *LedgerAuditService) Latest(ctx context.Context) (*models.LedgerAuditReport, error) {
	report, err := s.audits.Latest(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return report, err
}

// Recent last reports, newest first
func (s *LedgerAuditService) Recent(ctx context.Context, limit int) ([]*models.LedgerAuditReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.audits.FindRecent(ctx, limit)
}
