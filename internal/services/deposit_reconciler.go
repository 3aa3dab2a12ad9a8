package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ledger-backend/internal/dto"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/repository"
	"ledger-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deposit sources, used for metrics and events
const (
	DepositSourceListener = "listener"
	DepositSourceRecharge = "recharge"
)

// DepositCredit one matched on-chain deposit event
type DepositCredit struct {
	Wallet      string
	AmountRaw   string          // uint256 as decimal string
	Amount      decimal.Decimal // scaled to 4 decimals
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	Source      string
}

// DepositCreditResult outcome of one credit attempt
type DepositCreditResult struct {
	Duplicated bool
	Balance    decimal.Decimal

	credit   DepositCredit
	mutation *MutationResult
}

// DepositReconciler turns chain deposit events into exactly-once wallet credits.
// The (tx_hash, log_index) insert is the only idempotency gate.
type DepositReconciler struct {
	db       *gorm.DB
	deposits repository.DepositRepository
	wallets  repository.WalletRepository
	ledger   *WalletLedger
	logger   *logrus.Logger
}

// NewDepositReconciler creates a deposit reconciler
func NewDepositReconciler(db *gorm.DB, ledger *WalletLedger, logger *logrus.Logger) *DepositReconciler {
	return &DepositReconciler{
		db:       db,
		deposits: repository.NewDepositRepository(db),
		wallets:  repository.NewWalletRepository(db),
		ledger:   ledger,
		logger:   logger,
	}
}

// CreditWalletOnDeposit records and credits one deposit in its own transaction
func (r *DepositReconciler) CreditWalletOnDeposit(ctx context.Context, credit DepositCredit) (*DepositCreditResult, error) {
	var result *DepositCreditResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = r.CreditWalletOnDepositTx(ctx, tx, credit)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.AfterCommit(result)
	return result, nil
}

// CreditWalletOnDepositTx inserts the deposit row if absent and, only when
// inserted, credits the wallet in the same transaction
func (r *DepositReconciler) CreditWalletOnDepositTx(ctx context.Context, tx *gorm.DB, credit DepositCredit) (*DepositCreditResult, error) {
	wallet, err := utils.NormalizeEvmAddress(credit.Wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if credit.TxHash == "" {
		return nil, fmt.Errorf("%w: tx hash is required", ErrInvalidTxHash)
	}
	if credit.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative deposit %s", ErrInvalidAmount, credit.Amount)
	}
	credit.Wallet = wallet
	credit.TxHash = strings.ToLower(credit.TxHash)
	if credit.Source == "" {
		credit.Source = DepositSourceListener
	}

	deposit := &models.Deposit{
		TxHash:        credit.TxHash,
		LogIndex:      credit.LogIndex,
		BlockNumber:   credit.BlockNumber,
		WalletAddress: wallet,
		AmountRaw:     credit.AmountRaw,
		Amount:        credit.Amount,
		CreatedAt:     time.Now(),
	}
	inserted, err := r.deposits.WithTx(tx).InsertIfAbsent(ctx, deposit)
	if err != nil {
		return nil, fmt.Errorf("failed to insert deposit: %w", err)
	}

	fields := logrus.Fields{
		"wallet":    wallet,
		"tx_hash":   credit.TxHash,
		"log_index": credit.LogIndex,
		"block":     credit.BlockNumber,
		"amount":    utils.FormatAmount(credit.Amount),
		"source":    credit.Source,
	}

	if !inserted {
		balance, err := readBalance(ctx, r.wallets.WithTx(tx), wallet)
		if err != nil {
			return nil, err
		}
		r.logger.WithFields(fields).Debug("🔁 Deposit already credited, skipping")
		return &DepositCreditResult{Duplicated: true, Balance: balance, credit: credit}, nil
	}

	result := &DepositCreditResult{credit: credit}
	if credit.Amount.IsPositive() {
		mutation, err := r.ledger.CreditWalletTx(ctx, tx, WalletMutation{
			Wallet:     wallet,
			Role:       models.WalletRoleUser,
			Amount:     credit.Amount,
			ActionType: models.ActionTypeDeposit,
			TargetID:   fmt.Sprintf("%s:%d", credit.TxHash, credit.LogIndex),
		})
		if err != nil {
			return nil, err
		}
		result.mutation = mutation
		result.Balance = mutation.Balance
	} else {
		// dust below the ledger scale: recorded so it is never rescanned, nothing to credit
		balance, err := readBalance(ctx, r.wallets.WithTx(tx), wallet)
		if err != nil {
			return nil, err
		}
		result.Balance = balance
	}

	r.logger.WithFields(fields).Info("💰 Deposit credited")
	return result, nil
}

// AfterCommit records metrics and emits events for committed results
func (r *DepositReconciler) AfterCommit(results ...*DepositCreditResult) {
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Duplicated {
			metrics.DepositsDuplicated.WithLabelValues(res.credit.Source).Inc()
			continue
		}
		metrics.DepositsCredited.WithLabelValues(res.credit.Source).Inc()
		r.ledger.NotifyCommitted(res.mutation)
		r.ledger.events.DepositCredited(dto.DepositCredited{
			WalletAddress: res.credit.Wallet,
			TxHash:        res.credit.TxHash,
			LogIndex:      res.credit.LogIndex,
			BlockNumber:   res.credit.BlockNumber,
			Amount:        utils.FormatAmount(res.credit.Amount),
			Balance:       utils.FormatAmount(res.Balance),
			Source:        res.credit.Source,
			Timestamp:     time.Now(),
		})
	}
}

// DepositsByTxHash credited deposits of one transaction
func (r *DepositReconciler) DepositsByTxHash(ctx context.Context, txHash string) ([]*models.Deposit, error) {
	return r.deposits.FindByTxHash(ctx, strings.ToLower(txHash))
}

// DepositsByWallet credited deposits of one wallet, newest first
func (r *DepositReconciler) DepositsByWallet(ctx context.Context, wallet string, page, limit int) ([]*models.Deposit, int64, error) {
	address, err := utils.NormalizeEvmAddress(wallet)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return r.deposits.FindByWallet(ctx, address, page, limit)
}
