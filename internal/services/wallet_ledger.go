package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-backend/internal/dto"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/repository"
	"ledger-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BalanceEpsilon rounding tolerance for the overdraft check and the audit
var BalanceEpsilon = decimal.New(1, -8)

// WalletMutation one credit or debit against a wallet
type WalletMutation struct {
	Wallet     string
	Role       string // used only when the wallet row is created
	Amount     decimal.Decimal
	ActionType string
	TargetID   string
}

// MutationResult committed (or about to be committed) outcome of a mutation
type MutationResult struct {
	Wallet     string
	Balance    decimal.Decimal
	Delta      decimal.Decimal
	Skimmed    decimal.Decimal
	ActionType string
	TargetID   string
}

// LedgerEventSink receives ledger events after commit. Implementations must not block.
type LedgerEventSink interface {
	BalanceChanged(change dto.BalanceChange)
	DepositCredited(event dto.DepositCredited)
}

type noopEventSink struct{}

func (noopEventSink) BalanceChanged(dto.BalanceChange)     {}
func (noopEventSink) DepositCredited(dto.DepositCredited) {}

// WalletLedger atomic credit/debit primitives with overdraft protection and
// revenue skim. Every mutation locks the wallet row, then the pool row.
type WalletLedger struct {
	db      *gorm.DB
	wallets repository.WalletRepository
	events  LedgerEventSink
	logger  *logrus.Logger
}

// NewWalletLedger creates the wallet ledger
func NewWalletLedger(db *gorm.DB, logger *logrus.Logger) *WalletLedger {
	return &WalletLedger{
		db:      db,
		wallets: repository.NewWalletRepository(db),
		events:  noopEventSink{},
		logger:  logger,
	}
}

// SetEventSink installs the post-commit event sink
func (l *WalletLedger) SetEventSink(sink LedgerEventSink) {
	if sink == nil {
		sink = noopEventSink{}
	}
	l.events = sink
}

// CreditWallet adds a positive amount in its own transaction
func (l *WalletLedger) CreditWallet(ctx context.Context, m WalletMutation) (*MutationResult, error) {
	var result *MutationResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = l.CreditWalletTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.NotifyCommitted(result)
	return result, nil
}

// DeductWallet subtracts amount in its own transaction. A negative amount
// credits the wallet without touching the revenue pool.
func (l *WalletLedger) DeductWallet(ctx context.Context, m WalletMutation) (*MutationResult, error) {
	var result *MutationResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = l.DeductWalletTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.NotifyCommitted(result)
	return result, nil
}

// CreditWalletTx credits inside the caller's transaction. The caller calls
// NotifyCommitted after commit.
func (l *WalletLedger) CreditWalletTx(ctx context.Context, tx *gorm.DB, m WalletMutation) (*MutationResult, error) {
	wallet, err := normalizeMutation(&m)
	if err != nil {
		return nil, err
	}
	if !m.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: credit must be positive, got %s", ErrInvalidAmount, m.Amount)
	}

	wallets := l.wallets.WithTx(tx)
	current, err := lockWallet(ctx, wallets, wallet, m.Role)
	if err != nil {
		metrics.WalletMutations.WithLabelValues("credit", "error").Inc()
		return nil, err
	}

	newBalance := current.Balance.Add(m.Amount)
	if err := wallets.UpdateBalance(ctx, wallet, newBalance); err != nil {
		metrics.WalletMutations.WithLabelValues("credit", "error").Inc()
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	result := &MutationResult{
		Wallet:     wallet,
		Balance:    newBalance,
		Delta:      m.Amount,
		Skimmed:    decimal.Zero,
		ActionType: m.ActionType,
		TargetID:   m.TargetID,
	}
	if err := appendAudit(ctx, wallets, current.Role, result); err != nil {
		metrics.WalletMutations.WithLabelValues("credit", "error").Inc()
		return nil, err
	}

	metrics.WalletMutations.WithLabelValues("credit", "ok").Inc()
	return result, nil
}

// DeductWalletTx debits inside the caller's transaction. Positive amounts are
// skimmed into the revenue pool; negative amounts never are.
func (l *WalletLedger) DeductWalletTx(ctx context.Context, tx *gorm.DB, m WalletMutation) (*MutationResult, error) {
	wallet, err := normalizeMutation(&m)
	if err != nil {
		return nil, err
	}

	wallets := l.wallets.WithTx(tx)
	current, err := lockWallet(ctx, wallets, wallet, m.Role)
	if err != nil {
		metrics.WalletMutations.WithLabelValues("debit", "error").Inc()
		return nil, err
	}

	if m.Amount.GreaterThan(current.Balance.Add(BalanceEpsilon)) {
		metrics.WalletMutations.WithLabelValues("debit", "insufficient").Inc()
		l.logger.WithFields(logrus.Fields{
			"wallet":      wallet,
			"balance":     utils.FormatAmount(current.Balance),
			"amount":      utils.FormatAmount(m.Amount),
			"action_type": m.ActionType,
			"target_id":   m.TargetID,
		}).Info("💸 Debit rejected: insufficient balance")
		return nil, fmt.Errorf("%w: wallet %s has %s, needs %s",
			ErrInsufficientBalance, wallet, utils.FormatAmount(current.Balance), utils.FormatAmount(m.Amount))
	}

	newBalance := current.Balance.Sub(m.Amount)
	if newBalance.IsNegative() {
		newBalance = decimal.Zero
	}
	if err := wallets.UpdateBalance(ctx, wallet, newBalance); err != nil {
		metrics.WalletMutations.WithLabelValues("debit", "error").Inc()
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	skimmed := decimal.Zero
	if m.Amount.IsPositive() {
		pool, err := wallets.LockRevenuePool(ctx)
		if err != nil {
			metrics.WalletMutations.WithLabelValues("debit", "error").Inc()
			return nil, fmt.Errorf("failed to lock revenue pool: %w", err)
		}
		if err := wallets.UpdateRevenuePool(ctx, pool.Balance.Add(m.Amount)); err != nil {
			metrics.WalletMutations.WithLabelValues("debit", "error").Inc()
			return nil, fmt.Errorf("failed to update revenue pool: %w", err)
		}
		skimmed = m.Amount
	}

	result := &MutationResult{
		Wallet:     wallet,
		Balance:    newBalance,
		Delta:      newBalance.Sub(current.Balance),
		Skimmed:    skimmed,
		ActionType: m.ActionType,
		TargetID:   m.TargetID,
	}
	if err := appendAudit(ctx, wallets, current.Role, result); err != nil {
		metrics.WalletMutations.WithLabelValues("debit", "error").Inc()
		return nil, err
	}

	metrics.WalletMutations.WithLabelValues("debit", "ok").Inc()
	return result, nil
}

// ManualCredit admin credit keyed by an operator reference. A repeated
// reference returns the original result with duplicated=true.
func (l *WalletLedger) ManualCredit(ctx context.Context, wallet, role string, amount decimal.Decimal, reference string) (*MutationResult, bool, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" || len(reference) > maxActionIDLength {
		return nil, false, fmt.Errorf("%w: reference %q", ErrInvalidActionID, reference)
	}

	var result *MutationResult
	duplicated := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := WalletMutation{
			Wallet:     wallet,
			Role:       role,
			Amount:     amount,
			ActionType: models.ActionTypeManualCredit,
			TargetID:   reference,
		}
		address, err := normalizeMutation(&m)
		if err != nil {
			return err
		}

		wallets := l.wallets.WithTx(tx)
		if _, err := lockWallet(ctx, wallets, address, m.Role); err != nil {
			return err
		}
		existing, err := wallets.FindTransactionByTarget(ctx, models.ActionTypeManualCredit, reference)
		if err == nil {
			if existing.WalletAddress != address {
				return fmt.Errorf("%w: reference %s", ErrActionOwnerMismatch, reference)
			}
			balance, err := readBalance(ctx, wallets, address)
			if err != nil {
				return err
			}
			duplicated = true
			result = &MutationResult{
				Wallet:     address,
				Balance:    balance,
				Delta:      existing.Delta,
				Skimmed:    decimal.Zero,
				ActionType: existing.ActionType,
				TargetID:   existing.TargetID,
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up manual credit: %w", err)
		}

		result, err = l.CreditWalletTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if !duplicated {
		l.NotifyCommitted(result)
		l.logger.WithFields(logrus.Fields{
			"wallet":    result.Wallet,
			"reference": reference,
			"amount":    utils.FormatAmount(result.Delta),
			"balance":   utils.FormatAmount(result.Balance),
		}).Warn("🛠️ Manual credit applied")
	}
	return result, duplicated, nil
}

// NotifyCommitted pushes balance changes for committed mutations
func (l *WalletLedger) NotifyCommitted(results ...*MutationResult) {
	for _, r := range results {
		if r == nil {
			continue
		}
		l.events.BalanceChanged(dto.BalanceChange{
			WalletAddress: r.Wallet,
			Balance:       utils.FormatAmount(r.Balance),
			Delta:         utils.FormatAmount(r.Delta),
			ActionType:    r.ActionType,
			TargetID:      r.TargetID,
			Timestamp:     time.Now(),
		})
	}
}

// GetBalance returns zero for wallets that were never mutated
func (l *WalletLedger) GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	return readBalance(ctx, l.wallets, wallet)
}

// GetWallet returns the wallet row, or a zero-balance view when absent
func (l *WalletLedger) GetWallet(ctx context.Context, wallet string) (*models.Wallet, error) {
	address, err := utils.NormalizeEvmAddress(wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	row, err := l.wallets.GetWallet(ctx, address)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Wallet{Address: address, Role: models.WalletRoleUser, Balance: decimal.Zero}, nil
	}
	return row, err
}

// GetRevenuePool current platform revenue
func (l *WalletLedger) GetRevenuePool(ctx context.Context) (decimal.Decimal, error) {
	pool, err := l.wallets.GetRevenuePool(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return pool.Balance, nil
}

// History audit rows of one wallet, newest first
func (l *WalletLedger) History(ctx context.Context, wallet string, page, limit int) ([]*models.WalletTransaction, int64, error) {
	address, err := utils.NormalizeEvmAddress(wallet)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return l.wallets.FindTransactionsByWallet(ctx, address, page, limit)
}

func readBalance(ctx context.Context, wallets repository.WalletRepository, wallet string) (decimal.Decimal, error) {
	address, err := utils.NormalizeEvmAddress(wallet)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	row, err := wallets.GetWallet(ctx, address)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.Balance, nil
}

// normalizeMutation validates m in place and returns the wallet key
func normalizeMutation(m *WalletMutation) (string, error) {
	wallet, err := utils.NormalizeEvmAddress(m.Wallet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if !m.Amount.Equal(m.Amount.Truncate(utils.LedgerDecimals)) {
		return "", fmt.Errorf("%w: more than %d decimals in %s", ErrInvalidAmount, utils.LedgerDecimals, m.Amount)
	}
	if m.ActionType == "" {
		return "", fmt.Errorf("%w: action type is required", ErrInvalidActionID)
	}
	if m.Role == "" {
		m.Role = models.WalletRoleUser
	}
	m.Wallet = wallet
	return wallet, nil
}

// lockWallet ensures the row exists, then locks it for the rest of the transaction
func lockWallet(ctx context.Context, wallets repository.WalletRepository, wallet, role string) (*models.Wallet, error) {
	if err := wallets.EnsureWallet(ctx, wallet, role); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}
	current, err := wallets.LockWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return current, nil
}

func appendAudit(ctx context.Context, wallets repository.WalletRepository, role string, r *MutationResult) error {
	txn := &models.WalletTransaction{
		ID:            uuid.NewString(),
		WalletAddress: r.Wallet,
		Role:          role,
		ActionType:    r.ActionType,
		TargetID:      r.TargetID,
		Delta:         r.Delta,
		BalanceAfter:  r.Balance,
		Skimmed:       r.Skimmed,
		CreatedAt:     time.Now(),
	}
	if err := wallets.AppendTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to append wallet transaction: %w", err)
	}
	return nil
}
