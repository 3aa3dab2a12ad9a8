package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-backend/internal/metrics"
	"ledger-backend/internal/models"
	"ledger-backend/internal/repository"
	"ledger-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxActionIDLength = 128

// ChargeRequest fee debit for one caller-identified action
type ChargeRequest struct {
	ActionID   string
	Wallet     string
	Role       string
	Amount     decimal.Decimal
	ActionType string
}

// BillingResult outcome of a charge or refund. Duplicated is true when the
// call was a retry of an already-applied operation.
type BillingResult struct {
	Balance    decimal.Decimal            `json:"balance"`
	Duplicated bool                       `json:"duplicated"`
	Entry      *models.BillingLedgerEntry `json:"entry"`
}

// BillingService idempotent fee debit/refund keyed by caller-supplied action id
type BillingService struct {
	db      *gorm.DB
	entries repository.BillingRepository
	wallets repository.WalletRepository
	ledger  *WalletLedger
	logger  *logrus.Logger
}

// NewBillingService creates the action billing ledger
func NewBillingService(db *gorm.DB, ledger *WalletLedger, logger *logrus.Logger) *BillingService {
	return &BillingService{
		db:      db,
		entries: repository.NewBillingRepository(db),
		wallets: repository.NewWalletRepository(db),
		ledger:  ledger,
		logger:  logger,
	}
}

// ChargeForAction debits req.Amount once per action id
func (s *BillingService) ChargeForAction(ctx context.Context, req ChargeRequest) (*BillingResult, error) {
	var result *BillingResult
	var mutation *MutationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, mutation, err = s.ChargeForActionTx(ctx, tx, req)
		return err
	})
	if err != nil {
		metrics.BillingOperations.WithLabelValues("charge", billingResultLabel(err)).Inc()
		return nil, err
	}
	metrics.BillingOperations.WithLabelValues("charge", duplicatedLabel(result.Duplicated)).Inc()
	s.ledger.NotifyCommitted(mutation)
	return result, nil
}

// ChargeForActionTx charges inside the caller's transaction. The returned
// mutation is nil for duplicates; pass it to WalletLedger.NotifyCommitted after commit.
func (s *BillingService) ChargeForActionTx(ctx context.Context, tx *gorm.DB, req ChargeRequest) (*BillingResult, *MutationResult, error) {
	actionID, wallet, err := validateAction(req.ActionID, req.Wallet)
	if err != nil {
		return nil, nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: charge must be positive, got %s", ErrInvalidAmount, req.Amount)
	}
	if req.ActionType == "" {
		return nil, nil, fmt.Errorf("%w: action type is required", ErrInvalidActionID)
	}
	if req.Role == "" {
		req.Role = models.WalletRoleUser
	}

	entries := s.entries.WithTx(tx)
	now := time.Now()
	entry := &models.BillingLedgerEntry{
		ActionID:      actionID,
		WalletAddress: wallet,
		Role:          req.Role,
		ActionType:    req.ActionType,
		Amount:        req.Amount,
		Status:        models.BillingStatusDebited,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inserted, err := entries.InsertIfAbsent(ctx, entry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert billing entry: %w", err)
	}

	if !inserted {
		existing, err := entries.GetEntry(ctx, actionID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load billing entry: %w", err)
		}
		if existing.WalletAddress != wallet {
			return nil, nil, fmt.Errorf("%w: %s", ErrActionOwnerMismatch, actionID)
		}
		balance, err := readBalance(ctx, s.wallets.WithTx(tx), wallet)
		if err != nil {
			return nil, nil, err
		}
		s.logger.WithFields(logrus.Fields{
			"action_id": actionID,
			"wallet":    wallet,
			"status":    existing.Status,
		}).Debug("🔁 Charge already applied")
		return &BillingResult{Balance: balance, Duplicated: true, Entry: existing}, nil, nil
	}

	mutation, err := s.ledger.DeductWalletTx(ctx, tx, WalletMutation{
		Wallet:     wallet,
		Role:       req.Role,
		Amount:     req.Amount,
		ActionType: req.ActionType,
		TargetID:   actionID,
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"action_id":   actionID,
		"wallet":      wallet,
		"action_type": req.ActionType,
		"amount":      utils.FormatAmount(req.Amount),
		"balance":     utils.FormatAmount(mutation.Balance),
	}).Info("🧾 Action charged")

	return &BillingResult{Balance: mutation.Balance, Entry: entry}, mutation, nil
}

// RefundAction returns a charge to its wallet. Refunding twice is a no-op;
// a refunded entry can never be charged again.
func (s *BillingService) RefundAction(ctx context.Context, actionID, wallet string) (*BillingResult, error) {
	actionID, address, err := validateAction(actionID, wallet)
	if err != nil {
		return nil, err
	}

	var result *BillingResult
	var mutation *MutationResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries := s.entries.WithTx(tx)
		entry, err := entries.LockEntry(ctx, actionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock billing entry: %w", err)
		}
		if entry.WalletAddress != address {
			return fmt.Errorf("%w: %s", ErrActionOwnerMismatch, actionID)
		}
		// 工单费用随工单生效, 不能单独退款
		if !refundableActionType(entry.ActionType) {
			return fmt.Errorf("%w: %s is a %s charge", ErrActionNotRefundable, actionID, entry.ActionType)
		}

		if entry.Status == models.BillingStatusRefunded {
			balance, err := readBalance(ctx, s.wallets.WithTx(tx), address)
			if err != nil {
				return err
			}
			result = &BillingResult{Balance: balance, Duplicated: true, Entry: entry}
			return nil
		}

		mutation, err = s.ledger.DeductWalletTx(ctx, tx, WalletMutation{
			Wallet:     address,
			Role:       entry.Role,
			Amount:     entry.Amount.Neg(),
			ActionType: models.ActionTypeRefund,
			TargetID:   actionID,
		})
		if err != nil {
			return err
		}

		now := time.Now()
		if err := entries.MarkRefunded(ctx, actionID, now); err != nil {
			return fmt.Errorf("failed to mark refunded: %w", err)
		}
		entry.Status = models.BillingStatusRefunded
		entry.RefundedAt = &now
		entry.UpdatedAt = now

		result = &BillingResult{Balance: mutation.Balance, Entry: entry}
		return nil
	})
	if err != nil {
		metrics.BillingOperations.WithLabelValues("refund", billingResultLabel(err)).Inc()
		return nil, err
	}

	metrics.BillingOperations.WithLabelValues("refund", duplicatedLabel(result.Duplicated)).Inc()
	if !result.Duplicated {
		s.ledger.NotifyCommitted(mutation)
		s.logger.WithFields(logrus.Fields{
			"action_id": actionID,
			"wallet":    address,
			"amount":    utils.FormatAmount(result.Entry.Amount),
			"balance":   utils.FormatAmount(result.Balance),
		}).Info("↩️ Action refunded")
	}
	return result, nil
}

func refundableActionType(actionType string) bool {
	return actionType != models.ActionTypeTicketIssue
}

// GetAction reads one billing entry
func (s *BillingService) GetAction(ctx context.Context, actionID string) (*models.BillingLedgerEntry, error) {
	entry, err := s.entries.GetEntry(ctx, strings.TrimSpace(actionID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	return entry, err
}

// ListActions billing entries of one wallet, newest first
func (s *BillingService) ListActions(ctx context.Context, wallet string, page, limit int) ([]*models.BillingLedgerEntry, int64, error) {
	address, err := utils.NormalizeEvmAddress(wallet)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return s.entries.FindByWallet(ctx, address, page, limit)
}

func validateAction(actionID, wallet string) (string, string, error) {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" || len(actionID) > maxActionIDLength {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidActionID, actionID)
	}
	address, err := utils.NormalizeEvmAddress(wallet)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return actionID, address, nil
}

func duplicatedLabel(duplicated bool) string {
	if duplicated {
		return "duplicated"
	}
	return "ok"
}

func billingResultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, ErrActionNotFound), errors.Is(err, ErrActionOwnerMismatch), errors.Is(err, ErrActionNotRefundable):
		return "rejected"
	case IsValidationError(err):
		return "invalid"
	default:
		return "error"
	}
}
