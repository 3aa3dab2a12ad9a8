package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"ledger-backend/internal/clients"
	"ledger-backend/internal/config"
	"ledger-backend/internal/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var txHashPattern = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")

// RechargeResult outcome of a client-submitted recharge
type RechargeResult struct {
	Credited   bool            `json:"credited"`
	Balance    decimal.Decimal `json:"balance"`
	Events     int             `json:"events"`     // matching events for the wallet
	Duplicated int             `json:"duplicated"` // events already credited
}

// RechargeService client-pull confirmation of deposit transactions. It
// converges on the same insert-if-absent credit as the background scanner.
type RechargeService struct {
	db            *gorm.DB
	chain         clients.ChainReader
	reconciler    *DepositReconciler
	treasury      common.Address
	tokenDecimals int
	logger        *logrus.Logger
}

// NewRechargeService creates the recharge confirmation service
func NewRechargeService(db *gorm.DB, chain clients.ChainReader, reconciler *DepositReconciler, cfg config.BlockchainConfig, logger *logrus.Logger) *RechargeService {
	return &RechargeService{
		db:            db,
		chain:         chain,
		reconciler:    reconciler,
		treasury:      common.HexToAddress(cfg.TreasuryContract),
		tokenDecimals: cfg.TokenDecimals,
		logger:        logger,
	}
}

// ConfirmRecharge credits every Deposited event in txHash whose beneficiary
// is wallet, all in one transaction
func (s *RechargeService) ConfirmRecharge(ctx context.Context, wallet, txHash string) (*RechargeResult, error) {
	address, err := utils.NormalizeEvmAddress(wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	txHash = strings.TrimSpace(txHash)
	if !txHashPattern.MatchString(txHash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTxHash, txHash)
	}

	if s.chain == nil {
		return nil, ErrChainUnavailable
	}

	receipt, err := s.chain.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txHash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrTxFailed, txHash)
	}

	var matched int
	var credits []DepositCredit
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Removed || !clients.IsDepositLog(*lg, s.treasury) {
			continue
		}
		event, err := clients.DecodeDepositLog(*lg)
		if err != nil {
			s.logger.WithError(err).WithField("tx_hash", txHash).Warn("⚠️ Skipping undecodable deposit log")
			continue
		}
		matched++
		if utils.AddressKey(event.User) != address {
			continue
		}
		credits = append(credits, DepositCredit{
			Wallet:      address,
			AmountRaw:   event.Amount.String(),
			Amount:      decimal.RequireFromString(utils.ScaleTokenAmount(event.Amount, s.tokenDecimals)),
			TxHash:      strings.ToLower(txHash),
			LogIndex:    lg.Index,
			BlockNumber: lg.BlockNumber,
			Source:      DepositSourceRecharge,
		})
	}
	if matched == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDepositEvent, txHash)
	}
	if len(credits) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBeneficiaryMismatch, txHash)
	}

	results := make([]*DepositCreditResult, 0, len(credits))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, credit := range credits {
			res, err := s.reconciler.CreditWalletOnDepositTx(ctx, tx, credit)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reconciler.AfterCommit(results...)

	out := &RechargeResult{Events: len(results)}
	for _, res := range results {
		if res.Duplicated {
			out.Duplicated++
		} else {
			out.Credited = true
		}
		out.Balance = res.Balance
	}

	s.logger.WithFields(logrus.Fields{
		"wallet":     address,
		"tx_hash":    txHash,
		"events":     out.Events,
		"duplicated": out.Duplicated,
		"balance":    utils.FormatAmount(out.Balance),
	}).Info("✅ Recharge confirmed")

	return out, nil
}
