package services

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"ledger-backend/internal/clients"
	"ledger-backend/internal/config"
	"ledger-backend/internal/metrics"
	"ledger-backend/internal/repository"
	"ledger-backend/internal/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ScanResult one scan iteration. An empty range has ToBlock < FromBlock.
type ScanResult struct {
	FromBlock  uint64
	ToBlock    uint64
	Latest     uint64
	Processed  int
	Duplicated int
}

// DepositScanner polls the treasury's Deposited events over block ranges and
// hands each to the reconciler, tracking a resumable cursor
type DepositScanner struct {
	db            *gorm.DB
	chain         clients.ChainReader
	cursors       repository.CursorRepository
	reconciler    *DepositReconciler
	treasury      common.Address
	streamID      string
	startBlock    uint64
	confirmations uint64
	maxBlockRange uint64
	tokenDecimals int
	logger        *logrus.Logger
}

// NewDepositScanner creates a scanner for the configured treasury stream
func NewDepositScanner(db *gorm.DB, chain clients.ChainReader, reconciler *DepositReconciler, cfg config.BlockchainConfig, logger *logrus.Logger) *DepositScanner {
	maxRange := cfg.MaxBlockRange
	if maxRange == 0 {
		maxRange = 2000
	}
	return &DepositScanner{
		db:            db,
		chain:         chain,
		cursors:       repository.NewCursorRepository(db),
		reconciler:    reconciler,
		treasury:      common.HexToAddress(cfg.TreasuryContract),
		streamID:      cfg.StreamID(),
		startBlock:    cfg.StartBlock,
		confirmations: cfg.Confirmations,
		maxBlockRange: maxRange,
		tokenDecimals: cfg.TokenDecimals,
		logger:        logger,
	}
}

// StreamID cursor key of this scanner
func (s *DepositScanner) StreamID() string {
	return s.streamID
}

// ScanOnce scans (cursor, min(safe head, cursor+maxBlockRange)]. The cursor
// only moves forward; deposits are deduplicated by the reconciler, not by the cursor.
func (s *DepositScanner) ScanOnce(ctx context.Context) (*ScanResult, error) {
	started := time.Now()
	defer func() {
		metrics.ScanDuration.WithLabelValues(s.streamID).Observe(time.Since(started).Seconds())
	}()

	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}
	latest := uint64(0)
	if head > s.confirmations {
		latest = head - s.confirmations
	}

	cursor, found, err := s.cursors.Get(ctx, s.streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}
	if !found {
		seed := latest
		if s.startBlock > 0 {
			seed = s.startBlock - 1
		}
		cursor, err = s.cursors.Seed(ctx, s.streamID, seed)
		if err != nil {
			return nil, fmt.Errorf("failed to seed cursor: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"stream": s.streamID,
			"cursor": cursor,
			"head":   head,
		}).Info("📍 Deposit cursor seeded")
	}

	if cursor >= latest {
		if _, err := s.cursors.Advance(ctx, s.streamID, latest); err != nil {
			return nil, fmt.Errorf("failed to advance cursor: %w", err)
		}
		metrics.ScanCursor.WithLabelValues(s.streamID).Set(float64(cursor))
		return &ScanResult{FromBlock: cursor + 1, ToBlock: cursor, Latest: latest}, nil
	}

	from := cursor + 1
	to := utils.MinUint64(latest, cursor+s.maxBlockRange)

	logs, err := s.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.treasury},
		Topics:    [][]common.Hash{{clients.DepositedTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs %d-%d: %w", from, to, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	result := &ScanResult{FromBlock: from, ToBlock: to, Latest: latest}
	for _, lg := range logs {
		if lg.Removed || !clients.IsDepositLog(lg, s.treasury) {
			continue
		}

		res, err := s.processLog(ctx, lg)
		if err != nil {
			return result, err
		}
		if res == nil {
			continue
		}
		if res.Duplicated {
			result.Duplicated++
		} else {
			result.Processed++
		}
	}

	if _, err := s.cursors.Advance(ctx, s.streamID, to); err != nil {
		return result, fmt.Errorf("failed to advance cursor: %w", err)
	}
	metrics.ScanCursor.WithLabelValues(s.streamID).Set(float64(to))

	if result.Processed > 0 || result.Duplicated > 0 {
		s.logger.WithFields(logrus.Fields{
			"stream":     s.streamID,
			"from":       from,
			"to":         to,
			"latest":     latest,
			"credited":   result.Processed,
			"duplicated": result.Duplicated,
		}).Info("🔍 Deposit range scanned")
	}

	return result, nil
}

// processLog credits one event and moves the cursor to the block before it in
// the same transaction, so a crash re-reads at most the current block
func (s *DepositScanner) processLog(ctx context.Context, lg types.Log) (*DepositCreditResult, error) {
	event, err := clients.DecodeDepositLog(lg)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tx_hash":   lg.TxHash.Hex(),
			"log_index": lg.Index,
		}).Warn("⚠️ Skipping undecodable deposit log")
		return nil, nil
	}

	amount := utils.ScaleTokenAmount(event.Amount, s.tokenDecimals)
	credit := DepositCredit{
		Wallet:      utils.AddressKey(event.User),
		AmountRaw:   event.Amount.String(),
		Amount:      decimal.RequireFromString(amount),
		TxHash:      event.TxHash.Hex(),
		LogIndex:    event.LogIndex,
		BlockNumber: event.BlockNumber,
		Source:      DepositSourceListener,
	}

	var result *DepositCreditResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.reconciler.CreditWalletOnDepositTx(ctx, tx, credit)
		if err != nil {
			return err
		}
		if event.BlockNumber > 0 {
			if _, err := s.cursors.WithTx(tx).Advance(ctx, s.streamID, event.BlockNumber-1); err != nil {
				return fmt.Errorf("failed to advance cursor: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile deposit %s:%d: %w", credit.TxHash, credit.LogIndex, err)
	}

	s.reconciler.AfterCommit(result)
	return result, nil
}

// Cursor current persisted cursor, found=false before the first scan
func (s *DepositScanner) Cursor(ctx context.Context) (uint64, bool, error) {
	return s.cursors.Get(ctx, s.streamID)
}
