package clients

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ChainReader the subset of an Ethereum JSON-RPC client the ledger reads with.
// *ethclient.Client satisfies it.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialChain connects to the first endpoint that answers with the expected
// chain id. chainID <= 0 skips the check.
func DialChain(ctx context.Context, endpoints []string, chainID int64, timeout time.Duration) (*ethclient.Client, string, error) {
	if len(endpoints) == 0 {
		return nil, "", fmt.Errorf("no RPC endpoints configured")
	}

	var lastErr error
	for _, endpoint := range endpoints {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		client, err := ethclient.DialContext(dialCtx, endpoint)
		if err != nil {
			cancel()
			lastErr = err
			logrus.WithError(err).WithField("endpoint", endpoint).Warn("⚠️ RPC endpoint unreachable, trying next")
			continue
		}

		if chainID > 0 {
			remoteID, err := client.ChainID(dialCtx)
			if err != nil {
				cancel()
				client.Close()
				lastErr = err
				logrus.WithError(err).WithField("endpoint", endpoint).Warn("⚠️ Failed to read chain id, trying next")
				continue
			}
			if remoteID.Int64() != chainID {
				cancel()
				client.Close()
				lastErr = fmt.Errorf("endpoint %s serves chain %s, want %d", endpoint, remoteID, chainID)
				logrus.WithField("endpoint", endpoint).Warn("⚠️ Chain id mismatch, trying next")
				continue
			}
		}
		cancel()

		logrus.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"chain_id": chainID,
		}).Info("✅ Connected to chain RPC")
		return client, endpoint, nil
	}

	return nil, "", fmt.Errorf("all RPC endpoints failed: %w", lastErr)
}

// timeoutChainReader bounds every RPC call with its own deadline
type timeoutChainReader struct {
	inner   ChainReader
	timeout time.Duration
}

// WithCallTimeout wraps reader so that each call gets a fresh timeout
func WithCallTimeout(reader ChainReader, timeout time.Duration) ChainReader {
	if timeout <= 0 {
		return reader
	}
	return &timeoutChainReader{inner: reader, timeout: timeout}
}

func (r *timeoutChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.BlockNumber(ctx)
}

func (r *timeoutChainReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.FilterLogs(ctx, q)
}

func (r *timeoutChainReader) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.TransactionReceipt(ctx, txHash)
}

func (r *timeoutChainReader) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.CallContract(ctx, msg, blockNumber)
}
