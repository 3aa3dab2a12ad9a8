package services

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"testing"

	"ledger-backend/internal/clients"
	"ledger-backend/internal/db"
	"ledger-backend/internal/dto"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	alice    = "0x1111111111111111111111111111111111111111"
	bob      = "0x2222222222222222222222222222222222222222"
	treasury = "0x9999999999999999999999999999999999999999"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gormDB, err := gorm.Open(sqlite.Open(dsn), db.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	// one connection serializes transactions the way row locks do on Postgres
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormDB
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func assertAmount(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(t, want)) {
		t.Fatalf("%s = %s, want %s", what, got.String(), want)
	}
}

func seedBalance(t *testing.T, ledger *WalletLedger, wallet, amount string) {
	t.Helper()
	_, err := ledger.CreditWallet(context.Background(), WalletMutation{
		Wallet:     wallet,
		Amount:     dec(t, amount),
		ActionType: "SEED",
		TargetID:   "seed:" + wallet + ":" + amount,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", wallet, err)
	}
}

// fakeChain in-memory ChainReader
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	receipts map[common.Hash]*types.Receipt
	headErr  error
	owners   map[string]common.Address // token id -> owner
	filters  []ethereum.FilterQuery
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{head: head, receipts: map[common.Hash]*types.Receipt{}, owners: map[string]common.Address{}}
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, c.headErr
}

func (c *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, q)
	var out []types.Log
	for _, lg := range c.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// ownerOf(uint256): 4-byte selector then the token id word
	if len(msg.Data) < 36 {
		return nil, fmt.Errorf("short call data")
	}
	tokenID := new(big.Int).SetBytes(msg.Data[4:36]).String()
	owner, ok := c.owners[tokenID]
	if !ok {
		return nil, fmt.Errorf("execution reverted: invalid token")
	}
	return clients.PackOwnerOfResult(owner)
}

func (c *fakeChain) setHead(head uint64) {
	c.mu.Lock()
	c.head = head
	c.mu.Unlock()
}

func (c *fakeChain) setOwner(tokenID string, owner string) {
	c.mu.Lock()
	c.owners[tokenID] = common.HexToAddress(owner)
	c.mu.Unlock()
}

// depositLog builds a Deposited log paying amount wei to user
func depositLog(t *testing.T, user string, amount *big.Int, block uint64, txHash common.Hash, index uint) types.Log {
	t.Helper()
	data, err := clients.PackDepositData(amount)
	if err != nil {
		t.Fatalf("pack deposit: %v", err)
	}
	return types.Log{
		Address:     common.HexToAddress(treasury),
		Topics:      []common.Hash{clients.DepositedTopic, common.BytesToHash(common.HexToAddress(user).Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash,
		Index:       index,
	}
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// fakeEngine scripted reputation engine
type fakeEngine struct {
	mu    sync.Mutex
	calls int
	fail  int // fail the first n calls
}

func (e *fakeEngine) RecomputeScore(ctx context.Context, wallet string) (dto.ScoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.fail {
		return dto.ScoreResult{}, fmt.Errorf("engine unavailable")
	}
	return dto.ScoreResult{Changed: true, Level: "GOLD", TotalScore: 42}, nil
}

func (e *fakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
