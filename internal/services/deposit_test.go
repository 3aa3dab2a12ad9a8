package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"ledger-backend/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"gorm.io/gorm"
)

func newDepositFixture(t *testing.T) (*gorm.DB, *WalletLedger, *DepositReconciler, *recordingSink) {
	t.Helper()
	gormDB := newTestDB(t)
	logger := newTestLogger()
	ledger := NewWalletLedger(gormDB, logger)
	sink := &recordingSink{}
	ledger.SetEventSink(sink)
	return gormDB, ledger, NewDepositReconciler(gormDB, ledger, logger), sink
}

func chainConfig() config.BlockchainConfig {
	return config.BlockchainConfig{
		ChainID:          1,
		TreasuryContract: treasury,
		TokenDecimals:    18,
		MaxBlockRange:    100,
		Enabled:          true,
	}
}

func TestCreditWalletOnDepositIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, ledger, reconciler, sink := newDepositFixture(t)
	credit := DepositCredit{
		Wallet:    alice,
		AmountRaw: "5000000000000000000",
		Amount:    dec(t, "5"),
		TxHash:    "0xABC0000000000000000000000000000000000000000000000000000000000001",
		LogIndex:  3,
	}

	first, err := reconciler.CreditWalletOnDeposit(ctx, credit)
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}
	if first.Duplicated {
		t.Fatal("first credit reported duplicated")
	}

	// same event, differently cased hash, different source
	credit.TxHash = "0xabc0000000000000000000000000000000000000000000000000000000000001"
	credit.Source = DepositSourceRecharge
	second, err := reconciler.CreditWalletOnDeposit(ctx, credit)
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if !second.Duplicated {
		t.Fatal("second credit not reported duplicated")
	}
	assertAmount(t, "balance", second.Balance, "5")

	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "stored balance", balance, "5")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.deposits) != 1 {
		t.Fatalf("deposit events = %d, want 1", len(sink.deposits))
	}
}

func TestDustDepositRecordedWithoutCredit(t *testing.T) {
	ctx := context.Background()
	_, ledger, reconciler, _ := newDepositFixture(t)

	res, err := reconciler.CreditWalletOnDeposit(ctx, DepositCredit{
		Wallet: alice, AmountRaw: "1", Amount: dec(t, "0"), TxHash: "0x01", LogIndex: 0,
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	assertAmount(t, "balance", res.Balance, "0")

	deposits, err := reconciler.DepositsByTxHash(ctx, "0x01")
	if err != nil || len(deposits) != 1 {
		t.Fatalf("deposits = %d, err = %v", len(deposits), err)
	}
	if history, _, _ := ledger.History(ctx, alice, 1, 10); len(history) != 0 {
		t.Fatalf("dust produced %d wallet transactions", len(history))
	}
}

func TestScannerSeedsAtSafeHeadAndAdvances(t *testing.T) {
	ctx := context.Background()
	gormDB, ledger, reconciler, _ := newDepositFixture(t)
	chain := newFakeChain(100)
	cfg := chainConfig()
	cfg.Confirmations = 2
	scanner := NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger())

	res, err := scanner.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if res.ToBlock >= res.FromBlock {
		t.Fatalf("first scan should be empty, got %d-%d", res.FromBlock, res.ToBlock)
	}
	cursor, found, _ := scanner.Cursor(ctx)
	if !found || cursor != 98 {
		t.Fatalf("cursor = %d found=%v, want 98", cursor, found)
	}

	tx := common.HexToHash("0xaa")
	chain.logs = append(chain.logs, depositLog(t, alice, ether(2), 101, tx, 0))
	chain.setHead(105)

	res, err = scanner.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.FromBlock != 99 || res.ToBlock != 103 || res.Processed != 1 {
		t.Fatalf("scan = %+v", res)
	}
	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "balance", balance, "2")

	cursor, _, _ = scanner.Cursor(ctx)
	if cursor != 103 {
		t.Fatalf("cursor = %d, want 103", cursor)
	}
}

func TestScannerHonoursStartBlockAndRange(t *testing.T) {
	ctx := context.Background()
	gormDB, ledger, reconciler, _ := newDepositFixture(t)
	chain := newFakeChain(1000)
	cfg := chainConfig()
	cfg.StartBlock = 10
	cfg.MaxBlockRange = 50
	scanner := NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger())

	chain.logs = []types.Log{
		depositLog(t, alice, ether(1), 10, common.HexToHash("0x01"), 0),
		depositLog(t, bob, ether(3), 59, common.HexToHash("0x02"), 1),
		depositLog(t, alice, ether(4), 60, common.HexToHash("0x03"), 0),
	}

	res, err := scanner.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.FromBlock != 10 || res.ToBlock != 59 || res.Processed != 2 {
		t.Fatalf("scan = %+v", res)
	}
	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "alice after first range", balance, "1")

	if _, err := scanner.ScanOnce(ctx); err != nil {
		t.Fatalf("scan 2: %v", err)
	}
	balance, _ = ledger.GetBalance(ctx, alice)
	assertAmount(t, "alice after second range", balance, "5")
}

func TestScannerResumeDoesNotDoubleCredit(t *testing.T) {
	ctx := context.Background()
	gormDB, ledger, reconciler, _ := newDepositFixture(t)
	chain := newFakeChain(50)
	cfg := chainConfig()
	cfg.StartBlock = 1
	chain.logs = []types.Log{depositLog(t, alice, ether(1), 20, common.HexToHash("0x01"), 0)}

	if _, err := NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger()).ScanOnce(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// a restart with the cursor rolled back re-reads the same block
	if err := gormDB.Exec("UPDATE sync_cursors SET last_block = 0").Error; err != nil {
		t.Fatalf("rewind: %v", err)
	}
	res, err := NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger()).ScanOnce(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if res.Duplicated != 1 || res.Processed != 0 {
		t.Fatalf("rescan = %+v", res)
	}
	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "balance", balance, "1")
}

func TestScannerNeverRegressesCursor(t *testing.T) {
	cases := []struct {
		name   string
		adjust func(chain *fakeChain, cfg *config.BlockchainConfig)
	}{
		// head 122 - 22 confirmations = 100
		{"confirmations raised", func(chain *fakeChain, cfg *config.BlockchainConfig) { cfg.Confirmations = 22 }},
		// head 102 - 2 confirmations = 100
		{"head lowered", func(chain *fakeChain, cfg *config.BlockchainConfig) { chain.setHead(102) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			gormDB, ledger, reconciler, _ := newDepositFixture(t)
			chain := newFakeChain(122)
			cfg := chainConfig()
			cfg.Confirmations = 2

			if _, err := NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger()).ScanOnce(ctx); err != nil {
				t.Fatalf("seed scan: %v", err)
			}
			chain.logs = []types.Log{depositLog(t, alice, ether(1), 110, common.HexToHash("0x01"), 0)}
			filtersBefore := len(chain.filters)

			tc.adjust(chain, &cfg)
			scanner := NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger())
			res, err := scanner.ScanOnce(ctx)
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if res.Latest != 100 || res.ToBlock >= res.FromBlock || res.Processed != 0 || res.Duplicated != 0 {
				t.Fatalf("scan = %+v, want an empty scan below safe head 100", res)
			}
			if len(chain.filters) != filtersBefore {
				t.Fatalf("scan queried logs behind the cursor: %+v", chain.filters[filtersBefore:])
			}
			cursor, _, _ := scanner.Cursor(ctx)
			if cursor != 120 {
				t.Fatalf("cursor = %d, want 120", cursor)
			}
			balance, _ := ledger.GetBalance(ctx, alice)
			assertAmount(t, "balance", balance, "0")
		})
	}
}

func TestScannerSkipsForeignLogs(t *testing.T) {
	ctx := context.Background()
	gormDB, ledger, reconciler, _ := newDepositFixture(t)
	chain := newFakeChain(30)
	cfg := chainConfig()
	cfg.StartBlock = 1

	foreign := depositLog(t, alice, ether(9), 5, common.HexToHash("0x01"), 0)
	foreign.Address = common.HexToAddress(bob)
	removed := depositLog(t, alice, ether(9), 6, common.HexToHash("0x02"), 0)
	removed.Removed = true
	chain.logs = []types.Log{foreign, removed}

	res, err := NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger()).ScanOnce(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Processed != 0 {
		t.Fatalf("processed = %d", res.Processed)
	}
	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "balance", balance, "0")
}

func TestScannerHeadErrorLeavesCursor(t *testing.T) {
	ctx := context.Background()
	gormDB, _, reconciler, _ := newDepositFixture(t)
	chain := newFakeChain(30)
	chain.headErr = errors.New("rpc down")
	scanner := NewDepositScanner(gormDB, chain, reconciler, chainConfig(), newTestLogger())

	if _, err := scanner.ScanOnce(ctx); err == nil {
		t.Fatal("expected error")
	}
	if _, found, _ := scanner.Cursor(ctx); found {
		t.Fatal("cursor seeded despite head error")
	}
}

func TestConfirmRecharge(t *testing.T) {
	ctx := context.Background()
	gormDB, ledger, reconciler, _ := newDepositFixture(t)
	chain := newFakeChain(10)
	recharge := NewRechargeService(gormDB, chain, reconciler, chainConfig(), newTestLogger())

	paid := common.HexToHash("0x0100000000000000000000000000000000000000000000000000000000000000")
	lg := depositLog(t, alice, ether(3), 9, paid, 1)
	chain.receipts[paid] = &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{&lg}}

	failed := common.HexToHash("0x0200000000000000000000000000000000000000000000000000000000000000")
	chain.receipts[failed] = &types.Receipt{Status: types.ReceiptStatusFailed}

	empty := common.HexToHash("0x0300000000000000000000000000000000000000000000000000000000000000")
	chain.receipts[empty] = &types.Receipt{Status: types.ReceiptStatusSuccessful}

	res, err := recharge.ConfirmRecharge(ctx, alice, paid.Hex())
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !res.Credited || res.Events != 1 {
		t.Fatalf("result = %+v", res)
	}
	assertAmount(t, "balance", res.Balance, "3")

	res, err = recharge.ConfirmRecharge(ctx, alice, paid.Hex())
	if err != nil || res.Credited || res.Duplicated != 1 {
		t.Fatalf("repeat = %+v, err = %v", res, err)
	}
	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "balance after repeat", balance, "3")

	cases := []struct {
		name   string
		wallet string
		hash   string
		want   error
	}{
		{"malformed hash", alice, "0x1234", ErrInvalidTxHash},
		{"unknown tx", alice, "0x0400000000000000000000000000000000000000000000000000000000000000", ErrTxNotFound},
		{"reverted tx", alice, failed.Hex(), ErrTxFailed},
		{"no deposit event", alice, empty.Hex(), ErrNoDepositEvent},
		{"someone else's deposit", bob, paid.Hex(), ErrBeneficiaryMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := recharge.ConfirmRecharge(ctx, tc.wallet, tc.hash); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRechargeAndListenerShareIdempotency(t *testing.T) {
	ctx := context.Background()
	gormDB, ledger, reconciler, _ := newDepositFixture(t)
	chain := newFakeChain(20)
	cfg := chainConfig()
	cfg.StartBlock = 1

	hash := common.HexToHash("0x0500000000000000000000000000000000000000000000000000000000000000")
	lg := depositLog(t, alice, big.NewInt(0).Mul(big.NewInt(15), big.NewInt(1e17)), 5, hash, 0)
	chain.logs = []types.Log{lg}
	chain.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{&lg}}

	if _, err := NewRechargeService(gormDB, chain, reconciler, cfg, newTestLogger()).ConfirmRecharge(ctx, alice, hash.Hex()); err != nil {
		t.Fatalf("recharge: %v", err)
	}
	res, err := NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger()).ScanOnce(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Duplicated != 1 {
		t.Fatalf("scan = %+v", res)
	}
	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "balance", balance, "1.5")
}

func TestRechargeRacingListenerCreditsOnce(t *testing.T) {
	ctx := context.Background()
	gormDB, ledger, reconciler, _ := newDepositFixture(t)
	chain := newFakeChain(20)
	cfg := chainConfig()
	cfg.StartBlock = 1

	hash := common.HexToHash("0x0600000000000000000000000000000000000000000000000000000000000000")
	lg := depositLog(t, alice, ether(2), 5, hash, 0)
	chain.logs = []types.Log{lg}
	chain.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{&lg}}

	recharge := NewRechargeService(gormDB, chain, reconciler, cfg, newTestLogger())
	scanner := NewDepositScanner(gormDB, chain, reconciler, cfg, newTestLogger())

	var (
		wg        sync.WaitGroup
		recharged *RechargeResult
		scanned   *ScanResult
		rechErr   error
		scanErr   error
	)
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		recharged, rechErr = recharge.ConfirmRecharge(ctx, alice, hash.Hex())
	}()
	go func() {
		defer wg.Done()
		<-start
		scanned, scanErr = scanner.ScanOnce(ctx)
	}()
	close(start)
	wg.Wait()

	if rechErr != nil || scanErr != nil {
		t.Fatalf("recharge err = %v, scan err = %v", rechErr, scanErr)
	}
	credits := scanned.Processed
	if recharged.Credited {
		credits++
	}
	if credits != 1 {
		t.Fatalf("credited %d times (recharge %+v, scan %+v)", credits, recharged, scanned)
	}
	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "balance", balance, "2")

	var deposits int64
	if err := gormDB.Table("deposits").Count(&deposits).Error; err != nil {
		t.Fatalf("count deposits: %v", err)
	}
	if deposits != 1 {
		t.Fatalf("deposits = %d", deposits)
	}
}

func TestConfirmRechargeWithoutChain(t *testing.T) {
	gormDB, _, reconciler, _ := newDepositFixture(t)
	recharge := NewRechargeService(gormDB, nil, reconciler, chainConfig(), newTestLogger())
	_, err := recharge.ConfirmRecharge(context.Background(), alice, "0x0100000000000000000000000000000000000000000000000000000000000000")
	if !errors.Is(err, ErrChainUnavailable) {
		t.Fatalf("err = %v", err)
	}
}
