package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"ledger-backend/internal/dto"
	"ledger-backend/internal/models"
)

type recordingSink struct {
	mu       sync.Mutex
	changes  []dto.BalanceChange
	deposits []dto.DepositCredited
}

func (s *recordingSink) BalanceChanged(c dto.BalanceChange) {
	s.mu.Lock()
	s.changes = append(s.changes, c)
	s.mu.Unlock()
}

func (s *recordingSink) DepositCredited(e dto.DepositCredited) {
	s.mu.Lock()
	s.deposits = append(s.deposits, e)
	s.mu.Unlock()
}

func TestDeductWalletSkimsIntoRevenuePool(t *testing.T) {
	ctx := context.Background()
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())
	seedBalance(t, ledger, alice, "10")

	res, err := ledger.DeductWallet(ctx, WalletMutation{Wallet: alice, Amount: dec(t, "3.5"), ActionType: "API_CALL", TargetID: "a1"})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	assertAmount(t, "balance", res.Balance, "6.5")
	assertAmount(t, "delta", res.Delta, "-3.5")
	assertAmount(t, "skimmed", res.Skimmed, "3.5")

	pool, err := ledger.GetRevenuePool(ctx)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	assertAmount(t, "pool", pool, "3.5")
}

func TestDeductWalletRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())
	seedBalance(t, ledger, alice, "1")

	_, err := ledger.DeductWallet(ctx, WalletMutation{Wallet: alice, Amount: dec(t, "1.0001"), ActionType: "API_CALL", TargetID: "a1"})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "balance", balance, "1")
	pool, _ := ledger.GetRevenuePool(ctx)
	assertAmount(t, "pool", pool, "0")

	history, total, err := ledger.History(ctx, alice, 1, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if total != 1 || len(history) != 1 {
		t.Fatalf("history rows = %d, want only the seed", total)
	}
}

func TestDeductWalletExactBalanceReachesZero(t *testing.T) {
	ctx := context.Background()
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())
	seedBalance(t, ledger, alice, "2.0001")

	res, err := ledger.DeductWallet(ctx, WalletMutation{Wallet: alice, Amount: dec(t, "2.0001"), ActionType: "API_CALL", TargetID: "a1"})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	assertAmount(t, "balance", res.Balance, "0")
}

func TestNegativeDeductCreditsWithoutSkim(t *testing.T) {
	ctx := context.Background()
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())

	res, err := ledger.DeductWallet(ctx, WalletMutation{Wallet: alice, Amount: dec(t, "-2"), ActionType: models.ActionTypeRefund, TargetID: "a1"})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	assertAmount(t, "balance", res.Balance, "2")
	assertAmount(t, "skimmed", res.Skimmed, "0")

	pool, _ := ledger.GetRevenuePool(ctx)
	assertAmount(t, "pool", pool, "0")
}

func TestCreditWalletValidation(t *testing.T) {
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())
	cases := []struct {
		name string
		m    WalletMutation
		want error
	}{
		{"zero amount", WalletMutation{Wallet: alice, Amount: dec(t, "0"), ActionType: "X"}, ErrInvalidAmount},
		{"negative amount", WalletMutation{Wallet: alice, Amount: dec(t, "-1"), ActionType: "X"}, ErrInvalidAmount},
		{"too many decimals", WalletMutation{Wallet: alice, Amount: dec(t, "0.00001"), ActionType: "X"}, ErrInvalidAmount},
		{"bad address", WalletMutation{Wallet: "0x123", Amount: dec(t, "1"), ActionType: "X"}, ErrInvalidAddress},
		{"missing action type", WalletMutation{Wallet: alice, Amount: dec(t, "1")}, ErrInvalidActionID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ledger.CreditWallet(context.Background(), tc.m); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestWalletAddressIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())
	mixed := "0xABCDEFabcdef0123456789ABCDEFabcdef012345"

	if _, err := ledger.CreditWallet(ctx, WalletMutation{Wallet: mixed, Amount: dec(t, "5"), ActionType: "SEED", TargetID: "s"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, err := ledger.GetBalance(ctx, strings.ToLower(mixed))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	assertAmount(t, "balance", balance, "5")
}

func TestGetWalletUnknownIsZero(t *testing.T) {
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())
	wallet, err := ledger.GetWallet(context.Background(), bob)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	assertAmount(t, "balance", wallet.Balance, "0")
	if wallet.Role != models.WalletRoleUser {
		t.Fatalf("role = %s", wallet.Role)
	}
}

func TestConcurrentDeductsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())
	seedBalance(t, ledger, alice, "10")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.DeductWallet(ctx, WalletMutation{Wallet: alice, Amount: dec(t, "1"), ActionType: "API_CALL", TargetID: "c"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 10 || rejected != 15 {
		t.Fatalf("succeeded=%d rejected=%d, want 10/15", succeeded, rejected)
	}
	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "balance", balance, "0")
	pool, _ := ledger.GetRevenuePool(ctx)
	assertAmount(t, "pool", pool, "10")
}

func TestManualCreditIsIdempotentPerReference(t *testing.T) {
	ctx := context.Background()
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())

	first, dup, err := ledger.ManualCredit(ctx, alice, "", dec(t, "7"), "ops-42")
	if err != nil || dup {
		t.Fatalf("first credit: dup=%v err=%v", dup, err)
	}
	assertAmount(t, "balance", first.Balance, "7")

	again, dup, err := ledger.ManualCredit(ctx, alice, "", dec(t, "7"), "ops-42")
	if err != nil || !dup {
		t.Fatalf("retry: dup=%v err=%v", dup, err)
	}
	assertAmount(t, "balance after retry", again.Balance, "7")

	if _, _, err := ledger.ManualCredit(ctx, bob, "", dec(t, "7"), "ops-42"); !errors.Is(err, ErrActionOwnerMismatch) {
		t.Fatalf("other wallet err = %v, want ErrActionOwnerMismatch", err)
	}
	if _, _, err := ledger.ManualCredit(ctx, alice, "", dec(t, "7"), "  "); !errors.Is(err, ErrInvalidActionID) {
		t.Fatalf("blank reference err = %v", err)
	}
}

func TestEventSinkSeesOnlyCommittedMutations(t *testing.T) {
	ctx := context.Background()
	ledger := NewWalletLedger(newTestDB(t), newTestLogger())
	sink := &recordingSink{}
	ledger.SetEventSink(sink)

	seedBalance(t, ledger, alice, "1")
	if _, err := ledger.DeductWallet(ctx, WalletMutation{Wallet: alice, Amount: dec(t, "5"), ActionType: "API_CALL", TargetID: "x"}); err == nil {
		t.Fatal("expected overdraft rejection")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.changes) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.changes))
	}
	if sink.changes[0].Balance != "1.0000" || sink.changes[0].WalletAddress != alice {
		t.Fatalf("event = %+v", sink.changes[0])
	}
}
