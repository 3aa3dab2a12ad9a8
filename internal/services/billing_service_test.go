package services

import (
	"context"
	"errors"
	"testing"

	"ledger-backend/internal/models"
)

func newBillingFixture(t *testing.T) (*WalletLedger, *BillingService) {
	t.Helper()
	gormDB := newTestDB(t)
	logger := newTestLogger()
	ledger := NewWalletLedger(gormDB, logger)
	return ledger, NewBillingService(gormDB, ledger, logger)
}

func TestChargeThenRefundNetsToZero(t *testing.T) {
	ctx := context.Background()
	ledger, billing := newBillingFixture(t)
	seedBalance(t, ledger, alice, "1")

	charge, err := billing.ChargeForAction(ctx, ChargeRequest{ActionID: "upload:42", Wallet: alice, Amount: dec(t, "0.2"), ActionType: "UPLOAD"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	assertAmount(t, "balance after charge", charge.Balance, "0.8")

	refund, err := billing.RefundAction(ctx, "upload:42", alice)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Duplicated {
		t.Fatal("first refund reported duplicated")
	}
	assertAmount(t, "balance after refund", refund.Balance, "1")
	if refund.Entry.Status != models.BillingStatusRefunded || refund.Entry.RefundedAt == nil {
		t.Fatalf("entry = %+v", refund.Entry)
	}

	again, err := billing.RefundAction(ctx, "upload:42", alice)
	if err != nil || !again.Duplicated {
		t.Fatalf("second refund dup=%v err=%v", again != nil && again.Duplicated, err)
	}
	assertAmount(t, "balance after second refund", again.Balance, "1")

	// refunds never touch the pool
	pool, _ := ledger.GetRevenuePool(ctx)
	assertAmount(t, "pool", pool, "0.2")
}

func TestChargeIsIdempotentPerActionID(t *testing.T) {
	ctx := context.Background()
	ledger, billing := newBillingFixture(t)
	seedBalance(t, ledger, alice, "1")

	req := ChargeRequest{ActionID: "job:1", Wallet: alice, Amount: dec(t, "0.3"), ActionType: "JOB"}
	if _, err := billing.ChargeForAction(ctx, req); err != nil {
		t.Fatalf("charge: %v", err)
	}
	again, err := billing.ChargeForAction(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !again.Duplicated {
		t.Fatal("retry not reported duplicated")
	}
	assertAmount(t, "balance", again.Balance, "0.7")

	// a refunded action can never be charged again
	if _, err := billing.RefundAction(ctx, "job:1", alice); err != nil {
		t.Fatalf("refund: %v", err)
	}
	after, err := billing.ChargeForAction(ctx, req)
	if err != nil || !after.Duplicated {
		t.Fatalf("charge after refund dup=%v err=%v", after != nil && after.Duplicated, err)
	}
	balance, _ := ledger.GetBalance(ctx, alice)
	assertAmount(t, "balance after recharge attempt", balance, "1")
}

func TestChargeInsufficientLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	ledger, billing := newBillingFixture(t)
	seedBalance(t, ledger, alice, "5")

	_, err := billing.ChargeForAction(ctx, ChargeRequest{ActionID: "big:1", Wallet: alice, Amount: dec(t, "10"), ActionType: "BIG"})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if _, err := billing.GetAction(ctx, "big:1"); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("entry survived rollback: %v", err)
	}

	// after topping up, the same action id can be retried
	seedBalance(t, ledger, alice, "6")
	res, err := billing.ChargeForAction(ctx, ChargeRequest{ActionID: "big:1", Wallet: alice, Amount: dec(t, "10"), ActionType: "BIG"})
	if err != nil || res.Duplicated {
		t.Fatalf("retry dup=%v err=%v", res != nil && res.Duplicated, err)
	}
	assertAmount(t, "balance", res.Balance, "1")
}

func TestActionOwnershipIsEnforced(t *testing.T) {
	ctx := context.Background()
	ledger, billing := newBillingFixture(t)
	seedBalance(t, ledger, alice, "1")
	seedBalance(t, ledger, bob, "1")

	if _, err := billing.ChargeForAction(ctx, ChargeRequest{ActionID: "a", Wallet: alice, Amount: dec(t, "0.5"), ActionType: "X"}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if _, err := billing.ChargeForAction(ctx, ChargeRequest{ActionID: "a", Wallet: bob, Amount: dec(t, "0.5"), ActionType: "X"}); !errors.Is(err, ErrActionOwnerMismatch) {
		t.Fatalf("bob charge err = %v", err)
	}
	if _, err := billing.RefundAction(ctx, "a", bob); !errors.Is(err, ErrActionOwnerMismatch) {
		t.Fatalf("bob refund err = %v", err)
	}
	if _, err := billing.RefundAction(ctx, "missing", alice); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("missing refund err = %v", err)
	}

	balance, _ := ledger.GetBalance(ctx, bob)
	assertAmount(t, "bob", balance, "1")
}

func TestChargeValidation(t *testing.T) {
	_, billing := newBillingFixture(t)
	cases := []struct {
		name string
		req  ChargeRequest
		want error
	}{
		{"blank action", ChargeRequest{ActionID: " ", Wallet: alice, Amount: dec(t, "1"), ActionType: "X"}, ErrInvalidActionID},
		{"zero amount", ChargeRequest{ActionID: "a", Wallet: alice, Amount: dec(t, "0"), ActionType: "X"}, ErrInvalidAmount},
		{"bad wallet", ChargeRequest{ActionID: "a", Wallet: "alice", Amount: dec(t, "1"), ActionType: "X"}, ErrInvalidAddress},
		{"no action type", ChargeRequest{ActionID: "a", Wallet: alice, Amount: dec(t, "1")}, ErrInvalidActionID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := billing.ChargeForAction(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestListActionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	ledger, billing := newBillingFixture(t)
	seedBalance(t, ledger, alice, "3")
	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := billing.ChargeForAction(ctx, ChargeRequest{ActionID: id, Wallet: alice, Amount: dec(t, "1"), ActionType: "X"}); err != nil {
			t.Fatalf("charge %s: %v", id, err)
		}
	}
	entries, total, err := billing.ListActions(ctx, alice, 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(entries) != 2 {
		t.Fatalf("total=%d page=%d", total, len(entries))
	}
}
