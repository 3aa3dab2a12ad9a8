package services

import (
	"context"
	"testing"
	"time"

	"ledger-backend/internal/repository"

	"github.com/shopspring/decimal"
)

func TestBuildAuditReport(t *testing.T) {
	totals := &repository.LedgerTotals{
		WalletTotal:  dec(t, "8.8"),
		RevenuePool:  dec(t, "1.2"),
		DepositTotal: dec(t, "7"),
		CreditTotal:  dec(t, "3"),
		RefundTotal:  dec(t, "0"),
		DeltaTotal:   dec(t, "8.8"),
		SkimTotal:    dec(t, "1.2"),
	}
	report := BuildAuditReport(totals, time.Now())
	if !report.Consistent {
		t.Fatalf("report = %+v", report)
	}

	totals.WalletTotal = dec(t, "9.8")
	report = BuildAuditReport(totals, time.Now())
	if report.Consistent {
		t.Fatal("inflated wallet total passed the audit")
	}
	assertAmount(t, "wallet drift", report.WalletDrift, "1")
	assertAmount(t, "imbalance", report.Imbalance, "1")

	totals.WalletTotal = dec(t, "8.8").Add(decimal.New(1, -9))
	totals.DeltaTotal = totals.WalletTotal
	if report = BuildAuditReport(totals, time.Now()); !report.Consistent {
		t.Fatalf("sub-epsilon rounding flagged: %+v", report)
	}
}

func TestAuditRunAfterMixedActivity(t *testing.T) {
	ctx := context.Background()
	gormDB, ledger, reconciler, _ := newDepositFixture(t)
	billing := NewBillingService(gormDB, ledger, newTestLogger())
	audit := NewLedgerAuditService(gormDB, newTestLogger())

	if _, err := reconciler.CreditWalletOnDeposit(ctx, DepositCredit{Wallet: alice, AmountRaw: "1", Amount: dec(t, "5"), TxHash: "0x01"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := ledger.ManualCredit(ctx, bob, "", dec(t, "2"), "ops-1"); err != nil {
		t.Fatalf("manual credit: %v", err)
	}
	if _, err := billing.ChargeForAction(ctx, ChargeRequest{ActionID: "a1", Wallet: alice, Amount: dec(t, "1.5"), ActionType: "X"}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if _, err := billing.ChargeForAction(ctx, ChargeRequest{ActionID: "a2", Wallet: bob, Amount: dec(t, "0.25"), ActionType: "X"}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if _, err := billing.RefundAction(ctx, "a1", alice); err != nil {
		t.Fatalf("refund: %v", err)
	}

	report, err := audit.Run(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("report = %+v", report)
	}
	assertAmount(t, "wallets", report.WalletTotal, "6.75")
	assertAmount(t, "pool", report.RevenuePool, "1.75")

	latest, err := audit.Latest(ctx)
	if err != nil || latest == nil || latest.ID != report.ID {
		t.Fatalf("latest = %+v, err = %v", latest, err)
	}
}

func TestAuditDetectsTampering(t *testing.T) {
	ctx := context.Background()
	gormDB, ledger, _, _ := newDepositFixture(t)
	audit := NewLedgerAuditService(gormDB, newTestLogger())
	seedBalance(t, ledger, alice, "3")

	if err := gormDB.Exec("UPDATE wallets SET balance = 4 WHERE address = ?", alice).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	report, err := audit.Run(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Consistent {
		t.Fatal("tampered balance passed the audit")
	}
	assertAmount(t, "wallet drift", report.WalletDrift, "1")
}
