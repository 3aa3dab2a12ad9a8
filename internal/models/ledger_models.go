package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet roles
const (
	WalletRoleUser        = "USER"
	WalletRoleInstitution = "INSTITUTION"
)

// Wallet off-chain balance of one address, created lazily on first mutation
type Wallet struct {
	Address   string          `json:"address" gorm:"primaryKey;type:varchar(42)"`
	Role      string          `json:"role" gorm:"type:varchar(20);not null;default:'USER'"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:numeric(36,4);not null;default:0"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

// Deposit on-chain credit, keyed by (tx_hash, log_index). Immutable.
type Deposit struct {
	TxHash        string          `json:"tx_hash" gorm:"primaryKey;type:varchar(66)"`
	LogIndex      uint            `json:"log_index" gorm:"primaryKey;autoIncrement:false"`
	BlockNumber   uint64          `json:"block_number" gorm:"not null;index"`
	WalletAddress string          `json:"wallet_address" gorm:"type:varchar(42);not null;index"`
	AmountRaw     string          `json:"amount_raw" gorm:"type:varchar(80);not null"` // uint256 decimal string
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(36,4);not null"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (Deposit) TableName() string { return "deposits" }

// SyncCursor last fully scanned block of one event stream
type SyncCursor struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(128)"`
	LastBlock uint64    `json:"last_block" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SyncCursor) TableName() string { return "sync_cursors" }

// Billing entry status
const (
	BillingStatusDebited  = "DEBITED"
	BillingStatusRefunded = "REFUNDED"
)

// BillingLedgerEntry fee charged for one caller-identified action
type BillingLedgerEntry struct {
	ActionID      string          `json:"action_id" gorm:"primaryKey;type:varchar(128)"`
	WalletAddress string          `json:"wallet_address" gorm:"type:varchar(42);not null;index"`
	Role          string          `json:"role" gorm:"type:varchar(20);not null"`
	ActionType    string          `json:"action_type" gorm:"type:varchar(64);not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(36,4);not null"`
	Status        string          `json:"status" gorm:"type:varchar(16);not null;index"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (BillingLedgerEntry) TableName() string { return "billing_ledger_entries" }

// PlatformPoolID id of the single revenue pool row
const PlatformPoolID = "platform"

// RevenuePool aggregate of skimmed fees
type RevenuePool struct {
	ID        string          `json:"id" gorm:"primaryKey;type:varchar(32)"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:numeric(36,4);not null;default:0"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (RevenuePool) TableName() string { return "revenue_pools" }

// Ticket states derived from counters and time
const (
	TicketStateActive    = "ACTIVE"
	TicketStateExhausted = "EXHAUSTED"
	TicketStateExpired   = "EXPIRED"
)

// VerificationTicket bounded-use capability gating an ownership check
type VerificationTicket struct {
	Ticket         string    `json:"ticket" gorm:"primaryKey;type:varchar(64)"`
	UserAddress    string    `json:"user_address" gorm:"type:varchar(42);not null;index"`
	SubjectTokenID string    `json:"subject_token_id" gorm:"type:varchar(80);not null"`
	Scope          string    `json:"scope" gorm:"type:varchar(64);not null"`
	ExpireAt       time.Time `json:"expire_at" gorm:"not null"`
	MaxUses        int       `json:"max_uses" gorm:"not null"`
	UsedTimes      int       `json:"used_times" gorm:"not null;default:0"`
	ActionID       *string   `json:"action_id,omitempty" gorm:"type:varchar(128);uniqueIndex"` // billing action that paid for issuance
	CreatedAt      time.Time `json:"created_at"`
}

func (VerificationTicket) TableName() string { return "verification_tickets" }

// State Expired wins over Exhausted
func (t *VerificationTicket) State(now time.Time) string {
	if !now.Before(t.ExpireAt) {
		return TicketStateExpired
	}
	if t.UsedTimes >= t.MaxUses {
		return TicketStateExhausted
	}
	return TicketStateActive
}

// Wallet transaction action types
const (
	ActionTypeDeposit      = "DEPOSIT"
	ActionTypeRefund       = "REFUND"
	ActionTypeManualCredit = "MANUAL_CREDIT"
	ActionTypeTicketIssue  = "TICKET_ISSUE"
)

// WalletTransaction audit row, one per wallet mutation
type WalletTransaction struct {
	ID            string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	WalletAddress string          `json:"wallet_address" gorm:"type:varchar(42);not null;index"`
	Role          string          `json:"role" gorm:"type:varchar(20);not null"`
	ActionType    string          `json:"action_type" gorm:"type:varchar(64);not null;index"`
	TargetID      string          `json:"target_id" gorm:"type:varchar(160);index"`
	Delta         decimal.Decimal `json:"delta" gorm:"type:numeric(36,4);not null"`        // signed
	BalanceAfter  decimal.Decimal `json:"balance_after" gorm:"type:numeric(36,4);not null"`
	Skimmed       decimal.Decimal `json:"skimmed" gorm:"type:numeric(36,4);not null;default:0"` // moved into the revenue pool
	CreatedAt     time.Time       `json:"created_at" gorm:"index"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

// Ticket actor types
const (
	ActorInternal = "INTERNAL"
	ActorAPIKey   = "API_KEY"
)

// TicketUsage audit row for one successful consumption
type TicketUsage struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Ticket         string    `json:"ticket" gorm:"type:varchar(64);not null;index"`
	ActorType      string    `json:"actor_type" gorm:"type:varchar(16);not null"`
	ActorID        string    `json:"actor_id" gorm:"type:varchar(128);not null"`
	UsedTimesAfter int       `json:"used_times_after" gorm:"not null"`
	CreatedAt      time.Time `json:"created_at"`
}

func (TicketUsage) TableName() string { return "ticket_usages" }
