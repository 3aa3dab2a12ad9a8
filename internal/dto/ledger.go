package dto

import "time"

// ==================== Ledger DTOs ====================

// ConfirmRechargeRequest client-submitted deposit transaction
type ConfirmRechargeRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// ChargeActionRequest fee debit for one caller-identified action
type ChargeActionRequest struct {
	ActionID   string `json:"action_id" binding:"required"`
	Amount     string `json:"amount" binding:"required"` // decimal string
	ActionType string `json:"action_type" binding:"required"`
}

// RefundActionRequest refund of a prior charge
type RefundActionRequest struct {
	ActionID string `json:"action_id" binding:"required"`
}

// ManualCreditRequest admin credit to a wallet
type ManualCreditRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Reference     string `json:"reference" binding:"required"` // idempotency key, e.g. support ticket id
	Role          string `json:"role"`
}

// IssueTicketRequestBody verification ticket purchase
type IssueTicketRequestBody struct {
	ActionID       string `json:"action_id" binding:"required"`
	SubjectTokenID string `json:"subject_token_id" binding:"required"`
	Scope          string `json:"scope" binding:"required"`
	MaxUses        int    `json:"max_uses"`
	TTLSeconds     int    `json:"ttl_seconds"`
}

// TicketResponse ticket with derived state
type TicketResponse struct {
	Ticket         string    `json:"ticket"`
	UserAddress    string    `json:"user_address"`
	SubjectTokenID string    `json:"subject_token_id"`
	Scope          string    `json:"scope"`
	ExpireAt       time.Time `json:"expire_at"`
	MaxUses        int       `json:"max_uses"`
	UsedTimes      int       `json:"used_times"`
	State          string    `json:"state"`
}

// ==================== Events ====================

// BalanceChange pushed after a committed wallet mutation
type BalanceChange struct {
	WalletAddress string    `json:"wallet_address"`
	Balance       string    `json:"balance"`
	Delta         string    `json:"delta"`
	ActionType    string    `json:"action_type"`
	TargetID      string    `json:"target_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// DepositCredited published when a chain deposit is credited for the first time
type DepositCredited struct {
	WalletAddress string    `json:"wallet_address"`
	TxHash        string    `json:"tx_hash"`
	LogIndex      uint      `json:"log_index"`
	BlockNumber   uint64    `json:"block_number"`
	Amount        string    `json:"amount"`
	Balance       string    `json:"balance"`
	Source        string    `json:"source"` // listener | recharge
	Timestamp     time.Time `json:"timestamp"`
}

// ==================== Reputation ====================

// ReputationRecomputeRequest NATS request payload
type ReputationRecomputeRequest struct {
	WalletAddress string `json:"wallet_address"`
	Trigger       string `json:"trigger"`
	JobID         string `json:"job_id"`
}

// ScoreResult reputation engine answer
type ScoreResult struct {
	Changed    bool   `json:"changed"`
	Level      string `json:"level"`
	TotalScore int64  `json:"total_score"`
	Error      string `json:"error,omitempty"`
}
