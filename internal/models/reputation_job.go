package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReputationJobStatus 信誉重算任务状态
type ReputationJobStatus string

const (
	ReputationJobPending ReputationJobStatus = "PENDING" // 等待处理
	ReputationJobDone    ReputationJobStatus = "DONE"    // 已完成
	ReputationJobFailed  ReputationJobStatus = "FAILED"  // 重试耗尽
	ReputationJobSkipped ReputationJobStatus = "SKIPPED" // 未配置引擎
)

// ReputationJob post-commit reputation recompute for one wallet
type ReputationJob struct {
	ID            string              `json:"id" gorm:"primaryKey;type:varchar(36)"` // UUID
	WalletAddress string              `json:"wallet_address" gorm:"type:varchar(42);not null;index"`
	Trigger       string              `json:"trigger" gorm:"type:varchar(64);not null"` // e.g. ticket:<id>
	Status        ReputationJobStatus `json:"status" gorm:"type:varchar(16);not null;default:PENDING;index"`

	// 重试信息
	Attempts  int    `json:"attempts" gorm:"default:0"`
	LastError string `json:"last_error" gorm:"type:text"`

	// 引擎结果
	Changed    bool   `json:"changed"`
	Level      string `json:"level" gorm:"type:varchar(32)"`
	TotalScore int64  `json:"total_score"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// TableName 指定表名
func (ReputationJob) TableName() string {
	return "reputation_jobs"
}

// LedgerAuditReport one run of the ledger consistency audit
type LedgerAuditReport struct {
	ID           uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	WalletTotal  decimal.Decimal `json:"wallet_total" gorm:"type:numeric(36,4);not null"`
	RevenuePool  decimal.Decimal `json:"revenue_pool" gorm:"type:numeric(36,4);not null"`
	DepositTotal decimal.Decimal `json:"deposit_total" gorm:"type:numeric(36,4);not null"`
	CreditTotal  decimal.Decimal `json:"credit_total" gorm:"type:numeric(36,4);not null"` // non-deposit credits
	RefundTotal  decimal.Decimal `json:"refund_total" gorm:"type:numeric(36,4);not null"`
	WalletDrift  decimal.Decimal `json:"wallet_drift" gorm:"type:numeric(36,4);not null"` // balances - sum(delta)
	PoolDrift    decimal.Decimal `json:"pool_drift" gorm:"type:numeric(36,4);not null"`   // pool - sum(skimmed)
	Imbalance    decimal.Decimal `json:"imbalance" gorm:"type:numeric(36,4);not null"`    // conservation left - right
	Consistent   bool            `json:"consistent"`
	CreatedAt    time.Time       `json:"created_at" gorm:"index"`
}

// TableName 指定表名
func (LedgerAuditReport) TableName() string {
	return "ledger_audit_reports"
}
