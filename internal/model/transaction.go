package model

import (
	"time"

	"fincontrol/internal/model/enum"
)

// FinancialTransaction is an append-only ledger entry. Completed rows are
// never mutated.
type FinancialTransaction struct {
	ID            string                 `gorm:"column:id;primaryKey" json:"id"`
	Type          enum.TransactionType   `gorm:"column:type;index" json:"transactionType"`
	FromAccountID string                 `gorm:"column:from_account_id" json:"fromAccountId,omitempty"`
	ToAccountID   string                 `gorm:"column:to_account_id" json:"toAccountId,omitempty"`
	StrategyID    int64                  `gorm:"column:strategy_id;index" json:"strategyId,omitempty"`
	Amount        Amount                 `gorm:"column:amount" json:"amount"`
	Status        enum.TransactionStatus `gorm:"column:status" json:"status"`
	Reference     string                 `gorm:"column:reference" json:"reference,omitempty"`
	Note          string                 `gorm:"column:note" json:"note,omitempty"`
	Metadata      string                 `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time              `gorm:"column:created_at" json:"createdAt"`
}

func (FinancialTransaction) TableName() string { return "financial_transactions" }
