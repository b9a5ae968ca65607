package model

import (
	"time"

	"fincontrol/internal/model/enum"
)

// Account is a ledger account participating in system liquidity.
// Invariant: Balance = AvailableBalance + FrozenBalance, both non-negative.
type Account struct {
	ID               string             `gorm:"column:id;primaryKey" json:"id"`
	Type             enum.AccountType   `gorm:"column:type;index" json:"type"`
	Name             string             `gorm:"column:name" json:"name"`
	Balance          Amount             `gorm:"column:balance" json:"balance"`
	AvailableBalance Amount             `gorm:"column:available_balance" json:"availableBalance"`
	FrozenBalance    Amount             `gorm:"column:frozen_balance" json:"frozenBalance"`
	Currency         string             `gorm:"column:currency" json:"currency"`
	Status           enum.AccountStatus `gorm:"column:status;index" json:"status"`
	RiskLevel        enum.RiskLevel     `gorm:"column:risk_level" json:"riskLevel"`
	DailyLimit       Amount             `gorm:"column:daily_limit" json:"dailyLimit"`
	MonthlyLimit     Amount             `gorm:"column:monthly_limit" json:"monthlyLimit"`
	Metadata         string             `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time          `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt        time.Time          `gorm:"column:updated_at" json:"updatedAt"`
}

func (Account) TableName() string { return "accounts" }

// Consistent reports whether the balance invariant holds.
func (a Account) Consistent() bool {
	return a.Balance == a.AvailableBalance+a.FrozenBalance &&
		a.AvailableBalance >= 0 && a.FrozenBalance >= 0
}
