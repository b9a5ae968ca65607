package model

import (
	"time"

	"fincontrol/internal/model/enum"
)

// FundAllocation is capital reserved for a strategy's use.
// Invariant: AllocatedAmount = AvailableAmount + UsedAmount + ReservedAmount.
type FundAllocation struct {
	ID              string                `gorm:"column:id;primaryKey" json:"id"`
	StrategyID      int64                 `gorm:"column:strategy_id;index" json:"strategyId"`
	BudgetRequestID string                `gorm:"column:budget_request_id;index" json:"budgetRequestId,omitempty"`
	AllocationType  enum.AllocationType   `gorm:"column:allocation_type" json:"allocationType"`
	AllocatedAmount Amount                `gorm:"column:allocated_amount" json:"allocatedAmount"`
	AvailableAmount Amount                `gorm:"column:available_amount" json:"availableAmount"`
	UsedAmount      Amount                `gorm:"column:used_amount" json:"usedAmount"`
	ReservedAmount  Amount                `gorm:"column:reserved_amount" json:"reservedAmount"`
	AllocationRatio float64               `gorm:"column:allocation_ratio" json:"allocationRatio"`
	Status          enum.AllocationStatus `gorm:"column:status;index" json:"status"`
	RiskLevel       enum.RiskLevel        `gorm:"column:risk_level" json:"riskLevel"`
	AllocatedBy     string                `gorm:"column:allocated_by" json:"allocatedBy"`
	FreezeReason    string                `gorm:"column:freeze_reason" json:"freezeReason,omitempty"`
	ExpiresAt       time.Time             `gorm:"column:expires_at" json:"expiresAt,omitempty"`
	Metadata        string                `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time             `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt       time.Time             `gorm:"column:updated_at" json:"updatedAt"`
}

func (FundAllocation) TableName() string { return "fund_allocations" }

// Consistent reports whether the allocation amount invariant holds.
func (a FundAllocation) Consistent() bool {
	return a.AllocatedAmount == a.AvailableAmount+a.UsedAmount+a.ReservedAmount &&
		a.AvailableAmount >= 0 && a.UsedAmount >= 0 && a.ReservedAmount >= 0
}

// Expired reports whether the allocation's deadline has passed.
func (a FundAllocation) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}
