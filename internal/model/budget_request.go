package model

import (
	"time"

	"fincontrol/internal/model/enum"
)

// BudgetRequest is a strategy's ask for capital. Once the status is terminal
// the row is immutable except for informational history.
type BudgetRequest struct {
	ID              string                   `gorm:"column:id;primaryKey" json:"id"`
	StrategyID      int64                    `gorm:"column:strategy_id;index" json:"strategyId"`
	RequestType     enum.BudgetRequestType   `gorm:"column:request_type" json:"requestType"`
	RequestedAmount Amount                   `gorm:"column:requested_amount" json:"requestedAmount"`
	ApprovedAmount  Amount                   `gorm:"column:approved_amount" json:"approvedAmount"`
	Status          enum.BudgetRequestStatus `gorm:"column:status;index" json:"status"`
	Priority        enum.Priority            `gorm:"column:priority" json:"priority"`
	Justification   string                   `gorm:"column:justification" json:"justification"`
	RequestedBy     string                   `gorm:"column:requested_by" json:"requestedBy"`
	ReviewedBy      string                   `gorm:"column:reviewed_by" json:"reviewedBy,omitempty"`
	ReviewNote      string                   `gorm:"column:review_note" json:"reviewNote,omitempty"`
	ExpiresAt       time.Time                `gorm:"column:expires_at" json:"expiresAt"`
	Metadata        string                   `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time                `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt       time.Time                `gorm:"column:updated_at" json:"updatedAt"`
}

func (BudgetRequest) TableName() string { return "budget_requests" }

// Expired reports whether the request's deadline has passed.
func (r BudgetRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
