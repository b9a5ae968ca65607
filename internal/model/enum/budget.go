package enum

type BudgetRequestType string

const (
	BudgetRequestInitial    BudgetRequestType = "initial"
	BudgetRequestAdditional BudgetRequestType = "additional"
	BudgetRequestEmergency  BudgetRequestType = "emergency"
)

func (t BudgetRequestType) IsAvailable() bool {
	switch t {
	case BudgetRequestInitial, BudgetRequestAdditional, BudgetRequestEmergency:
		return true
	default:
		return false
	}
}

type BudgetRequestStatus string

const (
	BudgetStatusPending   BudgetRequestStatus = "pending"
	BudgetStatusApproved  BudgetRequestStatus = "approved"
	BudgetStatusRejected  BudgetRequestStatus = "rejected"
	BudgetStatusCancelled BudgetRequestStatus = "cancelled"
)

func (s BudgetRequestStatus) IsAvailable() bool {
	switch s {
	case BudgetStatusPending, BudgetStatusApproved, BudgetStatusRejected, BudgetStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s BudgetRequestStatus) IsTerminal() bool {
	switch s {
	case BudgetStatusApproved, BudgetStatusRejected, BudgetStatusCancelled:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) IsAvailable() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}
