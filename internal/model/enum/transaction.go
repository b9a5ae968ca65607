package enum

type TransactionType string

const (
	TransactionAllocation TransactionType = "allocation"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionTransfer   TransactionType = "transfer"
	TransactionFee        TransactionType = "fee"
	TransactionProfit     TransactionType = "profit"
	TransactionLoss       TransactionType = "loss"
)

func (t TransactionType) IsAvailable() bool {
	switch t {
	case TransactionAllocation, TransactionWithdrawal, TransactionTransfer,
		TransactionFee, TransactionProfit, TransactionLoss:
		return true
	default:
		return false
	}
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) IsAvailable() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	default:
		return false
	}
}
