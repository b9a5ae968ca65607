package enum

type AllocationType string

const (
	AllocationInitial        AllocationType = "initial"
	AllocationRebalance      AllocationType = "rebalance"
	AllocationEmergency      AllocationType = "emergency"
	AllocationProfitReinvest AllocationType = "profit_reinvest"
)

func (t AllocationType) IsAvailable() bool {
	switch t {
	case AllocationInitial, AllocationRebalance, AllocationEmergency, AllocationProfitReinvest:
		return true
	default:
		return false
	}
}

type AllocationStatus string

const (
	AllocationStatusActive   AllocationStatus = "active"
	AllocationStatusFrozen   AllocationStatus = "frozen"
	AllocationStatusExpired  AllocationStatus = "expired"
	AllocationStatusRecalled AllocationStatus = "recalled"
)

func (s AllocationStatus) IsAvailable() bool {
	switch s {
	case AllocationStatusActive, AllocationStatusFrozen, AllocationStatusExpired, AllocationStatusRecalled:
		return true
	default:
		return false
	}
}
