package enum

// AccountType classifies how an account participates in system liquidity.
type AccountType string

const (
	AccountTypeMaster   AccountType = "master"
	AccountTypeStrategy AccountType = "strategy"
	AccountTypeReserve  AccountType = "reserve"
	AccountTypeProfit   AccountType = "profit"
)

func (t AccountType) IsAvailable() bool {
	switch t {
	case AccountTypeMaster, AccountTypeStrategy, AccountTypeReserve, AccountTypeProfit:
		return true
	default:
		return false
	}
}

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusFrozen    AccountStatus = "frozen"
	AccountStatusClosed    AccountStatus = "closed"
	AccountStatusSuspended AccountStatus = "suspended"
)

func (s AccountStatus) IsAvailable() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed, AccountStatusSuspended:
		return true
	default:
		return false
	}
}
