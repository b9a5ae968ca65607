package exception

import "errors"

var (
	ErrLedgerAccountNotFound    = errors.New("ledger: account not found")
	ErrLedgerRequestNotFound    = errors.New("ledger: budget request not found")
	ErrLedgerAllocationNotFound = errors.New("ledger: fund allocation not found")
	ErrLedgerModuleNotFound     = errors.New("ledger: module status not found")
	ErrLedgerEventNotFound      = errors.New("ledger: system event not found")
	ErrLedgerDuplicateID        = errors.New("ledger: duplicate id")
	ErrLedgerNegativeBalance    = errors.New("ledger: balance would go negative")
)
