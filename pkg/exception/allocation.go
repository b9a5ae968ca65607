package exception

import "errors"

var (
	ErrAllocationInvalidStrategy = errors.New("allocation: strategy id must be positive")
	ErrAllocationInvalidAmount   = errors.New("allocation: requested amount must be positive")
	ErrAllocationInvalidRatio    = errors.New("allocation: ratio must be within [0,1]")
	ErrAllocationTierLimit       = errors.New("allocation: risk tier max allocation exceeded")
	ErrAllocationLiquidity       = errors.New("allocation: insufficient available funds")
	ErrAllocationOveruse         = errors.New("allocation: usage exceeds allocated amount")
	ErrAllocationNotActive       = errors.New("allocation: not active")
	ErrAllocationUnsupportedType = errors.New("allocation: unsupported allocation type")
)
