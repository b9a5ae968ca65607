package exception

import "errors"

var (
	ErrBudgetInvalidStrategy       = errors.New("budget: strategy id must be positive")
	ErrBudgetInvalidAmount         = errors.New("budget: requested amount must be positive")
	ErrBudgetJustificationTooShort = errors.New("budget: justification too short")
	ErrBudgetEmptyRequester        = errors.New("budget: requested by is empty")
	ErrBudgetUnsupportedType       = errors.New("budget: unsupported request type")
	ErrBudgetCapExceeded           = errors.New("budget: per-strategy cap exceeded")
	ErrBudgetTierLimitExceeded     = errors.New("budget: risk tier limit exceeded")
	ErrBudgetNotPending            = errors.New("budget: request is not pending")
	ErrBudgetExpired               = errors.New("budget: request expired")
)
