package exception

import "errors"

// Core error taxonomy. Business-rule failures wrap one of these so callers
// can classify a result without string matching.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidState         = errors.New("invalid state")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrInvalidAction        = errors.New("invalid action")
	ErrNilInstance          = errors.New("nil instance")
	ErrInternal             = errors.New("internal error")
)
