package exception

import "errors"

var (
	ErrEmergencyUnknownAction = errors.New("emergency: unknown action")
	ErrEmergencyUnknownScope  = errors.New("emergency: unknown scope")
	ErrEmergencyMissingTarget = errors.New("emergency: missing target id")
	ErrEmergencyEmptyReason   = errors.New("emergency: empty reason")
	ErrEmergencyNotStopped    = errors.New("emergency: system is not stopped")
)
