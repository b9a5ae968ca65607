package enum

type EmergencyAction string

const (
	EmergencyActionStop    EmergencyAction = "stop"
	EmergencyActionPause   EmergencyAction = "pause"
	EmergencyActionResume  EmergencyAction = "resume"
	EmergencyActionRestart EmergencyAction = "restart"
)

func (a EmergencyAction) IsAvailable() bool {
	switch a {
	case EmergencyActionStop, EmergencyActionPause, EmergencyActionResume, EmergencyActionRestart:
		return true
	default:
		return false
	}
}

type EmergencyScope string

const (
	EmergencyScopeSystem   EmergencyScope = "system"
	EmergencyScopeModule   EmergencyScope = "module"
	EmergencyScopeStrategy EmergencyScope = "strategy"
)

func (s EmergencyScope) IsAvailable() bool {
	switch s {
	case EmergencyScopeSystem, EmergencyScopeModule, EmergencyScopeStrategy:
		return true
	default:
		return false
	}
}
