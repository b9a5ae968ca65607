package enum

// ModuleHealth is the monitor's view of a module. Offline is inferred from a
// stale heartbeat, never pushed by the module itself.
type ModuleHealth string

const (
	ModuleHealthy  ModuleHealth = "healthy"
	ModuleWarning  ModuleHealth = "warning"
	ModuleCritical ModuleHealth = "critical"
	ModuleOffline  ModuleHealth = "offline"
)

func (h ModuleHealth) IsAvailable() bool {
	switch h {
	case ModuleHealthy, ModuleWarning, ModuleCritical, ModuleOffline:
		return true
	default:
		return false
	}
}
