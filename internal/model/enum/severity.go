package enum

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsAvailable() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// CommandSeverity grades emergency control commands.
type CommandSeverity string

const (
	CommandSeverityLow      CommandSeverity = "low"
	CommandSeverityMedium   CommandSeverity = "medium"
	CommandSeverityHigh     CommandSeverity = "high"
	CommandSeverityCritical CommandSeverity = "critical"
)

func (s CommandSeverity) IsAvailable() bool {
	switch s {
	case CommandSeverityLow, CommandSeverityMedium, CommandSeverityHigh, CommandSeverityCritical:
		return true
	default:
		return false
	}
}
