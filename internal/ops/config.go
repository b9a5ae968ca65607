// Package ops loads and resolves the runtime configuration.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"fincontrol/internal/allocation"
	"fincontrol/internal/budget"
	"fincontrol/internal/emergency"
	"fincontrol/internal/health"
	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/pkg/conn"

	"github.com/yanun0323/decimal"
)

// FileConfig mirrors the JSON config layout. Amounts are decimal strings,
// durations are Go duration strings such as "30s".
type FileConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Bus        BusConfig        `json:"bus"`
	Budget     BudgetConfig     `json:"budget"`
	Allocation AllocationConfig `json:"allocation"`
	Emergency  EmergencyConfig  `json:"emergency"`
	Health     HealthConfig     `json:"health"`
	Intervals  IntervalsConfig  `json:"intervals"`
	Accounts   AccountsConfig   `json:"accounts"`
}

// DatabaseConfig describes the PostgreSQL connection.
type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Database     string `json:"database"`
	SSLMode      string `json:"sslMode"`
	MaxOpenConns int    `json:"maxOpenConns"`
	MaxIdleConns int    `json:"maxIdleConns"`
}

// BusConfig sizes the message bus.
type BusConfig struct {
	QueueCapacity int `json:"queueCapacity"`
}

// TierConfig is one risk tier entry.
type TierConfig struct {
	MaxAllocation decimal.Decimal `json:"maxAllocation"`
	MaxRatio      float64         `json:"maxRatio"`
}

// BudgetConfig describes the approval workflow limits.
type BudgetConfig struct {
	PerStrategyCap         decimal.Decimal `json:"perStrategyCap"`
	AutoApprovalMaxAmount  decimal.Decimal `json:"autoApprovalMaxAmount"`
	AutoApprovalTypes      []string        `json:"autoApprovalTypes"`
	AutoApprovalRiskLevels []string        `json:"autoApprovalRiskLevels"`
	DefaultExpiry          string          `json:"defaultExpiry"`
	DefaultRiskLevel       string          `json:"defaultRiskLevel"`
}

// AllocationConfig describes the allocation engine limits.
type AllocationConfig struct {
	// EmergencyReserveRatio distinguishes absent from an explicit zero; absent
	// falls back to 0.3.
	EmergencyReserveRatio *float64              `json:"emergencyReserveRatio"`
	RiskTiers             map[string]TierConfig `json:"riskTiers"`
	DefaultExpiry         string                `json:"defaultExpiry"`
}

// EmergencyConfig describes coordinator tunables.
type EmergencyConfig struct {
	AckTimeout string `json:"ackTimeout"`
}

// HealthConfig describes monitor thresholds.
type HealthConfig struct {
	HeartbeatTimeout string  `json:"heartbeatTimeout"`
	CPUWarning       float64 `json:"cpuWarning"`
	CPUCritical      float64 `json:"cpuCritical"`
	MemoryWarning    float64 `json:"memoryWarning"`
	MemoryCritical   float64 `json:"memoryCritical"`
	AlertQueueSize   int     `json:"alertQueueSize"`
	AlertingEnabled  *bool   `json:"alertingEnabled"`
}

// IntervalsConfig schedules the periodic tasks.
type IntervalsConfig struct {
	HealthCheck    string `json:"healthCheck"`
	AlertDrain     string `json:"alertDrain"`
	ResourceSample string `json:"resourceSample"`
	BudgetSweep    string `json:"budgetSweep"`
	MetricSnapshot string `json:"metricSnapshot"`
}

// AccountsConfig seeds the default liquidity accounts.
type AccountsConfig struct {
	MasterBalance  decimal.Decimal `json:"masterBalance"`
	ReserveBalance decimal.Decimal `json:"reserveBalance"`
}

// Intervals are the resolved schedule periods.
type Intervals struct {
	HealthCheck    time.Duration
	AlertDrain     time.Duration
	ResourceSample time.Duration
	BudgetSweep    time.Duration
	MetricSnapshot time.Duration
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Database         conn.Option
	BusQueueCapacity int
	Budget           budget.Config
	Allocation       allocation.Config
	Emergency        emergency.Config
	Health           health.Config
	Intervals        Intervals
	DefaultRiskLevel enum.RiskLevel
	MasterBalance    model.Amount
	ReserveBalance   model.Amount
}

// Load reads a JSON config file and resolves it, applying defaults for every
// missing value. An empty path resolves a pure-default configuration.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, err
		}
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	out := Loaded{
		Database: conn.Option{
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			User:         cfg.Database.User,
			Password:     cfg.Database.Password,
			Database:     cfg.Database.Database,
			SSLMode:      cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		},
		BusQueueCapacity: cfg.Bus.QueueCapacity,
	}

	var err error
	if out.Budget, err = resolveBudget(cfg.Budget); err != nil {
		return Loaded{}, err
	}
	if out.Allocation, err = resolveAllocation(cfg.Allocation); err != nil {
		return Loaded{}, err
	}
	out.Budget.Tiers = out.Allocation.Tiers

	ackTimeout, err := duration(cfg.Emergency.AckTimeout, 10*time.Second)
	if err != nil {
		return Loaded{}, fmt.Errorf("emergency.ackTimeout: %w", err)
	}
	out.Emergency = emergency.Config{AckTimeout: ackTimeout}

	if out.Health, err = resolveHealth(cfg.Health); err != nil {
		return Loaded{}, err
	}
	if out.Intervals, err = resolveIntervals(cfg.Intervals); err != nil {
		return Loaded{}, err
	}

	out.DefaultRiskLevel = enum.RiskLevel(cfg.Budget.DefaultRiskLevel)
	if !out.DefaultRiskLevel.IsAvailable() {
		out.DefaultRiskLevel = enum.RiskMedium
	}
	if out.MasterBalance, err = amount(cfg.Accounts.MasterBalance, model.AmountFromFloat(1_000_000)); err != nil {
		return Loaded{}, fmt.Errorf("accounts.masterBalance: %w", err)
	}
	if out.ReserveBalance, err = amount(cfg.Accounts.ReserveBalance, model.AmountFromFloat(500_000)); err != nil {
		return Loaded{}, fmt.Errorf("accounts.reserveBalance: %w", err)
	}
	return out, nil
}

func resolveBudget(cfg BudgetConfig) (budget.Config, error) {
	out := budget.Config{}
	var err error
	if out.PerStrategyCap, err = amount(cfg.PerStrategyCap, model.AmountFromFloat(1_000_000)); err != nil {
		return out, fmt.Errorf("budget.perStrategyCap: %w", err)
	}
	if out.AutoApprovalMaxAmount, err = amount(cfg.AutoApprovalMaxAmount, model.AmountFromFloat(50_000)); err != nil {
		return out, fmt.Errorf("budget.autoApprovalMaxAmount: %w", err)
	}
	if out.DefaultExpiry, err = duration(cfg.DefaultExpiry, 24*time.Hour); err != nil {
		return out, fmt.Errorf("budget.defaultExpiry: %w", err)
	}

	if len(cfg.AutoApprovalTypes) == 0 {
		out.AutoApprovalTypes = []enum.BudgetRequestType{enum.BudgetRequestInitial, enum.BudgetRequestAdditional}
	} else {
		for _, raw := range cfg.AutoApprovalTypes {
			t := enum.BudgetRequestType(raw)
			if !t.IsAvailable() {
				return out, fmt.Errorf("budget.autoApprovalTypes: unknown type %q", raw)
			}
			out.AutoApprovalTypes = append(out.AutoApprovalTypes, t)
		}
	}
	if len(cfg.AutoApprovalRiskLevels) == 0 {
		out.AutoApprovalRiskLevels = []enum.RiskLevel{enum.RiskLow, enum.RiskMedium}
	} else {
		for _, raw := range cfg.AutoApprovalRiskLevels {
			l := enum.RiskLevel(raw)
			if !l.IsAvailable() {
				return out, fmt.Errorf("budget.autoApprovalRiskLevels: unknown level %q", raw)
			}
			out.AutoApprovalRiskLevels = append(out.AutoApprovalRiskLevels, l)
		}
	}
	return out, nil
}

func resolveAllocation(cfg AllocationConfig) (allocation.Config, error) {
	reserveRatio := 0.3
	if cfg.EmergencyReserveRatio != nil {
		reserveRatio = *cfg.EmergencyReserveRatio
		if reserveRatio < 0 || reserveRatio > 1 {
			return allocation.Config{}, fmt.Errorf("allocation.emergencyReserveRatio must be within [0,1]")
		}
	}
	out := allocation.Config{EmergencyReserveRatio: reserveRatio}
	var err error
	if out.DefaultExpiry, err = duration(cfg.DefaultExpiry, 0); err != nil {
		return out, fmt.Errorf("allocation.defaultExpiry: %w", err)
	}

	out.Tiers = model.RiskTierTable{}
	if len(cfg.RiskTiers) == 0 {
		out.Tiers = defaultTiers()
		return out, nil
	}
	for raw, tier := range cfg.RiskTiers {
		level := enum.RiskLevel(raw)
		if !level.IsAvailable() {
			return out, fmt.Errorf("allocation.riskTiers: unknown level %q", raw)
		}
		maxAllocation, err := amount(tier.MaxAllocation, 0)
		if err != nil {
			return out, fmt.Errorf("allocation.riskTiers[%s].maxAllocation: %w", raw, err)
		}
		if tier.MaxRatio < 0 || tier.MaxRatio > 1 {
			return out, fmt.Errorf("allocation.riskTiers[%s].maxRatio must be within [0,1]", raw)
		}
		out.Tiers[level] = model.RiskTier{MaxAllocation: maxAllocation, MaxRatio: tier.MaxRatio}
	}
	return out, nil
}

func defaultTiers() model.RiskTierTable {
	return model.RiskTierTable{
		enum.RiskLow:      {MaxAllocation: model.AmountFromFloat(500_000), MaxRatio: 0.5},
		enum.RiskMedium:   {MaxAllocation: model.AmountFromFloat(300_000), MaxRatio: 0.3},
		enum.RiskHigh:     {MaxAllocation: model.AmountFromFloat(150_000), MaxRatio: 0.15},
		enum.RiskCritical: {MaxAllocation: model.AmountFromFloat(100_000), MaxRatio: 0.1},
	}
}

func resolveHealth(cfg HealthConfig) (health.Config, error) {
	heartbeatTimeout, err := duration(cfg.HeartbeatTimeout, 30*time.Second)
	if err != nil {
		return health.Config{}, fmt.Errorf("health.heartbeatTimeout: %w", err)
	}
	alerting := true
	if cfg.AlertingEnabled != nil {
		alerting = *cfg.AlertingEnabled
	}
	return health.Config{
		HeartbeatTimeout: heartbeatTimeout,
		CPUWarning:       cfg.CPUWarning,
		CPUCritical:      cfg.CPUCritical,
		MemoryWarning:    cfg.MemoryWarning,
		MemoryCritical:   cfg.MemoryCritical,
		AlertQueueSize:   cfg.AlertQueueSize,
		AlertingEnabled:  alerting,
	}, nil
}

func resolveIntervals(cfg IntervalsConfig) (Intervals, error) {
	out := Intervals{}
	var err error
	if out.HealthCheck, err = duration(cfg.HealthCheck, 15*time.Second); err != nil {
		return out, fmt.Errorf("intervals.healthCheck: %w", err)
	}
	if out.AlertDrain, err = duration(cfg.AlertDrain, 5*time.Second); err != nil {
		return out, fmt.Errorf("intervals.alertDrain: %w", err)
	}
	if out.ResourceSample, err = duration(cfg.ResourceSample, 10*time.Second); err != nil {
		return out, fmt.Errorf("intervals.resourceSample: %w", err)
	}
	if out.BudgetSweep, err = duration(cfg.BudgetSweep, time.Minute); err != nil {
		return out, fmt.Errorf("intervals.budgetSweep: %w", err)
	}
	if out.MetricSnapshot, err = duration(cfg.MetricSnapshot, time.Minute); err != nil {
		return out, fmt.Errorf("intervals.metricSnapshot: %w", err)
	}
	return out, nil
}

func duration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}

func amount(raw decimal.Decimal, fallback model.Amount) (model.Amount, error) {
	if raw == "" {
		return fallback, nil
	}
	return model.AmountFromDecimal(raw)
}
