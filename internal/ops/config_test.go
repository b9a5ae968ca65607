package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathResolvesDefaults(t *testing.T) {
	loaded, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, model.AmountFromFloat(1_000_000), loaded.Budget.PerStrategyCap)
	assert.Equal(t, model.AmountFromFloat(50_000), loaded.Budget.AutoApprovalMaxAmount)
	assert.Equal(t, 24*time.Hour, loaded.Budget.DefaultExpiry)
	assert.ElementsMatch(t, []enum.BudgetRequestType{enum.BudgetRequestInitial, enum.BudgetRequestAdditional}, loaded.Budget.AutoApprovalTypes)

	assert.InDelta(t, 0.3, loaded.Allocation.EmergencyReserveRatio, 1e-9)
	assert.Len(t, loaded.Allocation.Tiers, 4)
	assert.Equal(t, loaded.Allocation.Tiers, loaded.Budget.Tiers)

	assert.Equal(t, 10*time.Second, loaded.Emergency.AckTimeout)
	assert.Equal(t, 30*time.Second, loaded.Health.HeartbeatTimeout)
	assert.True(t, loaded.Health.AlertingEnabled)
	assert.Equal(t, 15*time.Second, loaded.Intervals.HealthCheck)
	assert.Equal(t, enum.RiskMedium, loaded.DefaultRiskLevel)
	assert.Equal(t, model.AmountFromFloat(1_000_000), loaded.MasterBalance)
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"bus": {"queueCapacity": 512},
		"budget": {
			"perStrategyCap": "250000",
			"autoApprovalMaxAmount": "10000.50",
			"defaultExpiry": "48h",
			"defaultRiskLevel": "low"
		},
		"allocation": {
			"emergencyReserveRatio": 0.4,
			"riskTiers": {
				"low": {"maxAllocation": "200000", "maxRatio": 0.5}
			}
		},
		"emergency": {"ackTimeout": "5s"},
		"health": {"heartbeatTimeout": "1m", "alertingEnabled": false},
		"accounts": {"masterBalance": "750000"}
	}`), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 512, loaded.BusQueueCapacity)
	assert.Equal(t, model.AmountFromFloat(250_000), loaded.Budget.PerStrategyCap)
	assert.Equal(t, model.Amount(1_000_050), loaded.Budget.AutoApprovalMaxAmount)
	assert.Equal(t, 48*time.Hour, loaded.Budget.DefaultExpiry)
	assert.Equal(t, enum.RiskLow, loaded.DefaultRiskLevel)

	assert.InDelta(t, 0.4, loaded.Allocation.EmergencyReserveRatio, 1e-9)
	require.Len(t, loaded.Allocation.Tiers, 1)
	tier, ok := loaded.Allocation.Tiers.Tier(enum.RiskLow)
	require.True(t, ok)
	assert.Equal(t, model.AmountFromFloat(200_000), tier.MaxAllocation)

	assert.Equal(t, 5*time.Second, loaded.Emergency.AckTimeout)
	assert.Equal(t, time.Minute, loaded.Health.HeartbeatTimeout)
	assert.False(t, loaded.Health.AlertingEnabled)
	assert.Equal(t, model.AmountFromFloat(750_000), loaded.MasterBalance)
}

func TestLoadHonorsExplicitZeroReserveRatio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"allocation": {"emergencyReserveRatio": 0}}`), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, loaded.Allocation.EmergencyReserveRatio)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad amount", `{"budget": {"perStrategyCap": "not-a-number"}}`},
		{"bad duration", `{"emergency": {"ackTimeout": "soon"}}`},
		{"negative duration", `{"intervals": {"alertDrain": "-5s"}}`},
		{"ratio out of range", `{"allocation": {"emergencyReserveRatio": 1.5}}`},
		{"unknown tier level", `{"allocation": {"riskTiers": {"galaxy": {"maxAllocation": "1", "maxRatio": 0.1}}}}`},
		{"unknown auto type", `{"budget": {"autoApprovalTypes": ["bogus"]}}`},
		{"malformed json", `{`},
	}
	for _, c := range cases {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(c.body), 0o644))
		_, err := Load(path)
		assert.Errorf(t, err, "case %s", c.name)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
