package emergency

import (
	"testing"

	"fincontrol/internal/allocation"
	"fincontrol/internal/bus"
	"fincontrol/internal/ledger"
	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *allocation.Engine, *ledger.Store) {
	t.Helper()
	store := ledger.NewMemoryStore()
	accounts := allocation.NewAccounts(store)
	require.NoError(t, accounts.EnsureDefaults(t.Context(), model.AmountFromFloat(500_000), model.AmountFromFloat(100_000)))

	alloc := allocation.NewEngine(store, nil, nil, allocation.Config{
		EmergencyReserveRatio: 0.5,
		Tiers: model.RiskTierTable{
			enum.RiskLow: {MaxAllocation: model.AmountFromFloat(500_000), MaxRatio: 0.5},
		},
	}, "finance-control")

	c := NewCoordinator(store, nil, alloc, nil, Config{}, "finance-control")
	require.NoError(t, c.Restore(t.Context()))
	return c, alloc, store
}

func stopCommand(scope enum.EmergencyScope, target string) bus.EmergencyCommand {
	return bus.EmergencyCommand{
		Action:      enum.EmergencyActionStop,
		Scope:       scope,
		TargetID:    target,
		Reason:      "drawdown breach",
		Severity:    enum.CommandSeverityCritical,
		InitiatedBy: "risk-engine",
	}
}

func resumeCommand(scope enum.EmergencyScope, target string) bus.EmergencyCommand {
	return bus.EmergencyCommand{
		Action:      enum.EmergencyActionResume,
		Scope:       scope,
		TargetID:    target,
		InitiatedBy: "ops",
	}
}

func TestStopFreezesAndResumeRestores(t *testing.T) {
	c, alloc, store := newTestCoordinator(t)
	ctx := t.Context()

	row, err := alloc.Allocate(ctx, allocation.Request{
		StrategyID:     2,
		AllocationType: enum.AllocationInitial,
		Amount:         model.AmountFromFloat(80_000),
		RiskLevel:      enum.RiskLow,
		AllocatedBy:    "x",
	})
	require.NoError(t, err)

	require.NoError(t, c.Execute(ctx, stopCommand(enum.EmergencyScopeStrategy, "2")))
	assert.True(t, c.Stopped())

	frozen, err := store.Allocations.Find(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.AllocationStatusFrozen, frozen.Status)
	assert.Equal(t, allocation.FreezeTag(enum.EmergencyScopeStrategy, "2"), frozen.FreezeReason)

	// Stop state survives a restart.
	fresh := NewCoordinator(store, nil, alloc, nil, Config{}, "finance-control")
	require.NoError(t, fresh.Restore(ctx))
	assert.True(t, fresh.Stopped())
	assert.Equal(t, enum.EmergencyScopeStrategy, fresh.State().Scope)

	require.NoError(t, c.Execute(ctx, resumeCommand(enum.EmergencyScopeStrategy, "2")))
	assert.False(t, c.Stopped())

	thawed, err := store.Allocations.Find(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.AllocationStatusActive, thawed.Status)
	assert.Empty(t, thawed.FreezeReason)
	assert.Equal(t, model.AmountFromFloat(80_000), thawed.AllocatedAmount)
}

func TestRepeatedStopIsIdempotent(t *testing.T) {
	c, _, store := newTestCoordinator(t)
	ctx := t.Context()

	cmd := stopCommand(enum.EmergencyScopeSystem, "")
	require.NoError(t, c.Execute(ctx, cmd))
	first := c.State()

	require.NoError(t, c.Execute(ctx, cmd))
	second := c.State()

	assert.True(t, second.Active)
	assert.Equal(t, first.Scope, second.Scope)
	assert.Equal(t, first.Reason, second.Reason)

	// Both activations leave an audit trail.
	events, err := store.Events.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStopScopeChangeRefusedWhileActive(t *testing.T) {
	c, alloc, store := newTestCoordinator(t)
	ctx := t.Context()

	row, err := alloc.Allocate(ctx, allocation.Request{
		StrategyID:     2,
		AllocationType: enum.AllocationInitial,
		Amount:         model.AmountFromFloat(80_000),
		RiskLevel:      enum.RiskLow,
		AllocatedBy:    "x",
	})
	require.NoError(t, err)

	require.NoError(t, c.Execute(ctx, stopCommand(enum.EmergencyScopeStrategy, "2")))

	// Widening to system scope would drop the strategy freeze tag from the
	// stored state; the command is refused until resume runs.
	err = c.Execute(ctx, stopCommand(enum.EmergencyScopeSystem, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active stop")
	assert.Equal(t, enum.EmergencyScopeStrategy, c.State().Scope)
	assert.Equal(t, "2", c.State().TargetID)

	require.NoError(t, c.Execute(ctx, resumeCommand(enum.EmergencyScopeStrategy, "2")))
	got, err := store.Allocations.Find(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.AllocationStatusActive, got.Status)
	assert.Empty(t, got.FreezeReason)
}

func TestExecuteValidatesCommand(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := t.Context()

	err := c.Execute(ctx, bus.EmergencyCommand{Action: "detonate", Scope: enum.EmergencyScopeSystem, Reason: "x"})
	assert.Contains(t, err.Error(), "unknown action")

	err = c.Execute(ctx, bus.EmergencyCommand{Action: enum.EmergencyActionStop, Scope: "galaxy", Reason: "x"})
	assert.Contains(t, err.Error(), "unknown scope")

	err = c.Execute(ctx, bus.EmergencyCommand{Action: enum.EmergencyActionStop, Scope: enum.EmergencyScopeStrategy, Reason: "x"})
	assert.Contains(t, err.Error(), "target")

	err = c.Execute(ctx, stopCommandWithoutReason())
	assert.ErrorIs(t, err, exception.ErrEmergencyEmptyReason)
}

func stopCommandWithoutReason() bus.EmergencyCommand {
	cmd := stopCommand(enum.EmergencyScopeSystem, "")
	cmd.Reason = ""
	return cmd
}

func TestResumeRequiresActiveStop(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	err := c.Execute(t.Context(), resumeCommand(enum.EmergencyScopeSystem, ""))
	assert.ErrorIs(t, err, exception.ErrEmergencyNotStopped)
}

func TestResumeScopeMustMatchStop(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := t.Context()

	require.NoError(t, c.Execute(ctx, stopCommand(enum.EmergencyScopeStrategy, "2")))

	err := c.Execute(ctx, resumeCommand(enum.EmergencyScopeSystem, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scope mismatch")
	assert.True(t, c.Stopped())

	require.NoError(t, c.Execute(ctx, resumeCommand(enum.EmergencyScopeStrategy, "2")))
	assert.False(t, c.Stopped())
}

func TestAdvisoryActionsLeaveStateAlone(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	cmd := stopCommand(enum.EmergencyScopeSystem, "")
	cmd.Action = enum.EmergencyActionPause
	require.NoError(t, c.Execute(t.Context(), cmd))
	assert.False(t, c.Stopped())
}

func TestHandleCommandSkipsOwnBroadcasts(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	m, err := bus.NewMessage(bus.TypeEmergencyStop, "finance-control", stopCommand(enum.EmergencyScopeSystem, ""))
	require.NoError(t, err)
	c.HandleCommand(t.Context(), m)
	assert.False(t, c.Stopped())

	m, err = bus.NewMessage(bus.TypeEmergencyStop, "risk-engine", stopCommand(enum.EmergencyScopeSystem, ""))
	require.NoError(t, err)
	c.HandleCommand(t.Context(), m)
	assert.True(t, c.Stopped())
}
