package allocation

import (
	"testing"
	"time"

	"fincontrol/internal/ledger"
	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		EmergencyReserveRatio: 0.5,
		Tiers: model.RiskTierTable{
			enum.RiskLow:      {MaxAllocation: model.AmountFromFloat(500_000), MaxRatio: 0.5},
			enum.RiskCritical: {MaxAllocation: model.AmountFromFloat(100_000), MaxRatio: 0.1},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *ledger.Store) {
	t.Helper()
	store := ledger.NewMemoryStore()
	accounts := NewAccounts(store)
	require.NoError(t, accounts.EnsureDefaults(t.Context(), model.AmountFromFloat(100_000), model.AmountFromFloat(50_000)))
	return NewEngine(store, nil, nil, testConfig(), "finance-control"), store
}

func TestAvailableFunds(t *testing.T) {
	engine, _ := newTestEngine(t)

	// 100k master + 50k reserve walled down by half.
	available, err := engine.AvailableFunds(t.Context())
	require.NoError(t, err)
	assert.Equal(t, model.AmountFromFloat(125_000), available)
}

func TestAllocateSuccess(t *testing.T) {
	engine, store := newTestEngine(t)

	row, err := engine.Allocate(t.Context(), Request{
		StrategyID:     1,
		AllocationType: enum.AllocationInitial,
		Amount:         model.AmountFromFloat(25_000),
		RiskLevel:      enum.RiskLow,
		AllocatedBy:    "finance-control",
		Reason:         "initial funding",
	})
	require.NoError(t, err)
	assert.Equal(t, enum.AllocationStatusActive, row.Status)
	assert.Equal(t, model.AmountFromFloat(25_000), row.AllocatedAmount)
	assert.Equal(t, row.AllocatedAmount, row.AvailableAmount)
	assert.InDelta(t, 0.2, row.AllocationRatio, 1e-9)
	assert.True(t, row.Consistent())

	// The allocation transaction is recorded completed.
	txns, err := store.Transactions.ListByStrategy(t.Context(), 1)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, enum.TransactionAllocation, txns[0].Type)
	assert.Equal(t, enum.TransactionStatusCompleted, txns[0].Status)
	assert.Equal(t, row.ID, txns[0].Reference)
}

func TestAllocateValidation(t *testing.T) {
	engine, _ := newTestEngine(t)

	cases := []struct {
		name string
		req  Request
	}{
		{"bad strategy", Request{StrategyID: 0, AllocationType: enum.AllocationInitial, Amount: 100, RiskLevel: enum.RiskLow}},
		{"bad amount", Request{StrategyID: 1, AllocationType: enum.AllocationInitial, Amount: 0, RiskLevel: enum.RiskLow}},
		{"bad type", Request{StrategyID: 1, AllocationType: "bogus", Amount: 100, RiskLevel: enum.RiskLow}},
		{"bad level", Request{StrategyID: 1, AllocationType: enum.AllocationInitial, Amount: 100, RiskLevel: "bogus"}},
	}
	for _, c := range cases {
		_, err := engine.Allocate(t.Context(), c.req)
		assert.Errorf(t, err, "case %s", c.name)
	}

	bad := 1.5
	_, err := engine.Allocate(t.Context(), Request{
		StrategyID: 1, AllocationType: enum.AllocationInitial,
		Amount: 100, Ratio: &bad, RiskLevel: enum.RiskLow,
	})
	assert.ErrorIs(t, err, exception.ErrAllocationInvalidRatio)
}

func TestAllocateTierLimit(t *testing.T) {
	engine, store := newTestEngine(t)

	_, err := engine.Allocate(t.Context(), Request{
		StrategyID:     2,
		AllocationType: enum.AllocationInitial,
		Amount:         model.AmountFromFloat(120_000),
		RiskLevel:      enum.RiskCritical,
		AllocatedBy:    "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk tier")

	rows, err := store.Allocations.List(t.Context(), ledger.AllocationFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAllocateInsufficientLiquidity(t *testing.T) {
	engine, store := newTestEngine(t)

	_, err := engine.Allocate(t.Context(), Request{
		StrategyID:     1,
		AllocationType: enum.AllocationInitial,
		Amount:         model.AmountFromFloat(200_000),
		RiskLevel:      enum.RiskLow,
		AllocatedBy:    "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient")

	rows, err := store.Allocations.List(t.Context(), ledger.AllocationFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	// The refused ask still shows up in the audit trail.
	txns, err := store.Transactions.ListByStrategy(t.Context(), 1)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, enum.TransactionStatusFailed, txns[0].Status)
}

func TestUpdateUsageKeepsInvariant(t *testing.T) {
	engine, _ := newTestEngine(t)

	row, err := engine.Allocate(t.Context(), Request{
		StrategyID:     1,
		AllocationType: enum.AllocationInitial,
		Amount:         model.AmountFromFloat(1_000),
		RiskLevel:      enum.RiskLow,
		AllocatedBy:    "x",
	})
	require.NoError(t, err)

	used := model.AmountFromFloat(400)
	reserved := model.AmountFromFloat(100)
	updated, err := engine.UpdateUsage(t.Context(), row.ID, &used, &reserved)
	require.NoError(t, err)
	assert.Equal(t, model.AmountFromFloat(500), updated.AvailableAmount)
	assert.True(t, updated.Consistent())

	// Over-use fails rather than clamping, leaving the row untouched.
	over := model.AmountFromFloat(950)
	_, err = engine.UpdateUsage(t.Context(), row.ID, &over, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds allocated")

	current, err := engine.UpdateUsage(t.Context(), row.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, used, current.UsedAmount)
	assert.True(t, current.Consistent())
}

func TestFreezeUnfreezeScopedExactly(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := t.Context()

	a1, err := engine.Allocate(ctx, Request{StrategyID: 2, AllocationType: enum.AllocationInitial, Amount: model.AmountFromFloat(30_000), RiskLevel: enum.RiskLow, AllocatedBy: "x"})
	require.NoError(t, err)
	a2, err := engine.Allocate(ctx, Request{StrategyID: 3, AllocationType: enum.AllocationInitial, Amount: model.AmountFromFloat(10_000), RiskLevel: enum.RiskLow, AllocatedBy: "x"})
	require.NoError(t, err)

	// An unrelated manual freeze must survive the round trip.
	a3, err := engine.Allocate(ctx, Request{StrategyID: 2, AllocationType: enum.AllocationRebalance, Amount: model.AmountFromFloat(5_000), RiskLevel: enum.RiskLow, AllocatedBy: "x"})
	require.NoError(t, err)
	_, err = store.Allocations.Update(ctx, a3.ID, func(a *model.FundAllocation) error {
		a.Status = enum.AllocationStatusFrozen
		a.FreezeReason = "manual review"
		return nil
	})
	require.NoError(t, err)

	tag := FreezeTag(enum.EmergencyScopeStrategy, "2")
	frozen, err := engine.Freeze(ctx, enum.EmergencyScopeStrategy, "2", tag)
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID}, frozen)

	got, err := store.Allocations.Find(ctx, a2.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.AllocationStatusActive, got.Status)

	// Repeating the freeze is harmless.
	again, err := engine.Freeze(ctx, enum.EmergencyScopeStrategy, "2", tag)
	require.NoError(t, err)
	assert.Empty(t, again)

	thawed, err := engine.Unfreeze(ctx, tag)
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID}, thawed)

	got, err = store.Allocations.Find(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.AllocationStatusActive, got.Status)
	assert.Empty(t, got.FreezeReason)
	assert.Equal(t, model.AmountFromFloat(30_000), got.AllocatedAmount)

	got, err = store.Allocations.Find(ctx, a3.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.AllocationStatusFrozen, got.Status)
	assert.Equal(t, "manual review", got.FreezeReason)
}

func TestFreezeSystemScope(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := t.Context()

	for _, strategyID := range []int64{1, 2, 3} {
		_, err := engine.Allocate(ctx, Request{StrategyID: strategyID, AllocationType: enum.AllocationInitial, Amount: model.AmountFromFloat(1_000), RiskLevel: enum.RiskLow, AllocatedBy: "x"})
		require.NoError(t, err)
	}

	tag := FreezeTag(enum.EmergencyScopeSystem, "")
	frozen, err := engine.Freeze(ctx, enum.EmergencyScopeSystem, "", tag)
	require.NoError(t, err)
	assert.Len(t, frozen, 3)

	active := enum.AllocationStatusActive
	rows, err := store.Allocations.List(ctx, ledger.AllocationFilter{Status: &active})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSweepExpired(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := t.Context()

	row, err := engine.Allocate(ctx, Request{StrategyID: 1, AllocationType: enum.AllocationInitial, Amount: model.AmountFromFloat(1_000), RiskLevel: enum.RiskLow, AllocatedBy: "x"})
	require.NoError(t, err)
	_, err = store.Allocations.Update(ctx, row.ID, func(a *model.FundAllocation) error {
		a.ExpiresAt = a.CreatedAt.Add(-time.Hour)
		return nil
	})
	require.NoError(t, err)

	expired, err := engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := store.Allocations.Find(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.AllocationStatusExpired, got.Status)
}

func TestAccountsFreezeFunds(t *testing.T) {
	store := ledger.NewMemoryStore()
	accounts := NewAccounts(store)
	ctx := t.Context()
	require.NoError(t, accounts.EnsureDefaults(ctx, model.AmountFromFloat(1_000), model.AmountFromFloat(500)))

	got, err := accounts.FreezeFunds(ctx, "acct-master", model.AmountFromFloat(400))
	require.NoError(t, err)
	assert.True(t, got.Consistent())
	assert.Equal(t, model.AmountFromFloat(600), got.AvailableBalance)

	_, err = accounts.FreezeFunds(ctx, "acct-master", model.AmountFromFloat(700))
	assert.Error(t, err)

	got, err = accounts.UnfreezeFunds(ctx, "acct-master", model.AmountFromFloat(400))
	require.NoError(t, err)
	assert.True(t, got.Consistent())
	assert.Equal(t, model.AmountFromFloat(1_000), got.AvailableBalance)

	// EnsureDefaults is idempotent.
	require.NoError(t, accounts.EnsureDefaults(ctx, model.AmountFromFloat(9), model.AmountFromFloat(9)))
	got, err = store.Accounts.Find(ctx, "acct-master")
	require.NoError(t, err)
	assert.Equal(t, model.AmountFromFloat(1_000), got.Balance)
}
