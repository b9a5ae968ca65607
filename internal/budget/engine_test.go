package budget

import (
	"testing"
	"time"

	"fincontrol/internal/allocation"
	"fincontrol/internal/bus"
	"fincontrol/internal/ledger"
	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTiers() model.RiskTierTable {
	return model.RiskTierTable{
		enum.RiskLow:      {MaxAllocation: model.AmountFromFloat(500_000), MaxRatio: 0.5},
		enum.RiskMedium:   {MaxAllocation: model.AmountFromFloat(300_000), MaxRatio: 0.3},
		enum.RiskCritical: {MaxAllocation: model.AmountFromFloat(100_000), MaxRatio: 0.1},
	}
}

type testHarness struct {
	engine *Engine
	store  *ledger.Store
	risks  *risk.Registry
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	store := ledger.NewMemoryStore()
	accounts := allocation.NewAccounts(store)
	require.NoError(t, accounts.EnsureDefaults(t.Context(), model.AmountFromFloat(800_000), model.AmountFromFloat(200_000)))

	alloc := allocation.NewEngine(store, nil, nil, allocation.Config{
		EmergencyReserveRatio: 0.5,
		Tiers:                 testTiers(),
	}, "finance-control")

	risks := risk.NewRegistry(enum.RiskLow)
	engine := NewEngine(store, nil, alloc, risks, nil, Config{
		PerStrategyCap:         model.AmountFromFloat(1_000_000),
		AutoApprovalMaxAmount:  model.AmountFromFloat(50_000),
		AutoApprovalTypes:      []enum.BudgetRequestType{enum.BudgetRequestInitial, enum.BudgetRequestAdditional},
		AutoApprovalRiskLevels: []enum.RiskLevel{enum.RiskLow, enum.RiskMedium},
		Tiers:                  testTiers(),
		DefaultExpiry:          24 * time.Hour,
	}, "finance-control")
	return &testHarness{engine: engine, store: store, risks: risks}
}

func validSubmission() Submission {
	return Submission{
		StrategyID:    1,
		RequestType:   enum.BudgetRequestInitial,
		Amount:        model.AmountFromFloat(5_000),
		Justification: "scale out the grid strategy",
		RequestedBy:   "strategy-engine",
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newTestHarness(t)

	cases := []struct {
		name   string
		mutate func(*Submission)
		want   string
	}{
		{"zero strategy", func(s *Submission) { s.StrategyID = 0 }, "strategy id"},
		{"zero amount", func(s *Submission) { s.Amount = 0 }, "amount"},
		{"over cap", func(s *Submission) { s.Amount = model.AmountFromFloat(2_000_000) }, "cap"},
		{"bad type", func(s *Submission) { s.RequestType = "bogus" }, "type"},
		{"short justification", func(s *Submission) { s.Justification = "short" }, "justification"},
		{"empty requester", func(s *Submission) { s.RequestedBy = "" }, "requested by"},
	}
	for _, c := range cases {
		sub := validSubmission()
		c.mutate(&sub)
		result := h.engine.Submit(t.Context(), sub)
		assert.Falsef(t, result.Success, "case %s", c.name)
		assert.Containsf(t, result.Error, c.want, "case %s", c.name)
	}

	// Validation failures never persist a row.
	pending, err := h.store.Budgets.ListPending(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmitAutoApprovesSmallLowRiskRequest(t *testing.T) {
	h := newTestHarness(t)

	result := h.engine.Submit(t.Context(), validSubmission())
	require.True(t, result.Success, result.Error)
	assert.True(t, result.AutoApproved)
	assert.Equal(t, enum.BudgetStatusApproved, result.Status)
	assert.Equal(t, model.AmountFromFloat(5_000), result.ApprovedAmount)

	// Approval is backed by a live allocation.
	row, err := h.store.Budgets.Find(t.Context(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, enum.BudgetStatusApproved, row.Status)

	active := enum.AllocationStatusActive
	allocs, err := h.store.Allocations.List(t.Context(), ledger.AllocationFilter{Status: &active})
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, result.RequestID, allocs[0].BudgetRequestID)
	assert.Equal(t, model.AmountFromFloat(5_000), allocs[0].AllocatedAmount)
}

func TestSubmitRejectsOverTierLimit(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.risks.Set(7, enum.RiskCritical))

	sub := validSubmission()
	sub.StrategyID = 7
	sub.Amount = model.AmountFromFloat(150_000)
	result := h.engine.Submit(t.Context(), sub)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "risk tier limit")

	// Admission rejection happens before any write.
	pending, err := h.store.Budgets.ListPending(t.Context())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAdmissionCountsRunningApprovedTotal(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.risks.Set(3, enum.RiskCritical))

	sub := validSubmission()
	sub.StrategyID = 3
	sub.Amount = model.AmountFromFloat(40_000)

	first := h.engine.Submit(t.Context(), sub)
	require.True(t, first.Success, first.Error)
	second := h.engine.Submit(t.Context(), sub)
	require.True(t, second.Success, second.Error)

	// 80k approved so far; another 40k breaches the 100k critical tier.
	third := h.engine.Submit(t.Context(), sub)
	assert.False(t, third.Success)
	assert.Contains(t, third.Error, "risk tier limit")
}

func TestAutoApprovalConditionsAreIndependent(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(h *testHarness, s *Submission)
	}{
		{"amount over ceiling", func(_ *testHarness, s *Submission) {
			s.Amount = model.AmountFromFloat(60_000)
		}},
		{"type not eligible", func(_ *testHarness, s *Submission) {
			s.RequestType = enum.BudgetRequestEmergency
		}},
		{"risk level not eligible", func(h *testHarness, s *Submission) {
			require.NoError(t, h.risks.Set(s.StrategyID, enum.RiskHigh))
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newTestHarness(t)
			sub := validSubmission()
			c.mutate(h, &sub)

			result := h.engine.Submit(t.Context(), sub)
			require.True(t, result.Success, result.Error)
			assert.False(t, result.AutoApproved)
			assert.Equal(t, enum.BudgetStatusPending, result.Status)

			pending, err := h.store.Budgets.ListPending(t.Context())
			require.NoError(t, err)
			assert.Len(t, pending, 1)
		})
	}
}

func TestManualApproveCreatesAllocation(t *testing.T) {
	h := newTestHarness(t)

	sub := validSubmission()
	sub.RequestType = enum.BudgetRequestEmergency // not auto-approvable
	submitted := h.engine.Submit(t.Context(), sub)
	require.True(t, submitted.Success)
	require.Equal(t, enum.BudgetStatusPending, submitted.Status)

	approved := h.engine.Approve(t.Context(), submitted.RequestID, "reviewer", "looks fine to me")
	require.True(t, approved.Success, approved.Error)
	assert.Equal(t, enum.BudgetStatusApproved, approved.Status)
	assert.False(t, approved.AutoApproved)

	row, err := h.store.Budgets.Find(t.Context(), submitted.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "reviewer", row.ReviewedBy)

	active := enum.AllocationStatusActive
	allocs, err := h.store.Allocations.List(t.Context(), ledger.AllocationFilter{Status: &active})
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, enum.AllocationEmergency, allocs[0].AllocationType)
}

func TestApproveRejectsWhenAllocationFails(t *testing.T) {
	h := newTestHarness(t)

	sub := validSubmission()
	sub.RequestType = enum.BudgetRequestEmergency
	sub.Amount = model.AmountFromFloat(400_000)
	submitted := h.engine.Submit(t.Context(), sub)
	require.True(t, submitted.Success)

	// Liquidity dries up between submission and review.
	accounts := allocation.NewAccounts(h.store)
	_, err := accounts.FreezeFunds(t.Context(), "acct-master", model.AmountFromFloat(700_000))
	require.NoError(t, err)

	result := h.engine.Approve(t.Context(), submitted.RequestID, "reviewer", "approved anyway")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "insufficient")

	row, err := h.store.Budgets.Find(t.Context(), submitted.RequestID)
	require.NoError(t, err)
	assert.Equal(t, enum.BudgetStatusRejected, row.Status)
	assert.Contains(t, row.ReviewNote, "allocation failed")
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	h := newTestHarness(t)

	sub := validSubmission()
	sub.RequestType = enum.BudgetRequestEmergency
	submitted := h.engine.Submit(t.Context(), sub)
	require.True(t, submitted.Success)

	rejected := h.engine.Reject(t.Context(), submitted.RequestID, "reviewer", "not convinced")
	require.True(t, rejected.Success)
	assert.Equal(t, enum.BudgetStatusRejected, rejected.Status)

	again := h.engine.Approve(t.Context(), submitted.RequestID, "reviewer", "changed my mind")
	assert.False(t, again.Success)
	assert.Contains(t, again.Error, "not pending")

	cancelled := h.engine.Cancel(t.Context(), submitted.RequestID, "requester", "withdrawn")
	assert.False(t, cancelled.Success)
	assert.Contains(t, cancelled.Error, "not pending")
}

func TestCancelPendingRequest(t *testing.T) {
	h := newTestHarness(t)

	sub := validSubmission()
	sub.RequestType = enum.BudgetRequestEmergency
	submitted := h.engine.Submit(t.Context(), sub)
	require.True(t, submitted.Success)

	result := h.engine.Cancel(t.Context(), submitted.RequestID, "strategy-engine", "no longer needed")
	require.True(t, result.Success)
	assert.Equal(t, enum.BudgetStatusCancelled, result.Status)
}

func TestSweepExpiredRejectsStaleRequests(t *testing.T) {
	h := newTestHarness(t)
	ctx := t.Context()

	sub := validSubmission()
	sub.RequestType = enum.BudgetRequestEmergency
	submitted := h.engine.Submit(ctx, sub)
	require.True(t, submitted.Success)

	_, err := h.store.Budgets.Update(ctx, submitted.RequestID, func(r *model.BudgetRequest) error {
		r.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)

	swept, err := h.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	row, err := h.store.Budgets.Find(ctx, submitted.RequestID)
	require.NoError(t, err)
	assert.Equal(t, enum.BudgetStatusRejected, row.Status)
	assert.Equal(t, "expiry-sweep", row.ReviewedBy)

	// A second sweep finds nothing.
	swept, err = h.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestBudgetRequestOverBusRoundTrip(t *testing.T) {
	store := ledger.NewMemoryStore()
	accounts := allocation.NewAccounts(store)
	require.NoError(t, accounts.EnsureDefaults(t.Context(), model.AmountFromFloat(800_000), model.AmountFromFloat(200_000)))

	b := bus.New(bus.Option{QueueCapacity: 16})
	defer b.Close()

	alloc := allocation.NewEngine(store, b, nil, allocation.Config{
		EmergencyReserveRatio: 0.5,
		Tiers:                 testTiers(),
	}, "finance-control")
	risks := risk.NewRegistry(enum.RiskLow)
	engine := NewEngine(store, b, alloc, risks, nil, Config{
		PerStrategyCap:         model.AmountFromFloat(1_000_000),
		AutoApprovalMaxAmount:  model.AmountFromFloat(50_000),
		AutoApprovalTypes:      []enum.BudgetRequestType{enum.BudgetRequestInitial},
		AutoApprovalRiskLevels: []enum.RiskLevel{enum.RiskLow},
		Tiers:                  testTiers(),
	}, "finance-control")
	require.NoError(t, b.Subscribe(t.Context(), bus.TypeBudgetRequest, "budget-engine", engine.HandleRequest))

	req, err := bus.NewMessage(bus.TypeBudgetRequest, "strategy-engine", map[string]any{
		"strategyId":      int64(1),
		"requestType":     "initial",
		"requestedAmount": 5000.5,
		"justification":   "scale out the grid strategy",
		"requestedBy":     "strategy-engine",
	})
	require.NoError(t, err)

	reply, err := b.Request(t.Context(), req, 3*time.Second)
	require.NoError(t, err)

	decoded, err := bus.DecodePayload(reply)
	require.NoError(t, err)
	resp, ok := decoded.(bus.BudgetResponse)
	require.True(t, ok)
	assert.True(t, resp.Success)
	assert.True(t, resp.AutoApproved)
	assert.Equal(t, enum.BudgetStatusApproved, resp.Status)
	assert.Equal(t, model.Amount(500_050), resp.ApprovedAmount)

	row, err := store.Budgets.Find(t.Context(), resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, enum.BudgetStatusApproved, row.Status)
}

func TestSweepAutoApprovesLowPriority(t *testing.T) {
	h := newTestHarness(t)
	ctx := t.Context()

	low := validSubmission()
	low.RequestType = enum.BudgetRequestEmergency // dodge submission auto-approval
	low.Priority = enum.PriorityLow
	submitted := h.engine.Submit(ctx, low)
	require.True(t, submitted.Success)
	require.Equal(t, enum.BudgetStatusPending, submitted.Status)

	normal := validSubmission()
	normal.StrategyID = 2
	normal.RequestType = enum.BudgetRequestEmergency
	other := h.engine.Submit(ctx, normal)
	require.True(t, other.Success)

	approved, err := h.engine.SweepAutoApprove(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, approved)

	row, err := h.store.Budgets.Find(ctx, submitted.RequestID)
	require.NoError(t, err)
	assert.Equal(t, enum.BudgetStatusApproved, row.Status)
	assert.Equal(t, "auto-sweep", row.ReviewedBy)

	row, err = h.store.Budgets.Find(ctx, other.RequestID)
	require.NoError(t, err)
	assert.Equal(t, enum.BudgetStatusPending, row.Status)
}
