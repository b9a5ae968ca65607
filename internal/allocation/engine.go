// Package allocation converts approved budgets and direct allocation requests
// into fund allocations drawn against system liquidity.
package allocation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"fincontrol/internal/bus"
	"fincontrol/internal/ledger"
	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/internal/obs"
	"fincontrol/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Config holds the engine limits resolved from the config file.
type Config struct {
	// EmergencyReserveRatio is the share of reserve account funds walled off
	// from the liquidity pool, within [0,1].
	EmergencyReserveRatio float64
	// Tiers caps allocation size per risk level.
	Tiers model.RiskTierTable
	// DefaultExpiry applied to new allocations when positive.
	DefaultExpiry time.Duration
}

// Engine owns every FundAllocation mutation. The validate, check liquidity,
// persist, notify sequence for one allocation never interleaves with another
// mutation of the same row.
type Engine struct {
	store   *ledger.Store
	bus     *bus.Bus
	metrics *obs.Metrics
	cfg     Config
	source  string

	// createMu serializes liquidity check against create so two concurrent
	// requests cannot both pass on the same funds.
	createMu sync.Mutex

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Request is a normalized allocation ask, produced from the bus payload or
// from budget approval.
type Request struct {
	StrategyID      int64
	AllocationType  enum.AllocationType
	Amount          model.Amount
	Ratio           *float64
	RiskLevel       enum.RiskLevel
	AllocatedBy     string
	Reason          string
	BudgetRequestID string
}

// NewEngine builds the allocation engine.
func NewEngine(store *ledger.Store, b *bus.Bus, metrics *obs.Metrics, cfg Config, source string) *Engine {
	if cfg.EmergencyReserveRatio < 0 || cfg.EmergencyReserveRatio > 1 {
		cfg.EmergencyReserveRatio = 0
	}
	return &Engine{
		store:   store,
		bus:     b,
		metrics: metrics,
		cfg:     cfg,
		source:  source,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

func (e *Engine) validate(req Request) error {
	if req.StrategyID <= 0 {
		return exception.ErrAllocationInvalidStrategy
	}
	if req.Amount <= 0 {
		return exception.ErrAllocationInvalidAmount
	}
	if !req.AllocationType.IsAvailable() {
		return exception.ErrAllocationUnsupportedType
	}
	if !req.RiskLevel.IsAvailable() {
		return exception.ErrValidation
	}
	if req.Ratio != nil && (*req.Ratio < 0 || *req.Ratio > 1) {
		return exception.ErrAllocationInvalidRatio
	}
	if tier, ok := e.cfg.Tiers.Tier(req.RiskLevel); ok && req.Amount > tier.MaxAllocation {
		return errors.Wrap(exception.ErrAllocationTierLimit, "validate").
			With("riskLevel", req.RiskLevel).
			With("max", tier.MaxAllocation.String())
	}
	return nil
}

// AvailableFunds sums active master available balances plus active reserve
// available balances scaled down by the emergency reserve ratio.
func (e *Engine) AvailableFunds(ctx context.Context) (model.Amount, error) {
	if e == nil {
		return 0, exception.ErrNilInstance
	}
	masters, err := e.store.Accounts.List(ctx, enum.AccountTypeMaster, enum.AccountStatusActive)
	if err != nil {
		return 0, errors.Wrap(err, "list master accounts")
	}
	reserves, err := e.store.Accounts.List(ctx, enum.AccountTypeReserve, enum.AccountStatusActive)
	if err != nil {
		return 0, errors.Wrap(err, "list reserve accounts")
	}
	var total model.Amount
	for _, a := range masters {
		total += a.AvailableBalance
	}
	for _, a := range reserves {
		total += a.AvailableBalance.MulRatio(1 - e.cfg.EmergencyReserveRatio)
	}
	return total, nil
}

// Allocate runs the full validate, liquidity, persist, notify sequence.
func (e *Engine) Allocate(ctx context.Context, req Request) (model.FundAllocation, error) {
	if e == nil {
		return model.FundAllocation{}, exception.ErrNilInstance
	}
	if err := e.validate(req); err != nil {
		e.metrics.IncAllocationFailure()
		return model.FundAllocation{}, err
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()

	available, err := e.AvailableFunds(ctx)
	if err != nil {
		e.metrics.IncAllocationFailure()
		return model.FundAllocation{}, err
	}
	if req.Amount > available {
		e.metrics.IncAllocationFailure()
		err := errors.Wrap(exception.ErrAllocationLiquidity, "allocate").
			With("requested", req.Amount.String()).
			With("available", available.String())
		// Account and allocation state stay untouched; the refused ask still
		// lands in the transaction trail.
		e.recordTransaction(ctx, model.FinancialTransaction{
			ID:         uuid.NewString(),
			Type:       enum.TransactionAllocation,
			StrategyID: req.StrategyID,
			Amount:     req.Amount,
			Status:     enum.TransactionStatusFailed,
			Note:       err.Error(),
		})
		return model.FundAllocation{}, err
	}

	ratio := 1.0
	if available > 0 {
		ratio = float64(req.Amount) / float64(available)
	}
	if ratio > 1 {
		ratio = 1
	}
	if req.Ratio != nil {
		ratio = *req.Ratio
	}

	now := time.Now().UTC()
	row := model.FundAllocation{
		ID:              uuid.NewString(),
		StrategyID:      req.StrategyID,
		BudgetRequestID: req.BudgetRequestID,
		AllocationType:  req.AllocationType,
		AllocatedAmount: req.Amount,
		AvailableAmount: req.Amount,
		AllocationRatio: ratio,
		Status:          enum.AllocationStatusActive,
		RiskLevel:       req.RiskLevel,
		AllocatedBy:     req.AllocatedBy,
	}
	if e.cfg.DefaultExpiry > 0 {
		row.ExpiresAt = now.Add(e.cfg.DefaultExpiry)
	}
	if err := e.store.Allocations.Create(ctx, &row); err != nil {
		e.metrics.IncAllocationFailure()
		return model.FundAllocation{}, errors.Wrap(err, "create allocation")
	}

	e.recordTransaction(ctx, model.FinancialTransaction{
		ID:         uuid.NewString(),
		Type:       enum.TransactionAllocation,
		StrategyID: req.StrategyID,
		Amount:     req.Amount,
		Status:     enum.TransactionStatusCompleted,
		Reference:  row.ID,
		Note:       req.Reason,
	})

	e.metrics.IncAllocationCreated()
	e.notify(bus.AllocationResponse{
		SubType:         bus.SubTypeAllocationResponse,
		Success:         true,
		AllocationID:    row.ID,
		AllocatedAmount: row.AllocatedAmount,
		AllocationRatio: row.AllocationRatio,
	})
	return row, nil
}

// UpdateUsage sets the used and reserved amounts and recomputes available.
// Nil arguments leave the corresponding field unchanged. Over-use fails
// without clamping.
func (e *Engine) UpdateUsage(ctx context.Context, id string, used, reserved *model.Amount) (model.FundAllocation, error) {
	if e == nil {
		return model.FundAllocation{}, exception.ErrNilInstance
	}
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	return e.store.Allocations.Update(ctx, id, func(row *model.FundAllocation) error {
		if row.Status != enum.AllocationStatusActive {
			return errors.Wrap(exception.ErrAllocationNotActive, "update usage").With("status", row.Status)
		}
		if used != nil {
			if *used < 0 {
				return exception.ErrValidation
			}
			row.UsedAmount = *used
		}
		if reserved != nil {
			if *reserved < 0 {
				return exception.ErrValidation
			}
			row.ReservedAmount = *reserved
		}
		available := row.AllocatedAmount - row.UsedAmount - row.ReservedAmount
		if available < 0 {
			return errors.Wrap(exception.ErrAllocationOveruse, "update usage").
				With("allocated", row.AllocatedAmount.String()).
				With("used", row.UsedAmount.String()).
				With("reserved", row.ReservedAmount.String())
		}
		row.AvailableAmount = available
		return nil
	})
}

// FreezeTag names the emergency stop that froze an allocation so a matching
// resume releases exactly that set.
func FreezeTag(scope enum.EmergencyScope, targetID string) string {
	if targetID == "" {
		return fmt.Sprintf("emergency:%s", scope)
	}
	return fmt.Sprintf("emergency:%s:%s", scope, targetID)
}

// Freeze flips matching active allocations to frozen, tagging each with the
// given reason. Already-frozen rows are left untouched, so repeating the same
// stop is harmless. Returns the ids actually frozen by this call.
func (e *Engine) Freeze(ctx context.Context, scope enum.EmergencyScope, targetID, tag string) ([]string, error) {
	if e == nil {
		return nil, exception.ErrNilInstance
	}
	matches, err := e.matchScope(ctx, scope, targetID, enum.AllocationStatusActive)
	if err != nil {
		return nil, err
	}
	frozen := make([]string, 0, len(matches))
	for _, row := range matches {
		l := e.lockFor(row.ID)
		l.Lock()
		_, err := e.store.Allocations.Update(ctx, row.ID, func(a *model.FundAllocation) error {
			if a.Status != enum.AllocationStatusActive {
				return nil
			}
			a.Status = enum.AllocationStatusFrozen
			a.FreezeReason = tag
			return nil
		})
		l.Unlock()
		if err != nil {
			logs.Errorf("freeze allocation %s: %v", row.ID, err)
			continue
		}
		frozen = append(frozen, row.ID)
		e.metrics.IncAllocationFrozen()
	}
	return frozen, nil
}

// Unfreeze reactivates allocations frozen under the given tag, leaving rows
// frozen for unrelated reasons untouched.
func (e *Engine) Unfreeze(ctx context.Context, tag string) ([]string, error) {
	if e == nil {
		return nil, exception.ErrNilInstance
	}
	status := enum.AllocationStatusFrozen
	matches, err := e.store.Allocations.List(ctx, ledger.AllocationFilter{Status: &status, FreezeReason: tag})
	if err != nil {
		return nil, errors.Wrap(err, "list frozen allocations")
	}
	thawed := make([]string, 0, len(matches))
	for _, row := range matches {
		l := e.lockFor(row.ID)
		l.Lock()
		_, err := e.store.Allocations.Update(ctx, row.ID, func(a *model.FundAllocation) error {
			if a.Status != enum.AllocationStatusFrozen || a.FreezeReason != tag {
				return nil
			}
			a.Status = enum.AllocationStatusActive
			a.FreezeReason = ""
			return nil
		})
		l.Unlock()
		if err != nil {
			logs.Errorf("unfreeze allocation %s: %v", row.ID, err)
			continue
		}
		thawed = append(thawed, row.ID)
		e.metrics.IncAllocationThawed()
	}
	return thawed, nil
}

// Recall pulls an allocation back, terminal like expiry. Amounts stay
// recorded for the audit trail.
func (e *Engine) Recall(ctx context.Context, id, reason string) (model.FundAllocation, error) {
	if e == nil {
		return model.FundAllocation{}, exception.ErrNilInstance
	}
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return e.store.Allocations.Update(ctx, id, func(row *model.FundAllocation) error {
		switch row.Status {
		case enum.AllocationStatusActive, enum.AllocationStatusFrozen:
			row.Status = enum.AllocationStatusRecalled
			row.FreezeReason = ""
			row.Metadata = reason
			return nil
		default:
			return errors.Wrap(exception.ErrInvalidState, "recall").With("status", row.Status)
		}
	})
}

// SweepExpired marks active allocations past their deadline as expired.
// Returns how many rows were flipped.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if e == nil {
		return 0, exception.ErrNilInstance
	}
	status := enum.AllocationStatusActive
	rows, err := e.store.Allocations.List(ctx, ledger.AllocationFilter{Status: &status})
	if err != nil {
		return 0, errors.Wrap(err, "list active allocations")
	}
	now := time.Now().UTC()
	expired := 0
	for _, row := range rows {
		if !row.Expired(now) {
			continue
		}
		l := e.lockFor(row.ID)
		l.Lock()
		_, err := e.store.Allocations.Update(ctx, row.ID, func(a *model.FundAllocation) error {
			if a.Status != enum.AllocationStatusActive || !a.Expired(now) {
				return nil
			}
			a.Status = enum.AllocationStatusExpired
			return nil
		})
		l.Unlock()
		if err != nil {
			logs.Errorf("expire allocation %s: %v", row.ID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (e *Engine) matchScope(ctx context.Context, scope enum.EmergencyScope, targetID string, status enum.AllocationStatus) ([]model.FundAllocation, error) {
	filter := ledger.AllocationFilter{Status: &status}
	switch scope {
	case enum.EmergencyScopeSystem:
	case enum.EmergencyScopeStrategy:
		strategyID, err := strconv.ParseInt(targetID, 10, 64)
		if err != nil {
			return nil, errors.Wrap(exception.ErrValidation, "parse strategy target").With("targetId", targetID)
		}
		filter.StrategyID = &strategyID
	case enum.EmergencyScopeModule:
		// Module-scoped stops affect the allocations that module created.
		rows, err := e.store.Allocations.List(ctx, filter)
		if err != nil {
			return nil, errors.Wrap(err, "list allocations")
		}
		out := rows[:0]
		for _, row := range rows {
			if row.AllocatedBy == targetID {
				out = append(out, row)
			}
		}
		return out, nil
	default:
		return nil, exception.ErrEmergencyUnknownScope
	}
	rows, err := e.store.Allocations.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list allocations")
	}
	return rows, nil
}

// recordTransaction appends to the audit trail. A failed insert is logged and
// never fails the allocation itself.
func (e *Engine) recordTransaction(ctx context.Context, txn model.FinancialTransaction) {
	if err := e.store.Transactions.Create(ctx, &txn); err != nil {
		logs.Errorf("record %s transaction for strategy %d: %v", txn.Status, txn.StrategyID, err)
	}
}

func (e *Engine) notify(payload bus.AllocationResponse) {
	if e.bus == nil {
		return
	}
	m, err := bus.NewMessage(bus.TypeSystemStatus, e.source, payload)
	if err != nil {
		logs.Errorf("build allocation notification: %v", err)
		return
	}
	if err := e.bus.Publish(m); err != nil {
		logs.Warnf("publish allocation notification: %v", err)
	}
}

// HandleRequest is the FUND_ALLOCATION_REQUEST bus handler.
func (e *Engine) HandleRequest(ctx context.Context, m bus.Message) {
	if e == nil {
		return
	}
	e.metrics.IncMessageIn(string(m.Type))
	decoded, err := bus.DecodePayload(m)
	if err != nil {
		logs.Warnf("decode allocation request from %s: %v", m.Source, err)
		return
	}
	payload, ok := decoded.(bus.AllocationRequestPayload)
	if !ok {
		logs.Warnf("unexpected allocation payload %T from %s", decoded, m.Source)
		return
	}

	resp := bus.AllocationResponse{SubType: bus.SubTypeAllocationResponse}
	row, err := e.Allocate(ctx, Request{
		StrategyID:     payload.StrategyID,
		AllocationType: payload.AllocationType,
		Amount:         payload.RequestedAmount,
		Ratio:          payload.AllocationRatio,
		RiskLevel:      payload.RiskLevel,
		AllocatedBy:    payload.AllocatedBy,
		Reason:         payload.Reason,
	})
	if err != nil {
		resp.Error = err.Error()
		e.reply(m, resp)
		return
	}
	resp.Success = true
	resp.AllocationID = row.ID
	resp.AllocatedAmount = row.AllocatedAmount
	resp.AllocationRatio = row.AllocationRatio
	e.reply(m, resp)
}

func (e *Engine) reply(req bus.Message, payload bus.AllocationResponse) {
	if e.bus == nil {
		return
	}
	m, err := req.Reply(e.source, payload)
	if err != nil {
		logs.Errorf("build allocation reply: %v", err)
		return
	}
	e.metrics.IncMessageOut(string(m.Type))
	if err := e.bus.Publish(m); err != nil {
		logs.Warnf("publish allocation reply: %v", err)
	}
}
