// Package budget runs the approval workflow for strategy capital requests.
package budget

import (
	"context"
	"sync"
	"time"

	"fincontrol/internal/allocation"
	"fincontrol/internal/bus"
	"fincontrol/internal/ledger"
	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/internal/obs"
	"fincontrol/internal/risk"
	"fincontrol/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const minJustificationLen = 10

// Config holds workflow limits resolved from the config file.
type Config struct {
	// PerStrategyCap bounds a single request and is the admission fallback
	// when no tier limit exists for the strategy's risk level.
	PerStrategyCap model.Amount
	// AutoApprovalMaxAmount is the immediate auto-approval ceiling.
	AutoApprovalMaxAmount model.Amount
	// AutoApprovalTypes are the request types eligible for auto-approval.
	AutoApprovalTypes []enum.BudgetRequestType
	// AutoApprovalRiskLevels are the risk levels eligible for auto-approval.
	AutoApprovalRiskLevels []enum.RiskLevel
	// Tiers caps the running approved total per risk level.
	Tiers model.RiskTierTable
	// DefaultExpiry applies when a submission carries no expiry.
	DefaultExpiry time.Duration
}

// Engine serializes all mutations per strategy so the validate, check,
// persist, notify sequence never interleaves for the same strategy.
type Engine struct {
	store   *ledger.Store
	bus     *bus.Bus
	alloc   *allocation.Engine
	risks   *risk.Registry
	metrics *obs.Metrics
	cfg     Config
	source  string

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Submission is a normalized budget ask.
type Submission struct {
	StrategyID    int64
	RequestType   enum.BudgetRequestType
	Amount        model.Amount
	Priority      enum.Priority
	Justification string
	RequestedBy   string
	ExpiresIn     time.Duration
}

// Result is the structured outcome every workflow operation returns. Failures
// carry a human-readable message, never a stack trace.
type Result struct {
	Success        bool
	RequestID      string
	Status         enum.BudgetRequestStatus
	ApprovedAmount model.Amount
	AutoApproved   bool
	Error          string
}

func failure(err error) Result {
	return Result{Error: err.Error()}
}

// NewEngine builds the budget workflow engine.
func NewEngine(store *ledger.Store, b *bus.Bus, alloc *allocation.Engine, risks *risk.Registry, metrics *obs.Metrics, cfg Config, source string) *Engine {
	return &Engine{
		store:   store,
		bus:     b,
		alloc:   alloc,
		risks:   risks,
		metrics: metrics,
		cfg:     cfg,
		source:  source,
		locks:   make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) lockFor(strategyID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[strategyID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[strategyID] = l
	}
	return l
}

func (e *Engine) validate(sub Submission) error {
	if sub.StrategyID <= 0 {
		return exception.ErrBudgetInvalidStrategy
	}
	if sub.Amount <= 0 {
		return exception.ErrBudgetInvalidAmount
	}
	if e.cfg.PerStrategyCap > 0 && sub.Amount > e.cfg.PerStrategyCap {
		return errors.Wrap(exception.ErrBudgetCapExceeded, "validate").
			With("cap", e.cfg.PerStrategyCap.String())
	}
	if !sub.RequestType.IsAvailable() {
		return exception.ErrBudgetUnsupportedType
	}
	if len(sub.Justification) < minJustificationLen {
		return exception.ErrBudgetJustificationTooShort
	}
	if sub.RequestedBy == "" {
		return exception.ErrBudgetEmptyRequester
	}
	return nil
}

// admission checks the strategy's approved running total plus the new amount
// against its risk tier limit, falling back to the global cap.
func (e *Engine) admission(ctx context.Context, sub Submission, level enum.RiskLevel) error {
	total, err := e.store.Budgets.SumApproved(ctx, sub.StrategyID)
	if err != nil {
		return errors.Wrap(err, "sum approved budgets")
	}
	limit := e.cfg.PerStrategyCap
	tierLimit := false
	if tier, ok := e.cfg.Tiers.Tier(level); ok {
		limit = tier.MaxAllocation
		tierLimit = true
	}
	if limit > 0 && total+sub.Amount > limit {
		err := exception.ErrBudgetCapExceeded
		if tierLimit {
			err = exception.ErrBudgetTierLimitExceeded
		}
		return errors.Wrap(err, "admission").
			With("strategyId", sub.StrategyID).
			With("riskLevel", level).
			With("approved", total.String()).
			With("requested", sub.Amount.String()).
			With("limit", limit.String())
	}
	return nil
}

func (e *Engine) autoApprovable(sub Submission, level enum.RiskLevel) bool {
	if e.cfg.AutoApprovalMaxAmount <= 0 || sub.Amount > e.cfg.AutoApprovalMaxAmount {
		return false
	}
	typeOK := false
	for _, t := range e.cfg.AutoApprovalTypes {
		if t == sub.RequestType {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return false
	}
	for _, l := range e.cfg.AutoApprovalRiskLevels {
		if l == level {
			return true
		}
	}
	return false
}

// Submit validates and admits a request, then either auto-approves it with an
// immediate allocation or persists it pending for manual review. Rejected
// submissions never create a row.
func (e *Engine) Submit(ctx context.Context, sub Submission) Result {
	if e == nil {
		return failure(exception.ErrNilInstance)
	}
	e.metrics.IncBudgetSubmitted()
	if sub.Priority == "" {
		sub.Priority = enum.PriorityNormal
	}
	if !sub.Priority.IsAvailable() {
		return failure(exception.ErrValidation)
	}
	if err := e.validate(sub); err != nil {
		return failure(err)
	}

	l := e.lockFor(sub.StrategyID)
	l.Lock()
	defer l.Unlock()

	level := e.risks.Level(sub.StrategyID)
	if err := e.admission(ctx, sub, level); err != nil {
		return failure(err)
	}

	now := time.Now().UTC()
	row := model.BudgetRequest{
		ID:              uuid.NewString(),
		StrategyID:      sub.StrategyID,
		RequestType:     sub.RequestType,
		RequestedAmount: sub.Amount,
		Status:          enum.BudgetStatusPending,
		Priority:        sub.Priority,
		Justification:   sub.Justification,
		RequestedBy:     sub.RequestedBy,
	}
	expiry := sub.ExpiresIn
	if expiry <= 0 {
		expiry = e.cfg.DefaultExpiry
	}
	if expiry > 0 {
		row.ExpiresAt = now.Add(expiry)
	}
	if err := e.store.Budgets.Create(ctx, &row); err != nil {
		return failure(errors.Wrap(err, "persist budget request"))
	}

	if e.autoApprovable(sub, level) {
		result := e.approveLocked(ctx, row, level, "auto-approval", "auto-approved at submission")
		if result.Success {
			result.AutoApproved = true
			e.metrics.IncBudgetAutoApproved()
		}
		e.notifyResult(result)
		return result
	}

	result := Result{Success: true, RequestID: row.ID, Status: enum.BudgetStatusPending}
	e.notifyResult(result)
	logs.Infof("budget request %s pending manual review for strategy %d", row.ID, row.StrategyID)
	return result
}

// approveLocked allocates funds for a pending request and flips it approved.
// Allocation failure rejects the request with the reason, so an approved row
// always has backing funds. Caller holds the strategy lock.
func (e *Engine) approveLocked(ctx context.Context, row model.BudgetRequest, level enum.RiskLevel, reviewedBy, note string) Result {
	if row.Status != enum.BudgetStatusPending {
		return failure(errors.Wrap(exception.ErrBudgetNotPending, "approve").With("status", row.Status))
	}
	_, err := e.alloc.Allocate(ctx, allocation.Request{
		StrategyID:      row.StrategyID,
		AllocationType:  allocationType(row.RequestType),
		Amount:          row.RequestedAmount,
		RiskLevel:       level,
		AllocatedBy:     reviewedBy,
		Reason:          note,
		BudgetRequestID: row.ID,
	})
	if err != nil {
		rejected, uerr := e.store.Budgets.Update(ctx, row.ID, func(r *model.BudgetRequest) error {
			if r.Status != enum.BudgetStatusPending {
				return errors.Wrap(exception.ErrBudgetNotPending, "reject").With("status", r.Status)
			}
			r.Status = enum.BudgetStatusRejected
			r.ReviewedBy = reviewedBy
			r.ReviewNote = "allocation failed: " + err.Error()
			return nil
		})
		if uerr != nil {
			logs.Errorf("reject unfunded budget %s: %v", row.ID, uerr)
			return failure(err)
		}
		e.metrics.IncBudgetRejected()
		return Result{RequestID: rejected.ID, Status: rejected.Status, Error: err.Error()}
	}

	approved, err := e.store.Budgets.Update(ctx, row.ID, func(r *model.BudgetRequest) error {
		if r.Status != enum.BudgetStatusPending {
			return errors.Wrap(exception.ErrBudgetNotPending, "approve").With("status", r.Status)
		}
		r.Status = enum.BudgetStatusApproved
		r.ApprovedAmount = r.RequestedAmount
		r.ReviewedBy = reviewedBy
		r.ReviewNote = note
		return nil
	})
	if err != nil {
		return failure(err)
	}
	e.metrics.IncBudgetApproved()
	return Result{
		Success:        true,
		RequestID:      approved.ID,
		Status:         approved.Status,
		ApprovedAmount: approved.ApprovedAmount,
	}
}

func allocationType(t enum.BudgetRequestType) enum.AllocationType {
	switch t {
	case enum.BudgetRequestEmergency:
		return enum.AllocationEmergency
	case enum.BudgetRequestAdditional:
		return enum.AllocationRebalance
	default:
		return enum.AllocationInitial
	}
}

// Approve is the manual review path. Only pending requests can be approved;
// approval triggers allocation creation just like the auto path.
func (e *Engine) Approve(ctx context.Context, id, reviewedBy, note string) Result {
	if e == nil {
		return failure(exception.ErrNilInstance)
	}
	row, err := e.store.Budgets.Find(ctx, id)
	if err != nil {
		return failure(err)
	}
	l := e.lockFor(row.StrategyID)
	l.Lock()
	defer l.Unlock()

	// Re-read under the lock; the sweep may have flipped it meanwhile.
	row, err = e.store.Budgets.Find(ctx, id)
	if err != nil {
		return failure(err)
	}
	result := e.approveLocked(ctx, row, e.risks.Level(row.StrategyID), reviewedBy, note)
	e.notifyResult(result)
	return result
}

// Reject is terminal with no side effects beyond recording the reason.
func (e *Engine) Reject(ctx context.Context, id, reviewedBy, reason string) Result {
	return e.terminate(ctx, id, enum.BudgetStatusRejected, reviewedBy, reason)
}

// Cancel withdraws a pending request.
func (e *Engine) Cancel(ctx context.Context, id, by, reason string) Result {
	return e.terminate(ctx, id, enum.BudgetStatusCancelled, by, reason)
}

func (e *Engine) terminate(ctx context.Context, id string, status enum.BudgetRequestStatus, by, reason string) Result {
	if e == nil {
		return failure(exception.ErrNilInstance)
	}
	row, err := e.store.Budgets.Find(ctx, id)
	if err != nil {
		return failure(err)
	}
	l := e.lockFor(row.StrategyID)
	l.Lock()
	defer l.Unlock()

	updated, err := e.store.Budgets.Update(ctx, id, func(r *model.BudgetRequest) error {
		if r.Status != enum.BudgetStatusPending {
			return errors.Wrap(exception.ErrBudgetNotPending, "terminate").With("status", r.Status)
		}
		r.Status = status
		r.ReviewedBy = by
		r.ReviewNote = reason
		return nil
	})
	if err != nil {
		return failure(err)
	}
	switch status {
	case enum.BudgetStatusRejected:
		e.metrics.IncBudgetRejected()
	case enum.BudgetStatusCancelled:
		e.metrics.IncBudgetCancelled()
	}
	result := Result{Success: true, RequestID: updated.ID, Status: updated.Status}
	e.notifyResult(result)
	return result
}

// SweepExpired rejects pending requests whose deadline has passed. Returns
// how many rows were flipped.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if e == nil {
		return 0, exception.ErrNilInstance
	}
	pending, err := e.store.Budgets.ListPending(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list pending budgets")
	}
	now := time.Now().UTC()
	swept := 0
	for _, row := range pending {
		if !row.Expired(now) {
			continue
		}
		l := e.lockFor(row.StrategyID)
		l.Lock()
		_, err := e.store.Budgets.Update(ctx, row.ID, func(r *model.BudgetRequest) error {
			if r.Status != enum.BudgetStatusPending || !r.Expired(now) {
				return exception.ErrBudgetNotPending
			}
			r.Status = enum.BudgetStatusRejected
			r.ReviewedBy = "expiry-sweep"
			r.ReviewNote = "request expired before review"
			return nil
		})
		l.Unlock()
		if err != nil {
			continue
		}
		swept++
		e.metrics.IncBudgetSwept()
		e.notifyResult(Result{RequestID: row.ID, Status: enum.BudgetStatusRejected, Error: exception.ErrBudgetExpired.Error()})
	}
	if swept > 0 {
		logs.Infof("expiry sweep rejected %d budget requests", swept)
	}
	return swept, nil
}

// SweepAutoApprove approves pending low-priority requests under the ceiling.
// This is the slow-path failsafe, intentionally laxer than the submission
// check: only the amount ceiling applies.
func (e *Engine) SweepAutoApprove(ctx context.Context) (int, error) {
	if e == nil {
		return 0, exception.ErrNilInstance
	}
	pending, err := e.store.Budgets.ListPending(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list pending budgets")
	}
	now := time.Now().UTC()
	approved := 0
	for _, row := range pending {
		if row.Priority != enum.PriorityLow || row.Expired(now) {
			continue
		}
		if e.cfg.AutoApprovalMaxAmount <= 0 || row.RequestedAmount > e.cfg.AutoApprovalMaxAmount {
			continue
		}
		l := e.lockFor(row.StrategyID)
		l.Lock()
		current, err := e.store.Budgets.Find(ctx, row.ID)
		if err == nil && current.Status == enum.BudgetStatusPending {
			result := e.approveLocked(ctx, current, e.risks.Level(current.StrategyID), "auto-sweep", "low priority auto-approval sweep")
			if result.Success {
				approved++
				e.metrics.IncBudgetAutoApproved()
				e.notifyResult(result)
			}
		}
		l.Unlock()
	}
	if approved > 0 {
		logs.Infof("auto-approval sweep approved %d low priority requests", approved)
	}
	return approved, nil
}

func (e *Engine) notifyResult(result Result) {
	if e.bus == nil {
		return
	}
	payload := bus.BudgetResponse{
		SubType:        bus.SubTypeBudgetResponse,
		Success:        result.Success,
		RequestID:      result.RequestID,
		Status:         result.Status,
		ApprovedAmount: result.ApprovedAmount,
		AutoApproved:   result.AutoApproved,
		Error:          result.Error,
	}
	m, err := bus.NewMessage(bus.TypeSystemStatus, e.source, payload)
	if err != nil {
		logs.Errorf("build budget notification: %v", err)
		return
	}
	e.metrics.IncMessageOut(string(m.Type))
	if err := e.bus.Publish(m); err != nil {
		logs.Warnf("publish budget notification: %v", err)
	}
}

// HandleRequest is the BUDGET_REQUEST bus handler.
func (e *Engine) HandleRequest(ctx context.Context, m bus.Message) {
	if e == nil {
		return
	}
	e.metrics.IncMessageIn(string(m.Type))
	decoded, err := bus.DecodePayload(m)
	if err != nil {
		logs.Warnf("decode budget request from %s: %v", m.Source, err)
		return
	}
	payload, ok := decoded.(bus.BudgetRequestPayload)
	if !ok {
		logs.Warnf("unexpected budget payload %T from %s", decoded, m.Source)
		return
	}

	result := e.Submit(ctx, Submission{
		StrategyID:    payload.StrategyID,
		RequestType:   payload.RequestType,
		Amount:        payload.RequestedAmount,
		Priority:      payload.Priority,
		Justification: payload.Justification,
		RequestedBy:   payload.RequestedBy,
		ExpiresIn:     time.Duration(payload.ExpiresInHours) * time.Hour,
	})
	e.reply(m, result)
}

func (e *Engine) reply(req bus.Message, result Result) {
	if e.bus == nil {
		return
	}
	payload := bus.BudgetResponse{
		SubType:        bus.SubTypeBudgetResponse,
		Success:        result.Success,
		RequestID:      result.RequestID,
		Status:         result.Status,
		ApprovedAmount: result.ApprovedAmount,
		AutoApproved:   result.AutoApproved,
		Error:          result.Error,
	}
	m, err := req.Reply(e.source, payload)
	if err != nil {
		logs.Errorf("build budget reply: %v", err)
		return
	}
	e.metrics.IncMessageOut(string(m.Type))
	if err := e.bus.Publish(m); err != nil {
		logs.Warnf("publish budget reply: %v", err)
	}
}
