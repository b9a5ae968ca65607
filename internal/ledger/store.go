// Package ledger is the single writer of truth for all financial and
// operational entities. Engines mutate rows only through the repositories
// here; every read-modify-write is atomic per row.
package ledger

import (
	"context"
	"time"

	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
)

// AccountRepo stores Account rows. Accounts are never deleted, only
// status-transitioned.
type AccountRepo interface {
	Create(ctx context.Context, account *model.Account) error
	Find(ctx context.Context, id string) (model.Account, error)
	List(ctx context.Context, accountType enum.AccountType, status enum.AccountStatus) ([]model.Account, error)
	// Update applies mutate to the current row inside a single-row
	// transaction. Returning an error from mutate aborts without writing.
	Update(ctx context.Context, id string, mutate func(*model.Account) error) (model.Account, error)
}

// BudgetRequestRepo stores BudgetRequest rows.
type BudgetRequestRepo interface {
	Create(ctx context.Context, request *model.BudgetRequest) error
	Find(ctx context.Context, id string) (model.BudgetRequest, error)
	ListPending(ctx context.Context) ([]model.BudgetRequest, error)
	// SumApproved returns the running total of approved amounts for a strategy.
	SumApproved(ctx context.Context, strategyID int64) (model.Amount, error)
	Update(ctx context.Context, id string, mutate func(*model.BudgetRequest) error) (model.BudgetRequest, error)
}

// AllocationFilter narrows allocation listings. Nil fields match anything.
type AllocationFilter struct {
	StrategyID   *int64
	Status       *enum.AllocationStatus
	FreezeReason string
}

// AllocationRepo stores FundAllocation rows.
type AllocationRepo interface {
	Create(ctx context.Context, allocation *model.FundAllocation) error
	Find(ctx context.Context, id string) (model.FundAllocation, error)
	List(ctx context.Context, filter AllocationFilter) ([]model.FundAllocation, error)
	Update(ctx context.Context, id string, mutate func(*model.FundAllocation) error) (model.FundAllocation, error)
}

// TransactionRepo stores the append-only audit trail.
type TransactionRepo interface {
	Create(ctx context.Context, transaction *model.FinancialTransaction) error
	ListByStrategy(ctx context.Context, strategyID int64) ([]model.FinancialTransaction, error)
}

// ModuleStatusRepo keeps one row per module, overwritten on heartbeat.
type ModuleStatusRepo interface {
	Upsert(ctx context.Context, status model.ModuleStatus) error
	Find(ctx context.Context, moduleName string) (model.ModuleStatus, error)
	List(ctx context.Context) ([]model.ModuleStatus, error)
}

// EventRepo stores SystemEvent rows.
type EventRepo interface {
	Create(ctx context.Context, event *model.SystemEvent) error
	ListUnresolved(ctx context.Context, limit int) ([]model.SystemEvent, error)
	Resolve(ctx context.Context, id string, resolvedBy string, at time.Time) error
}

// EmergencyStateRepo persists the coordinator's singleton state row.
type EmergencyStateRepo interface {
	Load(ctx context.Context) (model.EmergencyState, error)
	Save(ctx context.Context, state model.EmergencyState) error
}

// Store bundles the repositories behind one injection point.
type Store struct {
	Accounts     AccountRepo
	Budgets      BudgetRequestRepo
	Allocations  AllocationRepo
	Transactions TransactionRepo
	Modules      ModuleStatusRepo
	Events       EventRepo
	Emergency    EmergencyStateRepo
}
