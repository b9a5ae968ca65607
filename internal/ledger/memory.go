package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/pkg/exception"
)

// NewMemoryStore builds mutex-guarded in-memory repositories with the same
// per-row atomicity as the PostgreSQL store. Used by tests and dev mode.
func NewMemoryStore() *Store {
	return &Store{
		Accounts:     &memAccounts{rows: make(map[string]model.Account)},
		Budgets:      &memBudgets{rows: make(map[string]model.BudgetRequest)},
		Allocations:  &memAllocations{rows: make(map[string]model.FundAllocation)},
		Transactions: &memTransactions{},
		Modules:      &memModules{rows: make(map[string]model.ModuleStatus)},
		Events:       &memEvents{rows: make(map[string]model.SystemEvent)},
		Emergency:    &memEmergency{state: model.EmergencyState{ID: model.EmergencyStateID}},
	}
}

type memAccounts struct {
	mu   sync.Mutex
	rows map[string]model.Account
}

func (r *memAccounts) Create(_ context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[account.ID]; ok {
		return exception.ErrLedgerDuplicateID
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	r.rows[account.ID] = *account
	return nil
}

func (r *memAccounts) Find(_ context.Context, id string) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return model.Account{}, exception.ErrLedgerAccountNotFound
	}
	return row, nil
}

func (r *memAccounts) List(_ context.Context, accountType enum.AccountType, status enum.AccountStatus) ([]model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Account, 0, len(r.rows))
	for _, row := range r.rows {
		if accountType != "" && row.Type != accountType {
			continue
		}
		if status != "" && row.Status != status {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memAccounts) Update(_ context.Context, id string, mutate func(*model.Account) error) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return model.Account{}, exception.ErrLedgerAccountNotFound
	}
	if err := mutate(&row); err != nil {
		return model.Account{}, err
	}
	row.UpdatedAt = time.Now().UTC()
	r.rows[id] = row
	return row, nil
}

type memBudgets struct {
	mu   sync.Mutex
	rows map[string]model.BudgetRequest
}

func (r *memBudgets) Create(_ context.Context, request *model.BudgetRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[request.ID]; ok {
		return exception.ErrLedgerDuplicateID
	}
	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now
	r.rows[request.ID] = *request
	return nil
}

func (r *memBudgets) Find(_ context.Context, id string) (model.BudgetRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return model.BudgetRequest{}, exception.ErrLedgerRequestNotFound
	}
	return row, nil
}

func (r *memBudgets) ListPending(_ context.Context) ([]model.BudgetRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.BudgetRequest, 0)
	for _, row := range r.rows {
		if row.Status == enum.BudgetStatusPending {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memBudgets) SumApproved(_ context.Context, strategyID int64) (model.Amount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total model.Amount
	for _, row := range r.rows {
		if row.StrategyID == strategyID && row.Status == enum.BudgetStatusApproved {
			total += row.ApprovedAmount
		}
	}
	return total, nil
}

func (r *memBudgets) Update(_ context.Context, id string, mutate func(*model.BudgetRequest) error) (model.BudgetRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return model.BudgetRequest{}, exception.ErrLedgerRequestNotFound
	}
	if err := mutate(&row); err != nil {
		return model.BudgetRequest{}, err
	}
	row.UpdatedAt = time.Now().UTC()
	r.rows[id] = row
	return row, nil
}

type memAllocations struct {
	mu   sync.Mutex
	rows map[string]model.FundAllocation
}

func (r *memAllocations) Create(_ context.Context, allocation *model.FundAllocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[allocation.ID]; ok {
		return exception.ErrLedgerDuplicateID
	}
	now := time.Now().UTC()
	allocation.CreatedAt = now
	allocation.UpdatedAt = now
	r.rows[allocation.ID] = *allocation
	return nil
}

func (r *memAllocations) Find(_ context.Context, id string) (model.FundAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return model.FundAllocation{}, exception.ErrLedgerAllocationNotFound
	}
	return row, nil
}

func (r *memAllocations) List(_ context.Context, filter AllocationFilter) ([]model.FundAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.FundAllocation, 0)
	for _, row := range r.rows {
		if filter.StrategyID != nil && row.StrategyID != *filter.StrategyID {
			continue
		}
		if filter.Status != nil && row.Status != *filter.Status {
			continue
		}
		if filter.FreezeReason != "" && row.FreezeReason != filter.FreezeReason {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memAllocations) Update(_ context.Context, id string, mutate func(*model.FundAllocation) error) (model.FundAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return model.FundAllocation{}, exception.ErrLedgerAllocationNotFound
	}
	if err := mutate(&row); err != nil {
		return model.FundAllocation{}, err
	}
	row.UpdatedAt = time.Now().UTC()
	r.rows[id] = row
	return row, nil
}

type memTransactions struct {
	mu   sync.Mutex
	rows []model.FinancialTransaction
}

func (r *memTransactions) Create(_ context.Context, transaction *model.FinancialTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	transaction.CreatedAt = time.Now().UTC()
	r.rows = append(r.rows, *transaction)
	return nil
}

func (r *memTransactions) ListByStrategy(_ context.Context, strategyID int64) ([]model.FinancialTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.FinancialTransaction, 0)
	for _, row := range r.rows {
		if row.StrategyID == strategyID {
			out = append(out, row)
		}
	}
	return out, nil
}

type memModules struct {
	mu   sync.Mutex
	rows map[string]model.ModuleStatus
}

func (r *memModules) Upsert(_ context.Context, status model.ModuleStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	status.UpdatedAt = time.Now().UTC()
	r.rows[status.ModuleName] = status
	return nil
}

func (r *memModules) Find(_ context.Context, moduleName string) (model.ModuleStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[moduleName]
	if !ok {
		return model.ModuleStatus{}, exception.ErrLedgerModuleNotFound
	}
	return row, nil
}

func (r *memModules) List(_ context.Context) ([]model.ModuleStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ModuleStatus, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleName < out[j].ModuleName })
	return out, nil
}

type memEvents struct {
	mu   sync.Mutex
	rows map[string]model.SystemEvent
}

func (r *memEvents) Create(_ context.Context, event *model.SystemEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[event.ID]; ok {
		return exception.ErrLedgerDuplicateID
	}
	// Alerts carry their raise time; only stamp events created in place.
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	r.rows[event.ID] = *event
	return nil
}

func (r *memEvents) ListUnresolved(_ context.Context, limit int) ([]model.SystemEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SystemEvent, 0)
	for _, row := range r.rows {
		if !row.Resolved {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memEvents) Resolve(_ context.Context, id string, resolvedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return exception.ErrLedgerEventNotFound
	}
	row.Resolved = true
	row.ResolvedBy = resolvedBy
	row.ResolvedAt = at
	r.rows[id] = row
	return nil
}

type memEmergency struct {
	mu    sync.Mutex
	state model.EmergencyState
}

func (r *memEmergency) Load(_ context.Context) (model.EmergencyState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (r *memEmergency) Save(_ context.Context, state model.EmergencyState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state.ID = model.EmergencyStateID
	state.UpdatedAt = time.Now().UTC()
	r.state = state
	return nil
}
