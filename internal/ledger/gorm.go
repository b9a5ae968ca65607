package ledger

import (
	"context"
	"errors"
	"time"

	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/pkg/exception"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewGormStore builds the repository set backed by a PostgreSQL connection.
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Accounts:     &gormAccounts{db: db},
		Budgets:      &gormBudgets{db: db},
		Allocations:  &gormAllocations{db: db},
		Transactions: &gormTransactions{db: db},
		Modules:      &gormModules{db: db},
		Events:       &gormEvents{db: db},
		Emergency:    &gormEmergency{db: db},
	}
}

// Models lists every persisted entity for schema migration.
func Models() []any {
	return []any{
		&model.Account{},
		&model.BudgetRequest{},
		&model.FundAllocation{},
		&model.FinancialTransaction{},
		&model.ModuleStatus{},
		&model.SystemEvent{},
		&model.EmergencyState{},
	}
}

type gormAccounts struct {
	db *gorm.DB
}

func (r *gormAccounts) Create(ctx context.Context, account *model.Account) error {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *gormAccounts) Find(ctx context.Context, id string) (model.Account, error) {
	var row model.Account
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Account{}, exception.ErrLedgerAccountNotFound
	}
	return row, err
}

func (r *gormAccounts) List(ctx context.Context, accountType enum.AccountType, status enum.AccountStatus) ([]model.Account, error) {
	var rows []model.Account
	tx := r.db.WithContext(ctx)
	if accountType != "" {
		tx = tx.Where("type = ?", accountType)
	}
	if status != "" {
		tx = tx.Where("status = ?", status)
	}
	err := tx.Order("id").Find(&rows).Error
	return rows, err
}

func (r *gormAccounts) Update(ctx context.Context, id string, mutate func(*model.Account) error) (model.Account, error) {
	var out model.Account
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return exception.ErrLedgerAccountNotFound
			}
			return err
		}
		if err := mutate(&row); err != nil {
			return err
		}
		row.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = row
		return nil
	})
	return out, err
}

type gormBudgets struct {
	db *gorm.DB
}

func (r *gormBudgets) Create(ctx context.Context, request *model.BudgetRequest) error {
	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *gormBudgets) Find(ctx context.Context, id string) (model.BudgetRequest, error) {
	var row model.BudgetRequest
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.BudgetRequest{}, exception.ErrLedgerRequestNotFound
	}
	return row, err
}

func (r *gormBudgets) ListPending(ctx context.Context) ([]model.BudgetRequest, error) {
	var rows []model.BudgetRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", enum.BudgetStatusPending).
		Order("created_at").
		Find(&rows).Error
	return rows, err
}

func (r *gormBudgets) SumApproved(ctx context.Context, strategyID int64) (model.Amount, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.BudgetRequest{}).
		Where("strategy_id = ? AND status = ?", strategyID, enum.BudgetStatusApproved).
		Select("COALESCE(SUM(approved_amount), 0)").
		Scan(&total).Error
	return model.Amount(total), err
}

func (r *gormBudgets) Update(ctx context.Context, id string, mutate func(*model.BudgetRequest) error) (model.BudgetRequest, error) {
	var out model.BudgetRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.BudgetRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return exception.ErrLedgerRequestNotFound
			}
			return err
		}
		if err := mutate(&row); err != nil {
			return err
		}
		row.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = row
		return nil
	})
	return out, err
}

type gormAllocations struct {
	db *gorm.DB
}

func (r *gormAllocations) Create(ctx context.Context, allocation *model.FundAllocation) error {
	now := time.Now().UTC()
	allocation.CreatedAt = now
	allocation.UpdatedAt = now
	return r.db.WithContext(ctx).Create(allocation).Error
}

func (r *gormAllocations) Find(ctx context.Context, id string) (model.FundAllocation, error) {
	var row model.FundAllocation
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.FundAllocation{}, exception.ErrLedgerAllocationNotFound
	}
	return row, err
}

func (r *gormAllocations) List(ctx context.Context, filter AllocationFilter) ([]model.FundAllocation, error) {
	var rows []model.FundAllocation
	tx := r.db.WithContext(ctx)
	if filter.StrategyID != nil {
		tx = tx.Where("strategy_id = ?", *filter.StrategyID)
	}
	if filter.Status != nil {
		tx = tx.Where("status = ?", *filter.Status)
	}
	if filter.FreezeReason != "" {
		tx = tx.Where("freeze_reason = ?", filter.FreezeReason)
	}
	err := tx.Order("created_at").Find(&rows).Error
	return rows, err
}

func (r *gormAllocations) Update(ctx context.Context, id string, mutate func(*model.FundAllocation) error) (model.FundAllocation, error) {
	var out model.FundAllocation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.FundAllocation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return exception.ErrLedgerAllocationNotFound
			}
			return err
		}
		if err := mutate(&row); err != nil {
			return err
		}
		row.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = row
		return nil
	})
	return out, err
}

type gormTransactions struct {
	db *gorm.DB
}

func (r *gormTransactions) Create(ctx context.Context, transaction *model.FinancialTransaction) error {
	transaction.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *gormTransactions) ListByStrategy(ctx context.Context, strategyID int64) ([]model.FinancialTransaction, error) {
	var rows []model.FinancialTransaction
	err := r.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("created_at").
		Find(&rows).Error
	return rows, err
}

type gormModules struct {
	db *gorm.DB
}

func (r *gormModules) Upsert(ctx context.Context, status model.ModuleStatus) error {
	status.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "module_name"}},
			UpdateAll: true,
		}).
		Create(&status).Error
}

func (r *gormModules) Find(ctx context.Context, moduleName string) (model.ModuleStatus, error) {
	var row model.ModuleStatus
	err := r.db.WithContext(ctx).First(&row, "module_name = ?", moduleName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ModuleStatus{}, exception.ErrLedgerModuleNotFound
	}
	return row, err
}

func (r *gormModules) List(ctx context.Context) ([]model.ModuleStatus, error) {
	var rows []model.ModuleStatus
	err := r.db.WithContext(ctx).Order("module_name").Find(&rows).Error
	return rows, err
}

type gormEvents struct {
	db *gorm.DB
}

func (r *gormEvents) Create(ctx context.Context, event *model.SystemEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *gormEvents) ListUnresolved(ctx context.Context, limit int) ([]model.SystemEvent, error) {
	var rows []model.SystemEvent
	tx := r.db.WithContext(ctx).Where("resolved = ?", false).Order("created_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&rows).Error
	return rows, err
}

func (r *gormEvents) Resolve(ctx context.Context, id string, resolvedBy string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.SystemEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_by": resolvedBy,
			"resolved_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return exception.ErrLedgerEventNotFound
	}
	return nil
}

type gormEmergency struct {
	db *gorm.DB
}

func (r *gormEmergency) Load(ctx context.Context) (model.EmergencyState, error) {
	var row model.EmergencyState
	err := r.db.WithContext(ctx).First(&row, "id = ?", model.EmergencyStateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EmergencyState{ID: model.EmergencyStateID}, nil
	}
	return row, err
}

func (r *gormEmergency) Save(ctx context.Context, state model.EmergencyState) error {
	state.ID = model.EmergencyStateID
	state.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&state).Error
}
