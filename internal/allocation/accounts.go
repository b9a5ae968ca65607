package allocation

import (
	"context"
	stderrors "errors"

	"fincontrol/internal/ledger"
	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Accounts provides the provisioning and balance transitions the liquidity
// pool is built from. Accounts are never deleted, only status-transitioned.
type Accounts struct {
	store *ledger.Store
}

// NewAccounts builds the account service.
func NewAccounts(store *ledger.Store) *Accounts {
	return &Accounts{store: store}
}

// Provision creates an account, rejecting malformed input before any write.
func (s *Accounts) Provision(ctx context.Context, account model.Account) (model.Account, error) {
	if s == nil {
		return model.Account{}, exception.ErrNilInstance
	}
	if account.ID == "" || account.Name == "" {
		return model.Account{}, exception.ErrValidation
	}
	if !account.Type.IsAvailable() {
		return model.Account{}, exception.ErrValidation
	}
	if account.Balance < 0 || account.Balance != account.AvailableBalance+account.FrozenBalance {
		return model.Account{}, errors.Wrap(exception.ErrValidation, "provision").With("id", account.ID)
	}
	if account.Status == "" {
		account.Status = enum.AccountStatusActive
	}
	if account.Currency == "" {
		account.Currency = "USDT"
	}
	if err := s.store.Accounts.Create(ctx, &account); err != nil {
		return model.Account{}, errors.Wrap(err, "create account")
	}
	return account, nil
}

// EnsureDefaults provisions the master and reserve accounts the liquidity
// check depends on, skipping any that already exist.
func (s *Accounts) EnsureDefaults(ctx context.Context, masterBalance, reserveBalance model.Amount) error {
	if s == nil {
		return exception.ErrNilInstance
	}
	defaults := []model.Account{
		{
			ID:               "acct-master",
			Type:             enum.AccountTypeMaster,
			Name:             "system master",
			Balance:          masterBalance,
			AvailableBalance: masterBalance,
			Status:           enum.AccountStatusActive,
			RiskLevel:        enum.RiskLow,
		},
		{
			ID:               "acct-reserve",
			Type:             enum.AccountTypeReserve,
			Name:             "emergency reserve",
			Balance:          reserveBalance,
			AvailableBalance: reserveBalance,
			Status:           enum.AccountStatusActive,
			RiskLevel:        enum.RiskLow,
		},
	}
	for _, account := range defaults {
		if _, err := s.store.Accounts.Find(ctx, account.ID); err == nil {
			continue
		} else if !stderrors.Is(err, exception.ErrLedgerAccountNotFound) {
			return errors.Wrap(err, "probe account").With("id", account.ID)
		}
		if _, err := s.Provision(ctx, account); err != nil {
			return err
		}
		logs.Infof("provisioned default account %s with balance %s", account.ID, account.Balance.String())
	}
	return nil
}

// FreezeFunds moves part of the available balance into the frozen bucket.
func (s *Accounts) FreezeFunds(ctx context.Context, id string, amount model.Amount) (model.Account, error) {
	if s == nil {
		return model.Account{}, exception.ErrNilInstance
	}
	if amount <= 0 {
		return model.Account{}, exception.ErrValidation
	}
	return s.store.Accounts.Update(ctx, id, func(account *model.Account) error {
		if account.Status != enum.AccountStatusActive {
			return errors.Wrap(exception.ErrInvalidState, "freeze funds").With("status", account.Status)
		}
		if account.AvailableBalance < amount {
			return errors.Wrap(exception.ErrInsufficientFunds, "freeze funds").
				With("available", account.AvailableBalance.String()).
				With("amount", amount.String())
		}
		account.AvailableBalance -= amount
		account.FrozenBalance += amount
		return nil
	})
}

// UnfreezeFunds releases frozen balance back to available.
func (s *Accounts) UnfreezeFunds(ctx context.Context, id string, amount model.Amount) (model.Account, error) {
	if s == nil {
		return model.Account{}, exception.ErrNilInstance
	}
	if amount <= 0 {
		return model.Account{}, exception.ErrValidation
	}
	return s.store.Accounts.Update(ctx, id, func(account *model.Account) error {
		if account.FrozenBalance < amount {
			return errors.Wrap(exception.ErrInvalidState, "unfreeze funds").
				With("frozen", account.FrozenBalance.String()).
				With("amount", amount.String())
		}
		account.FrozenBalance -= amount
		account.AvailableBalance += amount
		return nil
	})
}

// Close retires an account. Frozen balance must be released first.
func (s *Accounts) Close(ctx context.Context, id string) (model.Account, error) {
	if s == nil {
		return model.Account{}, exception.ErrNilInstance
	}
	return s.store.Accounts.Update(ctx, id, func(account *model.Account) error {
		if account.Status == enum.AccountStatusClosed {
			return nil
		}
		if account.FrozenBalance != 0 {
			return errors.Wrap(exception.ErrInvalidState, "close account").
				With("frozen", account.FrozenBalance.String())
		}
		account.Status = enum.AccountStatusClosed
		return nil
	})
}
