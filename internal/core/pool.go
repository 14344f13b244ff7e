package core

import (
	"fmt"

	"TrancheLedger/internal/event"
	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/state"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Deposit pulls amount of collateral from account and queues it for the
// tranche. Shares are minted when the next epoch settles and credited by
// BookKeeping after that.
func (e *Engine) Deposit(account uuid.UUID, amount sdkmath.Int, tranche int) error {
	e.mu.Lock()
	envs, err := e.deposit(account, amount, tranche)
	e.mu.Unlock()

	if err != nil {
		e.reject("deposit", err)
		return err
	}
	e.publish(envs)
	return nil
}

func (e *Engine) deposit(account uuid.UUID, amount sdkmath.Int, tranche int) ([]event.Envelope, error) {
	if err := checkPool(tranche); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	// Settle first, commit only once the transfer succeeded.
	acct, applied := e.accounts.Get(account).Settle(e.epoch, e.epochs)
	effective := e.epoch + 1

	if err := e.asset.TransferIn(account, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.epochs.AddDeposit(effective, tranche, amount); err != nil {
		return nil, err
	}
	acct.Queue(effective, tranche, amount, fpmath.Zero())
	e.accounts.Put(account, acct)

	var envs []event.Envelope
	if len(applied) > 0 {
		envs = append(envs, e.record(bookKept(account, applied)))
	}
	envs = append(envs, e.record(&event.DepositQueued{
		Account:        account,
		Tranche:        tranche,
		Amount:         amount,
		EffectiveEpoch: effective,
	}))
	if e.metrics != nil {
		e.metrics.ActionsQueued.WithLabelValues("deposit").Inc()
	}
	return envs, nil
}

// Withdraw queues shares of a tranche for redemption at the next settlement.
// Nothing is burnt or transferred now.
func (e *Engine) Withdraw(account uuid.UUID, shares sdkmath.Int, tranche int) error {
	e.mu.Lock()
	envs, err := e.withdraw(account, shares, tranche)
	e.mu.Unlock()

	if err != nil {
		e.reject("withdraw", err)
		return err
	}
	e.publish(envs)
	return nil
}

func (e *Engine) withdraw(account uuid.UUID, shares sdkmath.Int, tranche int) ([]event.Envelope, error) {
	if err := checkPool(tranche); err != nil {
		return nil, err
	}
	if err := checkAmount(shares); err != nil {
		return nil, err
	}

	acct, applied := e.accounts.Get(account).Settle(e.epoch, e.epochs)
	available := acct.Shares[tranche].Sub(acct.QueuedWithdrawals(tranche))
	if shares.GT(available) {
		return nil, fmt.Errorf("%w: %s shares available in pool %d", ErrInsufficientBalance, available, tranche)
	}

	effective := e.epoch + 1
	if err := e.epochs.AddWithdrawal(effective, tranche, shares); err != nil {
		return nil, err
	}
	acct.Queue(effective, tranche, fpmath.Zero(), shares)
	e.accounts.Put(account, acct)

	var envs []event.Envelope
	if len(applied) > 0 {
		envs = append(envs, e.record(bookKept(account, applied)))
	}
	envs = append(envs, e.record(&event.WithdrawalQueued{
		Account:        account,
		Tranche:        tranche,
		Shares:         shares,
		EffectiveEpoch: effective,
	}))
	if e.metrics != nil {
		e.metrics.ActionsQueued.WithLabelValues("withdraw").Inc()
	}
	return envs, nil
}

// BookKeeping converts every pending action of a settled epoch into shares
// and withdrawable collateral. Actions of the open epoch stay queued.
func (e *Engine) BookKeeping(account uuid.UUID) {
	e.mu.Lock()
	var envs []event.Envelope
	acct, applied := e.accounts.Get(account).Settle(e.epoch, e.epochs)
	if len(applied) > 0 {
		e.accounts.Put(account, acct)
		envs = append(envs, e.record(bookKept(account, applied)))
	}
	e.mu.Unlock()

	e.publish(envs)
}

// WithdrawCollateral transfers settled collateral out to the account.
func (e *Engine) WithdrawCollateral(account uuid.UUID, amount sdkmath.Int) error {
	e.mu.Lock()
	envs, err := e.withdrawCollateral(account, amount)
	e.mu.Unlock()

	if err != nil {
		e.reject("withdraw_collateral", err)
		return err
	}
	e.publish(envs)
	return nil
}

func (e *Engine) withdrawCollateral(account uuid.UUID, amount sdkmath.Int) ([]event.Envelope, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	acct, applied := e.accounts.Get(account).Settle(e.epoch, e.epochs)
	if amount.GT(acct.Withdrawable) {
		return nil, fmt.Errorf("%w: %s withdrawable", ErrInsufficientBalance, acct.Withdrawable)
	}
	if err := e.asset.TransferOut(account, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	acct.Withdrawable = acct.Withdrawable.Sub(amount)
	e.accounts.Put(account, acct)

	var envs []event.Envelope
	if len(applied) > 0 {
		envs = append(envs, e.record(bookKept(account, applied)))
	}
	envs = append(envs, e.record(&event.CollateralWithdrawn{
		Account:   account,
		Amount:    amount,
		Remaining: acct.Withdrawable,
	}))
	return envs, nil
}

func bookKept(account uuid.UUID, applied []state.AppliedAction) *event.BookKept {
	minted, burned, released := fpmath.Zero(), fpmath.Zero(), fpmath.Zero()
	for _, a := range applied {
		minted = minted.Add(a.SharesMinted)
		burned = burned.Add(a.WithdrawAmount)
		released = released.Add(a.CollateralReleased)
	}
	return &event.BookKept{
		Account:        account,
		ActionsApplied: len(applied),
		SharesMinted:   minted,
		SharesBurned:   burned,
		Released:       released,
	}
}

func checkPool(tranche int) error {
	if !state.ValidIndex(tranche) {
		return fmt.Errorf("%w: %d", ErrInvalidPool, tranche)
	}
	return nil
}

func checkAmount(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
