package core

import (
	"time"

	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/ratemodel"
	"TrancheLedger/internal/state"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Views read stored state only. Pending actions are not folded in until
// BookKeeping runs for the account.

func (e *Engine) Pool(tranche int) (state.Tranche, error) {
	if err := checkPool(tranche); err != nil {
		return state.Tranche{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tranches[tranche], nil
}

// Pools returns the whole table.
func (e *Engine) Pools() state.TrancheTable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tranches
}

// PoolEpochData returns the exchange-rate record of a tranche for the epoch
// in which queued actions take effect.
func (e *Engine) PoolEpochData(epoch int64, tranche int) (state.EpochRecord, error) {
	if err := checkPool(tranche); err != nil {
		return state.EpochRecord{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epochs.Get(epoch, tranche), nil
}

func (e *Engine) UserActions(account uuid.UUID) []state.PendingAction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accounts.Get(account).Clone().Actions
}

func (e *Engine) UserShares(account uuid.UUID) [state.NumTranches]sdkmath.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accounts.Get(account).Shares
}

// UserDeposits values the account's shares at current collateral per share.
// Values are signed.
func (e *Engine) UserDeposits(account uuid.UUID) [state.NumTranches]sdkmath.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	shares := e.accounts.Get(account).Shares
	var out [state.NumTranches]sdkmath.Int
	for i, t := range e.tranches {
		if t.Shares.IsZero() {
			out[i] = fpmath.Zero()
			continue
		}
		out[i] = fpmath.MulDiv(shares[i], t.Collateral, t.Shares)
	}
	return out
}

func (e *Engine) WithdrawableCollateral(account uuid.UUID) sdkmath.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accounts.Get(account).Withdrawable
}

// Accounts lists every account that has interacted with the engine.
func (e *Engine) Accounts() []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accounts.IDs()
}

func (e *Engine) CalculatePoolAmounts() ratemodel.PoolAmounts {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tranches.PoolAmounts()
}

// Rates returns the rates that the next settlement will apply.
func (e *Engine) Rates() ratemodel.Rates {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rates
}

func (e *Engine) Epoch() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epoch
}

func (e *Engine) EpochStartTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epochStartTime
}

// Price is the reference price used at the last settlement.
func (e *Engine) Price() sdkmath.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.price
}

func (e *Engine) AdminFees() sdkmath.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adminFees
}

func (e *Engine) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

func (e *Engine) Admin() uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.admin
}

// PendingAdmin returns the nominee awaiting AcceptAdmin, or uuid.Nil.
func (e *Engine) PendingAdmin() uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pendingAdmin
}

// Sequence returns the sequence of the last emitted event.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}
