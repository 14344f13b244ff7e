package state

import (
	"sort"

	fpmath "TrancheLedger/internal/math"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// PendingAction is a deposit and/or share withdrawal queued by one account
// against one tranche. Epoch is the epoch in which it takes effect: the
// epoch open at submission plus one.
type PendingAction struct {
	Epoch          int64       `json:"epoch"`
	Tranche        int         `json:"tranche"`
	DepositAmount  sdkmath.Int `json:"deposit_amount"`
	WithdrawAmount sdkmath.Int `json:"withdraw_amount"`
}

// Account is the per-participant view of the engine.
type Account struct {
	Shares       [NumTranches]sdkmath.Int `json:"shares"`
	Withdrawable sdkmath.Int              `json:"withdrawable"`
	Actions      []PendingAction          `json:"actions"`
}

func NewAccount() *Account {
	a := &Account{Withdrawable: fpmath.Zero()}
	for i := range a.Shares {
		a.Shares[i] = fpmath.Zero()
	}
	return a
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.Actions = make([]PendingAction, len(a.Actions))
	copy(c.Actions, a.Actions)
	return &c
}

// AppliedAction is a pending action converted at its epoch's exchange rates.
type AppliedAction struct {
	PendingAction
	SharesMinted       sdkmath.Int `json:"shares_minted"`
	CollateralReleased sdkmath.Int `json:"collateral_released"`
}

// Settle folds every action with Epoch <= currentEpoch into shares and
// withdrawable collateral using the finalized records in book. It returns
// the updated copy and the applied actions; the receiver is not modified.
func (a *Account) Settle(currentEpoch int64, book *EpochBook) (*Account, []AppliedAction) {
	next := a.Clone()
	next.Actions = next.Actions[:0]

	var applied []AppliedAction
	for _, act := range a.Actions {
		if act.Epoch > currentEpoch {
			next.Actions = append(next.Actions, act)
			continue
		}
		rec := book.Get(act.Epoch, act.Tranche)
		minted := fpmath.Mul(act.DepositAmount, rec.SharesPerCollateralDeposit)
		released := fpmath.Mul(act.WithdrawAmount, rec.CollateralPerShareWithdraw)

		next.Shares[act.Tranche] = next.Shares[act.Tranche].Add(minted).Sub(act.WithdrawAmount)
		next.Withdrawable = next.Withdrawable.Add(released)
		applied = append(applied, AppliedAction{
			PendingAction:      act,
			SharesMinted:       minted,
			CollateralReleased: released,
		})
	}
	return next, applied
}

// QueuedWithdrawals returns shares already queued for withdrawal from a
// tranche and not yet applied.
func (a *Account) QueuedWithdrawals(tranche int) sdkmath.Int {
	total := fpmath.Zero()
	for _, act := range a.Actions {
		if act.Tranche == tranche {
			total = total.Add(act.WithdrawAmount)
		}
	}
	return total
}

// Queue merges an action into the queue. Actions with the same epoch and
// tranche are summed.
func (a *Account) Queue(epoch int64, tranche int, deposit, withdraw sdkmath.Int) {
	for i := range a.Actions {
		act := &a.Actions[i]
		if act.Epoch == epoch && act.Tranche == tranche {
			act.DepositAmount = act.DepositAmount.Add(deposit)
			act.WithdrawAmount = act.WithdrawAmount.Add(withdraw)
			return
		}
	}
	a.Actions = append(a.Actions, PendingAction{
		Epoch:          epoch,
		Tranche:        tranche,
		DepositAmount:  deposit,
		WithdrawAmount: withdraw,
	})
}

// AccountBook maps participants to their accounts.
type AccountBook struct {
	accounts map[uuid.UUID]*Account
}

func NewAccountBook() *AccountBook {
	return &AccountBook{accounts: make(map[uuid.UUID]*Account)}
}

// Get returns the account, or a fresh empty one that is not stored.
func (b *AccountBook) Get(id uuid.UUID) *Account {
	if a, ok := b.accounts[id]; ok {
		return a
	}
	return NewAccount()
}

// Put stores an account, replacing any previous value.
func (b *AccountBook) Put(id uuid.UUID, a *Account) {
	b.accounts[id] = a
}

// IDs returns all known account ids in a stable order.
func (b *AccountBook) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(b.accounts))
	for id := range b.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Len returns the number of accounts.
func (b *AccountBook) Len() int {
	return len(b.accounts)
}
