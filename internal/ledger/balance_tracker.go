package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]sdkmath.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]sdkmath.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid journal: %w", err)
	}
	bt.balances[j.DebitAccount] = bt.GetBalance(j.DebitAccount).Add(j.Amount)
	bt.balances[j.CreditAccount] = bt.GetBalance(j.CreditAccount).Sub(j.Amount)
	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) sdkmath.Int {
	if b, ok := bt.balances[key]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, balance := range bt.balances {
		total = total.Add(balance)
	}
	return total
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]sdkmath.Int {
	snapshot := make(map[AccountKey]sdkmath.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
