package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateGlobalBalance verifies the ledger is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	total := v.tracker.ComputeGlobalBalance()
	if !total.IsZero() {
		return fmt.Errorf("global balance is non-zero: %s", total)
	}
	return nil
}

// ValidateNonNegative checks that every user and system account is >= 0.
// The issuance account is negative by construction and is skipped.
func (v *InvariantValidator) ValidateNonNegative() error {
	for key, balance := range v.tracker.balances {
		if key.Scope == AccountScopeExternal {
			continue
		}
		if balance.IsNegative() {
			return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
		}
	}
	return nil
}
