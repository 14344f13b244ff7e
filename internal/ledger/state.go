package ledger

import (
	"encoding/json"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// TokenState is the durable part of a TokenLedger: balances, allowances
// and the journal sequence. Journal history is not carried; the event log
// already records every engine transfer.
type TokenState struct {
	Sequence   int64            `json:"sequence"`
	Balances   []BalanceEntry   `json:"balances"`
	Allowances []AllowanceEntry `json:"allowances"`
}

type BalanceEntry struct {
	Account AccountKey  `json:"account"`
	Amount  sdkmath.Int `json:"amount"`
}

type AllowanceEntry struct {
	Owner  uuid.UUID   `json:"owner"`
	Amount sdkmath.Int `json:"amount"`
}

// ExportState copies the ledger state, sorted by account path so equal
// ledgers export identically.
func (l *TokenLedger) ExportState() TokenState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := TokenState{Sequence: l.sequence}
	for key, amount := range l.tracker.Snapshot() {
		st.Balances = append(st.Balances, BalanceEntry{Account: key, Amount: amount})
	}
	sort.Slice(st.Balances, func(i, j int) bool {
		return st.Balances[i].Account.AccountPath() < st.Balances[j].Account.AccountPath()
	})
	for owner, amount := range l.allowances {
		st.Allowances = append(st.Allowances, AllowanceEntry{Owner: owner, Amount: amount})
	}
	sort.Slice(st.Allowances, func(i, j int) bool {
		return st.Allowances[i].Owner.String() < st.Allowances[j].Owner.String()
	})
	return st
}

// RestoreState replaces the ledger state. The state must sum to zero and
// hold no negative balance outside the issuance account; on error the
// ledger is left unchanged.
func (l *TokenLedger) RestoreState(st TokenState) error {
	tracker := NewBalanceTracker()
	for _, b := range st.Balances {
		if b.Amount.IsNil() {
			return fmt.Errorf("%w: nil balance for %s", ErrInvalidState, b.Account.AccountPath())
		}
		tracker.balances[b.Account] = b.Amount
	}
	validator := NewInvariantValidator(tracker)
	if err := validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := validator.ValidateNonNegative(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	allowances := make(map[uuid.UUID]sdkmath.Int, len(st.Allowances))
	for _, a := range st.Allowances {
		if a.Amount.IsNil() || a.Amount.IsNegative() {
			return fmt.Errorf("%w: allowance for %s", ErrInvalidState, a.Owner)
		}
		allowances[a.Owner] = a.Amount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracker = tracker
	l.validator = validator
	l.allowances = allowances
	l.sequence = st.Sequence
	l.journals = nil
	return nil
}

// MarshalState encodes ExportState as JSON for engine snapshots.
func (l *TokenLedger) MarshalState() (json.RawMessage, error) {
	return json.Marshal(l.ExportState())
}

// UnmarshalState decodes and restores a state written by MarshalState.
func (l *TokenLedger) UnmarshalState(data json.RawMessage) error {
	var st TokenState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return l.RestoreState(st)
}
