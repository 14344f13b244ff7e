package ledger

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

var (
	ErrInvalidState          = errors.New("ledger: invalid token state")
	ErrInvalidAmount         = errors.New("ledger: amount must be positive")
	ErrInsufficientFunds     = errors.New("ledger: insufficient funds")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
)

// TokenLedger is an in-memory fungible collateral token. Holders approve the
// custody account, and the pool engine pulls deposits in and pays
// withdrawals out through TransferIn/TransferOut. Every movement is recorded
// as a journal entry.
//
// Safe for concurrent use.
type TokenLedger struct {
	mu         sync.Mutex
	tracker    *BalanceTracker
	validator  *InvariantValidator
	allowances map[uuid.UUID]sdkmath.Int
	journals   []Journal
	sequence   int64
}

func NewTokenLedger() *TokenLedger {
	tracker := NewBalanceTracker()
	return &TokenLedger{
		tracker:    tracker,
		validator:  NewInvariantValidator(tracker),
		allowances: make(map[uuid.UUID]sdkmath.Int),
	}
}

// Mint credits new supply to a holder.
func (l *TokenLedger) Mint(to uuid.UUID, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.post(JournalTypeMint, NewUserAccountKey(to), IssuanceAccount, amount)
}

// Approve sets how much the custody account may pull from owner.
func (l *TokenLedger) Approve(owner uuid.UUID, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[owner] = amount
	return nil
}

// IncreaseAllowance adds amount to owner's allowance in one step, so a
// concurrent TransferIn cannot be double counted.
func (l *TokenLedger) IncreaseAllowance(owner uuid.UUID, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[owner] = l.allowance(owner).Add(amount)
	return nil
}

// Allowance returns the remaining approved amount for owner.
func (l *TokenLedger) Allowance(owner uuid.UUID) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance(owner)
}

// BalanceOf returns a holder's balance.
func (l *TokenLedger) BalanceOf(owner uuid.UUID) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.GetBalance(NewUserAccountKey(owner))
}

// CustodyBalance returns the collateral currently held by the pool engine.
func (l *TokenLedger) CustodyBalance() sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.GetBalance(CustodyAccount)
}

// TransferIn pulls amount from a holder into custody, consuming allowance.
func (l *TokenLedger) TransferIn(from uuid.UUID, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	allowance := l.allowance(from)
	if allowance.LT(amount) {
		return fmt.Errorf("%w: have=%s, need=%s", ErrInsufficientAllowance, allowance, amount)
	}
	holder := NewUserAccountKey(from)
	if balance := l.tracker.GetBalance(holder); balance.LT(amount) {
		return fmt.Errorf("%w: have=%s, need=%s", ErrInsufficientFunds, balance, amount)
	}

	if err := l.post(JournalTypeTransferIn, CustodyAccount, holder, amount); err != nil {
		return err
	}
	l.allowances[from] = allowance.Sub(amount)
	return nil
}

// TransferOut pays amount from custody to a holder.
func (l *TokenLedger) TransferOut(to uuid.UUID, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if custody := l.tracker.GetBalance(CustodyAccount); custody.LT(amount) {
		return fmt.Errorf("%w: custody have=%s, need=%s", ErrInsufficientFunds, custody, amount)
	}
	return l.post(JournalTypeTransferOut, NewUserAccountKey(to), CustodyAccount, amount)
}

// Journals returns a copy of every posted entry in order.
func (l *TokenLedger) Journals() []Journal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Journal, len(l.journals))
	copy(out, l.journals)
	return out
}

// Validate checks the zero-sum and non-negative invariants.
func (l *TokenLedger) Validate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	return l.validator.ValidateNonNegative()
}

func (l *TokenLedger) allowance(owner uuid.UUID) sdkmath.Int {
	if a, ok := l.allowances[owner]; ok {
		return a
	}
	return sdkmath.ZeroInt()
}

// post must be called with mu held.
func (l *TokenLedger) post(jt JournalType, debit, credit AccountKey, amount sdkmath.Int) error {
	j := Journal{
		JournalID:     uuid.New(),
		Sequence:      l.sequence + 1,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
	}
	if err := l.tracker.ApplyJournal(j); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	l.sequence = j.Sequence
	l.journals = append(l.journals, j)
	return nil
}
