package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case AccountScopeUser:
		return "user"
	case AccountScopeSystem:
		return "system"
	case AccountScopeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// AccountKey identifies a balance in the token ledger. User accounts are
// keyed by UUID; system and external accounts by name.
type AccountKey struct {
	Scope    AccountScope
	EntityID uuid.UUID
	Name     string
}

var (
	// CustodyAccount holds all collateral deposited into the pool engine.
	CustodyAccount = AccountKey{Scope: AccountScopeSystem, Name: "custody"}

	// IssuanceAccount is the counter-account for minted supply, so the
	// ledger as a whole always sums to zero.
	IssuanceAccount = AccountKey{Scope: AccountScopeExternal, Name: "issuance"}
)

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID) AccountKey {
	return AccountKey{Scope: AccountScopeUser, EntityID: userID}
}

// AccountPath returns the human-readable path, e.g. "user:<uuid>" or
// "system:custody".
func (k AccountKey) AccountPath() string {
	if k.Scope == AccountScopeUser {
		return fmt.Sprintf("%s:%s", k.Scope, k.EntityID)
	}
	return fmt.Sprintf("%s:%s", k.Scope, k.Name)
}
