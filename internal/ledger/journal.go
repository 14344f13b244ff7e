package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeTransferIn
	JournalTypeTransferOut
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeMint:
		return "mint"
	case JournalTypeTransferIn:
		return "transfer_in"
	case JournalTypeTransferOut:
		return "transfer_out"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	Sequence      int64       // Ledger-local sequence, starts at 1
	DebitAccount  AccountKey  // Balance increases
	CreditAccount AccountKey  // Balance decreases
	Amount        sdkmath.Int // ALWAYS positive
	JournalType   JournalType
}

// Validate ensures the entry is well-formed. Each entry moves one positive
// amount from credit to debit, so debits equal credits by construction.
func (j Journal) Validate() error {
	if j.Amount.IsNil() || !j.Amount.IsPositive() {
		return fmt.Errorf("journal %s has non-positive amount: %s", j.JournalID, j.Amount)
	}
	if j.DebitAccount == j.CreditAccount {
		return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
	}
	return nil
}
