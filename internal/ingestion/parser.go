package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/oracle"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

var ErrMalformedPrice = errors.New("ingestion: malformed price message")

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

// priceJSON is one observation on tranche.prices.>. Price is a base-10
// integer already scaled to 18 decimals; PriceDecimal ("1.01") may be sent
// instead.
type priceJSON struct {
	Price        string `json:"price"`
	PriceDecimal string `json:"price_decimal,omitempty"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp"`
}

// ParsePriceUpdate decodes and validates a price feed message.
func ParsePriceUpdate(data []byte) (oracle.PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return oracle.PriceUpdate{}, fmt.Errorf("%w: %v", ErrMalformedPrice, err)
	}

	var u oracle.PriceUpdate
	switch {
	case j.Price != "":
		p, err := fpmath.ParseInt(j.Price)
		if err != nil {
			return oracle.PriceUpdate{}, fmt.Errorf("%w: %v", ErrMalformedPrice, err)
		}
		u.Price = p
	case j.PriceDecimal != "":
		p, err := fpmath.FromDecimal(j.PriceDecimal)
		if err != nil {
			return oracle.PriceUpdate{}, fmt.Errorf("%w: %v", ErrMalformedPrice, err)
		}
		u.Price = p
	default:
		return oracle.PriceUpdate{}, fmt.Errorf("%w: missing price", ErrMalformedPrice)
	}

	if !u.Price.IsPositive() {
		return oracle.PriceUpdate{}, fmt.Errorf("%w: %v", ErrMalformedPrice, oracle.ErrInvalidPrice)
	}
	if j.Sequence <= 0 {
		return oracle.PriceUpdate{}, fmt.Errorf("%w: sequence must be positive", ErrMalformedPrice)
	}
	u.Sequence = j.Sequence
	u.Timestamp = time.UnixMicro(j.TimestampUs)
	return u, nil
}

var ErrMalformedCommand = errors.New("ingestion: malformed command message")

// CommandKind is the ledger operation a command subject maps to.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandFund
	CommandDeposit
	CommandWithdraw
	CommandBookKeeping
	CommandWithdrawCollateral
)

func (k CommandKind) String() string {
	switch k {
	case CommandFund:
		return "fund"
	case CommandDeposit:
		return "deposit"
	case CommandWithdraw:
		return "withdraw"
	case CommandBookKeeping:
		return "bookkeeping"
	case CommandWithdrawCollateral:
		return "withdraw_collateral"
	default:
		return "unknown"
	}
}

// Command is one validated account operation. Amount is collateral for
// fund, deposit and withdraw_collateral, and shares for withdraw.
type Command struct {
	Kind    CommandKind
	Account uuid.UUID
	Tranche int
	Amount  sdkmath.Int
}

// commandJSON is the body of every tranche.* command subject. Amount is a
// base-10 integer scaled to 18 decimals; AmountDecimal may be sent instead.
type commandJSON struct {
	AccountID     string `json:"account_id"`
	Tranche       *int   `json:"tranche,omitempty"`
	Amount        string `json:"amount,omitempty"`
	AmountDecimal string `json:"amount_decimal,omitempty"`
}

// CommandKindFor maps a subject to its command kind by prefix.
func CommandKindFor(subject string) CommandKind {
	switch {
	case strings.HasPrefix(subject, "tranche.funding."):
		return CommandFund
	case strings.HasPrefix(subject, "tranche.deposits."):
		return CommandDeposit
	case strings.HasPrefix(subject, "tranche.withdrawals."):
		return CommandWithdraw
	case strings.HasPrefix(subject, "tranche.bookkeeping."):
		return CommandBookKeeping
	case strings.HasPrefix(subject, "tranche.collateral.withdraw."):
		return CommandWithdrawCollateral
	default:
		return CommandUnknown
	}
}

// ParseCommand decodes and validates a command for subject. Range checks
// on the tranche index and balances are left to the engine.
func ParseCommand(subject string, data []byte) (Command, error) {
	cmd := Command{Kind: CommandKindFor(subject)}
	if cmd.Kind == CommandUnknown {
		return Command{}, fmt.Errorf("%w: unknown subject %q", ErrMalformedCommand, subject)
	}

	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	account, err := uuid.Parse(j.AccountID)
	if err != nil || account == uuid.Nil {
		return Command{}, fmt.Errorf("%w: account_id %q", ErrMalformedCommand, j.AccountID)
	}
	cmd.Account = account

	if cmd.Kind == CommandBookKeeping {
		return cmd, nil
	}

	if cmd.Kind == CommandDeposit || cmd.Kind == CommandWithdraw {
		if j.Tranche == nil {
			return Command{}, fmt.Errorf("%w: missing tranche", ErrMalformedCommand)
		}
		cmd.Tranche = *j.Tranche
	}

	switch {
	case j.Amount != "":
		cmd.Amount, err = fpmath.ParseInt(j.Amount)
	case j.AmountDecimal != "":
		cmd.Amount, err = fpmath.FromDecimal(j.AmountDecimal)
	default:
		return Command{}, fmt.Errorf("%w: missing amount", ErrMalformedCommand)
	}
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if !cmd.Amount.IsPositive() {
		return Command{}, fmt.Errorf("%w: amount must be positive", ErrMalformedCommand)
	}
	return cmd, nil
}
