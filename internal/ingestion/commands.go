package ingestion

import (
	"context"
	"errors"

	"TrancheLedger/internal/core"
	"TrancheLedger/internal/ledger"
	"TrancheLedger/internal/observability"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pool is the slice of the engine that account commands drive.
type Pool interface {
	Deposit(account uuid.UUID, amount sdkmath.Int, tranche int) error
	Withdraw(account uuid.UUID, shares sdkmath.Int, tranche int) error
	BookKeeping(account uuid.UUID)
	WithdrawCollateral(account uuid.UUID, amount sdkmath.Int) error
}

// Custody credits bridged collateral to a holder and lets the engine pull it.
type Custody interface {
	Mint(to uuid.UUID, amount sdkmath.Int) error
	IncreaseAllowance(owner uuid.UUID, amount sdkmath.Int) error
}

// CommandHandler applies account commands from the command stream to the
// engine. Messages are acknowledged only after the engine accepted them.
type CommandHandler struct {
	pool    Pool
	custody Custody
	in      <-chan RawEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewCommandHandler(pool Pool, custody Custody, in <-chan RawEvent, metrics *observability.Metrics, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{pool: pool, custody: custody, in: in, metrics: metrics, logger: logger}
}

// Run drains the channel until ctx is cancelled or the channel closes.
func (h *CommandHandler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-h.in:
			if !ok {
				return nil
			}
			h.Handle(raw)
		}
	}
}

// Handle processes one message. Malformed commands and deterministic
// rejections are terminated; a failed collateral pull is retried since the
// funding message may still be in flight.
func (h *CommandHandler) Handle(raw RawEvent) {
	cmd, err := ParseCommand(raw.Subject, raw.Data)
	if err != nil {
		h.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		h.count(CommandKindFor(raw.Subject), "malformed")
		call(raw.TermFunc)
		return
	}

	if err := h.apply(cmd); err != nil {
		log := h.logger.Warn().Err(err).
			Str("kind", cmd.Kind.String()).
			Str("account", cmd.Account.String())
		if errors.Is(err, core.ErrTransferFailed) {
			log.Msg("command failed, redelivering")
			h.count(cmd.Kind, "retried")
			call(raw.NakFunc)
			return
		}
		log.Msg("command rejected")
		h.count(cmd.Kind, "rejected")
		call(raw.TermFunc)
		return
	}

	h.count(cmd.Kind, "accepted")
	call(raw.AckFunc)
}

func (h *CommandHandler) apply(cmd Command) error {
	switch cmd.Kind {
	case CommandFund:
		if err := h.custody.Mint(cmd.Account, cmd.Amount); err != nil {
			return err
		}
		return h.custody.IncreaseAllowance(cmd.Account, cmd.Amount)
	case CommandDeposit:
		return h.pool.Deposit(cmd.Account, cmd.Amount, cmd.Tranche)
	case CommandWithdraw:
		return h.pool.Withdraw(cmd.Account, cmd.Amount, cmd.Tranche)
	case CommandBookKeeping:
		h.pool.BookKeeping(cmd.Account)
		return nil
	case CommandWithdrawCollateral:
		return h.pool.WithdrawCollateral(cmd.Account, cmd.Amount)
	default:
		return ErrMalformedCommand
	}
}

func (h *CommandHandler) count(kind CommandKind, result string) {
	if h.metrics != nil {
		h.metrics.CommandsProcessed.WithLabelValues(kind.String(), result).Inc()
	}
}

var _ Custody = (*ledger.TokenLedger)(nil)
var _ Pool = (*core.Engine)(nil)
