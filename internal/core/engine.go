// Package core implements the tranche ledger engine: queued deposits and
// withdrawals, per-epoch settlement, fee accounting and administration.
package core

import (
	"encoding/binary"
	"sync"
	"time"

	"TrancheLedger/internal/event"
	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/observability"
	"TrancheLedger/internal/oracle"
	"TrancheLedger/internal/ratemodel"
	"TrancheLedger/internal/state"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CollateralAsset moves the single collateral token between participants
// and engine custody.
type CollateralAsset interface {
	TransferIn(from uuid.UUID, amount sdkmath.Int) error
	TransferOut(to uuid.UUID, amount sdkmath.Int) error
}

// Config wires an Engine. Admin, Asset and Oracle are required.
type Config struct {
	Admin  uuid.UUID
	Asset  CollateralAsset
	Oracle oracle.PriceOracle

	// Defaults to a BaseRateModel with default parameters.
	RateModel ratemodel.RateModel

	// Zero value means DefaultParams.
	Params Params

	// Defaults to time.Now.
	Clock func() time.Time

	Logger  *zerolog.Logger
	Metrics *observability.Metrics

	// Envelopes are sent after the engine lock is released. The send blocks,
	// so the consumer must keep up.
	Outputs chan<- event.Envelope
}

// Engine is the tranche ledger. A single RWMutex guards all state.
type Engine struct {
	mu sync.RWMutex

	admin        uuid.UUID
	pendingAdmin uuid.UUID
	asset        CollateralAsset
	oracle       oracle.PriceOracle
	rateModel    ratemodel.RateModel
	params       Params
	clock        func() time.Time

	tranches       state.TrancheTable
	epochs         *state.EpochBook
	accounts       *state.AccountBook
	epoch          int64
	epochStartTime time.Time
	price          sdkmath.Int
	rates          ratemodel.Rates
	adminFees      sdkmath.Int

	sequence int64
	hasher   *StateHasher

	logger  zerolog.Logger
	metrics *observability.Metrics
	outputs chan<- event.Envelope
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Admin == uuid.Nil {
		return nil, ErrInvalidAdmin
	}
	if cfg.Asset == nil || cfg.Oracle == nil {
		return nil, ErrNilCollaborator
	}

	params := cfg.Params
	if params.TransactionFee.IsNil() {
		params = DefaultParams()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	rm := cfg.RateModel
	if rm == nil {
		base, err := ratemodel.NewBaseRateModel(ratemodel.DefaultParams())
		if err != nil {
			return nil, err
		}
		rm = base
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	e := &Engine{
		admin:          cfg.Admin,
		asset:          cfg.Asset,
		oracle:         cfg.Oracle,
		rateModel:      rm,
		params:         params,
		clock:          clock,
		tranches:       state.NewTrancheTable(),
		epochs:         state.NewEpochBook(),
		accounts:       state.NewAccountBook(),
		epochStartTime: clock(),
		price:          fpmath.One,
		rates:          ratemodel.ZeroRates(),
		adminFees:      fpmath.Zero(),
		hasher:         NewStateHasher(),
		logger:         logger,
		metrics:        cfg.Metrics,
		outputs:        cfg.Outputs,
	}
	e.exportState()
	return e, nil
}

// record wraps a payload in an envelope and advances the hash chain.
// Callers hold the write lock.
func (e *Engine) record(payload event.Event) event.Envelope {
	e.sequence++
	prev := e.hasher.Tip()
	hash := e.hasher.Chain(e.sequence, payload.EventType(), e.epoch, e.stateDigest(payload.AccountID()))
	return event.Envelope{
		Sequence:  e.sequence,
		EventID:   uuid.New(),
		EventType: payload.EventType(),
		Epoch:     e.epoch,
		Timestamp: e.clock(),
		Payload:   payload,
		StateHash: hash,
		PrevHash:  prev,
	}
}

// stateDigest is the canonical byte form of global state plus the touched
// account, if any.
func (e *Engine) stateDigest(account *uuid.UUID) []byte {
	digest := make([]byte, 0, 1024)
	digest = binary.LittleEndian.AppendUint64(digest, uint64(e.epoch))
	digest = appendInt(digest, e.price)
	digest = appendInt(digest, e.adminFees)
	for _, t := range e.tranches {
		digest = appendInt(digest, t.Shares)
		digest = appendInt(digest, t.Collateral)
	}
	if account != nil {
		a := e.accounts.Get(*account)
		digest = append(digest, account[:]...)
		for _, s := range a.Shares {
			digest = appendInt(digest, s)
		}
		digest = appendInt(digest, a.Withdrawable)
		digest = binary.LittleEndian.AppendUint32(digest, uint32(len(a.Actions)))
	}
	return digest
}

func appendInt(buf []byte, v sdkmath.Int) []byte {
	s := v.String()
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

// publish delivers envelopes outside the lock.
func (e *Engine) publish(envs []event.Envelope) {
	if e.outputs == nil {
		return
	}
	for _, env := range envs {
		e.outputs <- env
	}
}

// reject logs and counts a failed operation.
func (e *Engine) reject(action string, err error) {
	e.logger.Debug().Str("action", action).Err(err).Msg("operation rejected")
	if e.metrics != nil {
		e.metrics.ActionsRejected.WithLabelValues(action, rejectReason(err)).Inc()
	}
}

// exportState refreshes gauges. Callers hold a lock.
func (e *Engine) exportState() {
	if e.metrics == nil {
		return
	}
	e.metrics.CurrentEpoch.Set(float64(e.epoch))
	e.metrics.Price.Set(observability.FixedToFloat(e.price))
	e.metrics.AdminFees.Set(observability.FixedToFloat(e.adminFees))
	e.metrics.SetRates(e.rates)
	for i, t := range e.tranches {
		e.metrics.SetTranche(i, t.Shares, t.Collateral)
	}
}
