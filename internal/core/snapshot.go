package core

import (
	"encoding/json"
	"fmt"
	"time"

	"TrancheLedger/internal/ratemodel"
	"TrancheLedger/internal/state"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Snapshot is the complete engine state at one event sequence. It encodes
// to JSON; all fixed-point values are rendered as decimal strings.
type Snapshot struct {
	Sequence  int64    `json:"sequence"`
	StateHash [32]byte `json:"state_hash"`

	Epoch          int64           `json:"epoch"`
	EpochStartTime time.Time       `json:"epoch_start_time"`
	Price          sdkmath.Int     `json:"price"`
	Rates          ratemodel.Rates `json:"rates"`
	AdminFees      sdkmath.Int     `json:"admin_fees"`
	Admin          uuid.UUID       `json:"admin"`
	PendingAdmin   uuid.UUID       `json:"pending_admin"`
	Params         Params          `json:"params"`

	Tranches     state.TrancheTable       `json:"tranches"`
	EpochRecords []state.EpochRecordEntry `json:"epoch_records"`
	Accounts     []AccountEntry           `json:"accounts"`

	// Asset is the custody state of an in-process collateral asset. Absent
	// when the asset keeps its own state.
	Asset json.RawMessage `json:"asset,omitempty"`
}

// StatefulAsset is a CollateralAsset whose custody lives in process, so its
// state has to travel with engine snapshots.
type StatefulAsset interface {
	CollateralAsset
	MarshalState() (json.RawMessage, error)
	UnmarshalState(json.RawMessage) error
}

type AccountEntry struct {
	ID      uuid.UUID     `json:"id"`
	Account state.Account `json:"account"`
}

// Snapshot captures the current state under the read lock. Every engine
// transfer runs under the write lock, so custody matches the tranches.
func (e *Engine) Snapshot() (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		Sequence:       e.sequence,
		StateHash:      e.hasher.Tip(),
		Epoch:          e.epoch,
		EpochStartTime: e.epochStartTime,
		Price:          e.price,
		Rates:          e.rates,
		AdminFees:      e.adminFees,
		Admin:          e.admin,
		PendingAdmin:   e.pendingAdmin,
		Params:         e.params,
		Tranches:       e.tranches,
		EpochRecords:   e.epochs.Entries(),
	}
	for _, id := range e.accounts.IDs() {
		snap.Accounts = append(snap.Accounts, AccountEntry{ID: id, Account: *e.accounts.Get(id).Clone()})
	}
	if sa, ok := e.asset.(StatefulAsset); ok {
		raw, err := sa.MarshalState()
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot asset: %w", err)
		}
		snap.Asset = raw
	}
	return snap, nil
}

// Restore replaces the engine state with a snapshot, and the custody state
// of a StatefulAsset. Collaborators, clock and outputs are kept.
func (e *Engine) Restore(snap Snapshot) error {
	if snap.Admin == uuid.Nil {
		return ErrInvalidAdmin
	}
	if err := snap.Params.Validate(); err != nil {
		return fmt.Errorf("snapshot params: %w", err)
	}
	if snap.Price.IsNil() || !snap.Price.IsPositive() {
		return fmt.Errorf("snapshot price %v: %w", snap.Price, ErrInvalidAmount)
	}

	accounts := state.NewAccountBook()
	for _, entry := range snap.Accounts {
		a := entry.Account
		accounts.Put(entry.ID, a.Clone())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(snap.Asset) > 0 {
		sa, ok := e.asset.(StatefulAsset)
		if !ok {
			return fmt.Errorf("snapshot carries custody state but asset %T cannot restore it", e.asset)
		}
		if err := sa.UnmarshalState(snap.Asset); err != nil {
			return fmt.Errorf("snapshot asset: %w", err)
		}
	}

	e.sequence = snap.Sequence
	e.hasher = RestoreStateHasher(snap.StateHash)
	e.epoch = snap.Epoch
	e.epochStartTime = snap.EpochStartTime
	e.price = snap.Price
	e.rates = snap.Rates
	e.adminFees = snap.AdminFees
	e.admin = snap.Admin
	e.pendingAdmin = snap.PendingAdmin
	e.params = snap.Params
	e.tranches = snap.Tranches
	e.epochs = state.RestoreEpochBook(snap.EpochRecords)
	e.accounts = accounts
	e.exportState()

	e.logger.Info().
		Int64("sequence", snap.Sequence).
		Int64("epoch", snap.Epoch).
		Int("accounts", len(snap.Accounts)).
		Msg("engine restored from snapshot")
	return nil
}
