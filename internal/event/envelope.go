package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositQueued
	EventTypeWithdrawalQueued
	EventTypeBookKept
	EventTypeCollateralWithdrawn
	EventTypeEpochSettled
	EventTypeAdminFeesWithdrawn
	EventTypeParamsUpdated
	EventTypeAdminNominated
	EventTypeAdminTransferred
)

// Envelope wraps every event emitted by the engine
type Envelope struct {
	// Engine-assigned monotonic sequence, starts at 1
	Sequence int64 `json:"sequence"`

	EventID   uuid.UUID `json:"event_id"`
	EventType EventType `json:"event_type"`

	// Epoch open when the event was produced (after advancing, for settlements)
	Epoch int64 `json:"epoch"`

	// Engine clock time, not wall-clock
	Timestamp time.Time `json:"timestamp"`

	Payload Event `json:"payload"`

	// SHA-256 chain over engine state after applying this event
	StateHash [32]byte `json:"state_hash"`
	PrevHash  [32]byte `json:"prev_hash"`
}

// Event is the interface all event payloads must implement
type Event interface {
	EventType() EventType

	// AccountID returns the participant the event concerns (nil for global events)
	AccountID() *uuid.UUID
}

func (et EventType) String() string {
	switch et {
	case EventTypeDepositQueued:
		return "DepositQueued"
	case EventTypeWithdrawalQueued:
		return "WithdrawalQueued"
	case EventTypeBookKept:
		return "BookKept"
	case EventTypeCollateralWithdrawn:
		return "CollateralWithdrawn"
	case EventTypeEpochSettled:
		return "EpochSettled"
	case EventTypeAdminFeesWithdrawn:
		return "AdminFeesWithdrawn"
	case EventTypeParamsUpdated:
		return "ParamsUpdated"
	case EventTypeAdminNominated:
		return "AdminNominated"
	case EventTypeAdminTransferred:
		return "AdminTransferred"
	default:
		return "Unknown"
	}
}

// Subject returns the dotted subject token, e.g. "deposit_queued".
func (et EventType) Subject() string {
	switch et {
	case EventTypeDepositQueued:
		return "deposit_queued"
	case EventTypeWithdrawalQueued:
		return "withdrawal_queued"
	case EventTypeBookKept:
		return "book_kept"
	case EventTypeCollateralWithdrawn:
		return "collateral_withdrawn"
	case EventTypeEpochSettled:
		return "epoch_settled"
	case EventTypeAdminFeesWithdrawn:
		return "admin_fees_withdrawn"
	case EventTypeParamsUpdated:
		return "params_updated"
	case EventTypeAdminNominated:
		return "admin_nominated"
	case EventTypeAdminTransferred:
		return "admin_transferred"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name in JSON payloads.
func (et EventType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}
