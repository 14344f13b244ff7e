package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// WithdrawalQueued is emitted when settled shares are queued for withdrawal.
type WithdrawalQueued struct {
	Account        uuid.UUID   `json:"account"`
	Tranche        int         `json:"tranche"`
	Shares         sdkmath.Int `json:"shares"`
	EffectiveEpoch int64       `json:"effective_epoch"`
}

func (w *WithdrawalQueued) EventType() EventType {
	return EventTypeWithdrawalQueued
}

func (w *WithdrawalQueued) AccountID() *uuid.UUID {
	return &w.Account
}

// CollateralWithdrawn is emitted when withdrawable collateral leaves custody.
type CollateralWithdrawn struct {
	Account   uuid.UUID   `json:"account"`
	Amount    sdkmath.Int `json:"amount"`
	Remaining sdkmath.Int `json:"remaining"`
}

func (c *CollateralWithdrawn) EventType() EventType {
	return EventTypeCollateralWithdrawn
}

func (c *CollateralWithdrawn) AccountID() *uuid.UUID {
	return &c.Account
}
