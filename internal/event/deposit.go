package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// DepositQueued is emitted when collateral is pulled into custody and queued
// for a tranche. Shares are minted when EffectiveEpoch closes.
type DepositQueued struct {
	Account        uuid.UUID   `json:"account"`
	Tranche        int         `json:"tranche"`
	Amount         sdkmath.Int `json:"amount"`
	EffectiveEpoch int64       `json:"effective_epoch"`
}

func (d *DepositQueued) EventType() EventType {
	return EventTypeDepositQueued
}

func (d *DepositQueued) AccountID() *uuid.UUID {
	return &d.Account
}

// BookKept is emitted when an account's closed-epoch actions are applied.
type BookKept struct {
	Account        uuid.UUID   `json:"account"`
	ActionsApplied int         `json:"actions_applied"`
	SharesMinted   sdkmath.Int `json:"shares_minted"`
	SharesBurned   sdkmath.Int `json:"shares_burned"`
	Released       sdkmath.Int `json:"released"`
}

func (b *BookKept) EventType() EventType {
	return EventTypeBookKept
}

func (b *BookKept) AccountID() *uuid.UUID {
	return &b.Account
}
