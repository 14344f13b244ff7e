package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// ParamsUpdated records an administrative configuration change.
type ParamsUpdated struct {
	Admin uuid.UUID `json:"admin"`
	Param string    `json:"param"`
	Value string    `json:"value"`
}

func (p *ParamsUpdated) EventType() EventType {
	return EventTypeParamsUpdated
}

func (p *ParamsUpdated) AccountID() *uuid.UUID {
	return nil
}

type AdminFeesWithdrawn struct {
	Admin     uuid.UUID   `json:"admin"`
	Amount    sdkmath.Int `json:"amount"`
	Remaining sdkmath.Int `json:"remaining"`
}

func (a *AdminFeesWithdrawn) EventType() EventType {
	return EventTypeAdminFeesWithdrawn
}

func (a *AdminFeesWithdrawn) AccountID() *uuid.UUID {
	return &a.Admin
}

type AdminNominated struct {
	Admin   uuid.UUID `json:"admin"`
	Nominee uuid.UUID `json:"nominee"`
}

func (a *AdminNominated) EventType() EventType {
	return EventTypeAdminNominated
}

func (a *AdminNominated) AccountID() *uuid.UUID {
	return nil
}

type AdminTransferred struct {
	Previous uuid.UUID `json:"previous"`
	Admin    uuid.UUID `json:"admin"`
}

func (a *AdminTransferred) EventType() EventType {
	return EventTypeAdminTransferred
}

func (a *AdminTransferred) AccountID() *uuid.UUID {
	return nil
}
