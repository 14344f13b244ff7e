package event

import (
	"TrancheLedger/internal/ratemodel"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// TrancheSettlement is the post-settlement state of one tranche plus the
// exchange rates finalized for the closed epoch.
type TrancheSettlement struct {
	Index                      int         `json:"index"`
	Shares                     sdkmath.Int `json:"shares"`
	Collateral                 sdkmath.Int `json:"collateral"`
	Deposits                   sdkmath.Int `json:"deposits"`
	Withdrawals                sdkmath.Int `json:"withdrawals"`
	SharesPerCollateralDeposit sdkmath.Int `json:"shares_per_collateral_deposit"`
	CollateralPerShareWithdraw sdkmath.Int `json:"collateral_per_share_withdraw"`
	Finalized                  bool        `json:"finalized"`
}

// EpochSettled is emitted once per epoch close.
type EpochSettled struct {
	ClosedEpoch      int64               `json:"closed_epoch"`
	PreviousPrice    sdkmath.Int         `json:"previous_price"`
	Price            sdkmath.Int         `json:"price"`
	PriceSteps       int                 `json:"price_steps"`
	FeesCollected    sdkmath.Int         `json:"fees_collected"`
	AdminFeesAccrued sdkmath.Int         `json:"admin_fees_accrued"`
	AppliedRates     ratemodel.Rates     `json:"applied_rates"`
	NextRates        ratemodel.Rates     `json:"next_rates"`
	Tranches         []TrancheSettlement `json:"tranches"`
}

func (e *EpochSettled) EventType() EventType {
	return EventTypeEpochSettled
}

func (e *EpochSettled) AccountID() *uuid.UUID {
	return nil
}
