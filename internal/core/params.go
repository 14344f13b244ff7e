package core

import (
	"fmt"
	"time"

	fpmath "TrancheLedger/internal/math"

	sdkmath "cosmossdk.io/math"
)

// MaxTransactionFee is the highest accepted deposit fee (2%).
var MaxTransactionFee = fpmath.MustFromDecimal("0.02")

// MinChangeCap is the smallest accepted change cap (0.1%). Smaller caps make
// a single settlement walk the price in an unbounded number of steps.
var MinChangeCap = fpmath.MustFromDecimal("0.001")

// Params are the admin-tunable engine parameters. Fee values are fixed point.
type Params struct {
	// Fraction of each deposit charged as fee, per unit of leverage.
	TransactionFee sdkmath.Int `json:"transaction_fee"`

	// Split of collected fees. Must sum to One.
	AdminFeeShare         sdkmath.Int `json:"admin_fee_share"`
	LiquidityPoolFeeShare sdkmath.Int `json:"liquidity_pool_fee_share"`

	// Largest relative price move applied in one settlement step.
	ChangeCap sdkmath.Int `json:"change_cap"`

	EpochPeriod time.Duration `json:"epoch_period"`
	WaitPeriod  time.Duration `json:"wait_period"`
}

// DefaultParams: 0.3% fee split 20/80 between admin and liquidity, 5% change
// cap, 15 minute epochs.
func DefaultParams() Params {
	return Params{
		TransactionFee:        fpmath.MustFromDecimal("0.003"),
		AdminFeeShare:         fpmath.MustFromDecimal("0.2"),
		LiquidityPoolFeeShare: fpmath.MustFromDecimal("0.8"),
		ChangeCap:             fpmath.MustFromDecimal("0.05"),
		EpochPeriod:           15 * time.Minute,
		WaitPeriod:            90 * time.Second,
	}
}

// Validate checks every field.
func (p Params) Validate() error {
	if err := validateFees(p.TransactionFee, p.AdminFeeShare, p.LiquidityPoolFeeShare); err != nil {
		return err
	}
	if err := validateChangeCap(p.ChangeCap); err != nil {
		return err
	}
	return validatePeriods(p.EpochPeriod, p.WaitPeriod)
}

func validateFees(txFee, adminShare, liquidityShare sdkmath.Int) error {
	for _, v := range []sdkmath.Int{txFee, adminShare, liquidityShare} {
		if v.IsNil() || v.IsNegative() {
			return fmt.Errorf("%w: negative fee", ErrInvalidFees)
		}
	}
	if !adminShare.Add(liquidityShare).Equal(fpmath.One) {
		return fmt.Errorf("%w: fee shares sum to %s", ErrInvalidFees, fpmath.ToDecimal(adminShare.Add(liquidityShare)))
	}
	if txFee.GT(MaxTransactionFee) {
		return fmt.Errorf("%w: transaction fee %s above %s", ErrInvalidFees,
			fpmath.ToDecimal(txFee), fpmath.ToDecimal(MaxTransactionFee))
	}
	return nil
}

func validateChangeCap(limit sdkmath.Int) error {
	if limit.IsNil() || limit.LT(MinChangeCap) || limit.GT(fpmath.One) {
		return fmt.Errorf("%w: change cap must be in [%s, 1]", ErrInvalidAmount, fpmath.ToDecimal(MinChangeCap))
	}
	return nil
}

func validatePeriods(epochPeriod, waitPeriod time.Duration) error {
	if epochPeriod < time.Second || waitPeriod <= 0 {
		return fmt.Errorf("%w: epoch period %s, wait period %s", ErrInvalidAmount, epochPeriod, waitPeriod)
	}
	return nil
}
