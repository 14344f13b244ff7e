package state

import (
	"errors"
	"fmt"

	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/ratemodel"

	sdkmath "cosmossdk.io/math"
)

const (
	NumTiers    = 3
	NumTranches = NumTiers * 3
)

var ErrInvalidTranche = errors.New("state: tranche index out of range")

// TrancheKind distinguishes the three tranches of a tier.
type TrancheKind int8

const (
	KindLiquidity TrancheKind = iota
	KindLong
	KindShort
)

func (k TrancheKind) String() string {
	switch k {
	case KindLiquidity:
		return "liquidity"
	case KindLong:
		return "long"
	case KindShort:
		return "short"
	default:
		return "unknown"
	}
}

// Tranche is one of the nine fixed sub-pools.
type Tranche struct {
	Shares     sdkmath.Int `json:"shares"`
	Collateral sdkmath.Int `json:"collateral"` // signed, never floored

	// Leverage is +tier for liquidity and long tranches, -tier for short.
	Leverage            int64 `json:"leverage"`
	RebalanceMultiplier int64 `json:"rebalance_multiplier"`
	IsLiquidityPool     bool  `json:"is_liquidity_pool"`
}

func (t Tranche) Kind() TrancheKind {
	switch {
	case t.IsLiquidityPool:
		return KindLiquidity
	case t.Leverage > 0:
		return KindLong
	default:
		return KindShort
	}
}

// Tier returns the leverage magnitude, 1..3.
func (t Tranche) Tier() int64 {
	if t.Leverage < 0 {
		return -t.Leverage
	}
	return t.Leverage
}

// Exposure is collateral scaled by leverage magnitude.
func (t Tranche) Exposure() sdkmath.Int {
	return t.Collateral.MulRaw(t.Tier())
}

// CollateralPerShare returns collateral/shares, or zero for an empty tranche.
func (t Tranche) CollateralPerShare() sdkmath.Int {
	if t.Shares.IsZero() {
		return fpmath.Zero()
	}
	return fpmath.Div(t.Collateral, t.Shares)
}

// TrancheTable is the fixed tier-major layout:
// liquidity1, long1, short1, liquidity2, long2, short2, liquidity3, long3, short3.
type TrancheTable [NumTranches]Tranche

// NewTrancheTable builds the empty table. Long tranches carry a rebalance
// multiplier of L(L-1)/2 and short tranches L(L+1)/2.
func NewTrancheTable() TrancheTable {
	var table TrancheTable
	for tier := int64(1); tier <= NumTiers; tier++ {
		base := (tier - 1) * 3
		table[base] = newTranche(tier, 0, true)
		table[base+1] = newTranche(tier, tier*(tier-1)/2, false)
		table[base+2] = newTranche(-tier, tier*(tier+1)/2, false)
	}
	return table
}

func newTranche(leverage, rebalanceMultiplier int64, isLiquidityPool bool) Tranche {
	return Tranche{
		Shares:              fpmath.Zero(),
		Collateral:          fpmath.Zero(),
		Leverage:            leverage,
		RebalanceMultiplier: rebalanceMultiplier,
		IsLiquidityPool:     isLiquidityPool,
	}
}

// ValidIndex reports whether i addresses a tranche.
func ValidIndex(i int) bool {
	return i >= 0 && i < NumTranches
}

// CheckIndex returns ErrInvalidTranche for out-of-range indices.
func CheckIndex(i int) error {
	if !ValidIndex(i) {
		return fmt.Errorf("%w: %d", ErrInvalidTranche, i)
	}
	return nil
}

// LiquidityIndex returns the index of the liquidity tranche of a tier.
func LiquidityIndex(tier int64) int {
	return int(tier-1) * 3
}

// TotalCollateral sums collateral over all tranches.
func (tt *TrancheTable) TotalCollateral() sdkmath.Int {
	total := fpmath.Zero()
	for _, t := range tt {
		total = total.Add(t.Collateral)
	}
	return total
}

// PoolAmounts aggregates exposure over the table and derives the effective
// leverage of each side.
func (tt *TrancheTable) PoolAmounts() ratemodel.PoolAmounts {
	long, short, liquidity, rebalance := fpmath.Zero(), fpmath.Zero(), fpmath.Zero(), fpmath.Zero()
	for _, t := range tt {
		switch t.Kind() {
		case KindLiquidity:
			liquidity = liquidity.Add(t.Exposure())
		case KindLong:
			long = long.Add(t.Exposure())
		case KindShort:
			short = short.Add(t.Exposure())
		}
		rebalance = rebalance.Add(t.Collateral.MulRaw(t.RebalanceMultiplier))
	}

	a := ratemodel.PoolAmounts{
		LongAmount:            long,
		ShortAmount:           short,
		LiquidityPoolAmount:   liquidity,
		RebalanceAmount:       rebalance,
		LongLeverage:          fpmath.One,
		ShortLeverage:         fpmath.One,
		LiquidityPoolLeverage: fpmath.Zero(),
	}
	if long.GT(short.Add(liquidity)) {
		a.LongLeverage = fpmath.Div(short.Add(liquidity), long)
	}
	if short.GT(long.Add(liquidity)) {
		a.ShortLeverage = fpmath.Div(long.Add(liquidity), short)
	}
	if !liquidity.IsZero() {
		net := fpmath.Mul(short, a.ShortLeverage).Sub(fpmath.Mul(long, a.LongLeverage))
		a.LiquidityPoolLeverage = fpmath.Div(net, liquidity)
	}
	return a
}

// ApplyPriceChange settles one (already capped) relative price move on every
// tranche. Long tranches gain, short tranches lose, and liquidity tranches
// take the net opposite exposure.
func (tt *TrancheTable) ApplyPriceChange(change sdkmath.Int) {
	a := tt.PoolAmounts()
	longMove := fpmath.Mul(a.LongLeverage, change)
	shortMove := fpmath.Mul(a.ShortLeverage, change)
	liquidityMove := fpmath.Mul(a.LiquidityPoolLeverage, change)

	for i := range tt {
		t := &tt[i]
		switch t.Kind() {
		case KindLiquidity:
			t.Collateral = t.Collateral.Add(fpmath.Mul(t.Exposure(), liquidityMove))
		case KindLong:
			t.Collateral = t.Collateral.Add(fpmath.Mul(t.Exposure(), longMove))
		case KindShort:
			t.Collateral = t.Collateral.Sub(fpmath.Mul(t.Exposure(), shortMove))
		}
	}
}

// ApplyRates charges one period of the given annualized rates. Every rate
// term is computed against the collateral held before any term is applied.
func (tt *TrancheTable) ApplyRates(r ratemodel.Rates, periodSeconds int64) {
	for i := range tt {
		t := &tt[i]
		var terms [2]sdkmath.Int
		switch t.Kind() {
		case KindLiquidity:
			terms = [2]sdkmath.Int{
				r.LiquidityPoolFundingRate.MulRaw(t.Tier()),
				r.RebalanceLiquidityPoolRate.MulRaw(t.Tier()),
			}
		case KindLong:
			terms = [2]sdkmath.Int{
				r.LongFundingRate.MulRaw(t.Tier()),
				r.RebalanceRate.MulRaw(t.RebalanceMultiplier),
			}
		case KindShort:
			terms = [2]sdkmath.Int{
				r.ShortFundingRate.MulRaw(t.Tier()),
				r.RebalanceRate.MulRaw(t.RebalanceMultiplier),
			}
		}
		base := t.Collateral
		for _, rate := range terms {
			t.Collateral = t.Collateral.Sub(fpmath.Accrue(base, rate, periodSeconds))
		}
	}
}
