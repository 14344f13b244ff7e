// Package ratemodel computes the annualized funding and rebalance rates
// charged between tranches at each epoch close.
package ratemodel

import (
	"errors"
	"fmt"
	"sync"

	fpmath "TrancheLedger/internal/math"

	sdkmath "cosmossdk.io/math"
)

var ErrInvalidRate = errors.New("ratemodel: rate parameter must be non-negative")

// PoolAmounts is the leverage-weighted exposure of the whole tranche table.
type PoolAmounts struct {
	LongAmount          sdkmath.Int `json:"long_amount"`
	ShortAmount         sdkmath.Int `json:"short_amount"`
	LiquidityPoolAmount sdkmath.Int `json:"liquidity_pool_amount"`
	RebalanceAmount     sdkmath.Int `json:"rebalance_amount"`

	// Effective leverage applied to each side when a price change is settled.
	// Long and short are capped at One when the opposite side (plus liquidity)
	// cannot cover them; the liquidity pool takes the signed residual.
	LongLeverage          sdkmath.Int `json:"long_leverage"`
	ShortLeverage         sdkmath.Int `json:"short_leverage"`
	LiquidityPoolLeverage sdkmath.Int `json:"liquidity_pool_leverage"`
}

// Rates are signed annualized fractions. Positive means the tranche pays.
type Rates struct {
	LongFundingRate            sdkmath.Int `json:"long_funding_rate"`
	ShortFundingRate           sdkmath.Int `json:"short_funding_rate"`
	LiquidityPoolFundingRate   sdkmath.Int `json:"liquidity_pool_funding_rate"`
	RebalanceRate              sdkmath.Int `json:"rebalance_rate"`
	RebalanceLiquidityPoolRate sdkmath.Int `json:"rebalance_liquidity_pool_rate"`
}

// ZeroRates returns a rate snapshot with every rate at zero.
func ZeroRates() Rates {
	return Rates{
		LongFundingRate:            fpmath.Zero(),
		ShortFundingRate:           fpmath.Zero(),
		LiquidityPoolFundingRate:   fpmath.Zero(),
		RebalanceRate:              fpmath.Zero(),
		RebalanceLiquidityPoolRate: fpmath.Zero(),
	}
}

// RateModel maps pool state to the rates applied during the next epoch.
type RateModel interface {
	GetRates(amounts PoolAmounts) Rates
}

// Params configures BaseRateModel. All values are fixed point.
type Params struct {
	FundingMultiplier   sdkmath.Int `json:"funding_multiplier"`
	RebalanceMultiplier sdkmath.Int `json:"rebalance_multiplier"`
	MaxFundingRate      sdkmath.Int `json:"max_funding_rate"`
	MaxRebalanceRate    sdkmath.Int `json:"max_rebalance_rate"`
}

// DefaultParams: both multipliers 1.0, both caps 100% per year.
func DefaultParams() Params {
	return Params{
		FundingMultiplier:   fpmath.One,
		RebalanceMultiplier: fpmath.One,
		MaxFundingRate:      fpmath.One,
		MaxRebalanceRate:    fpmath.One,
	}
}

func (p Params) Validate() error {
	for name, v := range map[string]sdkmath.Int{
		"funding_multiplier":   p.FundingMultiplier,
		"rebalance_multiplier": p.RebalanceMultiplier,
		"max_funding_rate":     p.MaxFundingRate,
		"max_rebalance_rate":   p.MaxRebalanceRate,
	} {
		if v.IsNil() || v.IsNegative() {
			return fmt.Errorf("%s: %w", name, ErrInvalidRate)
		}
	}
	return nil
}

// BaseRateModel charges funding to the heavier directional side in
// proportion to the imbalance, and a rebalance rate proportional to the
// convexity exposure relative to available liquidity. The liquidity pool
// receives whatever the directional tranches pay.
//
// Safe for concurrent use.
type BaseRateModel struct {
	mu     sync.RWMutex
	params Params
}

func NewBaseRateModel(params Params) (*BaseRateModel, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &BaseRateModel{params: params}, nil
}

// Params returns the current configuration.
func (m *BaseRateModel) Params() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params
}

// SetMultipliers scales the funding and rebalance rates. Zero disables them.
func (m *BaseRateModel) SetMultipliers(funding, rebalance sdkmath.Int) error {
	if funding.IsNil() || rebalance.IsNil() || funding.IsNegative() || rebalance.IsNegative() {
		return ErrInvalidRate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params.FundingMultiplier = funding
	m.params.RebalanceMultiplier = rebalance
	return nil
}

func (m *BaseRateModel) SetMaxRebalanceRate(rate sdkmath.Int) error {
	if rate.IsNil() || rate.IsNegative() {
		return ErrInvalidRate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params.MaxRebalanceRate = rate
	return nil
}

func (m *BaseRateModel) SetMaxFundingRate(rate sdkmath.Int) error {
	if rate.IsNil() || rate.IsNegative() {
		return ErrInvalidRate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params.MaxFundingRate = rate
	return nil
}

// GetRates implements RateModel.
func (m *BaseRateModel) GetRates(a PoolAmounts) Rates {
	p := m.Params()

	rates := ZeroRates()
	if !a.LiquidityPoolAmount.IsPositive() {
		return rates
	}

	switch {
	case a.LongAmount.GT(a.ShortAmount):
		f := fundingRate(p, a.LongAmount, a.ShortAmount)
		rates.LongFundingRate = f
		rates.ShortFundingRate = f.Neg()
	case a.ShortAmount.GT(a.LongAmount):
		f := fundingRate(p, a.ShortAmount, a.LongAmount)
		rates.ShortFundingRate = f
		rates.LongFundingRate = f.Neg()
	}

	paid := rates.LongFundingRate.Mul(a.LongAmount).Add(rates.ShortFundingRate.Mul(a.ShortAmount))
	rates.LiquidityPoolFundingRate = paid.Quo(a.LiquidityPoolAmount).Neg()

	rates.RebalanceRate = fpmath.Min(p.MaxRebalanceRate,
		fpmath.Mul(p.RebalanceMultiplier, fpmath.Div(a.RebalanceAmount, a.LiquidityPoolAmount)))
	rates.RebalanceLiquidityPoolRate = rates.RebalanceRate.Mul(a.RebalanceAmount).Quo(a.LiquidityPoolAmount).Neg()

	return rates
}

// fundingRate is the imbalance of the heavy side relative to its own size.
func fundingRate(p Params, heavy, light sdkmath.Int) sdkmath.Int {
	return fpmath.Min(p.MaxFundingRate,
		fpmath.Mul(p.FundingMultiplier, fpmath.Div(heavy.Sub(light), heavy)))
}
