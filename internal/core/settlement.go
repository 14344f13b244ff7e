package core

import (
	"fmt"
	"time"

	"TrancheLedger/internal/event"
	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/ratemodel"
	"TrancheLedger/internal/state"

	sdkmath "cosmossdk.io/math"
)

// maxPriceSteps bounds the capped walk of one settlement. At the minimum
// change cap it still covers a price move by a factor of 1e21.
const maxPriceSteps = 50_000

// settlement is the result of closing one epoch, computed on a copy of the
// tranche table so that a failure leaves the engine untouched.
type settlement struct {
	table      state.TrancheTable
	priceSteps int
	fees       sdkmath.Int
	adminFees  sdkmath.Int
	records    []event.TrancheSettlement
	nextRates  ratemodel.Rates
}

// settle closes epoch `closing` at newPrice. Callers hold the write lock.
func (e *Engine) settle(closing int64, newPrice sdkmath.Int) (*settlement, error) {
	s := &settlement{table: e.tranches}
	walked := false
	err := fpmath.Checked(func() {
		s.priceSteps, walked = applyPrice(&s.table, e.price, newPrice, e.params.ChangeCap)
		if !walked {
			return
		}
		s.table.ApplyRates(e.rates, int64(e.params.EpochPeriod/time.Second))

		var tierFees [state.NumTiers]sdkmath.Int
		for i := range tierFees {
			tierFees[i] = fpmath.Zero()
		}
		for i := range s.table {
			rec := e.epochs.Get(closing, i)
			ts, fee := e.settleTranche(&s.table[i], i, rec)
			if !rec.HasActivity() {
				continue
			}
			tier := s.table[i].Tier()
			tierFees[tier-1] = tierFees[tier-1].Add(fee)
			s.records = append(s.records, ts)
		}

		s.fees, s.adminFees = fpmath.Zero(), fpmath.Zero()
		for i, fee := range tierFees {
			s.fees = s.fees.Add(fee)
			s.adminFees = s.adminFees.Add(e.splitFee(&s.table, int64(i+1), fee))
		}

		s.nextRates = e.rateModel.GetRates(s.table.PoolAmounts())
	})
	if err != nil {
		return nil, fmt.Errorf("%w: epoch %d: %v", ErrOverflow, closing, err)
	}
	if !walked {
		return nil, fmt.Errorf("%w: epoch %d: %s to %s exceeds %d steps at cap %s", ErrPriceMoveTooLarge, closing,
			fpmath.ToDecimal(e.price), fpmath.ToDecimal(newPrice), maxPriceSteps, fpmath.ToDecimal(e.params.ChangeCap))
	}

	for i := range s.records {
		t := s.table[s.records[i].Index]
		s.records[i].Shares = t.Shares
		s.records[i].Collateral = t.Collateral
	}
	return s, nil
}

// applyPrice walks the price from old to newPrice in steps no larger than
// limit and settles each step. Returns the number of steps, and false when
// newPrice was not reached within maxPriceSteps.
func applyPrice(table *state.TrancheTable, old, newPrice, limit sdkmath.Int) (int, bool) {
	steps := 0
	for steps < maxPriceSteps {
		change := fpmath.Div(newPrice.Sub(old), old)
		capped := fpmath.Clamp(change, limit)
		table.ApplyPriceChange(capped)
		steps++
		if capped.Equal(change) {
			return steps, true
		}
		old = fpmath.Mul(old, fpmath.One.Add(capped))
	}
	return steps, false
}

// settleTranche processes queued withdrawals then deposits of one tranche
// and returns the finalized rates and the deposit fee charged.
func (e *Engine) settleTranche(t *state.Tranche, index int, rec state.EpochRecord) (event.TrancheSettlement, sdkmath.Int) {
	ts := event.TrancheSettlement{
		Index:                      index,
		Deposits:                   rec.Deposits,
		Withdrawals:                rec.Withdrawals,
		SharesPerCollateralDeposit: fpmath.Zero(),
		CollateralPerShareWithdraw: fpmath.Zero(),
		Finalized:                  true,
	}
	fee := fpmath.Zero()

	if rec.Withdrawals.IsPositive() {
		cps := fpmath.Div(t.Collateral, t.Shares)
		t.Collateral = t.Collateral.Sub(fpmath.Mul(rec.Withdrawals, cps))
		t.Shares = t.Shares.Sub(rec.Withdrawals)
		ts.CollateralPerShareWithdraw = cps
	}

	if rec.Deposits.IsPositive() {
		fee = rec.Deposits.Mul(e.params.TransactionFee).MulRaw(t.Tier()).Quo(fpmath.One)
		net := rec.Deposits.Sub(fee)

		// Priced before this epoch's fee credit.
		minted := net
		if t.Shares.IsPositive() && t.Collateral.IsPositive() {
			minted = fpmath.MulDiv(net, t.Shares, t.Collateral)
		}
		ts.SharesPerCollateralDeposit = fpmath.Div(minted, rec.Deposits)
		t.Shares = t.Shares.Add(minted)
		t.Collateral = t.Collateral.Add(net)
	}
	return ts, fee
}

// splitFee credits the liquidity share of a tier's fees to its liquidity
// tranche and returns the admin share. An empty liquidity tranche forfeits
// its share to the admin.
func (e *Engine) splitFee(table *state.TrancheTable, tier int64, fee sdkmath.Int) sdkmath.Int {
	if fee.IsZero() {
		return fee
	}
	liquidityFee := fpmath.Mul(fee, e.params.LiquidityPoolFeeShare)
	adminFee := fee.Sub(liquidityFee)

	lp := &table[state.LiquidityIndex(tier)]
	if lp.Shares.IsZero() {
		return adminFee.Add(liquidityFee)
	}
	lp.Collateral = lp.Collateral.Add(liquidityFee)
	return adminFee
}
