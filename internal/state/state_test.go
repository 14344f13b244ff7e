package state_test

import (
	"errors"
	"testing"

	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/ratemodel"
	"TrancheLedger/internal/state"

	sdkmath "cosmossdk.io/math"
)

func mustInt(s string) sdkmath.Int { return fpmath.MustParseInt(s) }

// ============================================================================
// Test: TrancheTable layout
// ============================================================================

func TestNewTrancheTable_Layout(t *testing.T) {
	table := state.NewTrancheTable()
	want := []struct {
		leverage  int64
		rebalance int64
		liquidity bool
		kind      state.TrancheKind
	}{
		{1, 0, true, state.KindLiquidity},
		{1, 0, false, state.KindLong},
		{-1, 1, false, state.KindShort},
		{2, 0, true, state.KindLiquidity},
		{2, 1, false, state.KindLong},
		{-2, 3, false, state.KindShort},
		{3, 0, true, state.KindLiquidity},
		{3, 3, false, state.KindLong},
		{-3, 6, false, state.KindShort},
	}
	for i, w := range want {
		got := table[i]
		if got.Leverage != w.leverage || got.RebalanceMultiplier != w.rebalance ||
			got.IsLiquidityPool != w.liquidity || got.Kind() != w.kind {
			t.Errorf("tranche %d: got %+v, want %+v", i, got, w)
		}
		if !got.Shares.IsZero() || !got.Collateral.IsZero() {
			t.Errorf("tranche %d should start empty", i)
		}
	}
}

func TestCheckIndex(t *testing.T) {
	for _, i := range []int{0, 8} {
		if err := state.CheckIndex(i); err != nil {
			t.Errorf("index %d: unexpected error %v", i, err)
		}
	}
	for _, i := range []int{-1, 9, 10} {
		if err := state.CheckIndex(i); !errors.Is(err, state.ErrInvalidTranche) {
			t.Errorf("index %d: got %v, want ErrInvalidTranche", i, err)
		}
	}
}

// ============================================================================
// Test: PoolAmounts
// ============================================================================

func tier1Table(lp, long, short string) state.TrancheTable {
	table := state.NewTrancheTable()
	table[0].Collateral = mustInt(lp)
	table[1].Collateral = mustInt(long)
	table[2].Collateral = mustInt(short)
	return table
}

func TestPoolAmounts_Tier1(t *testing.T) {
	table := tier1Table("1004312921737291278", "997000000000000000", "996887078262708722")
	a := table.PoolAmounts()

	checks := []struct {
		name string
		got  sdkmath.Int
		want string
	}{
		{"long", a.LongAmount, "997000000000000000"},
		{"short", a.ShortAmount, "996887078262708722"},
		{"liquidity", a.LiquidityPoolAmount, "1004312921737291278"},
		{"rebalance", a.RebalanceAmount, "996887078262708722"},
		{"long leverage", a.LongLeverage, "1000000000000000000"},
		{"short leverage", a.ShortLeverage, "1000000000000000000"},
		{"liquidity leverage", a.LiquidityPoolLeverage, "-112436806145979"},
	}
	for _, c := range checks {
		if c.got.String() != c.want {
			t.Errorf("%s: got %s, want %s", c.name, c.got, c.want)
		}
	}
}

func TestPoolAmounts_Tier2ScalesByLeverage(t *testing.T) {
	table := state.NewTrancheTable()
	table[3].Collateral = mustInt("1008400000000000000")
	table[4].Collateral = mustInt("994000000000000000")
	table[5].Collateral = mustInt("994000000000000000")
	a := table.PoolAmounts()

	if a.LongAmount.String() != "1988000000000000000" {
		t.Errorf("long: got %s", a.LongAmount)
	}
	if a.LiquidityPoolAmount.String() != "2016800000000000000" {
		t.Errorf("liquidity: got %s", a.LiquidityPoolAmount)
	}
	if a.RebalanceAmount.String() != "3976000000000000000" {
		t.Errorf("rebalance: got %s", a.RebalanceAmount)
	}
}

func TestPoolAmounts_UncoveredLongIsDeleveraged(t *testing.T) {
	table := tier1Table("0", "2000000000000000000", "500000000000000000")
	a := table.PoolAmounts()
	if a.LongLeverage.String() != "250000000000000000" {
		t.Errorf("long leverage: got %s, want 250000000000000000", a.LongLeverage)
	}
	if !a.LiquidityPoolLeverage.IsZero() {
		t.Errorf("liquidity leverage with no liquidity: got %s, want 0", a.LiquidityPoolLeverage)
	}
}

// ============================================================================
// Test: settlement steps
// ============================================================================

func TestApplyPriceChange_OnePercent(t *testing.T) {
	table := tier1Table("1004200000000000000", "997000000000000000", "997000000000000000")
	before := table.TotalCollateral()

	table.ApplyPriceChange(fpmath.MustFromDecimal("0.01"))

	if got := table[0].Collateral.String(); got != "1004200000000000000" {
		t.Errorf("liquidity: got %s, want unchanged", got)
	}
	if got := table[1].Collateral.String(); got != "1006970000000000000" {
		t.Errorf("long: got %s, want 1006970000000000000", got)
	}
	if got := table[2].Collateral.String(); got != "987030000000000000" {
		t.Errorf("short: got %s, want 987030000000000000", got)
	}
	if after := table.TotalCollateral(); !after.Equal(before) {
		t.Errorf("total collateral changed: %s -> %s", before, after)
	}
}

func TestApplyRates_OneHourRebalance(t *testing.T) {
	table := tier1Table("1004200000000000000", "997000000000000000", "997000000000000000")
	rates := ratemodel.ZeroRates()
	rates.RebalanceRate = mustInt("992830113523202549")
	rates.RebalanceLiquidityPoolRate = mustInt("-985711634318495261")

	table.ApplyRates(rates, 3600)

	if got := table[0].Collateral.String(); got != "1004312921737291278" {
		t.Errorf("liquidity: got %s, want 1004312921737291278", got)
	}
	if got := table[1].Collateral.String(); got != "997000000000000000" {
		t.Errorf("long (multiplier 0): got %s, want 997000000000000000", got)
	}
	if got := table[2].Collateral.String(); got != "996887078262708722" {
		t.Errorf("short: got %s, want 996887078262708722", got)
	}
}

func TestApplyRates_ZeroRatesConserve(t *testing.T) {
	table := tier1Table("1004200000000000000", "997000000000000000", "997000000000000000")
	before := table.TotalCollateral()
	table.ApplyRates(ratemodel.ZeroRates(), 3600)
	if after := table.TotalCollateral(); !after.Equal(before) {
		t.Errorf("zero rates changed total collateral: %s -> %s", before, after)
	}
}

// ============================================================================
// Test: EpochBook
// ============================================================================

func TestEpochBook_FinalizeOnce(t *testing.T) {
	book := state.NewEpochBook()
	if err := book.AddDeposit(1, 0, fpmath.One); err != nil {
		t.Fatalf("add deposit: %v", err)
	}
	if err := book.Finalize(1, 0, mustInt("997000000000000000"), fpmath.Zero()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := book.Finalize(1, 0, fpmath.One, fpmath.Zero()); err == nil {
		t.Error("second finalize should fail")
	}
	if err := book.AddDeposit(1, 0, fpmath.One); err == nil {
		t.Error("deposit into settled epoch should fail")
	}

	rec := book.Get(1, 0)
	if rec.SharesPerCollateralDeposit.String() != "997000000000000000" || !rec.Deposits.Equal(fpmath.One) || !rec.Settled {
		t.Errorf("unexpected record %+v", rec)
	}

	empty := book.Get(7, 3)
	if empty.HasActivity() || empty.Settled {
		t.Errorf("missing record should be empty, got %+v", empty)
	}
}

func TestEpochBook_EntriesRoundTrip(t *testing.T) {
	book := state.NewEpochBook()
	_ = book.AddDeposit(2, 4, fpmath.One)
	_ = book.AddWithdrawal(1, 0, fpmath.One)

	entries := book.Entries()
	if len(entries) != 2 || entries[0].Epoch != 1 || entries[1].Tranche != 4 {
		t.Fatalf("entries not ordered: %+v", entries)
	}
	restored := state.RestoreEpochBook(entries)
	if !restored.Get(2, 4).Deposits.Equal(fpmath.One) {
		t.Error("restored book lost deposit")
	}
}

// ============================================================================
// Test: Account
// ============================================================================

func TestAccount_QueueMergesSameEpochAndTranche(t *testing.T) {
	a := state.NewAccount()
	a.Queue(1, 0, fpmath.One, fpmath.Zero())
	a.Queue(1, 0, fpmath.One, fpmath.Zero())
	a.Queue(1, 1, fpmath.One, fpmath.Zero())

	if len(a.Actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(a.Actions))
	}
	if got := a.Actions[0].DepositAmount.String(); got != "2000000000000000000" {
		t.Errorf("merged deposit: got %s", got)
	}
}

func TestAccount_SettleAppliesOnlyClosedEpochs(t *testing.T) {
	book := state.NewEpochBook()
	_ = book.AddDeposit(1, 0, fpmath.One)
	_ = book.Finalize(1, 0, mustInt("997000000000000000"), fpmath.Zero())
	_ = book.AddDeposit(2, 0, fpmath.One)

	a := state.NewAccount()
	a.Queue(1, 0, fpmath.One, fpmath.Zero())
	a.Queue(2, 0, fpmath.One, fpmath.Zero())

	next, applied := a.Settle(1, book)
	if len(applied) != 1 {
		t.Fatalf("got %d applied, want 1", len(applied))
	}
	if got := next.Shares[0].String(); got != "997000000000000000" {
		t.Errorf("shares: got %s, want 997000000000000000", got)
	}
	if len(next.Actions) != 1 || next.Actions[0].Epoch != 2 {
		t.Errorf("open-epoch action should remain, got %+v", next.Actions)
	}
	if len(a.Actions) != 2 || !a.Shares[0].IsZero() {
		t.Error("Settle must not modify the receiver")
	}
}

func TestAccount_SettleWithdrawal(t *testing.T) {
	book := state.NewEpochBook()
	_ = book.AddWithdrawal(2, 0, mustInt("100000000000000000"))
	_ = book.Finalize(2, 0, fpmath.Zero(), mustInt("1002407221664994984"))

	a := state.NewAccount()
	a.Shares[0] = mustInt("997000000000000000")
	a.Queue(2, 0, fpmath.Zero(), mustInt("100000000000000000"))

	if q := a.QueuedWithdrawals(0); q.String() != "100000000000000000" {
		t.Errorf("queued: got %s", q)
	}

	next, _ := a.Settle(2, book)
	if got := next.Shares[0].String(); got != "897000000000000000" {
		t.Errorf("shares: got %s, want 897000000000000000", got)
	}
	if got := next.Withdrawable.String(); got != "100240722166499498" {
		t.Errorf("withdrawable: got %s, want 100240722166499498", got)
	}
}
