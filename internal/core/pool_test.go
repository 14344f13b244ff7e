package core_test

import (
	"errors"
	"testing"

	"TrancheLedger/internal/core"
	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/state"
)

// ============================================================================
// Test: Deposit
// ============================================================================

func TestDeposit_FirstLiquidityDepositorCapturesFee(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	h.deposit(user, one, 0)
	h.nextEpoch()
	h.engine.BookKeeping(user)

	rec, err := h.engine.PoolEpochData(1, 0)
	if err != nil {
		t.Fatalf("pool epoch data: %v", err)
	}
	assertInt(t, "shares per deposit", rec.SharesPerCollateralDeposit, mustInt("997000000000000000"))
	assertInt(t, "user shares", h.engine.UserShares(user)[0], mustInt("997000000000000000"))
	assertInt(t, "user value", h.value(user, 0), mustInt("999400000000000000"))
	assertInt(t, "admin fees", h.engine.AdminFees(), mustInt("600000000000000"))
}

func TestDeposit_FeeGoesToAdminWhenTierHasNoLiquidity(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	h.deposit(user, one, 1)
	h.nextEpoch()
	h.engine.BookKeeping(user)

	assertInt(t, "user value", h.value(user, 1), mustInt("997000000000000000"))
	assertInt(t, "admin fees", h.engine.AdminFees(), mustInt("3000000000000000"))
}

func TestDeposit_QueuesUntilSettlementAndBookKeeping(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	h.deposit(user, one, 0)

	rec, _ := h.engine.PoolEpochData(1, 0)
	assertInt(t, "spcd before close", rec.SharesPerCollateralDeposit, fpmath.Zero())
	assertInt(t, "cps before close", rec.CollateralPerShareWithdraw, fpmath.Zero())
	assertInt(t, "deposits", rec.Deposits, one)
	assertInt(t, "withdrawals", rec.Withdrawals, fpmath.Zero())

	actions := h.engine.UserActions(user)
	if len(actions) != 1 {
		t.Fatalf("actions: got %d, want 1", len(actions))
	}
	if actions[0].Epoch != 1 || actions[0].Tranche != 0 {
		t.Errorf("action key: got (%d, %d), want (1, 0)", actions[0].Epoch, actions[0].Tranche)
	}
	assertInt(t, "action deposit", actions[0].DepositAmount, one)
	assertInt(t, "action withdraw", actions[0].WithdrawAmount, fpmath.Zero())

	h.nextEpoch()

	rec, _ = h.engine.PoolEpochData(1, 0)
	assertInt(t, "spcd after close", rec.SharesPerCollateralDeposit, mustInt("997000000000000000"))
	if !rec.Settled {
		t.Error("record should be settled")
	}

	// Views do not fold pending actions.
	if got := len(h.engine.UserActions(user)); got != 1 {
		t.Errorf("actions before bookkeeping: got %d, want 1", got)
	}
	assertInt(t, "shares before bookkeeping", h.engine.UserShares(user)[0], fpmath.Zero())

	h.engine.BookKeeping(user)
	if got := len(h.engine.UserActions(user)); got != 0 {
		t.Errorf("actions after bookkeeping: got %d, want 0", got)
	}
}

func TestDeposit_SameEpochActionsMerge(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	h.deposit(user, one, 4)
	h.deposit(user, one, 4)

	actions := h.engine.UserActions(user)
	if len(actions) != 1 {
		t.Fatalf("actions: got %d, want 1", len(actions))
	}
	assertInt(t, "merged deposit", actions[0].DepositAmount, dec("2"))
}

func TestDeposit_Validation(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	if err := h.engine.Deposit(user, one, 0); !errors.Is(err, core.ErrTransferFailed) {
		t.Errorf("without approval: got %v, want ErrTransferFailed", err)
	}
	if err := h.engine.Deposit(user, mustInt("-1"), 0); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
	if err := h.engine.Deposit(user, fpmath.Zero(), 0); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if err := h.engine.Deposit(user, one, 10); !errors.Is(err, core.ErrInvalidPool) {
		t.Errorf("pool 10: got %v, want ErrInvalidPool", err)
	}
	if err := h.engine.Deposit(user, one, -1); !errors.Is(err, core.ErrInvalidPool) {
		t.Errorf("pool -1: got %v, want ErrInvalidPool", err)
	}

	// Nothing was queued or transferred.
	if got := len(h.engine.UserActions(user)); got != 0 {
		t.Errorf("actions: got %d, want 0", got)
	}
	assertInt(t, "balance", h.token.BalanceOf(user), dec("1000"))
	rec, _ := h.engine.PoolEpochData(1, 0)
	assertInt(t, "deposits", rec.Deposits, fpmath.Zero())
}

// ============================================================================
// Test: Withdraw / BookKeeping / WithdrawCollateral
// ============================================================================

func TestWithdraw_RoundTrip(t *testing.T) {
	h := newDefaultHarness(t)
	owner := h.owner

	h.deposit(owner, one, 0)
	assertInt(t, "balance after deposit", h.token.BalanceOf(owner), dec("999"))
	h.nextEpoch()

	// Custody holds exactly the tranche collateral plus admin fees.
	pools := h.engine.Pools()
	assertInt(t, "custody", h.token.CustodyBalance(), pools.TotalCollateral().Add(h.engine.AdminFees()))

	if err := h.engine.Withdraw(owner, dec("0.1"), 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	rec, _ := h.engine.PoolEpochData(2, 0)
	assertInt(t, "queued withdrawals", rec.Withdrawals, dec("0.1"))

	h.nextEpoch()

	rec, _ = h.engine.PoolEpochData(2, 0)
	assertInt(t, "collateral per share", rec.CollateralPerShareWithdraw, mustInt("1002407221664994984"))
	assertInt(t, "withdrawable before bookkeeping", h.engine.WithdrawableCollateral(owner), fpmath.Zero())

	h.engine.BookKeeping(owner)
	assertInt(t, "withdrawable", h.engine.WithdrawableCollateral(owner), mustInt("100240722166499498"))
	assertInt(t, "shares", h.engine.UserShares(owner)[0], mustInt("897000000000000000"))

	if err := h.engine.WithdrawCollateral(owner, dec("0.05")); err != nil {
		t.Fatalf("withdraw collateral: %v", err)
	}
	assertInt(t, "withdrawable after", h.engine.WithdrawableCollateral(owner), mustInt("50240722166499498"))
	assertInt(t, "balance after", h.token.BalanceOf(owner), dec("999.05"))
}

func TestWithdraw_RunsBookKeepingFirst(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	h.deposit(user, one, 0)
	h.nextEpoch()

	// Shares minted at epoch 1 are usable without an explicit BookKeeping.
	if err := h.engine.Withdraw(user, mustInt("997000000000000000"), 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertInt(t, "shares", h.engine.UserShares(user)[0], mustInt("997000000000000000"))
}

func TestWithdraw_CannotExceedSettledShares(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	h.deposit(user, one, 0)
	if err := h.engine.Withdraw(user, one, 0); !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("before settlement: got %v, want ErrInsufficientBalance", err)
	}

	h.nextEpoch()

	half := mustInt("498500000000000000")
	if err := h.engine.Withdraw(user, half, 0); err != nil {
		t.Fatalf("first half: %v", err)
	}
	if err := h.engine.Withdraw(user, half, 0); err != nil {
		t.Fatalf("second half: %v", err)
	}
	if err := h.engine.Withdraw(user, mustInt("1"), 0); !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("over queued: got %v, want ErrInsufficientBalance", err)
	}
	if err := h.engine.Withdraw(user, one, 9); !errors.Is(err, core.ErrInvalidPool) {
		t.Errorf("pool 9: got %v, want ErrInvalidPool", err)
	}
	if err := h.engine.Withdraw(user, fpmath.Zero(), 0); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero shares: got %v, want ErrInvalidAmount", err)
	}
}

func TestWithdrawCollateral_Validation(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	if err := h.engine.WithdrawCollateral(user, fpmath.Zero()); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero: got %v, want ErrInvalidAmount", err)
	}
	if err := h.engine.WithdrawCollateral(user, mustInt("1")); !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("nothing withdrawable: got %v, want ErrInsufficientBalance", err)
	}
}

func TestBookKeeping_EmptyQueueIsNoop(t *testing.T) {
	h := newDefaultHarness(t)
	h.engine.BookKeeping(h.users[0])

	if got := len(h.engine.Accounts()); got != 0 {
		t.Errorf("accounts: got %d, want 0", got)
	}
	if got := len(h.drain()); got != 0 {
		t.Errorf("events: got %d, want 0", got)
	}
}

// ============================================================================
// Test: Views
// ============================================================================

func TestPool_InvalidIndex(t *testing.T) {
	h := newDefaultHarness(t)

	if _, err := h.engine.Pool(state.NumTranches); !errors.Is(err, core.ErrInvalidPool) {
		t.Errorf("pool 9: got %v, want ErrInvalidPool", err)
	}
	if _, err := h.engine.PoolEpochData(0, 9); !errors.Is(err, core.ErrInvalidPool) {
		t.Errorf("epoch data pool 9: got %v, want ErrInvalidPool", err)
	}

	pool, err := h.engine.Pool(5)
	if err != nil {
		t.Fatalf("pool 5: %v", err)
	}
	if pool.Leverage != -2 || pool.RebalanceMultiplier != 3 || pool.IsLiquidityPool {
		t.Errorf("pool 5: got leverage %d multiplier %d, want -2 and 3", pool.Leverage, pool.RebalanceMultiplier)
	}
}
