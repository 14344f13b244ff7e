package core_test

import (
	"encoding/json"
	"testing"

	"TrancheLedger/internal/core"
	"TrancheLedger/internal/event"
	"TrancheLedger/internal/ledger"
	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/oracle"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// ============================================================================
// Test: Event stream
// ============================================================================

func TestEvents_SequencedAndChained(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	h.deposit(user, one, 0)
	h.nextEpoch()
	if err := h.engine.Withdraw(user, one.QuoRaw(10), 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	envs := h.drain()
	wantTypes := []event.EventType{
		event.EventTypeDepositQueued,
		event.EventTypeEpochSettled,
		event.EventTypeBookKept,
		event.EventTypeWithdrawalQueued,
	}
	if len(envs) != len(wantTypes) {
		t.Fatalf("events: got %d, want %d", len(envs), len(wantTypes))
	}
	for i, env := range envs {
		if env.EventType != wantTypes[i] {
			t.Errorf("event %d: got %s, want %s", i, env.EventType, wantTypes[i])
		}
		if env.Sequence != int64(i+1) {
			t.Errorf("event %d: sequence %d, want %d", i, env.Sequence, i+1)
		}
		if i > 0 && env.PrevHash != envs[i-1].StateHash {
			t.Errorf("event %d: hash chain broken", i)
		}
	}
	if envs[1].Epoch != 1 {
		t.Errorf("settlement envelope epoch: got %d, want 1", envs[1].Epoch)
	}
	if got := h.engine.Sequence(); got != 4 {
		t.Errorf("sequence: got %d, want 4", got)
	}
}

// ============================================================================
// Test: Snapshot / Restore
// ============================================================================

func TestSnapshot_RestoreContinuesIdentically(t *testing.T) {
	h := newDefaultHarness(t)
	for i, u := range h.users {
		h.deposit(u, one, i)
	}
	h.nextEpoch()
	h.engine.BookKeeping(h.users[0])

	snapshot, err := h.engine.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// A second engine sharing token and clock picks up from the snapshot.
	restored, err := core.NewEngine(core.Config{
		Admin:     h.owner,
		Asset:     h.token,
		Oracle:    h.oracle,
		RateModel: h.rates,
		Clock:     h.clock.Now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	h.nextEpoch()
	if advanced, err := restored.StartNextEpoch(); err != nil || !advanced {
		t.Fatalf("restored epoch: advanced=%v err=%v", advanced, err)
	}
	for _, u := range h.users {
		h.engine.BookKeeping(u)
		restored.BookKeeping(u)
	}

	if restored.Epoch() != h.engine.Epoch() {
		t.Errorf("epoch: got %d, want %d", restored.Epoch(), h.engine.Epoch())
	}
	for i, u := range h.users {
		assertInt(t, "value", restored.UserDeposits(u)[i], h.engine.UserDeposits(u)[i])
	}
	assertInt(t, "admin fees", restored.AdminFees(), h.engine.AdminFees())
	assertRates(t, "rates", restored.Rates(), [5]string{
		h.engine.Rates().LongFundingRate.String(),
		h.engine.Rates().ShortFundingRate.String(),
		h.engine.Rates().LiquidityPoolFundingRate.String(),
		h.engine.Rates().RebalanceRate.String(),
		h.engine.Rates().RebalanceLiquidityPoolRate.String(),
	})
	if after, _ := restored.Snapshot(); after.StateHash == [32]byte{} {
		t.Error("restored hash chain is empty")
	}
}

func TestSnapshot_RestoreCarriesCustody(t *testing.T) {
	h := newDefaultHarness(t)
	user := h.users[0]

	h.deposit(user, one, 0)
	h.nextEpoch()
	shares := h.engine.UserShares(user)[0]
	if err := h.engine.Withdraw(user, shares, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	h.nextEpoch()
	h.engine.BookKeeping(user)

	owed := h.engine.WithdrawableCollateral(user)
	if !owed.IsPositive() {
		t.Fatalf("withdrawable: got %s, want > 0", owed)
	}

	snapshot, err := h.engine.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Fresh process: empty token ledger, custody comes only from the snapshot.
	token := ledger.NewTokenLedger()
	restored, err := core.NewEngine(core.Config{
		Admin:  h.owner,
		Asset:  token,
		Oracle: oracle.NewStaticOracle(),
		Clock:  h.clock.Now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	assertInt(t, "custody", token.CustodyBalance(), h.token.CustodyBalance())
	assertInt(t, "user balance", token.BalanceOf(user), h.token.BalanceOf(user))

	if err := restored.WithdrawCollateral(user, owed); err != nil {
		t.Fatalf("withdraw collateral after restore: %v", err)
	}
	assertInt(t, "user balance after payout", token.BalanceOf(user), dec("999").Add(owed))
	assertInt(t, "withdrawable after payout", restored.WithdrawableCollateral(user), fpmath.Zero())
	if err := token.Validate(); err != nil {
		t.Errorf("token invariants: %v", err)
	}
}

func TestSnapshot_RestoreRejectsCustodyForPlainAsset(t *testing.T) {
	h := newDefaultHarness(t)
	h.deposit(h.users[0], one, 0)
	snap, err := h.engine.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Asset) == 0 {
		t.Fatal("snapshot has no custody state")
	}

	restored, err := core.NewEngine(core.Config{
		Admin:  h.owner,
		Asset:  plainAsset{},
		Oracle: oracle.NewStaticOracle(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := restored.Restore(snap); err == nil {
		t.Fatal("restore: got nil error, want custody mismatch")
	}
}

type plainAsset struct{}

func (plainAsset) TransferIn(uuid.UUID, sdkmath.Int) error  { return nil }
func (plainAsset) TransferOut(uuid.UUID, sdkmath.Int) error { return nil }
