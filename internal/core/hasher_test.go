package core_test

import (
	"crypto/sha256"
	"testing"

	"TrancheLedger/internal/core"
	"TrancheLedger/internal/event"
)

// ============================================================================
// Test: State hash chain
// ============================================================================

func TestStateHasher_GenesisTip(t *testing.T) {
	h := core.NewStateHasher()
	if got, want := h.Tip(), sha256.Sum256([]byte(core.GenesisHashSeed)); got != want {
		t.Fatalf("genesis tip: got %x, want %x", got, want)
	}
}

func TestStateHasher_ChainAdvancesTip(t *testing.T) {
	h := core.NewStateHasher()
	genesis := h.Tip()
	hash := h.Chain(1, event.EventTypeDepositQueued, 0, []byte("digest"))
	if hash == genesis {
		t.Fatal("chained hash equals genesis")
	}
	if h.Tip() != hash {
		t.Fatalf("tip: got %x, want %x", h.Tip(), hash)
	}
}

func TestStateHasher_BindsEventTypeAndEpoch(t *testing.T) {
	base := core.NewStateHasher().Chain(1, event.EventTypeDepositQueued, 0, []byte("d"))
	otherType := core.NewStateHasher().Chain(1, event.EventTypeWithdrawalQueued, 0, []byte("d"))
	otherEpoch := core.NewStateHasher().Chain(1, event.EventTypeDepositQueued, 1, []byte("d"))
	if base == otherType {
		t.Error("event type not bound into hash")
	}
	if base == otherEpoch {
		t.Error("epoch not bound into hash")
	}
}

func TestStateHasher_RestoreContinuesChain(t *testing.T) {
	a := core.NewStateHasher()
	a.Chain(1, event.EventTypeDepositQueued, 0, []byte("x"))

	b := core.RestoreStateHasher(a.Tip())
	want := a.Chain(2, event.EventTypeBookKept, 0, []byte("y"))
	if got := b.Chain(2, event.EventTypeBookKept, 0, []byte("y")); got != want {
		t.Fatalf("restored chain: got %x, want %x", got, want)
	}
}
