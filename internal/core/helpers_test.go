package core_test

import (
	"sync"
	"testing"
	"time"

	"TrancheLedger/internal/core"
	"TrancheLedger/internal/event"
	"TrancheLedger/internal/ledger"
	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/oracle"
	"TrancheLedger/internal/ratemodel"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// --- Test helpers ---

var one = fpmath.One

func mustInt(s string) sdkmath.Int { return fpmath.MustParseInt(s) }

func dec(s string) sdkmath.Int { return fpmath.MustFromDecimal(s) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness is an engine wired to an in-memory token with 1000 tokens minted
// to the owner (admin) and three users.
type harness struct {
	t      *testing.T
	engine *core.Engine
	token  *ledger.TokenLedger
	oracle *oracle.StaticOracle
	rates  *ratemodel.BaseRateModel
	clock  *fakeClock
	events chan event.Envelope
	period time.Duration

	owner uuid.UUID
	users [3]uuid.UUID
}

func newHarness(t *testing.T, rateParams ratemodel.Params) *harness {
	t.Helper()

	rm, err := ratemodel.NewBaseRateModel(rateParams)
	if err != nil {
		t.Fatalf("rate model: %v", err)
	}
	h := &harness{
		t:      t,
		token:  ledger.NewTokenLedger(),
		oracle: oracle.NewStaticOracle(),
		rates:  rm,
		clock:  &fakeClock{now: time.Unix(1_700_000_000, 0)},
		events: make(chan event.Envelope, 1024),
		period: time.Hour,
		owner:  uuid.New(),
	}
	for i := range h.users {
		h.users[i] = uuid.New()
	}

	params := core.DefaultParams()
	params.EpochPeriod = h.period

	h.engine, err = core.NewEngine(core.Config{
		Admin:     h.owner,
		Asset:     h.token,
		Oracle:    h.oracle,
		RateModel: rm,
		Params:    params,
		Clock:     h.clock.Now,
		Outputs:   h.events,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	mint := dec("1000")
	for _, id := range append([]uuid.UUID{h.owner}, h.users[:]...) {
		if err := h.token.Mint(id, mint); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	return h
}

func newDefaultHarness(t *testing.T) *harness {
	return newHarness(t, ratemodel.DefaultParams())
}

// deposit approves and deposits, failing the test on error.
func (h *harness) deposit(account uuid.UUID, amount sdkmath.Int, tranche int) {
	h.t.Helper()
	if err := h.token.Approve(account, amount); err != nil {
		h.t.Fatalf("approve: %v", err)
	}
	if err := h.engine.Deposit(account, amount, tranche); err != nil {
		h.t.Fatalf("deposit %s into %d: %v", amount, tranche, err)
	}
}

// nextEpoch moves the clock one period forward and settles.
func (h *harness) nextEpoch() {
	h.t.Helper()
	h.clock.Advance(h.period)
	advanced, err := h.engine.StartNextEpoch()
	if err != nil {
		h.t.Fatalf("start next epoch: %v", err)
	}
	if !advanced {
		h.t.Fatal("epoch did not advance")
	}
}

func (h *harness) setPrice(p sdkmath.Int) {
	h.t.Helper()
	if err := h.oracle.SetPrice(p); err != nil {
		h.t.Fatalf("set price: %v", err)
	}
}

// value returns the current value of the account's shares in one tranche.
func (h *harness) value(account uuid.UUID, tranche int) sdkmath.Int {
	return h.engine.UserDeposits(account)[tranche]
}

// drain returns every envelope emitted so far.
func (h *harness) drain() []event.Envelope {
	var out []event.Envelope
	for {
		select {
		case env := <-h.events:
			out = append(out, env)
		default:
			return out
		}
	}
}

func assertInt(t *testing.T, name string, got, want sdkmath.Int) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s: got %s, want %s", name, got, want)
	}
}
