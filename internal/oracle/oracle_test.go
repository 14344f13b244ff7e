package oracle_test

import (
	"errors"
	"testing"
	"time"

	fpmath "TrancheLedger/internal/math"
	"TrancheLedger/internal/oracle"

	sdkmath "cosmossdk.io/math"
)

func TestStaticOracle_DefaultsToOne(t *testing.T) {
	o := oracle.NewStaticOracle()
	p, err := o.Price()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !p.Equal(fpmath.One) {
		t.Errorf("got %s, want %s", p, fpmath.One)
	}
}

func TestStaticOracle_SetPrice(t *testing.T) {
	o := oracle.NewStaticOracle()
	want := fpmath.MustParseInt("1092012000000000000")
	if err := o.SetPrice(want); err != nil {
		t.Fatalf("set price: %v", err)
	}
	got, _ := o.Price()
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}

	if err := o.SetPrice(fpmath.Zero()); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Errorf("zero price: got %v, want ErrInvalidPrice", err)
	}
	if err := o.SetPrice(sdkmath.NewInt(-1)); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Errorf("negative price: got %v, want ErrInvalidPrice", err)
	}
	got, _ = o.Price()
	if !got.Equal(want) {
		t.Errorf("rejected update changed price to %s", got)
	}
}

func TestFeedOracle_NoPriceYet(t *testing.T) {
	o := oracle.NewFeedOracle()
	if _, err := o.Price(); !errors.Is(err, oracle.ErrNoPrice) {
		t.Errorf("got %v, want ErrNoPrice", err)
	}
}

func TestFeedOracle_RejectsStaleSequence(t *testing.T) {
	o := oracle.NewFeedOracle()
	now := time.Unix(1_700_000_000, 0)

	if err := o.Update(oracle.PriceUpdate{Price: fpmath.One, Sequence: 5, Timestamp: now}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	newer := fpmath.MustFromDecimal("1.01")
	if err := o.Update(oracle.PriceUpdate{Price: newer, Sequence: 6, Timestamp: now}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if err := o.Update(oracle.PriceUpdate{Price: fpmath.One, Sequence: 6, Timestamp: now}); !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("duplicate sequence: got %v, want ErrStalePrice", err)
	}
	if err := o.Update(oracle.PriceUpdate{Price: fpmath.One, Sequence: 3, Timestamp: now}); !errors.Is(err, oracle.ErrStalePrice) {
		t.Errorf("older sequence: got %v, want ErrStalePrice", err)
	}

	got, err := o.Price()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !got.Equal(newer) {
		t.Errorf("got %s, want %s", got, newer)
	}
	latest, ok := o.Latest()
	if !ok || latest.Sequence != 6 {
		t.Errorf("latest: got seq=%d ok=%v, want seq=6 ok=true", latest.Sequence, ok)
	}
}

func TestFeedOracle_RejectsNonPositive(t *testing.T) {
	o := oracle.NewFeedOracle()
	if err := o.Update(oracle.PriceUpdate{Price: fpmath.Zero(), Sequence: 1}); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Errorf("got %v, want ErrInvalidPrice", err)
	}
}
