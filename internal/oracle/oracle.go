// Package oracle provides reference-price sources for epoch settlement.
package oracle

import (
	"errors"
	"sync"
	"time"

	fpmath "TrancheLedger/internal/math"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidPrice = errors.New("oracle: price must be positive")
	ErrNoPrice      = errors.New("oracle: no price received yet")
	ErrStalePrice   = errors.New("oracle: price sequence is not newer than the current one")
)

// PriceOracle returns the current reference price in fixed point.
type PriceOracle interface {
	Price() (sdkmath.Int, error)
}

// StaticOracle holds a settable price. Starts at 1.0.
type StaticOracle struct {
	mu    sync.RWMutex
	price sdkmath.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{price: fpmath.One}
}

func (o *StaticOracle) Price() (sdkmath.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.price, nil
}

func (o *StaticOracle) SetPrice(price sdkmath.Int) error {
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	o.mu.Lock()
	o.price = price
	o.mu.Unlock()
	return nil
}

// PriceUpdate is one observation from an upstream feed.
type PriceUpdate struct {
	Price     sdkmath.Int
	Sequence  int64
	Timestamp time.Time
}

// FeedOracle keeps the latest update pushed by a feed consumer. Updates with
// a sequence at or below the current one are rejected, so redelivered or
// reordered messages cannot move the price backwards.
type FeedOracle struct {
	mu     sync.RWMutex
	latest PriceUpdate
	seen   bool
}

func NewFeedOracle() *FeedOracle {
	return &FeedOracle{}
}

// Update applies a new observation.
func (o *FeedOracle) Update(u PriceUpdate) error {
	if u.Price.IsNil() || !u.Price.IsPositive() {
		return ErrInvalidPrice
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen && u.Sequence <= o.latest.Sequence {
		return ErrStalePrice
	}
	o.latest = u
	o.seen = true
	return nil
}

// Price implements PriceOracle.
func (o *FeedOracle) Price() (sdkmath.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.seen {
		return sdkmath.Int{}, ErrNoPrice
	}
	return o.latest.Price, nil
}

// Latest returns the last accepted update and whether one exists.
func (o *FeedOracle) Latest() (PriceUpdate, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest, o.seen
}
