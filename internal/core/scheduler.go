package core

import (
	"fmt"
	"time"

	"TrancheLedger/internal/event"
	"TrancheLedger/internal/oracle"

	"github.com/google/uuid"
)

// StartNextEpoch closes the open epoch once epochPeriod has elapsed since it
// started. Calling it early is a no-op that reports false.
func (e *Engine) StartNextEpoch() (bool, error) {
	e.mu.Lock()
	envs, err := e.startNextEpoch()
	e.mu.Unlock()

	if err != nil {
		e.logger.Error().Err(err).Msg("settlement failed")
		if e.metrics != nil {
			e.metrics.SettlementFailures.WithLabelValues(rejectReason(err)).Inc()
		}
		return false, err
	}
	e.publish(envs)
	return len(envs) > 0, nil
}

func (e *Engine) startNextEpoch() ([]event.Envelope, error) {
	now := e.clock()
	if now.Before(e.epochStartTime.Add(e.params.EpochPeriod)) {
		return nil, nil
	}

	start := time.Now()
	newPrice, err := e.oracle.Price()
	if err != nil {
		return nil, fmt.Errorf("read price: %w", err)
	}
	if newPrice.IsNil() || !newPrice.IsPositive() {
		return nil, oracle.ErrInvalidPrice
	}

	closing := e.epoch + 1
	s, err := e.settle(closing, newPrice)
	if err != nil {
		return nil, err
	}

	for _, r := range s.records {
		if err := e.epochs.Finalize(closing, r.Index, r.SharesPerCollateralDeposit, r.CollateralPerShareWithdraw); err != nil {
			// Unreachable: an epoch closes exactly once.
			panic(fmt.Sprintf("FATAL: %v", err))
		}
	}

	applied := e.rates
	previous := e.price
	e.tranches = s.table
	e.adminFees = e.adminFees.Add(s.adminFees)
	e.rates = s.nextRates
	e.price = newPrice
	e.epoch = closing
	e.epochStartTime = now

	env := e.record(&event.EpochSettled{
		ClosedEpoch:      closing,
		PreviousPrice:    previous,
		Price:            newPrice,
		PriceSteps:       s.priceSteps,
		FeesCollected:    s.fees,
		AdminFeesAccrued: s.adminFees,
		AppliedRates:     applied,
		NextRates:        s.nextRates,
		Tranches:         s.records,
	})

	e.logger.Info().
		Int64("epoch", closing).
		Str("price", newPrice.String()).
		Int("price_steps", s.priceSteps).
		Str("fees", s.fees.String()).
		Int("tranches_settled", len(s.records)).
		Msg("epoch settled")

	if e.metrics != nil {
		e.metrics.EpochsSettled.Inc()
		e.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
		e.metrics.PriceSteps.Observe(float64(s.priceSteps))
	}
	e.exportState()

	return []event.Envelope{env}, nil
}

// SetEpochPeriods sets the epoch length and the wait period. Admin only.
func (e *Engine) SetEpochPeriods(caller uuid.UUID, epochPeriod, waitPeriod time.Duration) error {
	return e.updateParams(caller, "epoch_periods", func(p *Params) (string, error) {
		if err := validatePeriods(epochPeriod, waitPeriod); err != nil {
			return "", err
		}
		p.EpochPeriod = epochPeriod
		p.WaitPeriod = waitPeriod
		return fmt.Sprintf("%s/%s", epochPeriod, waitPeriod), nil
	})
}
