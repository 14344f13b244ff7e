package core

import (
	"fmt"

	"TrancheLedger/internal/event"
	"TrancheLedger/internal/observability"
	"TrancheLedger/internal/oracle"
	"TrancheLedger/internal/ratemodel"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// updateParams runs an admin-only mutation of Params and emits ParamsUpdated.
// fn edits the copy it is given and returns the value to report.
func (e *Engine) updateParams(caller uuid.UUID, name string, fn func(p *Params) (string, error)) error {
	e.mu.Lock()
	env, err := func() (event.Envelope, error) {
		if caller != e.admin {
			return event.Envelope{}, ErrUnauthorized
		}
		next := e.params
		value, err := fn(&next)
		if err != nil {
			return event.Envelope{}, err
		}
		e.params = next
		return e.record(&event.ParamsUpdated{Admin: caller, Param: name, Value: value}), nil
	}()
	e.mu.Unlock()

	if err != nil {
		e.reject("set_"+name, err)
		return err
	}
	e.logger.Info().Str("param", name).Msg("params updated")
	e.publish([]event.Envelope{env})
	return nil
}

// SetFees sets the deposit fee and its split between the admin and the
// liquidity tranches. The shares must sum to One and the fee may not exceed
// MaxTransactionFee.
func (e *Engine) SetFees(caller uuid.UUID, txFee, adminShare, liquidityShare sdkmath.Int) error {
	return e.updateParams(caller, "fees", func(p *Params) (string, error) {
		if err := validateFees(txFee, adminShare, liquidityShare); err != nil {
			return "", err
		}
		p.TransactionFee = txFee
		p.AdminFeeShare = adminShare
		p.LiquidityPoolFeeShare = liquidityShare
		return fmt.Sprintf("%s/%s/%s", txFee, adminShare, liquidityShare), nil
	})
}

// SetChangeCap sets the largest price move applied per settlement step.
func (e *Engine) SetChangeCap(caller uuid.UUID, limit sdkmath.Int) error {
	return e.updateParams(caller, "change_cap", func(p *Params) (string, error) {
		if err := validateChangeCap(limit); err != nil {
			return "", err
		}
		p.ChangeCap = limit
		return limit.String(), nil
	})
}

// SetOracle swaps the price source. Takes effect at the next settlement.
func (e *Engine) SetOracle(caller uuid.UUID, o oracle.PriceOracle) error {
	if o == nil {
		return ErrNilCollaborator
	}
	return e.updateParams(caller, "oracle", func(*Params) (string, error) {
		e.oracle = o
		return fmt.Sprintf("%T", o), nil
	})
}

// SetRateModel swaps the rate model. The rates already computed stay in
// force for the next settlement.
func (e *Engine) SetRateModel(caller uuid.UUID, m ratemodel.RateModel) error {
	if m == nil {
		return ErrNilCollaborator
	}
	return e.updateParams(caller, "rate_model", func(*Params) (string, error) {
		e.rateModel = m
		return fmt.Sprintf("%T", m), nil
	})
}

// WithdrawAdminFees transfers accrued admin fees to the admin.
func (e *Engine) WithdrawAdminFees(caller uuid.UUID, amount sdkmath.Int) error {
	e.mu.Lock()
	env, err := e.withdrawAdminFees(caller, amount)
	e.mu.Unlock()

	if err != nil {
		e.reject("withdraw_admin_fees", err)
		return err
	}
	e.publish([]event.Envelope{env})
	return nil
}

func (e *Engine) withdrawAdminFees(caller uuid.UUID, amount sdkmath.Int) (event.Envelope, error) {
	if caller != e.admin {
		return event.Envelope{}, ErrUnauthorized
	}
	if err := checkAmount(amount); err != nil {
		return event.Envelope{}, err
	}
	if amount.GT(e.adminFees) {
		return event.Envelope{}, fmt.Errorf("%w: %s admin fees accrued", ErrInsufficientBalance, e.adminFees)
	}
	if err := e.asset.TransferOut(caller, amount); err != nil {
		return event.Envelope{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.adminFees = e.adminFees.Sub(amount)
	if e.metrics != nil {
		e.metrics.AdminFees.Set(observability.FixedToFloat(e.adminFees))
	}
	return e.record(&event.AdminFeesWithdrawn{
		Admin:     caller,
		Amount:    amount,
		Remaining: e.adminFees,
	}), nil
}

// SetAdmin nominates a new admin. The transfer completes when the nominee
// calls AcceptAdmin; until then the current admin keeps every right.
func (e *Engine) SetAdmin(caller, nominee uuid.UUID) error {
	e.mu.Lock()
	env, err := func() (event.Envelope, error) {
		if caller != e.admin {
			return event.Envelope{}, ErrUnauthorized
		}
		if nominee == uuid.Nil {
			return event.Envelope{}, ErrInvalidAdmin
		}
		e.pendingAdmin = nominee
		return e.record(&event.AdminNominated{Admin: caller, Nominee: nominee}), nil
	}()
	e.mu.Unlock()

	if err != nil {
		e.reject("set_admin", err)
		return err
	}
	e.publish([]event.Envelope{env})
	return nil
}

// AcceptAdmin completes a nomination. Only the nominee may call it.
func (e *Engine) AcceptAdmin(caller uuid.UUID) error {
	e.mu.Lock()
	env, err := func() (event.Envelope, error) {
		if e.pendingAdmin == uuid.Nil || caller != e.pendingAdmin {
			return event.Envelope{}, ErrUnauthorized
		}
		previous := e.admin
		e.admin = caller
		e.pendingAdmin = uuid.Nil
		return e.record(&event.AdminTransferred{Previous: previous, Admin: caller}), nil
	}()
	e.mu.Unlock()

	if err != nil {
		e.reject("accept_admin", err)
		return err
	}
	e.logger.Info().Str("admin", caller.String()).Msg("admin transferred")
	e.publish([]event.Envelope{env})
	return nil
}
