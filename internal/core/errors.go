package core

import "errors"

var (
	ErrInvalidPool         = errors.New("core: invalid pool index")
	ErrInvalidAmount       = errors.New("core: invalid amount")
	ErrInvalidFees         = errors.New("core: invalid fee configuration")
	ErrInsufficientBalance = errors.New("core: insufficient balance")
	ErrUnauthorized        = errors.New("core: caller is not authorized")
	ErrTransferFailed      = errors.New("core: collateral transfer failed")
	ErrInvalidAdmin        = errors.New("core: invalid admin account")
	ErrOverflow            = errors.New("core: settlement arithmetic overflow")
	ErrNilCollaborator     = errors.New("core: collaborator must not be nil")
	ErrPriceMoveTooLarge   = errors.New("core: price move too large for change cap")
)

// rejectReason maps an error to a short metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPool):
		return "invalid_pool"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidFees):
		return "invalid_fees"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidAdmin):
		return "invalid_admin"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrPriceMoveTooLarge):
		return "price_move_too_large"
	default:
		return "other"
	}
}
