package service

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotActivated      = errors.New("account not activated")
	ErrAlreadyActivated  = errors.New("account already activated")

	ErrOfferNotFound   = errors.New("offer not found")
	ErrOfferOutOfStock = errors.New("offer out of stock")
	ErrComboEmpty      = errors.New("combo has no available offers")
)

// RedemptionError reports a failed external redemption attempt. Reason is
// the vendor failure code, passed through verbatim and never interpreted.
type RedemptionError struct {
	Reason string
}

func (e *RedemptionError) Error() string {
	return fmt.Sprintf("redemption failed: %s", e.Reason)
}
