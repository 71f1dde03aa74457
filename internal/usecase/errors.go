package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("duplicate idempotency key")
	ErrDuplicateCode = errors.New("duplicate order code")

	ErrCartNotFound         = errors.New("cart not found")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidCart          = errors.New("cart contains an invalid item")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrVariantUnavailable   = errors.New("variant unavailable")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrCouponRejected       = errors.New("coupon rejected")

	ErrInvalidSignature  = errors.New("invalid callback signature")
	ErrOrderNotFound     = errors.New("order not found")
	ErrAmountMismatch    = errors.New("callback amount does not match order total")
	ErrNotGatewayOrder   = errors.New("order is not a gateway payment")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type InsufficientStockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// CouponError carries the rejection reason shown to the customer verbatim.
type CouponError struct {
	Code   string
	Reason string
}

func (e *CouponError) Error() string { return e.Reason }

func (e *CouponError) Is(target error) bool { return target == ErrCouponRejected }
