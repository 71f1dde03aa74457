package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
)

var hundred = decimal.NewFromInt(100)

type CouponQuote struct {
	Coupon   *domain.Coupon
	Discount int64
}

// CouponValidator evaluates coupon rules without side effects.
type CouponValidator struct {
	store    Repos
	currency string
	now      func() time.Time
}

func NewCouponValidator(store Repos, currency string) *CouponValidator {
	return &CouponValidator{store: store, currency: currency, now: time.Now}
}

func (v *CouponValidator) Validate(ctx context.Context, code, customerID string, subtotal int64) (CouponQuote, error) {
	return v.validate(ctx, v.store, code, customerID, subtotal, false)
}

// ValidateTx re-runs the rules against a transaction, holding a lock on the coupon row
// so concurrent checkouts see a consistent redemption count.
func (v *CouponValidator) ValidateTx(ctx context.Context, tx Repos, code, customerID string, subtotal int64) (CouponQuote, error) {
	return v.validate(ctx, tx, code, customerID, subtotal, true)
}

func (v *CouponValidator) validate(ctx context.Context, r Repos, code, customerID string, subtotal int64, lock bool) (CouponQuote, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return CouponQuote{}, &CouponError{Reason: "coupon code is required"}
	}

	var (
		c   *domain.Coupon
		err error
	)
	if lock {
		c, err = r.Coupons().LockByCode(ctx, code)
	} else {
		c, err = r.Coupons().GetByCode(ctx, code)
	}
	if errors.Is(err, ErrNotFound) {
		return CouponQuote{}, &CouponError{Code: code, Reason: "coupon does not exist or has expired"}
	}
	if err != nil {
		return CouponQuote{}, fmt.Errorf("load coupon: %w", err)
	}
	if !c.ActiveAt(v.now()) {
		return CouponQuote{}, &CouponError{Code: code, Reason: "coupon does not exist or has expired"}
	}
	if c.MinOrderAmount != nil && subtotal < *c.MinOrderAmount {
		return CouponQuote{}, &CouponError{
			Code:   code,
			Reason: fmt.Sprintf("order subtotal must be at least %d %s to use this coupon", *c.MinOrderAmount, v.currency),
		}
	}
	if c.UsageLimit != nil {
		used, err := r.Orders().CountRedemptions(ctx, c.ID)
		if err != nil {
			return CouponQuote{}, fmt.Errorf("count coupon redemptions: %w", err)
		}
		if used >= *c.UsageLimit {
			return CouponQuote{}, &CouponError{Code: code, Reason: "coupon usage limit has been reached"}
		}
	}

	return CouponQuote{Coupon: c, Discount: Discount(c, subtotal)}, nil
}

// Discount computes the coupon's discount for subtotal, clamped to [0, subtotal].
func Discount(c *domain.Coupon, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	var d int64
	switch c.Type {
	case domain.CouponPercent:
		d = decimal.NewFromInt(subtotal).Mul(c.Value).Div(hundred).Floor().IntPart()
		if c.MaxDiscountAmount != nil && d > *c.MaxDiscountAmount {
			d = *c.MaxDiscountAmount
		}
	case domain.CouponFixed:
		d = c.Value.Floor().IntPart()
	}
	if d < 0 {
		return 0
	}
	return min(d, subtotal)
}
