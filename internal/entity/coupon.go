package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CouponType string

const (
	CouponPercent CouponType = "PERCENT"
	CouponFixed   CouponType = "FIXED"
)

type Coupon struct {
	ID   int64
	Code string
	Type CouponType
	// Value is a percentage for PERCENT coupons and minor units for FIXED ones.
	Value             decimal.Decimal
	MinOrderAmount    *int64
	MaxDiscountAmount *int64
	UsageLimit        *int
	StartsAt          time.Time
	EndsAt            time.Time
	Active            bool
}

// ActiveAt reports whether the coupon is enabled and inside its validity window.
func (c *Coupon) ActiveAt(now time.Time) bool {
	if !c.Active {
		return false
	}
	return !now.Before(c.StartsAt) && !now.After(c.EndsAt)
}
