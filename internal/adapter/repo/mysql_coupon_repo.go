package repo

import (
	"context"
	"database/sql"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type MySQLCouponRepo struct{ q queryer }

const couponSelect = `SELECT id, code, type, value, min_order_amount, max_discount_amount, usage_limit, starts_at, ends_at, active
FROM coupons WHERE code = ?`

func (r *MySQLCouponRepo) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return r.load(ctx, couponSelect, code)
}

func (r *MySQLCouponRepo) LockByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return r.load(ctx, couponSelect+` FOR UPDATE`, code)
}

func (r *MySQLCouponRepo) load(ctx context.Context, query, code string) (*domain.Coupon, error) {
	var (
		c                domain.Coupon
		minOrder, maxDis sql.NullInt64
		limit            sql.NullInt32
	)
	err := r.q.QueryRowContext(ctx, query, code).Scan(
		&c.ID, &c.Code, &c.Type, &c.Value, &minOrder, &maxDis, &limit, &c.StartsAt, &c.EndsAt, &c.Active,
	)
	if err != nil {
		return nil, notFound(err)
	}
	c.MinOrderAmount = int64Ptr(minOrder)
	c.MaxDiscountAmount = int64Ptr(maxDis)
	if limit.Valid {
		n := int(limit.Int32)
		c.UsageLimit = &n
	}
	return &c, nil
}

var _ usecase.CouponRepo = (*MySQLCouponRepo)(nil)
