package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type MySQLOrderRepo struct{ q queryer }

const orderColumns = `id, code, customer_id, status, payment_method, payment_status,
subtotal, discount, shipping_fee, total, currency, coupon_id, notes,
stock_committed, needs_reconciliation, reconcile_reason, created_at, updated_at`

func (r *MySQLOrderRepo) CreateOrder(ctx context.Context, o *domain.Order) error {
	res, err := r.q.ExecContext(ctx, `
INSERT INTO orders (code, customer_id, status, payment_method, payment_status,
    subtotal, discount, shipping_fee, total, currency, coupon_id, notes,
    stock_committed, needs_reconciliation, reconcile_reason, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.Code, o.CustomerID, o.Status, o.PaymentMethod, o.PaymentStatus,
		o.Subtotal, o.Discount, o.ShippingFee, o.Total, o.Currency, nullInt64(o.CouponID), o.Notes,
		o.StockCommitted, o.NeedsReconciliation, o.ReconcileReason, o.CreatedAt, o.UpdatedAt,
	)
	if isDuplicate(err) {
		return usecase.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		res, err := r.q.ExecContext(ctx, `
INSERT INTO order_items (order_id, product_id, variant_id, product_name, variant_name, sku, unit_price, quantity, line_total)
VALUES (?,?,?,?,?,?,?,?,?)`,
			it.OrderID, it.ProductID, nullInt64(it.VariantID), it.ProductName, it.VariantName,
			it.SKU, it.UnitPrice, it.Quantity, it.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		if it.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

func (r *MySQLOrderRepo) GetByCode(ctx context.Context, code string) (*domain.Order, error) {
	return r.load(ctx, `SELECT `+orderColumns+` FROM orders WHERE code = ?`, code)
}

// LockByCode holds a row lock on the order until the surrounding transaction ends.
func (r *MySQLOrderRepo) LockByCode(ctx context.Context, code string) (*domain.Order, error) {
	return r.load(ctx, `SELECT `+orderColumns+` FROM orders WHERE code = ? FOR UPDATE`, code)
}

func (r *MySQLOrderRepo) load(ctx context.Context, query, code string) (*domain.Order, error) {
	var (
		o      domain.Order
		coupon sql.NullInt64
		notes  sql.NullString
	)
	err := r.q.QueryRowContext(ctx, query, code).Scan(
		&o.ID, &o.Code, &o.CustomerID, &o.Status, &o.PaymentMethod, &o.PaymentStatus,
		&o.Subtotal, &o.Discount, &o.ShippingFee, &o.Total, &o.Currency, &coupon, &notes,
		&o.StockCommitted, &o.NeedsReconciliation, &o.ReconcileReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	o.CouponID = int64Ptr(coupon)
	o.Notes = notes.String

	rows, err := r.q.QueryContext(ctx, `
SELECT id, order_id, product_id, variant_id, product_name, variant_name, sku, unit_price, quantity, line_total
FROM order_items WHERE order_id = ? ORDER BY id`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it  domain.OrderItem
			vid sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &vid, &it.ProductName, &it.VariantName,
			&it.SKU, &it.UnitPrice, &it.Quantity, &it.LineTotal); err != nil {
			return nil, err
		}
		it.VariantID = int64Ptr(vid)
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// UpdateState persists the mutable lifecycle fields; amounts and items never change.
func (r *MySQLOrderRepo) UpdateState(ctx context.Context, o *domain.Order) error {
	res, err := r.q.ExecContext(ctx, `
UPDATE orders
SET status = ?, payment_status = ?, stock_committed = ?, needs_reconciliation = ?, reconcile_reason = ?, updated_at = ?
WHERE id = ?`,
		o.Status, o.PaymentStatus, o.StockCommitted, o.NeedsReconciliation, o.ReconcileReason, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return usecase.ErrNotFound
	}
	return nil
}

// CountRedemptions counts confirmed orders holding the coupon. Pending orders
// do not hold a redemption until payment or operator confirmation.
func (r *MySQLOrderRepo) CountRedemptions(ctx context.Context, couponID int64) (int, error) {
	args := make([]any, 0, len(domain.RedeemedStatuses)+1)
	args = append(args, couponID)
	for _, st := range domain.RedeemedStatuses {
		args = append(args, st)
	}
	in := strings.TrimSuffix(strings.Repeat("?, ", len(domain.RedeemedStatuses)), ", ")
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE coupon_id = ? AND status IN (`+in+`)`,
		args...,
	).Scan(&n)
	return n, err
}

func (r *MySQLOrderRepo) InsertPayment(ctx context.Context, p *domain.PaymentRecord) error {
	var paidAt sql.NullTime
	if p.PaidAt != nil {
		paidAt = sql.NullTime{Time: *p.PaidAt, Valid: true}
	}
	res, err := r.q.ExecContext(ctx, `
INSERT INTO payments (order_id, transaction_no, bank_code, response_code, amount, status, paid_at, created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		p.OrderID, p.TransactionNo, p.BankCode, p.ResponseCode, p.Amount, p.Status, paidAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

var _ usecase.OrderRepo = (*MySQLOrderRepo)(nil)
