package repo

import (
	"context"
	"database/sql"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type MySQLCartRepo struct{ q queryer }

func (r *MySQLCartRepo) GetCart(ctx context.Context, cartID int64) (*domain.Cart, error) {
	return r.getCart(ctx, `SELECT id, customer_id, created_at, updated_at FROM carts WHERE id = ?`, cartID)
}

func (r *MySQLCartRepo) GetCartByCustomer(ctx context.Context, customerID string) (*domain.Cart, error) {
	return r.getCart(ctx, `SELECT id, customer_id, created_at, updated_at FROM carts WHERE customer_id = ?`, customerID)
}

func (r *MySQLCartRepo) getCart(ctx context.Context, query string, arg any) (*domain.Cart, error) {
	var c domain.Cart
	if err := r.q.QueryRowContext(ctx, query, arg).Scan(&c.ID, &c.CustomerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}

	rows, err := r.q.QueryContext(ctx, `
SELECT id, cart_id, product_id, variant_id, product_name, variant_name, sku, unit_price, quantity, added_at
FROM cart_items WHERE cart_id = ? ORDER BY id`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it  domain.CartItem
			vid sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &vid, &it.ProductName, &it.VariantName,
			&it.SKU, &it.UnitPrice, &it.Quantity, &it.AddedAt); err != nil {
			return nil, err
		}
		it.VariantID = int64Ptr(vid)
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

// ClearCart deletes every item in the cart and returns how many were removed.
func (r *MySQLCartRepo) ClearCart(ctx context.Context, cartID int64) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ usecase.CartRepo = (*MySQLCartRepo)(nil)
