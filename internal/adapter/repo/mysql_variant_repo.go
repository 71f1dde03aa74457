package repo

import (
	"context"
	"database/sql"
	"strings"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type MySQLVariantRepo struct{ q queryer }

func (r *MySQLVariantRepo) GetVariants(ctx context.Context, ids []int64) (map[int64]domain.ProductVariant, error) {
	out := make(map[int64]domain.ProductVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx, `
SELECT id, product_id, name, sku, price, compare_at_price, stock_quantity, active
FROM product_variants WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v       domain.ProductVariant
			compare sql.NullInt64
		)
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.SKU, &v.Price, &compare, &v.StockQuantity, &v.Active); err != nil {
			return nil, err
		}
		v.CompareAtPrice = compare.Int64
		out[v.ID] = v
	}
	return out, rows.Err()
}

func (r *MySQLVariantRepo) LockStock(ctx context.Context, variantID int64) (int, error) {
	var stock int
	err := r.q.QueryRowContext(ctx,
		`SELECT stock_quantity FROM product_variants WHERE id = ? FOR UPDATE`, variantID).Scan(&stock)
	if err != nil {
		return 0, notFound(err)
	}
	return stock, nil
}

func (r *MySQLVariantRepo) DecrementStock(ctx context.Context, variantID int64, qty int) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
UPDATE product_variants
SET stock_quantity = stock_quantity - ?
WHERE id = ? AND stock_quantity >= ?`, qty, variantID, qty)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// rows == 0 → variant gone or stock below qty
	return rows > 0, nil
}

func (r *MySQLVariantRepo) IncrementStock(ctx context.Context, variantID int64, qty int) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE product_variants SET stock_quantity = stock_quantity + ? WHERE id = ?`, qty, variantID)
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

var _ usecase.VariantRepo = (*MySQLVariantRepo)(nil)
