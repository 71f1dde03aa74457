package usecase

import (
	"context"
	"fmt"
)

// InventoryLedger owns per-variant stock counts. All calls must run inside the
// caller's transaction.
type InventoryLedger struct{}

func NewInventoryLedger() *InventoryLedger { return &InventoryLedger{} }

// ReserveAndDecrement re-reads stock under a row lock and decrements it. It never
// trusts a snapshot taken before the transaction opened.
func (l *InventoryLedger) ReserveAndDecrement(ctx context.Context, variants VariantRepo, variantID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("reserve variant %d: quantity must be positive", variantID)
	}
	available, err := variants.LockStock(ctx, variantID)
	if err != nil {
		return fmt.Errorf("lock stock for variant %d: %w", variantID, err)
	}
	if available < qty {
		return &InsufficientStockError{VariantID: variantID, Requested: qty, Available: available}
	}
	ok, err := variants.DecrementStock(ctx, variantID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock for variant %d: %w", variantID, err)
	}
	if !ok {
		return &InsufficientStockError{VariantID: variantID, Requested: qty, Available: available}
	}
	return nil
}

func (l *InventoryLedger) Restock(ctx context.Context, variants VariantRepo, variantID int64, qty int) error {
	if qty <= 0 {
		return nil
	}
	if err := variants.IncrementStock(ctx, variantID, qty); err != nil {
		return fmt.Errorf("restock variant %d: %w", variantID, err)
	}
	return nil
}
