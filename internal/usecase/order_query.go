package usecase

import (
	"context"
	"errors"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/logging"
)

type OrderQuery struct {
	store Store
	cache OrderCache // optional
}

func NewOrderQuery(store Store, cache OrderCache) *OrderQuery {
	return &OrderQuery{store: store, cache: cache}
}

// Get returns the order only to its owner; other customers see ErrOrderNotFound.
// An empty customerID skips the ownership check.
func (q *OrderQuery) Get(ctx context.Context, code, customerID string) (*domain.Order, error) {
	o, err := q.store.Orders().GetByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if customerID != "" && o.CustomerID != customerID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// Status reads through the status cache, falling back to the store.
func (q *OrderQuery) Status(ctx context.Context, code, customerID string) (StatusSnapshot, error) {
	if q.cache != nil {
		snap, ok, err := q.cache.GetStatus(ctx, code)
		if err != nil {
			logging.FromCtx(ctx).Warn("order status cache read failed", "order_code", code, "err", err)
		}
		if ok {
			if customerID != "" && snap.CustomerID != customerID {
				return StatusSnapshot{}, ErrOrderNotFound
			}
			return snap, nil
		}
	}

	o, err := q.Get(ctx, code, customerID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	snap := SnapshotOf(o)
	if q.cache != nil {
		if err := q.cache.SetStatus(ctx, snap); err != nil {
			logging.FromCtx(ctx).Warn("order status cache write failed", "order_code", code, "err", err)
		}
	}
	return snap, nil
}

func SnapshotOf(o *domain.Order) StatusSnapshot {
	return StatusSnapshot{
		OrderCode:     o.Code,
		CustomerID:    o.CustomerID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		UpdatedAt:     o.UpdatedAt,
	}
}
