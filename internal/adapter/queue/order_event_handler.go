package queue

import (
	"context"

	"github.com/aq2208/gorder-checkout/internal/usecase"
)

// OrderEventProjector keeps the order status cache in step with published order events.
type OrderEventProjector struct {
	Cache usecase.OrderCache
}

func NewOrderEventProjector(cache usecase.OrderCache) *OrderEventProjector {
	return &OrderEventProjector{Cache: cache}
}

// HandleEvent is intended to be used with the JSON adapter (queue.JSONHandler[OrderEventMsg]).
// Events older than the cached snapshot are ignored, so redelivery and reordering are harmless.
func (h *OrderEventProjector) HandleEvent(ctx context.Context, msg usecase.OrderEventMsg) error {
	if msg.OrderCode == "" {
		return ErrPoison
	}
	cur, ok, err := h.Cache.GetStatus(ctx, msg.OrderCode)
	if err != nil {
		return err
	}
	if ok && cur.UpdatedAt.After(msg.OccurredAt) {
		return nil
	}
	return h.Cache.SetStatus(ctx, usecase.StatusSnapshot{
		OrderCode:     msg.OrderCode,
		CustomerID:    msg.CustomerID,
		Status:        msg.Status,
		PaymentStatus: msg.PaymentStatus,
		UpdatedAt:     msg.OccurredAt,
	})
}
