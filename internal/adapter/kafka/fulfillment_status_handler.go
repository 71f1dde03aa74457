package kafka

import (
	"context"
	"errors"
	"strings"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/logging"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type Transitioner interface {
	Transition(ctx context.Context, in usecase.TransitionInput) (*domain.Order, error)
}

// FulfillmentStatusHandler applies status updates reported by the fulfillment system.
type FulfillmentStatusHandler struct {
	Orders Transitioner
}

func NewFulfillmentStatusHandler(orders Transitioner) *FulfillmentStatusHandler {
	return &FulfillmentStatusHandler{Orders: orders}
}

// Handle returns nil for updates that can never apply, so they are not redelivered.
func (h *FulfillmentStatusHandler) Handle(ctx context.Context, ev usecase.FulfillmentStatusMsg) error {
	log := logging.FromCtx(ctx).With("order_code", ev.OrderCode, "status", ev.Status)

	status, ok := domain.ParseStatus(strings.ToUpper(strings.TrimSpace(ev.Status)))
	if !ok || ev.OrderCode == "" {
		log.Warn("ignoring malformed fulfillment update")
		return nil
	}

	_, err := h.Orders.Transition(ctx, usecase.TransitionInput{
		OrderCode: ev.OrderCode,
		Status:    status,
		Reason:    ev.Reason,
		Actor:     "fulfillment",
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, usecase.ErrOrderNotFound), errors.Is(err, usecase.ErrInvalidTransition):
		log.Warn("fulfillment update rejected", "err", err)
		return nil
	default:
		return err
	}
}
