package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/logging"
)

var forward = map[domain.Status]domain.Status{
	domain.StatusPending:   domain.StatusConfirmed,
	domain.StatusConfirmed: domain.StatusPreparing,
	domain.StatusPreparing: domain.StatusShipping,
	domain.StatusShipping:  domain.StatusCompleted,
}

// CanTransition reports whether an operator or the fulfillment system may move o to next.
// A pending gateway order only leaves PENDING through a payment callback or a cancel.
// A completed order keeps its lifecycle status; only a refund of a paid order is accepted,
// and it changes the payment status alone.
func CanTransition(o *domain.Order, next domain.Status) bool {
	if o.Status == domain.StatusCompleted {
		return next == domain.StatusRefunded && o.PaymentStatus == domain.PaymentPaid
	}
	if o.Status.Terminal() {
		return false
	}
	switch next {
	case domain.StatusCancelled, domain.StatusReturned:
		return true
	case domain.StatusRefunded:
		return o.PaymentStatus == domain.PaymentPaid
	}
	if o.Status == domain.StatusPending && o.PaymentMethod == domain.MethodGateway {
		return false
	}
	return forward[o.Status] == next
}

type TransitionInput struct {
	OrderCode string
	Status    domain.Status
	Reason    string
	Actor     string
}

type OrderStatus struct {
	store  Store
	ledger *InventoryLedger
	now    func() time.Time
}

func NewOrderStatus(store Store, ledger *InventoryLedger) *OrderStatus {
	return &OrderStatus{store: store, ledger: ledger, now: time.Now}
}

// Transition applies an operator or fulfillment status change. Requesting the
// current status is a no-op so redelivered messages are harmless.
func (uc *OrderStatus) Transition(ctx context.Context, in TransitionInput) (*domain.Order, error) {
	if _, ok := domain.ParseStatus(string(in.Status)); !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, in.Status)
	}

	var (
		out  *domain.Order
		from domain.Status
	)
	err := uc.store.WithTx(ctx, func(ctx context.Context, tx Repos) error {
		o, err := tx.Orders().LockByCode(ctx, in.OrderCode)
		if errors.Is(err, ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		out, from = o, o.Status
		if o.Status == in.Status || refundRecorded(o, in.Status) {
			return nil
		}
		if !CanTransition(o, in.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, in.Status)
		}

		now := uc.now()
		if o.Status != domain.StatusCompleted {
			o.Status = in.Status
		}
		o.UpdatedAt = now
		switch in.Status {
		case domain.StatusCompleted:
			if o.PaymentMethod == domain.MethodCOD && o.PaymentStatus == domain.PaymentUnpaid {
				o.PaymentStatus = domain.PaymentPaid
			}
		case domain.StatusCancelled:
			if o.StockCommitted {
				for _, it := range o.Items {
					if it.VariantID == nil {
						continue
					}
					if err := uc.ledger.Restock(ctx, tx.Variants(), *it.VariantID, it.Quantity); err != nil {
						return err
					}
				}
				o.StockCommitted = false
			}
		case domain.StatusRefunded:
			o.PaymentStatus = domain.PaymentRefunded
		}

		if err := tx.Orders().UpdateState(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		ev, err := newOrderEvent(EventOrderStatusChanged, o, in.Reason, now)
		if err != nil {
			return err
		}
		return tx.Outbox().Insert(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	if from != out.Status {
		logging.FromCtx(ctx).Info("order status changed",
			"order_code", out.Code,
			"from", from,
			"to", out.Status,
			"actor", in.Actor,
			"reason", in.Reason,
		)
	}
	return out, nil
}

// refundRecorded reports a repeated refund on a completed order.
func refundRecorded(o *domain.Order, next domain.Status) bool {
	return o.Status == domain.StatusCompleted && next == domain.StatusRefunded &&
		o.PaymentStatus == domain.PaymentRefunded
}
