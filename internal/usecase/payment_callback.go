package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/logging"
)

type CallbackOutcome struct {
	OrderCode     string
	Status        domain.Status
	PaymentStatus domain.PaymentStatus
	Succeeded     bool
	// Duplicate is set when the order had already been settled by an earlier callback.
	Duplicate           bool
	NeedsReconciliation bool
}

// PaymentCallback applies gateway results to orders. The return redirect and
// the server-to-server notification both go through Handle, so whichever
// arrives first settles the order and the other becomes a no-op.
type PaymentCallback struct {
	store  Store
	gw     PaymentGateway
	ledger *InventoryLedger
	obs    Observer
	now    func() time.Time
}

func NewPaymentCallback(store Store, gw PaymentGateway, ledger *InventoryLedger) *PaymentCallback {
	return &PaymentCallback{store: store, gw: gw, ledger: ledger, obs: nopObserver{}, now: time.Now}
}

func (uc *PaymentCallback) WithObserver(o Observer) *PaymentCallback {
	if o != nil {
		uc.obs = o
	}
	return uc
}

func (uc *PaymentCallback) Handle(ctx context.Context, params url.Values) (CallbackOutcome, error) {
	log := logging.FromCtx(ctx)

	cb, err := uc.gw.VerifyCallback(params)
	if err != nil {
		log.Warn("payment callback rejected", "err", err)
		uc.obs.CallbackHandled("invalid_signature")
		return CallbackOutcome{}, err
	}
	log = log.With("order_code", cb.OrderRef, "response_code", cb.ResponseCode, "transaction_no", cb.TransactionNo)

	var (
		out       CallbackOutcome
		reconcile string
	)
	err = uc.store.WithTx(ctx, func(ctx context.Context, tx Repos) error {
		o, err := tx.Orders().LockByCode(ctx, cb.OrderRef)
		if errors.Is(err, ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if o.PaymentMethod != domain.MethodGateway {
			return ErrNotGatewayOrder
		}

		if o.PaymentStatus.Settled() || o.PaymentStatus == domain.PaymentRefunded {
			out = outcomeOf(o)
			out.Duplicate = true
			if cb.Succeeded() != (o.PaymentStatus == domain.PaymentPaid) {
				log.Error("callback result conflicts with recorded payment",
					"recorded_payment_status", o.PaymentStatus)
			}
			return nil
		}
		if cb.Amount != o.Total {
			log.Error("callback amount mismatch", "callback_amount", cb.Amount, "order_total", o.Total)
			return ErrAmountMismatch
		}

		if cb.Succeeded() {
			reconcile, err = uc.settle(ctx, tx, o, cb)
		} else {
			err = uc.fail(ctx, tx, o, cb)
		}
		if err != nil {
			return err
		}
		out = outcomeOf(o)
		return nil
	})
	if err != nil {
		uc.obs.CallbackHandled(callbackLabel(err))
		if !errors.Is(err, ErrOrderNotFound) && !errors.Is(err, ErrAmountMismatch) && !errors.Is(err, ErrNotGatewayOrder) {
			log.Error("payment callback failed", "err", err)
		}
		return CallbackOutcome{}, err
	}

	switch {
	case out.Duplicate:
		uc.obs.CallbackHandled("duplicate")
		log.Info("payment callback already applied", "payment_status", out.PaymentStatus)
	case reconcile != "":
		uc.obs.CallbackHandled("reconciliation")
		uc.obs.ReconciliationFlagged(reconcileKind(reconcile))
		log.Error("order flagged for manual reconciliation", "reason", reconcile)
	case out.Succeeded:
		uc.obs.CallbackHandled("paid")
		log.Info("order paid")
	default:
		uc.obs.CallbackHandled("failed")
		log.Info("order payment failed")
	}
	return out, nil
}

// settle records a successful payment. Money has been captured, so stock
// shortfalls or a cancelled order flag the order instead of failing the callback.
func (uc *PaymentCallback) settle(ctx context.Context, tx Repos, o *domain.Order, cb VerifiedCallback) (string, error) {
	now := uc.now()
	paidAt := now
	if cb.PayDate != nil {
		paidAt = *cb.PayDate
	}
	if err := tx.Orders().InsertPayment(ctx, &domain.PaymentRecord{
		OrderID:       o.ID,
		TransactionNo: cb.TransactionNo,
		BankCode:      cb.BankCode,
		ResponseCode:  cb.ResponseCode,
		Amount:        cb.Amount,
		Status:        domain.PaymentPaid,
		PaidAt:        &paidAt,
		CreatedAt:     now,
	}); err != nil {
		return "", fmt.Errorf("insert payment: %w", err)
	}

	o.PaymentStatus = domain.PaymentPaid
	o.UpdatedAt = now

	var reason string
	if o.Status != domain.StatusPending {
		reason = fmt.Sprintf("payment received for order in status %s", o.Status)
	} else {
		o.Status = domain.StatusConfirmed
		var short []string
		for _, it := range o.Items {
			if it.VariantID == nil {
				continue
			}
			err := uc.ledger.ReserveAndDecrement(ctx, tx.Variants(), *it.VariantID, it.Quantity)
			switch {
			case err == nil:
			case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrNotFound):
				short = append(short, err.Error())
			default:
				return "", err
			}
		}
		o.StockCommitted = true
		if len(short) > 0 {
			reason = fmt.Sprintf("stock shortfall after payment (%d of %d lines): %s",
				len(short), len(o.Items), strings.Join(short, "; "))
		}

		cart, err := tx.Carts().GetCartByCustomer(ctx, o.CustomerID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return "", fmt.Errorf("load cart: %w", err)
		default:
			if _, err := tx.Carts().ClearCart(ctx, cart.ID); err != nil {
				return "", fmt.Errorf("clear cart: %w", err)
			}
		}
	}

	if reason != "" {
		o.FlagReconciliation(reason)
		reason = o.ReconcileReason
	}
	if err := tx.Orders().UpdateState(ctx, o); err != nil {
		return "", fmt.Errorf("update order: %w", err)
	}

	ev, err := newOrderEvent(EventOrderPaid, o, "", now)
	if err != nil {
		return "", err
	}
	if err := tx.Outbox().Insert(ctx, ev); err != nil {
		return "", err
	}
	if reason != "" {
		ev, err := newOrderEvent(EventReconciliationRequired, o, reason, now)
		if err != nil {
			return "", err
		}
		if err := tx.Outbox().Insert(ctx, ev); err != nil {
			return "", err
		}
	}
	return reason, nil
}

func (uc *PaymentCallback) fail(ctx context.Context, tx Repos, o *domain.Order, cb VerifiedCallback) error {
	now := uc.now()
	if err := tx.Orders().InsertPayment(ctx, &domain.PaymentRecord{
		OrderID:       o.ID,
		TransactionNo: cb.TransactionNo,
		BankCode:      cb.BankCode,
		ResponseCode:  cb.ResponseCode,
		Amount:        cb.Amount,
		Status:        domain.PaymentFailed,
		CreatedAt:     now,
	}); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	o.PaymentStatus = domain.PaymentFailed
	if o.Status == domain.StatusPending {
		o.Status = domain.StatusCancelled
	}
	o.UpdatedAt = now
	if err := tx.Orders().UpdateState(ctx, o); err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	ev, err := newOrderEvent(EventOrderPaymentFailed, o, "gateway response "+cb.ResponseCode, now)
	if err != nil {
		return err
	}
	return tx.Outbox().Insert(ctx, ev)
}

func outcomeOf(o *domain.Order) CallbackOutcome {
	return CallbackOutcome{
		OrderCode:           o.Code,
		Status:              o.Status,
		PaymentStatus:       o.PaymentStatus,
		Succeeded:           o.PaymentStatus == domain.PaymentPaid,
		NeedsReconciliation: o.NeedsReconciliation,
	}
}

func callbackLabel(err error) string {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrNotGatewayOrder):
		return "not_gateway_order"
	default:
		return "error"
	}
}

func reconcileKind(reason string) string {
	if strings.HasPrefix(reason, "stock shortfall") {
		return "stock_shortfall"
	}
	return "late_payment"
}
