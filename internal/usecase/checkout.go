package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/logging"
)

const maxCodeAttempts = 3

type CheckoutInput struct {
	CustomerID     string
	CartID         int64
	PaymentMethod  domain.PaymentMethod
	Notes          string
	CouponCode     string
	ClientIP       string
	IdempotencyKey string
}

type CheckoutOutput struct {
	OrderID       int64
	OrderCode     string
	Total         int64
	Status        domain.Status
	PaymentStatus domain.PaymentStatus
	PaymentMethod domain.PaymentMethod
	// PaymentURL is set for gateway orders that still await payment.
	PaymentURL string
	Replayed   bool
}

type CheckoutConfig struct {
	ShippingFee int64
	Currency    string
}

type Checkout struct {
	store   Store
	coupons *CouponValidator
	ledger  *InventoryLedger
	gw      PaymentGateway
	idem    IdempotencyStore // optional
	obs     Observer
	cfg     CheckoutConfig
	now     func() time.Time
	newCode func(time.Time) string
}

func NewCheckout(store Store, coupons *CouponValidator, ledger *InventoryLedger, gw PaymentGateway, idem IdempotencyStore, cfg CheckoutConfig) *Checkout {
	return &Checkout{
		store:   store,
		coupons: coupons,
		ledger:  ledger,
		gw:      gw,
		idem:    idem,
		obs:     nopObserver{},
		cfg:     cfg,
		now:     time.Now,
		newCode: NewOrderCode,
	}
}

func (uc *Checkout) WithObserver(o Observer) *Checkout {
	if o != nil {
		uc.obs = o
	}
	return uc
}

// NewOrderCode returns a timestamp followed by a random suffix, e.g. 20250908130500-1F3A9C0B.
func NewOrderCode(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.Format("20060102150405") + "-" + strings.ToUpper(suffix)
}

func (uc *Checkout) Execute(ctx context.Context, in CheckoutInput) (out CheckoutOutput, err error) {
	if _, ok := domain.ParsePaymentMethod(string(in.PaymentMethod)); !ok {
		return CheckoutOutput{}, ErrInvalidPaymentMethod
	}

	scope := "checkout:" + in.CustomerID
	if uc.idem != nil && in.IdempotencyKey != "" {
		// Fast path: idempotency recall
		if code, ok, _ := uc.idem.Recall(ctx, scope, in.IdempotencyKey); ok {
			return uc.replay(ctx, code, in.ClientIP)
		}
		locked, lockErr := uc.idem.TryLock(ctx, scope, in.IdempotencyKey)
		if lockErr != nil {
			return CheckoutOutput{}, fmt.Errorf("idempotency lock: %w", lockErr)
		}
		if !locked {
			return CheckoutOutput{}, ErrDuplicate
		}
		defer func() {
			if err != nil {
				_ = uc.idem.Release(ctx, scope, in.IdempotencyKey)
			}
		}()
	}

	out, err = uc.checkout(ctx, in)
	if err != nil {
		uc.obs.CheckoutFinished(in.PaymentMethod, resultLabel(err))
		return CheckoutOutput{}, err
	}
	uc.obs.CheckoutFinished(in.PaymentMethod, "ok")

	if uc.idem != nil && in.IdempotencyKey != "" {
		_ = uc.idem.Remember(ctx, scope, in.IdempotencyKey, out.OrderCode)
	}
	return out, nil
}

func (uc *Checkout) checkout(ctx context.Context, in CheckoutInput) (CheckoutOutput, error) {
	log := logging.FromCtx(ctx)

	cart, err := uc.store.Carts().GetCart(ctx, in.CartID)
	if errors.Is(err, ErrNotFound) || (err == nil && cart.CustomerID != in.CustomerID) {
		return CheckoutOutput{}, ErrCartNotFound
	}
	if err != nil {
		return CheckoutOutput{}, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return CheckoutOutput{}, ErrEmptyCart
	}
	for _, it := range cart.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return CheckoutOutput{}, fmt.Errorf("%w: item %d", ErrInvalidCart, it.ID)
		}
	}

	// Advisory only; the authoritative check runs inside the transaction.
	if err := uc.precheckStock(ctx, cart); err != nil {
		return CheckoutOutput{}, err
	}

	now := uc.now()
	order := &domain.Order{
		CustomerID:     in.CustomerID,
		Status:         domain.StatusPending,
		PaymentMethod:  in.PaymentMethod,
		PaymentStatus:  domain.PaymentUnpaid,
		Subtotal:       cart.Subtotal(),
		ShippingFee:    uc.cfg.ShippingFee,
		Currency:       uc.cfg.Currency,
		Notes:          strings.TrimSpace(in.Notes),
		StockCommitted: in.PaymentMethod == domain.MethodCOD,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if in.CouponCode != "" {
		quote, err := uc.coupons.Validate(ctx, in.CouponCode, in.CustomerID, order.Subtotal)
		if err != nil {
			return CheckoutOutput{}, err
		}
		order.Discount = quote.Discount
		order.CouponID = &quote.Coupon.ID
	}
	if err := order.ComputeTotal(); err != nil {
		return CheckoutOutput{}, err
	}

	for attempt := 1; ; attempt++ {
		order.Code = uc.newCode(now)
		err = uc.store.WithTx(ctx, func(ctx context.Context, tx Repos) error {
			return uc.commit(ctx, tx, cart, order, in)
		})
		if !errors.Is(err, ErrDuplicateCode) || attempt >= maxCodeAttempts {
			break
		}
		log.Warn("order code collision, retrying", "order_code", order.Code, "attempt", attempt)
	}
	if err != nil {
		return CheckoutOutput{}, err
	}

	log.Info("order created",
		"order_code", order.Code,
		"customer_id", order.CustomerID,
		"payment_method", order.PaymentMethod,
		"total", order.Total,
	)

	out := summarize(order)
	if order.PaymentMethod == domain.MethodGateway {
		payURL, err := uc.gw.BuildRedirectURL(PaymentRequest{
			OrderCode:   order.Code,
			Amount:      order.Total,
			Description: "Payment for order " + order.Code,
			ClientIP:    in.ClientIP,
			CreatedAt:   now,
		})
		if err != nil {
			return CheckoutOutput{}, fmt.Errorf("build payment url: %w", err)
		}
		out.PaymentURL = payURL
	}
	return out, nil
}

// commit runs inside one transaction; any error rolls back the order, the
// stock decrements and the cart clearing together.
func (uc *Checkout) commit(ctx context.Context, tx Repos, cart *domain.Cart, order *domain.Order, in CheckoutInput) error {
	if in.CouponCode != "" {
		quote, err := uc.coupons.ValidateTx(ctx, tx, in.CouponCode, in.CustomerID, order.Subtotal)
		if err != nil {
			return err
		}
		order.Discount = quote.Discount
		order.CouponID = &quote.Coupon.ID
		if err := order.ComputeTotal(); err != nil {
			return err
		}
	}

	order.ID = 0
	order.Items = freezeItems(cart.Items)
	if err := tx.Orders().CreateOrder(ctx, order); err != nil {
		return err
	}

	if order.PaymentMethod == domain.MethodCOD {
		for _, it := range order.Items {
			if it.VariantID == nil {
				continue
			}
			if err := uc.ledger.ReserveAndDecrement(ctx, tx.Variants(), *it.VariantID, it.Quantity); err != nil {
				return err
			}
		}
		if _, err := tx.Carts().ClearCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
	}

	ev, err := newOrderEvent(EventOrderCreated, order, "", order.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Outbox().Insert(ctx, ev)
}

func (uc *Checkout) precheckStock(ctx context.Context, cart *domain.Cart) error {
	need := map[int64]int{}
	var ids []int64
	for _, it := range cart.Items {
		if it.VariantID == nil {
			continue
		}
		if _, seen := need[*it.VariantID]; !seen {
			ids = append(ids, *it.VariantID)
		}
		need[*it.VariantID] += it.Quantity
	}
	if len(ids) == 0 {
		return nil
	}

	variants, err := uc.store.Variants().GetVariants(ctx, ids)
	if err != nil {
		return fmt.Errorf("load variants: %w", err)
	}
	for _, id := range ids {
		v, ok := variants[id]
		if !ok || !v.Active {
			return fmt.Errorf("%w: variant %d", ErrVariantUnavailable, id)
		}
		if v.StockQuantity < need[id] {
			return &InsufficientStockError{VariantID: id, Requested: need[id], Available: v.StockQuantity}
		}
	}
	return nil
}

func (uc *Checkout) replay(ctx context.Context, code, clientIP string) (CheckoutOutput, error) {
	o, err := uc.store.Orders().GetByCode(ctx, code)
	if err != nil {
		return CheckoutOutput{}, fmt.Errorf("replay order %s: %w", code, err)
	}
	out := summarize(o)
	out.Replayed = true
	if o.PaymentMethod == domain.MethodGateway && o.Status == domain.StatusPending && o.PaymentStatus == domain.PaymentUnpaid {
		payURL, err := uc.gw.BuildRedirectURL(PaymentRequest{
			OrderCode:   o.Code,
			Amount:      o.Total,
			Description: "Payment for order " + o.Code,
			ClientIP:    clientIP,
			CreatedAt:   uc.now(),
		})
		if err != nil {
			return CheckoutOutput{}, fmt.Errorf("build payment url: %w", err)
		}
		out.PaymentURL = payURL
	}
	return out, nil
}

func freezeItems(items []domain.CartItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.OrderItem{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			SKU:         it.SKU,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			LineTotal:   it.UnitPrice * int64(it.Quantity),
		})
	}
	return out
}

func summarize(o *domain.Order) CheckoutOutput {
	return CheckoutOutput{
		OrderID:       o.ID,
		OrderCode:     o.Code,
		Total:         o.Total,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrCouponRejected):
		return "coupon_rejected"
	case errors.Is(err, ErrCartNotFound), errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidCart):
		return "invalid_cart"
	case errors.Is(err, ErrVariantUnavailable):
		return "variant_unavailable"
	default:
		return "error"
	}
}
