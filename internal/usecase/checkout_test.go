package usecase_test

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aq2208/gorder-checkout/internal/adapter/cache"
	"github.com/aq2208/gorder-checkout/internal/adapter/memstore"
	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

func TestCheckout_COD_AppliesCouponAndCommits(t *testing.T) {
	f := newFixture(t)
	cartID := f.cart("cus-1", map[int64]int{variantTea: 2})

	out, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID:    "cus-1",
		CartID:        cartID,
		PaymentMethod: domain.MethodCOD,
		CouponCode:    "sale20",
		Notes:         "  leave at door ",
	})
	require.NoError(t, err)

	// 200,000 - min(40,000, 30,000) + 20,000
	assert.EqualValues(t, 190000, out.Total)
	assert.Equal(t, domain.StatusPending, out.Status)
	assert.Equal(t, domain.PaymentUnpaid, out.PaymentStatus)
	assert.Empty(t, out.PaymentURL)

	o := f.order(t, out.OrderCode)
	assert.EqualValues(t, 200000, o.Subtotal)
	assert.EqualValues(t, 30000, o.Discount)
	assert.EqualValues(t, shippingFee, o.ShippingFee)
	assert.NotNil(t, o.CouponID)
	assert.True(t, o.StockCommitted)
	assert.Equal(t, "leave at door", o.Notes)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "TEA-500", o.Items[0].SKU)
	assert.EqualValues(t, 200000, o.Items[0].LineTotal)

	assert.Equal(t, 8, f.stock(t, variantTea))
	assert.Zero(t, f.cartItems(t, cartID))
	assert.Equal(t, []string{usecase.EventOrderCreated}, f.topics())
}

func TestCheckout_Gateway_DefersStockAndCart(t *testing.T) {
	f := newFixture(t)
	cartID := f.cart("cus-1", map[int64]int{variantTea: 1, variantCoffee: 2})

	out, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID:    "cus-1",
		CartID:        cartID,
		PaymentMethod: domain.MethodGateway,
		ClientIP:      "10.1.2.3",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 100000+2*50000+shippingFee, out.Total)
	assert.Equal(t, domain.StatusPending, out.Status)
	require.NotEmpty(t, out.PaymentURL)

	u, err := url.Parse(out.PaymentURL)
	require.NoError(t, err)
	assert.Equal(t, out.OrderCode, u.Query().Get("vnp_TxnRef"))
	assert.Equal(t, fmt.Sprint(out.Total*100), u.Query().Get("vnp_Amount"))
	assert.Equal(t, "10.1.2.3", u.Query().Get("vnp_IpAddr"))

	assert.False(t, f.order(t, out.OrderCode).StockCommitted)
	assert.Equal(t, 10, f.stock(t, variantTea))
	assert.Equal(t, 5, f.stock(t, variantCoffee))
	assert.Equal(t, 2, f.cartItems(t, cartID))
}

func TestCheckout_Rejections(t *testing.T) {
	f := newFixture(t)
	cartID := f.cart("cus-1", map[int64]int{variantTea: 1})
	emptyCart := f.store.AddCart(domain.Cart{CustomerID: "cus-2"})
	bigCart := f.cart("cus-3", map[int64]int{variantCoffee: 6})

	inactive := domain.ProductVariant{ID: 103, ProductID: 3, SKU: "OLD", Price: 1000, StockQuantity: 9}
	f.store.AddVariant(inactive)
	vid := inactive.ID
	inactiveCart := f.store.AddCart(domain.Cart{CustomerID: "cus-4", Items: []domain.CartItem{
		{ProductID: 3, VariantID: &vid, ProductName: "Old", UnitPrice: 1000, Quantity: 1},
	}})

	tests := []struct {
		name string
		in   usecase.CheckoutInput
		want error
	}{
		{"unknown payment method", usecase.CheckoutInput{CustomerID: "cus-1", CartID: cartID, PaymentMethod: "CARD"}, usecase.ErrInvalidPaymentMethod},
		{"cart of another customer", usecase.CheckoutInput{CustomerID: "cus-9", CartID: cartID, PaymentMethod: domain.MethodCOD}, usecase.ErrCartNotFound},
		{"missing cart", usecase.CheckoutInput{CustomerID: "cus-1", CartID: 9999, PaymentMethod: domain.MethodCOD}, usecase.ErrCartNotFound},
		{"empty cart", usecase.CheckoutInput{CustomerID: "cus-2", CartID: emptyCart, PaymentMethod: domain.MethodCOD}, usecase.ErrEmptyCart},
		{"not enough stock", usecase.CheckoutInput{CustomerID: "cus-3", CartID: bigCart, PaymentMethod: domain.MethodCOD}, usecase.ErrInsufficientStock},
		{"inactive variant", usecase.CheckoutInput{CustomerID: "cus-4", CartID: inactiveCart, PaymentMethod: domain.MethodCOD}, usecase.ErrVariantUnavailable},
		{"unknown coupon", usecase.CheckoutInput{CustomerID: "cus-1", CartID: cartID, PaymentMethod: domain.MethodCOD, CouponCode: "NOPE"}, usecase.ErrCouponRejected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.checkout.Execute(context.Background(), tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.store.AllOrders())
	assert.Equal(t, 10, f.stock(t, variantTea))
}

// staleReads reports plenty of stock outside transactions, so the advisory
// pre-check passes and the in-transaction check is the one that fails.
type staleReads struct{ *memstore.Store }

func (s staleReads) Variants() usecase.VariantRepo { return staleVariants{s.Store.Variants()} }

type staleVariants struct{ usecase.VariantRepo }

func (v staleVariants) GetVariants(ctx context.Context, ids []int64) (map[int64]domain.ProductVariant, error) {
	out, err := v.VariantRepo.GetVariants(ctx, ids)
	for id, pv := range out {
		pv.StockQuantity = 1000
		out[id] = pv
	}
	return out, err
}

func TestCheckout_FailureInsideTransactionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	cartID := f.cart("cus-1", map[int64]int{variantTea: 3, variantCoffee: 2})
	f.setStock(t, variantCoffee, 1)

	store := staleReads{f.store}
	uc := usecase.NewCheckout(store, usecase.NewCouponValidator(store, "VND"), f.ledger, f.gw, nil,
		usecase.CheckoutConfig{ShippingFee: shippingFee, Currency: "VND"})

	_, err := uc.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-1", CartID: cartID, PaymentMethod: domain.MethodCOD,
	})
	var stockErr *usecase.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, variantCoffee, stockErr.VariantID)
	assert.Equal(t, 1, stockErr.Available)

	assert.Empty(t, f.store.AllOrders(), "no order persists")
	assert.Equal(t, 10, f.stock(t, variantTea), "earlier line's decrement rolled back")
	assert.Equal(t, 1, f.stock(t, variantCoffee))
	assert.Equal(t, 2, f.cartItems(t, cartID), "cart untouched")
	assert.Empty(t, f.store.Events())
}

func TestCheckout_ConcurrentBuyersNeverOversell(t *testing.T) {
	for _, tc := range []struct {
		stock, buyers int
	}{
		{stock: 1, buyers: 2},
		{stock: 1, buyers: 25},
		{stock: 5, buyers: 25},
	} {
		t.Run(fmt.Sprintf("stock=%d buyers=%d", tc.stock, tc.buyers), func(t *testing.T) {
			f := newFixture(t)
			f.setStock(t, variantCoffee, tc.stock)

			carts := make([]int64, tc.buyers)
			for i := range carts {
				carts[i] = f.cart(fmt.Sprintf("cus-%d", i), map[int64]int{variantCoffee: 1})
			}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
			)
			for i := range carts {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
						CustomerID: fmt.Sprintf("cus-%d", i), CartID: carts[i], PaymentMethod: domain.MethodCOD,
					})
					if err == nil {
						mu.Lock()
						succeeded++
						mu.Unlock()
						return
					}
					assert.ErrorIs(t, err, usecase.ErrInsufficientStock)
				}(i)
			}
			wg.Wait()

			assert.Equal(t, tc.stock, succeeded)
			assert.Zero(t, f.stock(t, variantCoffee))
			assert.Len(t, f.store.AllOrders(), tc.stock)
		})
	}
}

func TestCheckout_CouponRules(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.store.AddCoupon(domain.Coupon{
		Code: "BIG", Type: domain.CouponFixed, Value: decimal.NewFromInt(10000),
		MinOrderAmount: ptr(int64(500000)), StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true,
	})
	f.store.AddCoupon(domain.Coupon{
		Code: "ONCE", Type: domain.CouponFixed, Value: decimal.NewFromInt(10000),
		UsageLimit: ptr(1), StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true,
	})

	cart := f.cart("cus-1", map[int64]int{variantTea: 1})
	_, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-1", CartID: cart, PaymentMethod: domain.MethodCOD, CouponCode: "BIG",
	})
	var cErr *usecase.CouponError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "order subtotal must be at least 500000 VND to use this coupon", cErr.Reason)

	// An abandoned gateway checkout never holds the redemption.
	abandoned, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-3", CartID: f.cart("cus-3", map[int64]int{variantTea: 1}),
		PaymentMethod: domain.MethodGateway, CouponCode: "ONCE",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, f.order(t, abandoned.OrderCode).Status)

	first, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-1", CartID: cart, PaymentMethod: domain.MethodCOD, CouponCode: "ONCE",
	})
	require.NoError(t, err, "pending orders do not count against the limit")
	assert.EqualValues(t, 100000-10000+shippingFee, first.Total)

	// Confirming the COD order consumes the single redemption.
	_, err = f.status.Transition(context.Background(), usecase.TransitionInput{
		OrderCode: first.OrderCode, Status: domain.StatusConfirmed,
	})
	require.NoError(t, err)

	second := f.cart("cus-2", map[int64]int{variantTea: 1})
	_, err = f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-2", CartID: second, PaymentMethod: domain.MethodCOD, CouponCode: "ONCE",
	})
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "coupon usage limit has been reached", cErr.Reason)

	// Cancelling the confirmed order frees the redemption.
	_, err = f.status.Transition(context.Background(), usecase.TransitionInput{
		OrderCode: first.OrderCode, Status: domain.StatusCancelled,
	})
	require.NoError(t, err)
	_, err = f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-2", CartID: second, PaymentMethod: domain.MethodCOD, CouponCode: "ONCE",
	})
	require.NoError(t, err)
}

func TestCheckout_PaidGatewayOrderHoldsRedemption(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.store.AddCoupon(domain.Coupon{
		Code: "ONCE", Type: domain.CouponFixed, Value: decimal.NewFromInt(10000),
		UsageLimit: ptr(1), StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true,
	})

	paid, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-1", CartID: f.cart("cus-1", map[int64]int{variantTea: 1}),
		PaymentMethod: domain.MethodGateway, CouponCode: "ONCE", ClientIP: "10.0.0.1",
	})
	require.NoError(t, err)
	_, err = f.callback.Handle(context.Background(), f.signedCallback(t, paid.PaymentURL, "00"))
	require.NoError(t, err)

	_, err = f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-2", CartID: f.cart("cus-2", map[int64]int{variantTea: 1}),
		PaymentMethod: domain.MethodCOD, CouponCode: "ONCE",
	})
	var cErr *usecase.CouponError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "coupon usage limit has been reached", cErr.Reason)
}

func TestCheckout_RetriesOrderCodeCollision(t *testing.T) {
	f := newFixture(t)
	codes := []string{"DUP", "DUP", "FRESH"}
	var calls int
	f.checkout.SetCodeGenerator(func(time.Time) string {
		c := codes[calls]
		calls++
		return c
	})

	a := f.cart("cus-1", map[int64]int{variantTea: 1})
	out, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{CustomerID: "cus-1", CartID: a, PaymentMethod: domain.MethodCOD})
	require.NoError(t, err)
	assert.Equal(t, "DUP", out.OrderCode)

	b := f.cart("cus-2", map[int64]int{variantTea: 1})
	out, err = f.checkout.Execute(context.Background(), usecase.CheckoutInput{CustomerID: "cus-2", CartID: b, PaymentMethod: domain.MethodCOD})
	require.NoError(t, err)
	assert.Equal(t, "FRESH", out.OrderCode)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 8, f.stock(t, variantTea), "the colliding attempt was rolled back")
}

func TestCheckout_IdempotencyKeyReplaysOrder(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	idem := cache.NewRedisIdempotencyStore(rdb, time.Hour)

	uc := usecase.NewCheckout(f.store, f.coupons, f.ledger, f.gw, idem,
		usecase.CheckoutConfig{ShippingFee: shippingFee, Currency: "VND"})
	cartID := f.cart("cus-1", map[int64]int{variantTea: 1})
	in := usecase.CheckoutInput{
		CustomerID: "cus-1", CartID: cartID, PaymentMethod: domain.MethodGateway, IdempotencyKey: "req-1",
	}

	first, err := uc.Execute(context.Background(), in)
	require.NoError(t, err)
	second, err := uc.Execute(context.Background(), in)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderCode, second.OrderCode)
	assert.NotEmpty(t, second.PaymentURL)
	assert.Len(t, f.store.AllOrders(), 1)

	// A failed attempt releases its key.
	in2 := usecase.CheckoutInput{CustomerID: "cus-1", CartID: 9999, PaymentMethod: domain.MethodCOD, IdempotencyKey: "req-2"}
	_, err = uc.Execute(context.Background(), in2)
	require.ErrorIs(t, err, usecase.ErrCartNotFound)
	_, err = uc.Execute(context.Background(), in2)
	require.ErrorIs(t, err, usecase.ErrCartNotFound, "retry is processed, not rejected as a duplicate")
}

func TestNewOrderCode(t *testing.T) {
	now := time.Date(2025, 9, 8, 13, 5, 0, 0, time.UTC)
	code := usecase.NewOrderCode(now)
	assert.Regexp(t, `^20250908130500-[0-9A-F]{8}$`, code)
	assert.NotEqual(t, code, usecase.NewOrderCode(now))
}
