package usecase_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

// gatewayOrder checks out a gateway order for cus-1 and returns it with its cart ID.
func gatewayOrder(t *testing.T, f *fixture, lines map[int64]int) (usecase.CheckoutOutput, int64) {
	t.Helper()
	cartID := f.cart("cus-1", lines)
	out, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-1", CartID: cartID, PaymentMethod: domain.MethodGateway, ClientIP: "10.0.0.1",
	})
	require.NoError(t, err)
	return out, cartID
}

func TestCallback_SuccessSettlesOrder(t *testing.T) {
	f := newFixture(t)
	out, cartID := gatewayOrder(t, f, map[int64]int{variantTea: 2, variantCoffee: 1})

	res, err := f.callback.Handle(context.Background(), f.signedCallback(t, out.PaymentURL, "00"))
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.False(t, res.Duplicate)
	assert.Equal(t, domain.StatusConfirmed, res.Status)
	assert.Equal(t, domain.PaymentPaid, res.PaymentStatus)

	o := f.order(t, out.OrderCode)
	assert.Equal(t, domain.StatusConfirmed, o.Status)
	assert.True(t, o.StockCommitted)
	assert.False(t, o.NeedsReconciliation)
	assert.Equal(t, 8, f.stock(t, variantTea))
	assert.Equal(t, 4, f.stock(t, variantCoffee))
	assert.Zero(t, f.cartItems(t, cartID))

	payments := f.store.Payments(o.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, "14123456", payments[0].TransactionNo)
	assert.Equal(t, domain.PaymentPaid, payments[0].Status)
	assert.Equal(t, o.Total, payments[0].Amount)
	assert.NotNil(t, payments[0].PaidAt)

	assert.Equal(t, []string{usecase.EventOrderCreated, usecase.EventOrderPaid}, f.topics())
}

func TestCallback_DuplicateIsNoOp(t *testing.T) {
	f := newFixture(t)
	out, cartID := gatewayOrder(t, f, map[int64]int{variantTea: 2})
	params := f.signedCallback(t, out.PaymentURL, "00")

	_, err := f.callback.Handle(context.Background(), params)
	require.NoError(t, err)

	// The customer starts a new cart; a redelivered notification must not touch it.
	v, _ := f.store.Variant(variantCoffee)
	vid := v.ID
	c, err := f.store.Carts().GetCart(context.Background(), cartID)
	require.NoError(t, err)
	c.Items = append(c.Items, domain.CartItem{ProductID: v.ProductID, VariantID: &vid, ProductName: "Coffee", UnitPrice: v.Price, Quantity: 1})
	f.store.AddCart(*c)

	res, err := f.callback.Handle(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.Succeeded)
	assert.Equal(t, domain.StatusConfirmed, res.Status)

	assert.Equal(t, 8, f.stock(t, variantTea), "stock decremented exactly once")
	assert.Equal(t, 1, f.cartItems(t, cartID), "cart cleared exactly once")
	assert.Len(t, f.store.Payments(f.order(t, out.OrderCode).ID), 1)
}

func TestCallback_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	f := newFixture(t)
	out, _ := gatewayOrder(t, f, map[int64]int{variantCoffee: 3})
	params := f.signedCallback(t, out.PaymentURL, "00")

	const deliveries = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.callback.Handle(context.Background(), params)
			if !assert.NoError(t, err) {
				return
			}
			if res.Duplicate {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, deliveries-1, duplicates)
	assert.Equal(t, 2, f.stock(t, variantCoffee))
}

func TestCallback_FailureCancelsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	out, cartID := gatewayOrder(t, f, map[int64]int{variantTea: 1})

	res, err := f.callback.Handle(context.Background(), f.signedCallback(t, out.PaymentURL, "24"))
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, domain.PaymentFailed, res.PaymentStatus)

	assert.Equal(t, 10, f.stock(t, variantTea))
	assert.Equal(t, 1, f.cartItems(t, cartID))
	assert.Equal(t, []string{usecase.EventOrderCreated, usecase.EventOrderPaymentFailed}, f.topics())

	// A late success for the same reference is short-circuited.
	res, err = f.callback.Handle(context.Background(), f.signedCallback(t, out.PaymentURL, "00"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, domain.PaymentFailed, res.PaymentStatus)
	assert.Equal(t, 10, f.stock(t, variantTea))
}

func TestCallback_RejectsWithoutStateChange(t *testing.T) {
	f := newFixture(t)
	out, cartID := gatewayOrder(t, f, map[int64]int{variantTea: 1})

	tampered := f.signedCallback(t, out.PaymentURL, "00")
	tampered.Set("vnp_ResponseCode", "01")
	forged := f.signedCallback(t, out.PaymentURL, "00")
	forged.Set("vnp_SecureHash", forged.Get("vnp_SecureHash")[1:]+"0")

	wrongAmount := f.signedCallback(t, out.PaymentURL, "00")
	wrongAmount.Set("vnp_Amount", "100")
	wrongAmount.Set("vnp_SecureHash", f.gw.Sign(wrongAmount))

	unknown := f.signedCallback(t, out.PaymentURL, "00")
	unknown.Set("vnp_TxnRef", "19990101000000-DEADBEEF")
	unknown.Set("vnp_SecureHash", f.gw.Sign(unknown))

	tests := []struct {
		name   string
		params map[string][]string
		want   error
	}{
		{"tampered field", tampered, usecase.ErrInvalidSignature},
		{"forged hash", forged, usecase.ErrInvalidSignature},
		{"amount mismatch", wrongAmount, usecase.ErrAmountMismatch},
		{"unknown order", unknown, usecase.ErrOrderNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.callback.Handle(context.Background(), tc.params)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	o := f.order(t, out.OrderCode)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, domain.PaymentUnpaid, o.PaymentStatus)
	assert.Equal(t, 10, f.stock(t, variantTea))
	assert.Equal(t, 1, f.cartItems(t, cartID))
	assert.Empty(t, f.store.Payments(o.ID))
}

func TestCallback_RejectsCODOrder(t *testing.T) {
	f := newFixture(t)
	cod, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-1", CartID: f.cart("cus-1", map[int64]int{variantTea: 1}), PaymentMethod: domain.MethodCOD,
	})
	require.NoError(t, err)

	redirect, err := f.gw.BuildRedirectURL(usecase.PaymentRequest{OrderCode: cod.OrderCode, Amount: cod.Total})
	require.NoError(t, err)
	_, err = f.callback.Handle(context.Background(), f.signedCallback(t, redirect, "00"))
	assert.ErrorIs(t, err, usecase.ErrNotGatewayOrder)
}

func TestCallback_OversoldAfterPaymentIsFlagged(t *testing.T) {
	f := newFixture(t)
	out, cartID := gatewayOrder(t, f, map[int64]int{variantTea: 1, variantCoffee: 2})
	f.setStock(t, variantCoffee, 1)

	res, err := f.callback.Handle(context.Background(), f.signedCallback(t, out.PaymentURL, "00"))
	require.NoError(t, err, "the payment is acknowledged")
	assert.True(t, res.NeedsReconciliation)
	assert.Equal(t, domain.PaymentPaid, res.PaymentStatus)
	assert.Equal(t, domain.StatusConfirmed, res.Status)

	o := f.order(t, out.OrderCode)
	assert.True(t, o.NeedsReconciliation)
	assert.Contains(t, o.ReconcileReason, "variant 102")
	assert.Equal(t, 9, f.stock(t, variantTea))
	assert.Equal(t, 1, f.stock(t, variantCoffee), "never negative")
	assert.Zero(t, f.cartItems(t, cartID))
	assert.Equal(t, []string{
		usecase.EventOrderCreated, usecase.EventOrderPaid, usecase.EventReconciliationRequired,
	}, f.topics())
}

func TestCallback_PaymentAfterCancelIsFlagged(t *testing.T) {
	f := newFixture(t)
	out, cartID := gatewayOrder(t, f, map[int64]int{variantTea: 1})

	_, err := f.status.Transition(context.Background(), usecase.TransitionInput{
		OrderCode: out.OrderCode, Status: domain.StatusCancelled, Actor: "ops",
	})
	require.NoError(t, err)

	res, err := f.callback.Handle(context.Background(), f.signedCallback(t, out.PaymentURL, "00"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, domain.PaymentPaid, res.PaymentStatus)
	assert.True(t, res.NeedsReconciliation)
	assert.Equal(t, 10, f.stock(t, variantTea))
	assert.Equal(t, 1, f.cartItems(t, cartID))
}

func TestCallback_ManyShortLinesStillSettle(t *testing.T) {
	f := newFixture(t)
	const lines = 20
	c := domain.Cart{CustomerID: "cus-1"}
	for i := int64(0); i < lines; i++ {
		id := 300 + i
		f.store.AddVariant(domain.ProductVariant{ID: id, ProductID: 9, Name: "sample", SKU: "SMP", Price: 1000, StockQuantity: 1, Active: true})
		vid := id
		c.Items = append(c.Items, domain.CartItem{ProductID: 9, VariantID: &vid, ProductName: "Sampler", UnitPrice: 1000, Quantity: 1})
	}
	out, err := f.checkout.Execute(context.Background(), usecase.CheckoutInput{
		CustomerID: "cus-1", CartID: f.store.AddCart(c), PaymentMethod: domain.MethodGateway, ClientIP: "10.0.0.1",
	})
	require.NoError(t, err)
	for i := int64(0); i < lines; i++ {
		f.setStock(t, 300+i, 0)
	}

	res, err := f.callback.Handle(context.Background(), f.signedCallback(t, out.PaymentURL, "00"))
	require.NoError(t, err)
	assert.True(t, res.NeedsReconciliation)
	assert.Equal(t, domain.PaymentPaid, res.PaymentStatus)

	o := f.order(t, out.OrderCode)
	assert.LessOrEqual(t, len(o.ReconcileReason), domain.MaxReconcileReasonLen)
	assert.True(t, strings.HasPrefix(o.ReconcileReason, "stock shortfall after payment (20 of 20 lines)"), o.ReconcileReason)
	assert.Len(t, f.store.Payments(o.ID), 1)
}
