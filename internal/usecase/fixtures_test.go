package usecase_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aq2208/gorder-checkout/internal/adapter/gateway"
	"github.com/aq2208/gorder-checkout/internal/adapter/memstore"
	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

const (
	variantTea    int64 = 101
	variantCoffee int64 = 102
	shippingFee   int64 = 20000
)

type fixture struct {
	store    *memstore.Store
	gw       *gateway.VNPay
	ledger   *usecase.InventoryLedger
	coupons  *usecase.CouponValidator
	checkout *usecase.Checkout
	callback *usecase.PaymentCallback
	status   *usecase.OrderStatus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	store.AddVariant(domain.ProductVariant{ID: variantTea, ProductID: 1, Name: "500g", SKU: "TEA-500", Price: 100000, StockQuantity: 10, Active: true})
	store.AddVariant(domain.ProductVariant{ID: variantCoffee, ProductID: 2, Name: "1kg", SKU: "COF-1K", Price: 50000, StockQuantity: 5, Active: true})
	store.AddCoupon(domain.Coupon{
		Code:              "SALE20",
		Type:              domain.CouponPercent,
		Value:             decimal.NewFromInt(20),
		MaxDiscountAmount: ptr(int64(30000)),
		StartsAt:          time.Now().Add(-24 * time.Hour),
		EndsAt:            time.Now().Add(24 * time.Hour),
		Active:            true,
	})

	gw, err := gateway.New(gateway.Config{
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		TmnCode:    "DEMO0001",
		HashSecret: "TESTSECRET",
		ReturnURL:  "http://localhost:8080/v1/payments/vnpay/return",
	})
	require.NoError(t, err)

	ledger := usecase.NewInventoryLedger()
	coupons := usecase.NewCouponValidator(store, "VND")
	return &fixture{
		store:    store,
		gw:       gw,
		ledger:   ledger,
		coupons:  coupons,
		checkout: usecase.NewCheckout(store, coupons, ledger, gw, nil, usecase.CheckoutConfig{ShippingFee: shippingFee, Currency: "VND"}),
		callback: usecase.NewPaymentCallback(store, gw, ledger),
		status:   usecase.NewOrderStatus(store, ledger),
	}
}

// cart adds a cart for customer with the given variant quantities.
func (f *fixture) cart(customer string, lines map[int64]int) int64 {
	c := domain.Cart{CustomerID: customer}
	for _, id := range []int64{variantTea, variantCoffee} {
		qty, ok := lines[id]
		if !ok {
			continue
		}
		v, _ := f.store.Variant(id)
		vid := id
		c.Items = append(c.Items, domain.CartItem{
			ProductID:   v.ProductID,
			VariantID:   &vid,
			ProductName: "Product " + v.SKU,
			VariantName: v.Name,
			SKU:         v.SKU,
			UnitPrice:   v.Price,
			Quantity:    qty,
		})
	}
	return f.store.AddCart(c)
}

func (f *fixture) stock(t *testing.T, id int64) int {
	t.Helper()
	v, ok := f.store.Variant(id)
	require.True(t, ok)
	return v.StockQuantity
}

func (f *fixture) setStock(t *testing.T, id int64, qty int) {
	t.Helper()
	v, ok := f.store.Variant(id)
	require.True(t, ok)
	v.StockQuantity = qty
	f.store.AddVariant(v)
}

func (f *fixture) order(t *testing.T, code string) *domain.Order {
	t.Helper()
	o, err := f.store.Orders().GetByCode(context.Background(), code)
	require.NoError(t, err)
	return o
}

func (f *fixture) cartItems(t *testing.T, cartID int64) int {
	t.Helper()
	c, err := f.store.Carts().GetCart(context.Background(), cartID)
	require.NoError(t, err)
	return len(c.Items)
}

func (f *fixture) topics() []string {
	var out []string
	for _, ev := range f.store.Events() {
		out = append(out, ev.Topic)
	}
	return out
}

// signedCallback builds the parameters the gateway would send for a payment
// on redirectURL, signed with the fixture's secret.
func (f *fixture) signedCallback(t *testing.T, redirectURL, responseCode string) url.Values {
	t.Helper()
	u, err := url.Parse(redirectURL)
	require.NoError(t, err)
	q := u.Query()
	q.Del("vnp_SecureHash")
	q.Del("vnp_SecureHashType")
	q.Set("vnp_ResponseCode", responseCode)
	q.Set("vnp_TransactionStatus", responseCode)
	q.Set("vnp_TransactionNo", "14123456")
	q.Set("vnp_BankCode", "NCB")
	q.Set("vnp_PayDate", time.Now().Format("20060102150405"))
	q.Set("vnp_SecureHash", f.gw.Sign(q))
	q.Set("vnp_SecureHashType", "HMACSHA512")
	return q
}

func ptr[T any](v T) *T { return &v }
