package app

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aq2208/gorder-checkout/internal/adapter/memstore"
	domain "github.com/aq2208/gorder-checkout/internal/entity"
)

// seedDemo fills the in-memory store with a small catalog and a cart for
// customer "demo" so the flow can be exercised without MySQL.
func seedDemo(s *memstore.Store) {
	variants := []domain.ProductVariant{
		{ID: 1, ProductID: 1, Name: "500g", SKU: "TEA-500", Price: 120000, StockQuantity: 50, Active: true},
		{ID: 2, ProductID: 1, Name: "1kg", SKU: "TEA-1K", Price: 220000, StockQuantity: 20, Active: true},
		{ID: 3, ProductID: 2, Name: "Ground 250g", SKU: "COF-250", Price: 85000, StockQuantity: 5, Active: true},
	}
	for _, v := range variants {
		s.AddVariant(v)
	}

	now := time.Now()
	limit := 100
	maxOff := int64(50000)
	s.AddCoupon(domain.Coupon{
		Code: "WELCOME10", Type: domain.CouponPercent, Value: decimal.NewFromInt(10),
		MaxDiscountAmount: &maxOff, UsageLimit: &limit,
		StartsAt: now.Add(-time.Hour), EndsAt: now.AddDate(0, 1, 0), Active: true,
	})

	tea, coffee := variants[0], variants[2]
	s.AddCart(domain.Cart{CustomerID: "demo", CreatedAt: now, UpdatedAt: now, Items: []domain.CartItem{
		{ProductID: tea.ProductID, VariantID: &tea.ID, ProductName: "Oolong Tea", VariantName: tea.Name, SKU: tea.SKU, UnitPrice: tea.Price, Quantity: 2},
		{ProductID: coffee.ProductID, VariantID: &coffee.ID, ProductName: "Robusta Coffee", VariantName: coffee.Name, SKU: coffee.SKU, UnitPrice: coffee.Price, Quantity: 1},
	}})
}
