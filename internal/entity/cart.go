package domain

import "time"

type Cart struct {
	ID         int64
	CustomerID string
	Items      []CartItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem carries the unit price snapshot taken when the item was added.
type CartItem struct {
	ID          int64
	CartID      int64
	ProductID   int64
	VariantID   *int64
	ProductName string
	VariantName string
	SKU         string
	UnitPrice   int64
	Quantity    int
	AddedAt     time.Time
}

func (c *Cart) Subtotal() int64 {
	var sum int64
	for _, it := range c.Items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

// ProductVariant is the unit against which stock is tracked.
type ProductVariant struct {
	ID             int64
	ProductID      int64
	Name           string
	SKU            string
	Price          int64
	CompareAtPrice int64
	StockQuantity  int
	Active         bool
}
