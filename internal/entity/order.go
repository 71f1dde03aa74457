package domain

import (
	"errors"
	"time"
	"unicode/utf8"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusPreparing Status = "PREPARING"
	StatusShipping  Status = "SHIPPING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusRefunded  Status = "REFUNDED"
	StatusReturned  Status = "RETURNED"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	MethodCOD     PaymentMethod = "COD"
	MethodGateway PaymentMethod = "GATEWAY"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNegativeTotal = errors.New("order total is negative")
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusShipping,
		StatusCompleted, StatusCancelled, StatusRefunded, StatusReturned:
		return st, true
	}
	return "", false
}

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch m := PaymentMethod(s); m {
	case MethodCOD, MethodGateway:
		return m, true
	}
	return "", false
}

// Terminal reports whether no further lifecycle transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded || s == StatusReturned
}

// Redeemed reports whether an order in this status consumes a coupon redemption:
// confirmed and not yet cancelled, refunded or returned.
func (s Status) Redeemed() bool {
	switch s {
	case StatusConfirmed, StatusPreparing, StatusShipping, StatusCompleted:
		return true
	}
	return false
}

// RedeemedStatuses lists the statuses for which Redeemed is true.
var RedeemedStatuses = []Status{StatusConfirmed, StatusPreparing, StatusShipping, StatusCompleted}

// Settled reports whether the payment status is final for a gateway callback.
func (p PaymentStatus) Settled() bool {
	return p == PaymentPaid || p == PaymentFailed
}

// Order amounts are whole minor units of Currency.
type Order struct {
	ID            int64
	Code          string
	CustomerID    string
	Status        Status
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Subtotal      int64
	Discount      int64
	ShippingFee   int64
	Total         int64
	Currency      string
	CouponID      *int64
	Notes         string

	// StockCommitted is set once the order's variant stock has been decremented.
	StockCommitted      bool
	NeedsReconciliation bool
	ReconcileReason     string

	Items     []OrderItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem is frozen at commit time; later catalog edits never touch it.
type OrderItem struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	VariantID   *int64
	ProductName string
	VariantName string
	SKU         string
	UnitPrice   int64
	Quantity    int
	LineTotal   int64
}

// MaxReconcileReasonLen matches orders.reconcile_reason.
const MaxReconcileReasonLen = 512

// FlagReconciliation marks the order for manual follow-up. The reason is cut to
// MaxReconcileReasonLen bytes on a rune boundary so persisting it cannot fail.
func (o *Order) FlagReconciliation(reason string) {
	o.NeedsReconciliation = true
	if len(reason) > MaxReconcileReasonLen {
		const ellipsis = "..."
		cut := MaxReconcileReasonLen - len(ellipsis)
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut] + ellipsis
	}
	o.ReconcileReason = reason
}

// ComputeTotal applies total = subtotal - discount + shipping.
func (o *Order) ComputeTotal() error {
	if o.Subtotal < 0 || o.Discount < 0 || o.ShippingFee < 0 {
		return ErrInvalidAmount
	}
	total := o.Subtotal - o.Discount + o.ShippingFee
	if total < 0 {
		return ErrNegativeTotal
	}
	o.Total = total
	return nil
}

// PaymentRecord is the durable evidence of a gateway settlement attempt.
type PaymentRecord struct {
	ID            int64
	OrderID       int64
	TransactionNo string
	BankCode      string
	ResponseCode  string
	Amount        int64
	Status        PaymentStatus
	PaidAt        *time.Time
	CreatedAt     time.Time
}
