package usecase

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
)

// Routing keys on the order.events exchange.
const (
	EventOrderCreated           = "order.created"
	EventOrderPaid              = "order.paid"
	EventOrderPaymentFailed     = "order.payment_failed"
	EventOrderStatusChanged     = "order.status_changed"
	EventReconciliationRequired = "order.reconciliation_required"
)

// OrderEventMsg is published for every order state change.
type OrderEventMsg struct {
	EventID       string    `json:"eventId"`
	Type          string    `json:"type"`
	OrderCode     string    `json:"orderCode"`
	CustomerID    string    `json:"customerId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	Total         int64     `json:"total"`
	Currency      string    `json:"currency"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// FulfillmentStatusMsg is sent by the fulfillment system on Kafka.
type FulfillmentStatusMsg struct {
	OrderCode string `json:"orderCode"`
	Status    string `json:"status"` // e.g. "SHIPPING", "COMPLETED", "RETURNED"
	Reason    string `json:"reason"`
}

type OutboxEvent struct {
	EventID string
	Topic   string
	Key     string
	Payload []byte
}

type OutboxRecord struct {
	ID        int64
	EventID   string
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

func newOrderEvent(typ string, o *domain.Order, reason string, now time.Time) (OutboxEvent, error) {
	msg := OrderEventMsg{
		EventID:       uuid.NewString(),
		Type:          typ,
		OrderCode:     o.Code,
		CustomerID:    o.CustomerID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Total:         o.Total,
		Currency:      o.Currency,
		Reason:        reason,
		OccurredAt:    now.UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{EventID: msg.EventID, Topic: typ, Key: o.Code, Payload: payload}, nil
}
