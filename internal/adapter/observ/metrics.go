package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

var _ usecase.Observer = (*Metrics)(nil)

// Metrics exports checkout domain counters.
type Metrics struct {
	checkouts       *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	outboxSent      prometheus.Counter
	outboxErrors    prometheus.Counter
}

// NewMetrics registers the counters on reg. Pass prometheus.DefaultRegisterer
// to expose them on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "orders_total",
			Help:      "Checkout attempts by payment method and result",
		}, []string{"method", "result"}),
		callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "payment_callbacks_total",
			Help:      "Gateway callbacks by outcome",
		}, []string{"outcome"}),
		reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "reconciliations_total",
			Help:      "Orders flagged for manual reconciliation",
		}, []string{"kind"}),
		outboxSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "outbox_published_total",
			Help:      "Outbox events published to the broker",
		}),
		outboxErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "outbox_errors_total",
			Help:      "Failed outbox relay batches",
		}),
	}
}

func (m *Metrics) CheckoutFinished(method domain.PaymentMethod, result string) {
	m.checkouts.WithLabelValues(string(method), result).Inc()
}

func (m *Metrics) CallbackHandled(outcome string) {
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReconciliationFlagged(kind string) {
	m.reconciliations.WithLabelValues(kind).Inc()
}

func (m *Metrics) OutboxRelayed(n int, err error) {
	m.outboxSent.Add(float64(n))
	if err != nil {
		m.outboxErrors.Inc()
	}
}
