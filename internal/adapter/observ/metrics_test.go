package observ_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aq2208/gorder-checkout/internal/adapter/observ"
	domain "github.com/aq2208/gorder-checkout/internal/entity"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observ.NewMetrics(reg)

	m.CheckoutFinished(domain.MethodCOD, "ok")
	m.CheckoutFinished(domain.MethodCOD, "ok")
	m.CheckoutFinished(domain.MethodGateway, "insufficient_stock")
	m.CallbackHandled("succeeded")
	m.ReconciliationFlagged("stock_shortfall")
	m.OutboxRelayed(3, nil)
	m.OutboxRelayed(1, errors.New("broker down"))

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "checkout_orders_total"), "one series per method and result")
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "checkout_payment_callbacks_total"))

	mfs, err := reg.Gather()
	assert.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range mfs {
		var sum float64
		for _, metric := range mf.GetMetric() {
			sum += metric.GetCounter().GetValue()
		}
		values[mf.GetName()] = sum
	}
	assert.Equal(t, 3.0, values["checkout_orders_total"])
	assert.Equal(t, 1.0, values["checkout_reconciliations_total"])
	assert.Equal(t, 4.0, values["checkout_outbox_published_total"])
	assert.Equal(t, 1.0, values["checkout_outbox_errors_total"])
}
