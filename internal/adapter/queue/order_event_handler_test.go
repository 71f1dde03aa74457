package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aq2208/gorder-checkout/internal/adapter/cache"
	"github.com/aq2208/gorder-checkout/internal/adapter/queue"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

func newProjector(t *testing.T) (queue.Handler, *cache.RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := cache.NewRedisCache(rdb, time.Hour)
	p := queue.NewOrderEventProjector(c)
	return queue.JSONHandler[usecase.OrderEventMsg]{HandleFunc: p.HandleEvent}, c
}

func delivery(t *testing.T, msg usecase.OrderEventMsg) amqp.Delivery {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return amqp.Delivery{RoutingKey: msg.Type, Body: b}
}

func TestOrderEventProjector(t *testing.T) {
	h, c := newProjector(t)
	ctx := context.Background()
	t0 := time.Date(2025, 9, 8, 6, 0, 0, 0, time.UTC)

	paid := usecase.OrderEventMsg{
		Type: usecase.EventOrderPaid, OrderCode: "ORD-1", CustomerID: "cus-1",
		Status: "CONFIRMED", PaymentStatus: "PAID", OccurredAt: t0.Add(time.Minute),
	}
	created := usecase.OrderEventMsg{
		Type: usecase.EventOrderCreated, OrderCode: "ORD-1", CustomerID: "cus-1",
		Status: "PENDING", PaymentStatus: "UNPAID", OccurredAt: t0,
	}

	require.NoError(t, h.Handle(ctx, delivery(t, paid)))
	// An older event arriving late does not roll the projection back.
	require.NoError(t, h.Handle(ctx, delivery(t, created)))

	snap, ok, err := c.GetStatus(ctx, "ORD-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "CONFIRMED", snap.Status)
	assert.Equal(t, "PAID", snap.PaymentStatus)
	assert.Equal(t, "cus-1", snap.CustomerID)
}

func TestJSONHandler_PoisonMessages(t *testing.T) {
	h, _ := newProjector(t)

	err := h.Handle(context.Background(), amqp.Delivery{Body: []byte("{not json")})
	assert.ErrorIs(t, err, queue.ErrPoison)

	err = h.Handle(context.Background(), delivery(t, usecase.OrderEventMsg{Type: usecase.EventOrderPaid}))
	assert.ErrorIs(t, err, queue.ErrPoison)
}
