package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aq2208/gorder-checkout/internal/usecase"
)

const (
	ExchangeName     = "order.events"
	StatusQueueName  = "order.status.q"
	statusBindingKey = "order.#"
)

// RabbitProducer publishes order events with publisher confirms.
type RabbitProducer struct {
	ch          *amqp.Channel
	exchange    string
	confirmWait time.Duration
}

// Declare sets up the exchange, the status projection queue and its binding.
func Declare(ch *amqp.Channel, exchange string) error {
	// 1. declare exchange (topic type, durable)
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// 2. declare queue
	q, err := ch.QueueDeclare(
		StatusQueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// 3. bind queue → exchange for every order.* event
	if err := ch.QueueBind(q.Name, statusBindingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	return nil
}

// NewRabbitProducer puts ch into confirm mode; ch must not be shared with consumers.
func NewRabbitProducer(ch *amqp.Channel, exchange string) (*RabbitProducer, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}
	return &RabbitProducer{ch: ch, exchange: exchange, confirmWait: 5 * time.Second}, nil
}

// Publish sends one event and waits for the broker to confirm it.
func (p *RabbitProducer) Publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	}

	conf, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		pub,
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.confirmWait)
	defer cancel()
	acked, err := conf.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", messageID)
	}
	return nil
}

var _ usecase.EventPublisher = (*RabbitProducer)(nil)
