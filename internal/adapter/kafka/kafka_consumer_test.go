package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"

	"github.com/aq2208/gorder-checkout/internal/logging"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	marked []int64
}

func (s *fakeSession) Context() context.Context { return context.Background() }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestConsumeClaim_MarksHandledAndPoison(t *testing.T) {
	var seen []string
	h := &cgHandler{
		handle: func(_ context.Context, ev usecase.FulfillmentStatusMsg) error {
			seen = append(seen, ev.OrderCode)
			if ev.OrderCode == "RETRY" {
				return errors.New("db down")
			}
			return nil
		},
		log: logging.Base(),
	}

	claim := fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 3)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(`{"orderCode":"A","status":"SHIPPING"}`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`garbage`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 3, Value: []byte(`{"orderCode":"RETRY","status":"SHIPPING"}`)}
	close(claim.msgs)

	sess := &fakeSession{}
	assert.NoError(t, h.ConsumeClaim(sess, claim))
	assert.Equal(t, []string{"A", "RETRY"}, seen)
	assert.Equal(t, []int64{1, 2}, sess.marked, "failed messages stay unmarked")
}
