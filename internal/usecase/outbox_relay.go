package usecase

import (
	"context"
	"time"

	"github.com/aq2208/gorder-checkout/internal/logging"
)

// OutboxRelay publishes events committed alongside order changes. Delivery is
// at-least-once: a crash between Publish and MarkSent republishes the event.
type OutboxRelay struct {
	outbox OutboxRepo
	pub    EventPublisher
	batch  int
	obs    Observer
}

func NewOutboxRelay(outbox OutboxRepo, pub EventPublisher, batch int) *OutboxRelay {
	if batch <= 0 {
		batch = 100
	}
	return &OutboxRelay{outbox: outbox, pub: pub, batch: batch, obs: nopObserver{}}
}

func (r *OutboxRelay) WithObserver(o Observer) *OutboxRelay {
	if o != nil {
		r.obs = o
	}
	return r
}

// RunOnce relays one batch in insertion order and stops at the first publish failure.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	recs, err := r.outbox.FetchPending(ctx, r.batch)
	if err != nil {
		r.obs.OutboxRelayed(0, err)
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		if err := r.pub.Publish(ctx, rec.Topic, rec.EventID, rec.Payload); err != nil {
			r.obs.OutboxRelayed(sent, err)
			return sent, err
		}
		if err := r.outbox.MarkSent(ctx, rec.ID); err != nil {
			r.obs.OutboxRelayed(sent, err)
			return sent, err
		}
		sent++
	}
	r.obs.OutboxRelayed(sent, nil)
	return sent, nil
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) {
	log := logging.FromCtx(ctx).With("worker", "outbox-relay")
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn("outbox relay failed", "sent", n, "err", err)
		}
		// drain a backlog without waiting for the next tick
		if err == nil && n == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
