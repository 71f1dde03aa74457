package repo

import (
	"context"

	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type MySQLOutboxRepo struct{ q queryer }

func (r *MySQLOutboxRepo) Insert(ctx context.Context, ev usecase.OutboxEvent) error {
	_, err := r.q.ExecContext(ctx, `
INSERT INTO outbox (event_id, topic, msg_key, payload, status, created_at)
VALUES (?, ?, ?, ?, 'PENDING', NOW(3))`,
		ev.EventID, ev.Topic, ev.Key, ev.Payload,
	)
	return err
}

func (r *MySQLOutboxRepo) FetchPending(ctx context.Context, limit int) ([]usecase.OutboxRecord, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT id, event_id, topic, msg_key, payload, created_at
FROM outbox WHERE status = 'PENDING' ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usecase.OutboxRecord
	for rows.Next() {
		var rec usecase.OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *MySQLOutboxRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE outbox SET status = 'SENT', sent_at = NOW(3) WHERE id = ?`, id)
	return err
}

var _ usecase.OutboxRepo = (*MySQLOutboxRepo)(nil)
