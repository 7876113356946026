package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/fixline/backend/internal/events"
)

// insertOutbox captures an event in the same transaction as the state change
// it describes. The relay publishes it after commit.
func insertOutbox(tx *sql.Tx, ev events.Event) error {
	_, err := tx.Exec(`
		INSERT INTO event_outbox (event_id, event_type, job_id, provider_id, customer_id, payload, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7)`,
		ev.ID, string(ev.Type), ev.JobID, ev.ProviderID, ev.CustomerID, []byte(ev.Payload), ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", ev.Type, err)
	}
	return nil
}

// ListPendingOutbox returns unpublished rows in commit order.
func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]events.OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_id, event_type,
		       COALESCE(job_id, ''), COALESCE(provider_id, ''), COALESCE(customer_id, ''),
		       payload, occurred_at
		FROM event_outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox: %w", err)
	}
	defer rows.Close()

	var out []events.OutboxRow
	for rows.Next() {
		var row events.OutboxRow
		var typ string
		var payload []byte
		if err := rows.Scan(&row.Seq, &row.Event.ID, &typ,
			&row.Event.JobID, &row.Event.ProviderID, &row.Event.CustomerID,
			&payload, &row.Event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		row.Event.Type = events.Type(typ)
		row.Event.Payload = payload
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkOutboxPublished retires rows the relay has published.
func (s *Store) MarkOutboxPublished(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE event_outbox SET published_at = now()
		WHERE seq = ANY($1) AND published_at IS NULL`, pq.Array(seqs))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
