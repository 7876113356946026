package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OutboxRow is one unpublished event captured in the same transaction as
// the state change it describes.
type OutboxRow struct {
	Seq   int64
	Event Event
}

// OutboxStore reads and retires pending outbox rows.
type OutboxStore interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error)
	MarkOutboxPublished(ctx context.Context, seqs []int64) error
}

// Relay drains the outbox onto the bus. Because rows are retired only after
// a successful publish, delivery is at-least-once; consumers key on the
// event ID for idempotency.
type Relay struct {
	store    OutboxStore
	bus      Bus
	interval time.Duration
	batch    int
	log      *slog.Logger
	stopCh   chan struct{}
}

func NewRelay(store OutboxStore, bus Bus, interval time.Duration, batch int, log *slog.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		store:    store,
		bus:      bus,
		interval: interval,
		batch:    batch,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, draining on the configured interval until Stop or ctx cancel.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started", "interval", r.interval, "batch", r.batch)
	for {
		select {
		case <-ticker.C:
			if _, err := r.DrainOnce(ctx); err != nil {
				r.log.Error("outbox drain failed", "error", err)
			}
		case <-r.stopCh:
			r.log.Info("outbox relay stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates Run.
func (r *Relay) Stop() { close(r.stopCh) }

// DrainOnce publishes one batch of pending rows and retires the ones that
// went out. Returns how many were published.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	rows, err := r.store.ListPendingOutbox(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list pending outbox: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(rows))
	for _, row := range rows {
		if err := r.bus.Publish(ctx, row.Event); err != nil {
			// stop at the first failure to preserve ordering
			r.log.Error("outbox publish failed", "seq", row.Seq, "event_id", row.Event.ID, "error", err)
			break
		}
		published = append(published, row.Seq)
	}

	if len(published) == 0 {
		return 0, nil
	}
	if err := r.store.MarkOutboxPublished(ctx, published); err != nil {
		return len(published), fmt.Errorf("mark outbox published: %w", err)
	}
	return len(published), nil
}
