package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/fixline/backend/internal/domain"
)

// Runner is the background loop that sweeps expired offers and rebroadcasts
// jobs sitting in pending_match.
type Runner struct {
	coord    *Coordinator
	interval time.Duration
	batch    int
	log      *slog.Logger
	stopCh   chan struct{}
}

func NewRunner(coord *Coordinator, interval time.Duration, batch int, log *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Runner{
		coord:    coord,
		interval: interval,
		batch:    batch,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks until Stop or ctx cancel.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("dispatch runner started", "interval", r.interval)
	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-r.stopCh:
			r.log.Info("dispatch runner stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates Run.
func (r *Runner) Stop() { close(r.stopCh) }

func (r *Runner) tick(ctx context.Context) {
	if n, err := r.coord.Sweep(ctx, r.batch); err != nil {
		r.log.Error("offer sweep failed", "error", err)
	} else if n > 0 {
		r.log.Info("offers expired", "count", n)
	}

	pending, err := r.coord.store.ListJobsInStatus(ctx, domain.JobPendingMatch, r.batch)
	if err != nil {
		r.log.Error("list pending jobs failed", "error", err)
		return
	}
	for i := range pending {
		if _, err := r.coord.Broadcast(ctx, pending[i].ID); err != nil {
			r.log.Error("rebroadcast failed", "job_id", pending[i].ID, "error", err)
		}
	}
}
