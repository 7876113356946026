package scoring

import (
	"context"
	"log/slog"
	"time"
)

// RecoveryScheduler runs the ledger's recovery pass on a fixed cadence,
// weekly in production.
type RecoveryScheduler struct {
	ledger   *Ledger
	interval time.Duration
	log      *slog.Logger
	stopCh   chan struct{}
}

func NewRecoveryScheduler(ledger *Ledger, interval time.Duration, log *slog.Logger) *RecoveryScheduler {
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	return &RecoveryScheduler{
		ledger:   ledger,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks until Stop or ctx cancel.
func (s *RecoveryScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("score recovery scheduler started", "interval", s.interval)
	for {
		select {
		case <-ticker.C:
			n, err := s.ledger.RecoveryPass(ctx)
			if err != nil {
				s.log.Error("score recovery pass failed", "error", err)
				continue
			}
			s.log.Info("score recovery pass complete", "providers_recovered", n)
		case <-s.stopCh:
			s.log.Info("score recovery scheduler stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates Run.
func (s *RecoveryScheduler) Stop() { close(s.stopCh) }
