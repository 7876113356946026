package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fixline/backend/internal/domain"
)

// WarningKind names the deadline a warning is about.
type WarningKind string

const (
	WarnResponse   WarningKind = "response"
	WarnArrival    WarningKind = "arrival"
	WarnCompletion WarningKind = "completion"
)

// Warning is an approaching-deadline notice for one assignment.
type Warning struct {
	Kind         WarningKind   `json:"kind"`
	JobID        string        `json:"job_id"`
	AssignmentID string        `json:"assignment_id"`
	ProviderID   string        `json:"provider_id"`
	Deadline     time.Time     `json:"deadline"`
	Remaining    time.Duration `json:"remaining"`
}

// dedupeKey is stable per assignment and deadline kind so each warning fires
// once across all instances.
func (w Warning) dedupeKey() string {
	return fmt.Sprintf("sla:warn:%s:%s", w.AssignmentID, w.Kind)
}

// Store lists the assignments the scanner watches.
type Store interface {
	// ListWatchedAssignments returns assignments on jobs in active states
	// with at least one deadline not yet marked met.
	ListWatchedAssignments(ctx context.Context) ([]domain.Assignment, error)
}

// Deduper suppresses duplicate warnings across scanner instances. A false
// return means another instance already claimed the key.
type Deduper interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Emitter receives warnings that survived deduplication.
type Emitter interface {
	EmitSlaWarning(ctx context.Context, w Warning)
}

// WarnWindows is how far ahead of each deadline the scanner warns.
type WarnWindows struct {
	Response   time.Duration
	Arrival    time.Duration
	Completion time.Duration
}

// Scanner periodically sweeps active assignments and emits warnings for
// deadlines about to pass.
type Scanner struct {
	store    Store
	dedupe   Deduper
	emitter  Emitter
	windows  WarnWindows
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
	stopCh   chan struct{}
}

func NewScanner(store Store, dedupe Deduper, emitter Emitter, windows WarnWindows, interval time.Duration, log *slog.Logger) *Scanner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scanner{
		store:    store,
		dedupe:   dedupe,
		emitter:  emitter,
		windows:  windows,
		interval: interval,
		log:      log,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, sweeping on the configured interval until Stop or ctx cancel.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sla scanner started", "interval", s.interval)
	for {
		select {
		case <-ticker.C:
			if n, err := s.ScanOnce(ctx); err != nil {
				s.log.Error("sla scan failed", "error", err)
			} else if n > 0 {
				s.log.Info("sla warnings emitted", "count", n)
			}
		case <-s.stopCh:
			s.log.Info("sla scanner stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates Run.
func (s *Scanner) Stop() { close(s.stopCh) }

// ScanOnce runs a single sweep and returns the number of warnings emitted.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	assignments, err := s.store.ListWatchedAssignments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list watched assignments: %w", err)
	}

	now := s.now()
	emitted := 0
	for i := range assignments {
		for _, w := range s.pending(&assignments[i], now) {
			ok, err := s.dedupe.SetNX(ctx, w.dedupeKey(), 24*time.Hour)
			if err != nil {
				s.log.Error("sla warn dedupe failed", "key", w.dedupeKey(), "error", err)
				continue
			}
			if !ok {
				continue
			}
			s.emitter.EmitSlaWarning(ctx, w)
			emitted++
		}
	}
	return emitted, nil
}

// pending returns the warnings due for one assignment at now. A deadline
// already marked met, or still outside its warn window, produces nothing.
func (s *Scanner) pending(a *domain.Assignment, now time.Time) []Warning {
	var out []Warning

	warn := func(kind WarningKind, deadline time.Time) {
		out = append(out, Warning{
			Kind:         kind,
			JobID:        a.JobID,
			AssignmentID: a.ID,
			ProviderID:   a.ProviderID,
			Deadline:     deadline,
			Remaining:    deadline.Sub(now),
		})
	}

	if a.SlaResponseMet == nil && !a.Status.Responded() {
		if now.After(a.SlaResponseDeadline.Add(-s.windows.Response)) {
			warn(WarnResponse, a.SlaResponseDeadline)
		}
	}

	if a.Status == domain.AssignmentAccepted {
		if a.SlaArrivalMet == nil && a.ArrivedAt == nil && a.SlaArrivalDeadline != nil {
			if now.After(a.SlaArrivalDeadline.Add(-s.windows.Arrival)) {
				warn(WarnArrival, *a.SlaArrivalDeadline)
			}
		}
		if a.SlaCompletionMet == nil && a.CompletedAt == nil && a.SlaCompletionDeadline != nil && a.StartedWorkAt != nil {
			if now.After(a.SlaCompletionDeadline.Add(-s.windows.Completion)) {
				warn(WarnCompletion, *a.SlaCompletionDeadline)
			}
		}
	}

	return out
}
