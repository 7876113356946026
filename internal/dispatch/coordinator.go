// Package dispatch drives the offer lifecycle: broadcasting ranked offers,
// settling the first acceptance, declines, expiry sweeps, and requeues.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/match"
	"github.com/fixline/backend/internal/scoring"
	"github.com/fixline/backend/internal/sla"
)

// AcceptOutcome reports a settled acceptance. Losers are the sibling offers
// closed because another provider won the race.
type AcceptOutcome struct {
	Assignment *domain.Assignment
	Job        *domain.Job
	Losers     []domain.Assignment
}

// LostRaceReason is recorded on sibling offers closed by an acceptance.
const LostRaceReason = "offer taken by another provider"

// Store is the persistence surface the coordinator drives. Multi-row
// operations must be transactional; offer settlement must be first-wins
// under concurrent acceptance.
type Store interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	GetAssignment(ctx context.Context, id string) (*domain.Assignment, error)

	// CreateOffers inserts the assignments and moves the job from
	// pending_match to matched in one transaction.
	CreateOffers(ctx context.Context, jobID string, offers []domain.Assignment) error

	// AcceptOffer settles an acceptance first-wins: exactly one concurrent
	// caller gets the outcome, the rest get KindOfferAlreadyResponded.
	AcceptOffer(ctx context.Context, assignmentID, providerID string, now time.Time) (*AcceptOutcome, error)

	DeclineOffer(ctx context.Context, assignmentID, providerID, reason string, now time.Time) (*domain.Assignment, error)
	ExpireOffer(ctx context.Context, assignmentID string, now time.Time) (*domain.Assignment, error)

	ListExpiredOpenOffers(ctx context.Context, now time.Time, limit int) ([]domain.Assignment, error)
	CountOpenOffers(ctx context.Context, jobID string) (int, error)

	// RequeueJob moves a matched job back to pending_match.
	RequeueJob(ctx context.Context, jobID, reason string) (*domain.Job, error)

	// CancelOpenOffers closes every open offer on a job, for cancellations
	// and admin reassignment.
	CancelOpenOffers(ctx context.Context, jobID, reason string, now time.Time) ([]domain.Assignment, error)

	ListJobsInStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error)
}

// Penalizer applies scoring penalties for dispatch infractions. Satisfied
// by the scoring ledger.
type Penalizer interface {
	ApplyPenalty(ctx context.Context, providerID string, ptype domain.PenaltyType, jobID *string, reason string) (*scoring.Mutation, error)
}

// Coordinator orchestrates matching and the offer lifecycle.
type Coordinator struct {
	store     Store
	matcher   *match.Matcher
	penalties Penalizer
	offerTTL  time.Duration
	log       *slog.Logger
	now       func() time.Time
}

func NewCoordinator(store Store, matcher *match.Matcher, penalties Penalizer, offerTTL time.Duration, log *slog.Logger) *Coordinator {
	if offerTTL <= 0 {
		offerTTL = 30 * time.Minute
	}
	return &Coordinator{
		store:     store,
		matcher:   matcher,
		penalties: penalties,
		offerTTL:  offerTTL,
		log:       log,
		now:       time.Now,
	}
}

// Broadcast finds candidates for a pending job and sends them offers.
// Returns how many offers went out; zero means the job stays pending for
// the next pass.
func (c *Coordinator) Broadcast(ctx context.Context, jobID string) (int, error) {
	const op = "dispatch.Broadcast"

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != domain.JobPendingMatch {
		return 0, errs.E(errs.KindConflictingState, op, "job %s is %s, not pending_match", jobID, job.Status)
	}

	task, err := c.store.GetTask(ctx, job.TaskID)
	if err != nil {
		return 0, err
	}

	cands, err := c.matcher.FindCandidates(ctx, job, task)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(cands) == 0 {
		c.log.Info("no eligible providers", "job_id", jobID, "task_id", task.ID)
		return 0, nil
	}

	now := c.now()
	offers := make([]domain.Assignment, len(cands))
	for i, cand := range cands {
		offers[i] = domain.Assignment{
			ID:                  domain.NewID(),
			JobID:               job.ID,
			ProviderID:          cand.Provider.ID,
			Status:              domain.AssignmentOffered,
			OfferedAt:           now,
			OfferExpiresAt:      now.Add(c.offerTTL),
			SlaResponseDeadline: sla.ResponseDeadline(job.SlaSnapshot, now, c.offerTTL),
			MatchScore:          cand.Score,
		}
	}

	if err := c.store.CreateOffers(ctx, job.ID, offers); err != nil {
		return 0, fmt.Errorf("%s: create offers: %w", op, err)
	}

	c.log.Info("offers broadcast", "job_id", jobID, "count", len(offers))
	return len(offers), nil
}

// Accept settles a provider's acceptance. Exactly one acceptance wins per
// job; losers of the race get KindOfferAlreadyResponded.
func (c *Coordinator) Accept(ctx context.Context, assignmentID, providerID string) (*AcceptOutcome, error) {
	outcome, err := c.store.AcceptOffer(ctx, assignmentID, providerID, c.now())
	if err != nil {
		return nil, err
	}

	c.log.Info("offer accepted",
		"job_id", outcome.Job.ID,
		"assignment_id", outcome.Assignment.ID,
		"provider_id", providerID,
		"losing_offers", len(outcome.Losers))
	return outcome, nil
}

// Decline records a provider's decline. When it was the last open offer the
// job requeues for a fresh broadcast.
func (c *Coordinator) Decline(ctx context.Context, assignmentID, providerID, reason string) (*domain.Assignment, error) {
	a, err := c.store.DeclineOffer(ctx, assignmentID, providerID, reason, c.now())
	if err != nil {
		return nil, err
	}

	if err := c.requeueIfExhausted(ctx, a.JobID); err != nil {
		return a, err
	}
	return a, nil
}

// Sweep expires open offers past their deadline, penalizes the silent
// providers, and requeues jobs whose offers are exhausted. Returns how many
// offers expired.
func (c *Coordinator) Sweep(ctx context.Context, batch int) (int, error) {
	const op = "dispatch.Sweep"

	expired, err := c.store.ListExpiredOpenOffers(ctx, c.now(), batch)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	count := 0
	for i := range expired {
		a, err := c.store.ExpireOffer(ctx, expired[i].ID, c.now())
		if err != nil {
			if errs.Is(err, errs.KindOfferAlreadyResponded) {
				// responded between listing and expiry; nothing to do
				continue
			}
			return count, fmt.Errorf("%s: expire %s: %w", op, expired[i].ID, err)
		}
		count++

		jobID := a.JobID
		if _, err := c.penalties.ApplyPenalty(ctx, a.ProviderID, domain.PenaltyResponseTimeout, &jobID, "offer expired without a response"); err != nil {
			c.log.Error("response timeout penalty failed", "provider_id", a.ProviderID, "error", err)
		}

		if err := c.requeueIfExhausted(ctx, a.JobID); err != nil {
			return count, err
		}
	}
	return count, nil
}

// ReleaseOffers closes every open offer on a job without requeueing it,
// for cancellations.
func (c *Coordinator) ReleaseOffers(ctx context.Context, jobID, reason string) error {
	if _, err := c.store.CancelOpenOffers(ctx, jobID, reason, c.now()); err != nil {
		return fmt.Errorf("dispatch.ReleaseOffers: %w", err)
	}
	return nil
}

// Reassign force-closes every open offer on a job and requeues it. Admin
// recovery path for stuck dispatches.
func (c *Coordinator) Reassign(ctx context.Context, jobID, reason string) error {
	const op = "dispatch.Reassign"

	if _, err := c.store.CancelOpenOffers(ctx, jobID, reason, c.now()); err != nil {
		return fmt.Errorf("%s: cancel offers: %w", op, err)
	}
	if _, err := c.store.RequeueJob(ctx, jobID, reason); err != nil {
		return fmt.Errorf("%s: requeue: %w", op, err)
	}
	return nil
}

// requeueIfExhausted moves a matched job back to pending_match once no open
// offers remain.
func (c *Coordinator) requeueIfExhausted(ctx context.Context, jobID string) error {
	open, err := c.store.CountOpenOffers(ctx, jobID)
	if err != nil {
		return fmt.Errorf("count open offers: %w", err)
	}
	if open > 0 {
		return nil
	}

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobMatched {
		return nil
	}

	if _, err := c.store.RequeueJob(ctx, jobID, "all offers declined or expired"); err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	c.log.Info("job requeued", "job_id", jobID)
	return nil
}
