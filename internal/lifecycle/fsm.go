// Package lifecycle implements the job status state machine with actor
// policy. The transition relation is the single source of truth; any
// (from, to, actor) triple outside it is rejected.
package lifecycle

import (
	"time"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
)

// edge is one legal transition with its allowed-actor set.
type edge struct {
	to     domain.JobStatus
	actors []domain.Actor
}

var (
	customerOnly   = []domain.Actor{domain.ActorCustomer}
	providerOnly   = []domain.Actor{domain.ActorProvider}
	systemOrAdmin  = []domain.Actor{domain.ActorSystem, domain.ActorAdmin}
	customerSystem = []domain.Actor{domain.ActorCustomer, domain.ActorSystem}
)

// transitions is the authoritative relation. Admin-initiated cancellation
// always lands in cancelled_by_system; the mobile boundary translates.
var transitions = map[domain.JobStatus][]edge{
	domain.JobDraft: {
		{domain.JobPendingMatch, customerSystem},
		{domain.JobCancelledByCustomer, customerOnly},
	},
	domain.JobPendingMatch: {
		{domain.JobMatched, []domain.Actor{domain.ActorSystem}},
		{domain.JobCancelledByCustomer, customerOnly},
		{domain.JobCancelledBySystem, systemOrAdmin},
	},
	domain.JobMatched: {
		{domain.JobPendingApproval, []domain.Actor{domain.ActorSystem, domain.ActorProvider}},
		{domain.JobPendingMatch, []domain.Actor{domain.ActorSystem}}, // all offers declined
		{domain.JobCancelledByCustomer, customerOnly},
	},
	domain.JobPendingApproval: {
		{domain.JobScheduled, customerSystem},
		{domain.JobProviderAccepted, customerOnly}, // legacy direct-accept path
		{domain.JobPendingMatch, customerOnly},     // reject provider
		{domain.JobCancelledByCustomer, customerOnly},
	},
	domain.JobScheduled: {
		{domain.JobProviderAccepted, []domain.Actor{domain.ActorSystem}},
		{domain.JobCancelledByCustomer, customerOnly},
		{domain.JobCancelledByProvider, providerOnly},
		{domain.JobCancelledBySystem, systemOrAdmin},
	},
	domain.JobProviderAccepted: {
		{domain.JobProviderEnRoute, providerOnly},
		{domain.JobCancelledByProvider, providerOnly},
		{domain.JobCancelledByCustomer, customerOnly}, // only before en_route
	},
	domain.JobProviderEnRoute: {
		{domain.JobInProgress, providerOnly},
		{domain.JobCancelledByProvider, providerOnly},
		{domain.JobCancelledBySystem, systemOrAdmin},
	},
	domain.JobInProgress: {
		{domain.JobCompleted, providerOnly},
		{domain.JobDisputed, []domain.Actor{domain.ActorCustomer, domain.ActorProvider}},
	},
	domain.JobCompleted: {
		{domain.JobRefunded, []domain.Actor{domain.ActorAdmin}},
		{domain.JobDisputed, customerOnly}, // within dispute window
	},
}

// CanTransition reports whether (from, to, actor) is a member of the
// transition relation.
func CanTransition(from, to domain.JobStatus, actor domain.Actor) bool {
	for _, e := range transitions[from] {
		if e.to != to {
			continue
		}
		for _, a := range e.actors {
			if a == actor {
				return true
			}
		}
	}
	return false
}

// LegalTargets returns the statuses reachable from the given state by the
// given actor, in table order.
func LegalTargets(from domain.JobStatus, actor domain.Actor) []domain.JobStatus {
	var out []domain.JobStatus
	for _, e := range transitions[from] {
		for _, a := range e.actors {
			if a == actor {
				out = append(out, e.to)
				break
			}
		}
	}
	return out
}

// Apply validates the transition and mutates the job in place: status,
// lifecycle timestamps, and cancellation metadata. Cancellation states
// require a non-empty reason.
func Apply(job *domain.Job, to domain.JobStatus, actor domain.Actor, reason string, now time.Time) error {
	const op = "lifecycle.Apply"

	if !CanTransition(job.Status, to, actor) {
		return errs.E(errs.KindInvalidTransition, op,
			"%s -> %s not allowed for actor %s", job.Status, to, actor)
	}
	if to.Cancelled() && reason == "" {
		return errs.E(errs.KindValidationFailed, op, "cancellation requires a reason")
	}

	job.Status = to
	job.UpdatedAt = now

	switch {
	case to == domain.JobInProgress:
		t := now
		job.StartedAt = &t
	case to == domain.JobCompleted:
		t := now
		job.CompletedAt = &t
	case to.Cancelled():
		t := now
		job.CancelledAt = &t
		job.CancellationReason = &reason
	}

	return nil
}
