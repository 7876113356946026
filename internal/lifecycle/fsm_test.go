package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
)

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		name  string
		from  domain.JobStatus
		to    domain.JobStatus
		actor domain.Actor
		ok    bool
	}{
		{"create", domain.JobDraft, domain.JobPendingMatch, domain.ActorCustomer, true},
		{"create system", domain.JobDraft, domain.JobPendingMatch, domain.ActorSystem, true},
		{"draft cancel by provider", domain.JobDraft, domain.JobCancelledByCustomer, domain.ActorProvider, false},
		{"match", domain.JobPendingMatch, domain.JobMatched, domain.ActorSystem, true},
		{"match by customer", domain.JobPendingMatch, domain.JobMatched, domain.ActorCustomer, false},
		{"admin system cancel", domain.JobPendingMatch, domain.JobCancelledBySystem, domain.ActorAdmin, true},
		{"accept advances", domain.JobMatched, domain.JobPendingApproval, domain.ActorProvider, true},
		{"all declined requeue", domain.JobMatched, domain.JobPendingMatch, domain.ActorSystem, true},
		{"approve", domain.JobPendingApproval, domain.JobScheduled, domain.ActorCustomer, true},
		{"legacy direct accept", domain.JobPendingApproval, domain.JobProviderAccepted, domain.ActorCustomer, true},
		{"reject provider", domain.JobPendingApproval, domain.JobPendingMatch, domain.ActorCustomer, true},
		{"scheduled activates", domain.JobScheduled, domain.JobProviderAccepted, domain.ActorSystem, true},
		{"en route", domain.JobProviderAccepted, domain.JobProviderEnRoute, domain.ActorProvider, true},
		{"customer cancel before en route", domain.JobProviderAccepted, domain.JobCancelledByCustomer, domain.ActorCustomer, true},
		{"customer cancel after en route", domain.JobProviderEnRoute, domain.JobCancelledByCustomer, domain.ActorCustomer, false},
		{"start work", domain.JobProviderEnRoute, domain.JobInProgress, domain.ActorProvider, true},
		{"complete", domain.JobInProgress, domain.JobCompleted, domain.ActorProvider, true},
		{"complete by customer", domain.JobInProgress, domain.JobCompleted, domain.ActorCustomer, false},
		{"dispute in progress", domain.JobInProgress, domain.JobDisputed, domain.ActorCustomer, true},
		{"refund", domain.JobCompleted, domain.JobRefunded, domain.ActorAdmin, true},
		{"refund by customer", domain.JobCompleted, domain.JobRefunded, domain.ActorCustomer, false},
		{"late dispute", domain.JobCompleted, domain.JobDisputed, domain.ActorCustomer, true},
		{"resurrect completed", domain.JobCompleted, domain.JobPendingMatch, domain.ActorSystem, false},
		{"resurrect cancelled", domain.JobCancelledByCustomer, domain.JobPendingMatch, domain.ActorSystem, false},
		{"skip states", domain.JobPendingMatch, domain.JobInProgress, domain.ActorSystem, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to, tc.actor))
		})
	}
}

func TestApply_SetsLifecycleTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	job := &domain.Job{Status: domain.JobProviderEnRoute}
	require.NoError(t, Apply(job, domain.JobInProgress, domain.ActorProvider, "", now))
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, now, *job.StartedAt)

	require.NoError(t, Apply(job, domain.JobCompleted, domain.ActorProvider, "", now.Add(time.Hour)))
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, now.Add(time.Hour), *job.CompletedAt)
}

func TestApply_CancellationMetadata(t *testing.T) {
	now := time.Now().UTC()
	job := &domain.Job{Status: domain.JobPendingMatch}

	err := Apply(job, domain.JobCancelledByCustomer, domain.ActorCustomer, "", now)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidationFailed), "empty reason must be rejected")

	require.NoError(t, Apply(job, domain.JobCancelledByCustomer, domain.ActorCustomer, "changed my mind", now))
	require.NotNil(t, job.CancelledAt)
	require.NotNil(t, job.CancellationReason)
	assert.Equal(t, "changed my mind", *job.CancellationReason)
}

func TestApply_InvalidTransitionKind(t *testing.T) {
	job := &domain.Job{Status: domain.JobCompleted}
	err := Apply(job, domain.JobInProgress, domain.ActorProvider, "", time.Now())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
	assert.Equal(t, domain.JobCompleted, job.Status, "failed transition must not mutate the job")
}

func TestLegalTargets(t *testing.T) {
	targets := LegalTargets(domain.JobPendingApproval, domain.ActorCustomer)
	assert.Equal(t, []domain.JobStatus{
		domain.JobScheduled,
		domain.JobProviderAccepted,
		domain.JobPendingMatch,
		domain.JobCancelledByCustomer,
	}, targets)

	assert.Empty(t, LegalTargets(domain.JobRefunded, domain.ActorAdmin))
}
