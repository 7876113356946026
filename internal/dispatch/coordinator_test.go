package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/match"
	"github.com/fixline/backend/internal/scoring"
)

// memStore reproduces the store's transactional semantics in memory,
// including first-wins acceptance under a single lock.
type memStore struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	tasks       map[string]*domain.Task
	assignments map[string]*domain.Assignment
	providers   []domain.ProviderProfile
}

func newMemStore() *memStore {
	return &memStore{
		jobs:        map[string]*domain.Job{},
		tasks:       map[string]*domain.Task{},
		assignments: map[string]*domain.Assignment{},
	}
}

func (s *memStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "memStore.GetJob", "job %s", id)
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) GetTask(_ context.Context, id string) (*domain.Task, error) {
	return s.tasks[id], nil
}

func (s *memStore) GetAssignment(_ context.Context, id string) (*domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, errs.E(errs.KindOfferNotFound, "memStore.GetAssignment", "assignment %s", id)
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) CreateOffers(_ context.Context, jobID string, offers []domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range offers {
		a := offers[i]
		s.assignments[a.ID] = &a
	}
	s.jobs[jobID].Status = domain.JobMatched
	return nil
}

func (s *memStore) AcceptOffer(_ context.Context, assignmentID, providerID string, now time.Time) (*AcceptOutcome, error) {
	const op = "memStore.AcceptOffer"
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[assignmentID]
	if !ok || a.ProviderID != providerID {
		return nil, errs.E(errs.KindOfferNotFound, op, "assignment %s", assignmentID)
	}
	if a.Status != domain.AssignmentOffered {
		return nil, errs.E(errs.KindOfferAlreadyResponded, op, "assignment %s is %s", assignmentID, a.Status)
	}
	job := s.jobs[a.JobID]
	if job.Status != domain.JobMatched {
		return nil, errs.E(errs.KindConflictingState, op, "job %s is %s", job.ID, job.Status)
	}

	a.Status = domain.AssignmentAccepted
	a.RespondedAt = &now
	met := !now.After(a.SlaResponseDeadline)
	a.SlaResponseMet = &met

	var losers []domain.Assignment
	for _, other := range s.assignments {
		if other.JobID == a.JobID && other.ID != a.ID && other.Status == domain.AssignmentOffered {
			other.Status = domain.AssignmentDeclined
			reason := LostRaceReason
			other.DeclineReason = &reason
			other.RespondedAt = &now
			losers = append(losers, *other)
		}
	}

	job.Status = domain.JobPendingApproval
	jobCp := *job
	aCp := *a
	return &AcceptOutcome{Assignment: &aCp, Job: &jobCp, Losers: losers}, nil
}

func (s *memStore) DeclineOffer(_ context.Context, assignmentID, providerID, reason string, now time.Time) (*domain.Assignment, error) {
	const op = "memStore.DeclineOffer"
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[assignmentID]
	if !ok || a.ProviderID != providerID {
		return nil, errs.E(errs.KindOfferNotFound, op, "assignment %s", assignmentID)
	}
	if a.Status != domain.AssignmentOffered {
		return nil, errs.E(errs.KindOfferAlreadyResponded, op, "assignment %s is %s", assignmentID, a.Status)
	}
	a.Status = domain.AssignmentDeclined
	a.DeclineReason = &reason
	a.RespondedAt = &now
	cp := *a
	return &cp, nil
}

func (s *memStore) ExpireOffer(_ context.Context, assignmentID string, now time.Time) (*domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.assignments[assignmentID]
	if a.Status != domain.AssignmentOffered {
		return nil, errs.E(errs.KindOfferAlreadyResponded, "memStore.ExpireOffer", "assignment %s is %s", assignmentID, a.Status)
	}
	a.Status = domain.AssignmentExpired
	a.RespondedAt = &now
	cp := *a
	return &cp, nil
}

func (s *memStore) ListExpiredOpenOffers(_ context.Context, now time.Time, limit int) ([]domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Assignment
	for _, a := range s.assignments {
		if a.Status == domain.AssignmentOffered && now.After(a.OfferExpiresAt) {
			out = append(out, *a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) CountOpenOffers(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.assignments {
		if a.JobID == jobID && a.Status == domain.AssignmentOffered {
			n++
		}
	}
	return n, nil
}

func (s *memStore) RequeueJob(_ context.Context, jobID, _ string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = domain.JobPendingMatch
	cp := *job
	return &cp, nil
}

func (s *memStore) CancelOpenOffers(_ context.Context, jobID, reason string, now time.Time) ([]domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Assignment
	for _, a := range s.assignments {
		if a.JobID == jobID && a.Status == domain.AssignmentOffered {
			a.Status = domain.AssignmentCancelled
			a.DeclineReason = &reason
			a.RespondedAt = &now
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *memStore) ListJobsInStatus(_ context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Status == status {
			out = append(out, *j)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// match.Store methods; every provider is fully credentialed.

func (s *memStore) ListQualifiedProviders(_ context.Context, _ string) ([]domain.ProviderProfile, error) {
	return s.providers, nil
}
func (s *memStore) HasVerifiedLicense(_ context.Context, _, _ string) (bool, error) { return true, nil }
func (s *memStore) HasVerifiedInsurance(_ context.Context, _ string, _ int64) (bool, error) {
	return true, nil
}
func (s *memStore) HasActiveOnCallShift(_ context.Context, _ string, _ time.Time) (bool, error) {
	return true, nil
}
func (s *memStore) ResponseTimeAvgMinutes(_ context.Context, _ string) (*float64, error) {
	return nil, nil
}

type memPenalizer struct {
	mu      sync.Mutex
	applied []domain.PenaltyType
}

func (p *memPenalizer) ApplyPenalty(_ context.Context, _ string, ptype domain.PenaltyType, _ *string, _ string) (*scoring.Mutation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, ptype)
	return &scoring.Mutation{}, nil
}

func coordForTest(store *memStore) (*Coordinator, *memPenalizer) {
	pen := &memPenalizer{}
	matcher := match.NewMatcher(store, 10)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator(store, matcher, pen, 30*time.Minute, log), pen
}

func latlng(v float64) *float64 { return &v }

func seedJob(store *memStore, nProviders int) *domain.Job {
	job := &domain.Job{
		ID:         "j1",
		CustomerID: "c1",
		TaskID:     "t1",
		Status:     domain.JobPendingMatch,
		ServiceLat: 43.65,
		ServiceLng: -79.38,
	}
	store.jobs[job.ID] = job
	store.tasks["t1"] = &domain.Task{ID: "t1", RequiredLevel: 1, Active: true}
	for i := 0; i < nProviders; i++ {
		store.providers = append(store.providers, domain.ProviderProfile{
			ID:              "p" + string(rune('a'+i)),
			UserID:          "u" + string(rune('a'+i)),
			Level:           1,
			Status:          domain.ProviderActive,
			BackgroundCheck: domain.BackgroundCheck{Status: domain.BackgroundCleared},
			InternalScore:   70 + float64(i),
			ServiceRadiusKm: 30,
			HomeLat:         latlng(43.66),
			HomeLng:         latlng(-79.39),
			IsOnline:        true,
		})
	}
	return job
}

func TestBroadcast_CreatesOffersAndMarksMatched(t *testing.T) {
	store := newMemStore()
	seedJob(store, 3)
	coord, _ := coordForTest(store)

	n, err := coord.Broadcast(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, domain.JobMatched, store.jobs["j1"].Status)

	for _, a := range store.assignments {
		assert.Equal(t, domain.AssignmentOffered, a.Status)
		assert.True(t, a.OfferExpiresAt.After(a.OfferedAt))
		assert.False(t, a.SlaResponseDeadline.IsZero())
	}

	// a matched job cannot be broadcast again
	_, err = coord.Broadcast(context.Background(), "j1")
	assert.True(t, errs.Is(err, errs.KindConflictingState))
}

func TestAccept_ConcurrentRaceHasExactlyOneWinner(t *testing.T) {
	store := newMemStore()
	seedJob(store, 5)
	coord, _ := coordForTest(store)

	_, err := coord.Broadcast(context.Background(), "j1")
	require.NoError(t, err)

	type attempt struct {
		assignmentID string
		providerID   string
	}
	var attempts []attempt
	for id, a := range store.assignments {
		attempts = append(attempts, attempt{assignmentID: id, providerID: a.ProviderID})
	}

	var wg sync.WaitGroup
	outcomes := make([]*AcceptOutcome, len(attempts))
	errors := make([]error, len(attempts))
	for i, at := range attempts {
		wg.Add(1)
		go func(i int, at attempt) {
			defer wg.Done()
			outcomes[i], errors[i] = coord.Accept(context.Background(), at.assignmentID, at.providerID)
		}(i, at)
	}
	wg.Wait()

	winners := 0
	for i := range attempts {
		if errors[i] == nil {
			winners++
			assert.Equal(t, domain.JobPendingApproval, outcomes[i].Job.Status)
			assert.Len(t, outcomes[i].Losers, len(attempts)-1)
		} else {
			ok := errs.Is(errors[i], errs.KindOfferAlreadyResponded) || errs.Is(errors[i], errs.KindConflictingState)
			assert.True(t, ok, "loser must see a race error, got %v", errors[i])
		}
	}
	assert.Equal(t, 1, winners)

	for _, a := range store.assignments {
		if a.Status == domain.AssignmentDeclined {
			require.NotNil(t, a.DeclineReason)
			assert.Equal(t, LostRaceReason, *a.DeclineReason)
		}
	}
}

func TestDecline_LastOfferRequeuesJob(t *testing.T) {
	store := newMemStore()
	seedJob(store, 2)
	coord, _ := coordForTest(store)

	_, err := coord.Broadcast(context.Background(), "j1")
	require.NoError(t, err)

	var ids []attemptKey
	for id, a := range store.assignments {
		ids = append(ids, attemptKey{id, a.ProviderID})
	}

	_, err = coord.Decline(context.Background(), ids[0].assignment, ids[0].provider, "too far")
	require.NoError(t, err)
	assert.Equal(t, domain.JobMatched, store.jobs["j1"].Status, "open offers remain")

	_, err = coord.Decline(context.Background(), ids[1].assignment, ids[1].provider, "busy")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPendingMatch, store.jobs["j1"].Status, "exhausted offers requeue the job")
}

type attemptKey struct {
	assignment string
	provider   string
}

func TestSweep_ExpiresPenalizesAndRequeues(t *testing.T) {
	store := newMemStore()
	seedJob(store, 2)
	coord, pen := coordForTest(store)

	_, err := coord.Broadcast(context.Background(), "j1")
	require.NoError(t, err)

	// push time past every offer deadline
	coord.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	n, err := coord.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []domain.PenaltyType{domain.PenaltyResponseTimeout, domain.PenaltyResponseTimeout}, pen.applied)
	assert.Equal(t, domain.JobPendingMatch, store.jobs["j1"].Status)
	for _, a := range store.assignments {
		assert.Equal(t, domain.AssignmentExpired, a.Status)
	}
}

func TestReassign_ClosesOffersAndRequeues(t *testing.T) {
	store := newMemStore()
	seedJob(store, 3)
	coord, _ := coordForTest(store)

	_, err := coord.Broadcast(context.Background(), "j1")
	require.NoError(t, err)

	require.NoError(t, coord.Reassign(context.Background(), "j1", "provider unreachable"))
	assert.Equal(t, domain.JobPendingMatch, store.jobs["j1"].Status)
	for _, a := range store.assignments {
		assert.Equal(t, domain.AssignmentCancelled, a.Status)
	}
}
