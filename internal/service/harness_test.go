package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fixline/backend/internal/catalog"
	"github.com/fixline/backend/internal/dispatch"
	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/lifecycle"
	"github.com/fixline/backend/internal/match"
	"github.com/fixline/backend/internal/pricing"
	"github.com/fixline/backend/internal/scoring"
)

// memStore backs the whole core in memory for service tests: catalog,
// pricing, matching, dispatch, scoring, and the service surface itself.
type memStore struct {
	mu            sync.Mutex
	tasks         map[string]*domain.Task
	slaProfiles   []domain.SlaProfile
	jobs          map[string]*domain.Job
	assignments   map[string]*domain.Assignment
	providers     map[string]*domain.ProviderProfile
	credentials   map[string]*domain.Credential
	reviews       map[string]*domain.Review
	penalties     []*domain.PenaltyRecord
	pricingEvents []*domain.PricingEvent
	transitions   []string
}

func newMemStore() *memStore {
	return &memStore{
		tasks:       map[string]*domain.Task{},
		jobs:        map[string]*domain.Job{},
		assignments: map[string]*domain.Assignment{},
		providers:   map[string]*domain.ProviderProfile{},
		credentials: map[string]*domain.Credential{},
		reviews:     map[string]*domain.Review{},
	}
}

// ---- catalog / pricing reads ----

func (s *memStore) GetTask(_ context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id], nil
}

func (s *memStore) ListActiveSlaProfiles(_ context.Context, _ int, _ string) ([]domain.SlaProfile, error) {
	return s.slaProfiles, nil
}

func (s *memStore) ListActiveSurgeRules(_ context.Context, _ string, _ int, _ string) ([]domain.SurgeRule, error) {
	return nil, nil
}

func (s *memStore) GetCommissionSchedule(_ context.Context, _ int, _ string) (*domain.CommissionSchedule, error) {
	return nil, nil
}

func (s *memStore) AppendPricingEvent(_ context.Context, ev *domain.PricingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricingEvents = append(s.pricingEvents, ev)
	return nil
}

// ---- match reads ----

func (s *memStore) ListQualifiedProviders(_ context.Context, _ string) ([]domain.ProviderProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ProviderProfile
	for _, p := range s.providers {
		out = append(out, *p)
	}
	return out, nil
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

// ---- jobs ----

func (s *memStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
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

func (s *memStore) TransitionJob(_ context.Context, jobID string, to domain.JobStatus, actor domain.Actor, reason string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "memStore.TransitionJob", "job %s", jobID)
	}
	if err := lifecycle.Apply(j, to, actor, reason, time.Now()); err != nil {
		return nil, err
	}
	s.transitions = append(s.transitions, string(j.Status))
	cp := *j
	return &cp, nil
}

func (s *memStore) listJobs(filter func(*domain.Job) bool) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if filter(j) {
			out = append(out, *j)
		}
	}
	return out
}

func hasStatus(statuses []domain.JobStatus, st domain.JobStatus) bool {
	for _, x := range statuses {
		if x == st {
			return true
		}
	}
	return false
}

func (s *memStore) ListJobsByCustomer(_ context.Context, customerID string, statuses []domain.JobStatus, _, _ int) ([]domain.Job, error) {
	return s.listJobs(func(j *domain.Job) bool {
		return j.CustomerID == customerID && hasStatus(statuses, j.Status)
	}), nil
}

func (s *memStore) ListJobsByProvider(_ context.Context, providerID string, statuses []domain.JobStatus, _, _ int) ([]domain.Job, error) {
	s.mu.Lock()
	assigned := map[string]bool{}
	for _, a := range s.assignments {
		if a.ProviderID == providerID && a.Status == domain.AssignmentAccepted {
			assigned[a.JobID] = true
		}
	}
	s.mu.Unlock()
	return s.listJobs(func(j *domain.Job) bool {
		return assigned[j.ID] && hasStatus(statuses, j.Status)
	}), nil
}

func (s *memStore) ListJobsInStatus(_ context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	jobs := s.listJobs(func(j *domain.Job) bool { return j.Status == status })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// ---- assignments / offers ----

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
	return lifecycle.Apply(s.jobs[jobID], domain.JobMatched, domain.ActorSystem, "", time.Now())
}

func (s *memStore) AcceptOffer(_ context.Context, assignmentID, providerID string, now time.Time) (*dispatch.AcceptOutcome, error) {
	const op = "memStore.AcceptOffer"
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[assignmentID]
	if !ok || a.ProviderID != providerID {
		return nil, errs.E(errs.KindOfferNotFound, op, "assignment %s", assignmentID)
	}
	if a.Status == domain.AssignmentAccepted {
		jobCp := *s.jobs[a.JobID]
		aCp := *a
		return &dispatch.AcceptOutcome{Assignment: &aCp, Job: &jobCp}, nil
	}
	if a.Status != domain.AssignmentOffered {
		return nil, errs.E(errs.KindOfferAlreadyResponded, op, "assignment %s is %s", assignmentID, a.Status)
	}
	job := s.jobs[a.JobID]
	if err := lifecycle.Apply(job, domain.JobPendingApproval, domain.ActorProvider, "", now); err != nil {
		return nil, err
	}

	a.Status = domain.AssignmentAccepted
	a.RespondedAt = &now
	met := !now.After(a.SlaResponseDeadline)
	a.SlaResponseMet = &met
	if job.SlaSnapshot.ArrivalTimeMin != nil {
		d := now.Add(time.Duration(*job.SlaSnapshot.ArrivalTimeMin) * time.Minute)
		a.SlaArrivalDeadline = &d
	}

	var losers []domain.Assignment
	for _, other := range s.assignments {
		if other.JobID == a.JobID && other.ID != a.ID && other.Status == domain.AssignmentOffered {
			other.Status = domain.AssignmentDeclined
			reason := dispatch.LostRaceReason
			other.DeclineReason = &reason
			losers = append(losers, *other)
		}
	}

	jobCp := *job
	aCp := *a
	return &dispatch.AcceptOutcome{Assignment: &aCp, Job: &jobCp, Losers: losers}, nil
}

func (s *memStore) DeclineOffer(_ context.Context, assignmentID, providerID, reason string, now time.Time) (*domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[assignmentID]
	if !ok || a.ProviderID != providerID {
		return nil, errs.E(errs.KindOfferNotFound, "memStore.DeclineOffer", "assignment %s", assignmentID)
	}
	if a.Status != domain.AssignmentOffered {
		return nil, errs.E(errs.KindOfferAlreadyResponded, "memStore.DeclineOffer", "assignment %s is %s", assignmentID, a.Status)
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
		return nil, errs.E(errs.KindOfferAlreadyResponded, "memStore.ExpireOffer", "assignment %s", assignmentID)
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
	if err := lifecycle.Apply(job, domain.JobPendingMatch, domain.ActorSystem, "", time.Now()); err != nil {
		return nil, err
	}
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

func (s *memStore) GetAcceptedAssignment(_ context.Context, jobID string) (*domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.JobID == jobID && a.Status == domain.AssignmentAccepted {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errs.E(errs.KindOfferNotFound, "memStore.GetAcceptedAssignment", "job %s has no accepted assignment", jobID)
}

func (s *memStore) UpdateAssignmentProgress(_ context.Context, a *domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.assignments[a.ID] = &cp
	return nil
}

func (s *memStore) RejectAcceptedAssignment(_ context.Context, jobID, reason string, now time.Time) (*domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.JobID == jobID && a.Status == domain.AssignmentAccepted {
			a.Status = domain.AssignmentRejected
			a.DeclineReason = &reason
			a.RespondedAt = &now
			cp := *a
			return &cp, nil
		}
	}
	return nil, errs.E(errs.KindOfferNotFound, "memStore.RejectAcceptedAssignment", "job %s", jobID)
}

func (s *memStore) ListOffersByProvider(_ context.Context, providerID string, limit int) ([]domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Assignment
	for _, a := range s.assignments {
		if a.ProviderID == providerID && a.Status == domain.AssignmentOffered {
			out = append(out, *a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ---- reviews ----

func (s *memStore) InsertReview(_ context.Context, r *domain.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[r.JobID] = r
	return nil
}

func (s *memStore) HasReview(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reviews[jobID]
	return ok, nil
}

// ---- providers / scoring ----

func (s *memStore) GetProviderProfile(_ context.Context, id string) (*domain.ProviderProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "memStore.GetProviderProfile", "provider %s", id)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetProviderProfileByUser(_ context.Context, userID string) (*domain.ProviderProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.providers {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errs.E(errs.KindNotFound, "memStore.GetProviderProfileByUser", "user %s", userID)
}

func (s *memStore) SetProviderOnline(_ context.Context, providerID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[providerID].IsOnline = online
	return nil
}

func (s *memStore) MutateProviderScore(_ context.Context, providerID string, fn func(p *domain.ProviderProfile) (*scoring.Mutation, error)) (*scoring.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[providerID]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "memStore.MutateProviderScore", "provider %s", providerID)
	}
	mut, err := fn(p)
	if err != nil || mut == nil {
		return mut, err
	}
	p.InternalScore = mut.NewScore
	if mut.NewStatus != nil {
		p.Status = *mut.NewStatus
	}
	if mut.Record != nil {
		s.penalties = append(s.penalties, mut.Record)
	}
	return mut, nil
}

func (s *memStore) LastPenaltyAt(_ context.Context, providerID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *time.Time
	for _, r := range s.penalties {
		if r.ProviderID != providerID || r.PenaltyType == domain.PenaltyScoreRecovery {
			continue
		}
		if last == nil || r.AppliedAt.After(*last) {
			t := r.AppliedAt
			last = &t
		}
	}
	return last, nil
}

func (s *memStore) ListRecoveryCandidates(_ context.Context) ([]domain.ProviderProfile, error) {
	return nil, nil
}

// ---- credentials ----

func (s *memStore) InsertCredential(_ context.Context, c *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.credentials[c.ID] = &cp
	return nil
}

func (s *memStore) GetCredential(_ context.Context, id string) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "memStore.GetCredential", "credential %s", id)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) SetCredentialStatus(_ context.Context, id string, status domain.CredentialStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[id].Status = status
	return nil
}

func (s *memStore) ListExpiringCredentials(_ context.Context, horizon time.Time, limit int) ([]domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Credential
	for _, c := range s.credentials {
		if c.Status == domain.CredentialVerified && c.ExpiryDate != nil && c.ExpiryDate.Before(horizon) {
			out = append(out, *c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) MarkCredentialExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[id].Status = domain.CredentialExpired
	return nil
}

// ---- presence ----

type memPresence struct {
	mu      sync.Mutex
	tracked map[string]bool
}

func (p *memPresence) TrackProvider(_ context.Context, providerID string, _, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tracked == nil {
		p.tracked = map[string]bool{}
	}
	p.tracked[providerID] = true
	return nil
}

func (p *memPresence) UntrackProvider(_ context.Context, providerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tracked, providerID)
	return nil
}

// newTestService wires a full service over the memory store.
func newTestService(store *memStore) (*Service, *memPresence) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.New(store)
	pricer := pricing.New(store, nil, nil, 5.0, time.Second)
	matcher := match.NewMatcher(store, 10)
	ledger := scoring.NewLedger(store)
	coord := dispatch.NewCoordinator(store, matcher, ledger, 30*time.Minute, log)
	presence := &memPresence{}
	return New(store, cat, pricer, coord, ledger, presence, log), presence
}
