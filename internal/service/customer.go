package service

import (
	"context"

	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/geo"
	"github.com/fixline/backend/internal/pricing"
	"github.com/fixline/backend/internal/sla"
)

// CreateJobInput is the customer's job request.
type CreateJobInput struct {
	TaskID             string         `json:"task_id"`
	Lat                float64        `json:"lat"`
	Lng                float64        `json:"lng"`
	Address            domain.Address `json:"address"`
	RequestedDate      *string        `json:"requested_date,omitempty"` // "2006-01-02"
	RequestedTimeStart *string        `json:"requested_time_start,omitempty"`
	RequestedTimeEnd   *string        `json:"requested_time_end,omitempty"`
	FlexibleSchedule   bool           `json:"flexible_schedule"`
	IsEmergency        bool           `json:"is_emergency"`
	Notes              []string       `json:"notes,omitempty"`
}

// allowedNotes is the closed set of customer note tags. Free text never
// reaches dispatch.
var allowedNotes = map[string]bool{
	"has_pets": true, "gated_entry": true, "parking_available": true,
	"stairs_only": true, "elderly_resident": true, "call_on_arrival": true,
}

// EstimatePrice quotes a task at a location without creating anything.
func (s *Service) EstimatePrice(ctx context.Context, req pricing.EstimateRequest) (*pricing.Quote, error) {
	if !geo.ValidCoordinates(req.Lat, req.Lng) {
		return nil, errs.E(errs.KindValidationFailed, "service.EstimatePrice", "coordinates out of range")
	}
	return s.pricer.Estimate(ctx, req)
}

// CreateJob validates, prices, snapshots SLA targets, persists the job, and
// kicks off the first dispatch round.
func (s *Service) CreateJob(ctx context.Context, claims *auth.Claims, in CreateJobInput) (*domain.Job, error) {
	const op = "service.CreateJob"

	if err := requireRole(claims, auth.RoleCustomer); err != nil {
		return nil, err
	}
	if !geo.ValidCoordinates(in.Lat, in.Lng) {
		return nil, errs.E(errs.KindValidationFailed, op, "coordinates out of range")
	}
	for _, n := range in.Notes {
		if !allowedNotes[n] {
			return nil, errs.E(errs.KindValidationFailed, op, "unknown note tag %q", n)
		}
	}

	task, err := s.catalog.ResolveTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if in.IsEmergency && !task.EmergencyEligible {
		return nil, errs.E(errs.KindValidationFailed, op, "task %s is not emergency eligible", task.ID)
	}

	requestedDate, err := parseDate(in.RequestedDate)
	if err != nil {
		return nil, errs.E(errs.KindValidationFailed, op, "bad requested_date: %v", err)
	}

	now := s.now().UTC()
	profile, err := s.catalog.FindSla(ctx, task.RequiredLevel, in.Address.Country, task.ID, in.Address)
	if err != nil {
		return nil, err
	}
	snap := sla.Build(profile, now)
	if snap.Degraded() {
		s.log.Warn("job created without sla profile",
			"task_id", task.ID, "country", in.Address.Country, "city", in.Address.City)
	}

	priority := domain.PriorityStandard
	if in.IsEmergency {
		priority = domain.PriorityEmergency
	}

	job := &domain.Job{
		ID:                 domain.NewID(),
		Reference:          domain.NewReference(),
		CustomerID:         claims.UserID,
		TaskID:             task.ID,
		Status:             domain.JobPendingMatch,
		Priority:           priority,
		IsEmergency:        in.IsEmergency,
		ServiceLat:         in.Lat,
		ServiceLng:         in.Lng,
		ServiceAddress:     in.Address,
		RequestedDate:      requestedDate,
		RequestedTimeStart: in.RequestedTimeStart,
		RequestedTimeEnd:   in.RequestedTimeEnd,
		FlexibleSchedule:   in.FlexibleSchedule,
		SlaSnapshot:        snap,
		Currency:           "CAD",
		CustomerNotes:      in.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// pricing events carry no foreign key so the audit row can be written
	// before the job and survive hard deletes
	priced, err := s.pricer.PriceJob(ctx, job)
	if err != nil {
		return nil, err
	}
	job.QuotedPriceCents = priced.FinalPriceCents
	job.CommissionRate = priced.CommissionRate
	job.CommissionCents = priced.CommissionCents
	job.ProviderPayout = priced.ProviderPayout

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.log.Info("job created",
		"job_id", job.ID, "reference", job.Reference, "task_id", task.ID,
		"emergency", job.IsEmergency, "quoted_cents", job.QuotedPriceCents)

	// first dispatch round; a failure here leaves the job pending for the
	// background runner
	if _, err := s.coord.Broadcast(ctx, job.ID); err != nil {
		s.log.Error("initial broadcast failed", "job_id", job.ID, "error", err)
	}

	return s.store.GetJob(ctx, job.ID)
}

// CancelJob cancels a customer's own job and releases any open offers.
func (s *Service) CancelJob(ctx context.Context, claims *auth.Claims, jobID, reason string) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleCustomer); err != nil {
		return nil, err
	}
	if _, err := s.ownedJob(ctx, claims, jobID); err != nil {
		return nil, err
	}

	job, err := s.store.TransitionJob(ctx, jobID, domain.JobCancelledByCustomer, domain.ActorCustomer, reason)
	if err != nil {
		return nil, err
	}

	if err := s.coord.ReleaseOffers(ctx, jobID, "job cancelled by customer"); err != nil {
		s.log.Error("release offers failed", "job_id", jobID, "error", err)
	}
	return job, nil
}

// ApproveProvider confirms the accepted provider and schedules the job.
func (s *Service) ApproveProvider(ctx context.Context, claims *auth.Claims, jobID string) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleCustomer); err != nil {
		return nil, err
	}
	if _, err := s.ownedJob(ctx, claims, jobID); err != nil {
		return nil, err
	}
	return s.store.TransitionJob(ctx, jobID, domain.JobScheduled, domain.ActorCustomer, "")
}

// RejectProvider turns the accepted provider down and requeues the job for
// a fresh dispatch round.
func (s *Service) RejectProvider(ctx context.Context, claims *auth.Claims, jobID, reason string) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleCustomer); err != nil {
		return nil, err
	}
	if _, err := s.ownedJob(ctx, claims, jobID); err != nil {
		return nil, err
	}

	if _, err := s.store.RejectAcceptedAssignment(ctx, jobID, reason, s.now()); err != nil {
		return nil, err
	}
	job, err := s.store.TransitionJob(ctx, jobID, domain.JobPendingMatch, domain.ActorCustomer, "")
	if err != nil {
		return nil, err
	}

	if _, err := s.coord.Broadcast(ctx, jobID); err != nil {
		s.log.Error("rebroadcast after reject failed", "job_id", jobID, "error", err)
	}
	return job, nil
}

// RateJob records the customer's review of a completed job. One or two
// stars count as a bad review against the provider's score.
func (s *Service) RateJob(ctx context.Context, claims *auth.Claims, jobID string, stars int, feedback string) (*domain.Review, error) {
	const op = "service.RateJob"

	if err := requireRole(claims, auth.RoleCustomer); err != nil {
		return nil, err
	}
	if stars < 1 || stars > 5 {
		return nil, errs.E(errs.KindValidationFailed, op, "stars must be 1..5")
	}

	job, err := s.ownedJob(ctx, claims, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobCompleted {
		return nil, errs.E(errs.KindConflictingState, op, "job %s is %s, not completed", jobID, job.Status)
	}
	if dup, err := s.store.HasReview(ctx, jobID); err != nil {
		return nil, err
	} else if dup {
		return nil, errs.E(errs.KindConflictingState, op, "job %s is already rated", jobID)
	}

	a, err := s.store.GetAcceptedAssignment(ctx, jobID)
	if err != nil {
		return nil, err
	}

	review := &domain.Review{
		ID:         domain.NewID(),
		JobID:      jobID,
		CustomerID: claims.UserID,
		ProviderID: a.ProviderID,
		Stars:      stars,
		Feedback:   feedback,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertReview(ctx, review); err != nil {
		return nil, err
	}

	if stars <= 2 {
		if _, err := s.ledger.ApplyPenalty(ctx, a.ProviderID, domain.PenaltyBadReview, &jobID, "customer review below threshold"); err != nil {
			s.log.Error("bad review penalty failed", "provider_id", a.ProviderID, "error", err)
		}
	}
	return review, nil
}

// ListActiveJobs returns the customer's jobs in non-terminal states.
func (s *Service) ListActiveJobs(ctx context.Context, claims *auth.Claims, limit, offset int) ([]domain.Job, error) {
	if err := requireRole(claims, auth.RoleCustomer); err != nil {
		return nil, err
	}
	return s.store.ListJobsByCustomer(ctx, claims.UserID, activeStatuses, limit, offset)
}

// GetJob returns one job the caller may see: its customer, its assigned
// provider, or any admin.
func (s *Service) GetJob(ctx context.Context, claims *auth.Claims, jobID string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch claims.Role {
	case auth.RoleAdmin:
		return job, nil
	case auth.RoleCustomer:
		if job.CustomerID == claims.UserID {
			return job, nil
		}
	case auth.RoleProvider:
		if a, err := s.store.GetAcceptedAssignment(ctx, jobID); err == nil && a.ProviderID == claims.ProfileID {
			return job, nil
		}
	}
	return nil, errs.E(errs.KindUnauthorized, "service.GetJob", "job %s is not visible to caller", jobID)
}

var activeStatuses = []domain.JobStatus{
	domain.JobPendingMatch, domain.JobMatched, domain.JobPendingApproval,
	domain.JobPendingPriceAgreement, domain.JobScheduled,
	domain.JobProviderAccepted, domain.JobProviderEnRoute, domain.JobInProgress,
}
