package service

import (
	"context"
	"time"

	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/dispatch"
	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/geo"
	"github.com/fixline/backend/internal/sla"
)

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SetOnline flips a provider's availability and maintains the geo presence
// index.
func (s *Service) SetOnline(ctx context.Context, claims *auth.Claims, online bool, lat, lng *float64) error {
	const op = "service.SetOnline"

	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return err
	}

	p, err := s.store.GetProviderProfile(ctx, claims.ProfileID)
	if err != nil {
		return err
	}
	if online && p.Status != domain.ProviderActive {
		return errs.E(errs.KindConflictingState, op, "provider %s is %s", p.ID, p.Status)
	}

	if err := s.store.SetProviderOnline(ctx, p.ID, online); err != nil {
		return err
	}

	if online && lat != nil && lng != nil {
		if !geo.ValidCoordinates(*lat, *lng) {
			return errs.E(errs.KindValidationFailed, op, "coordinates out of range")
		}
		if err := s.presence.TrackProvider(ctx, p.ID, *lat, *lng); err != nil {
			s.log.Error("presence track failed", "provider_id", p.ID, "error", err)
		}
	}
	if !online {
		if err := s.presence.UntrackProvider(ctx, p.ID); err != nil {
			s.log.Error("presence untrack failed", "provider_id", p.ID, "error", err)
		}
	}

	s.log.Info("provider availability changed", "provider_id", p.ID, "online", online)
	return nil
}

// ListOffers returns the provider's open offers.
func (s *Service) ListOffers(ctx context.Context, claims *auth.Claims, limit int) ([]domain.Assignment, error) {
	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return nil, err
	}
	return s.store.ListOffersByProvider(ctx, claims.ProfileID, limit)
}

// AcceptOffer settles the caller's acceptance of an offer, first-wins.
func (s *Service) AcceptOffer(ctx context.Context, claims *auth.Claims, assignmentID string) (*dispatch.AcceptOutcome, error) {
	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return nil, err
	}
	return s.coord.Accept(ctx, assignmentID, claims.ProfileID)
}

// DeclineOffer records the caller's decline.
func (s *Service) DeclineOffer(ctx context.Context, claims *auth.Claims, assignmentID, reason string) error {
	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return err
	}
	_, err := s.coord.Decline(ctx, assignmentID, claims.ProfileID, reason)
	return err
}

// MarkEnRoute moves a scheduled job to provider_en_route and stamps the
// assignment. The departure coordinates, when the client sends them, seed
// the provider's position in the geo index so tracking starts immediately.
func (s *Service) MarkEnRoute(ctx context.Context, claims *auth.Claims, jobID string, lat, lng *float64) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return nil, err
	}
	job, a, err := s.assignedJob(ctx, claims, jobID)
	if err != nil {
		return nil, err
	}

	// scheduled jobs pass through provider_accepted on the way out
	if job.Status == domain.JobScheduled {
		if _, err := s.store.TransitionJob(ctx, jobID, domain.JobProviderAccepted, domain.ActorSystem, ""); err != nil {
			return nil, err
		}
	}
	job, err = s.store.TransitionJob(ctx, jobID, domain.JobProviderEnRoute, domain.ActorProvider, "")
	if err != nil {
		return nil, err
	}

	now := s.now()
	a.EnRouteAt = &now
	if err := s.store.UpdateAssignmentProgress(ctx, a); err != nil {
		return nil, err
	}

	if lat != nil && lng != nil {
		if err := s.presence.TrackProvider(ctx, claims.ProfileID, *lat, *lng); err != nil {
			s.log.Error("seed en-route position failed", "provider_id", claims.ProfileID, "error", err)
		}
	}
	return job, nil
}

// MarkArrived stamps arrival and settles the arrival SLA flag. The job
// status does not change until work starts.
func (s *Service) MarkArrived(ctx context.Context, claims *auth.Claims, jobID string) (*domain.Assignment, error) {
	const op = "service.MarkArrived"

	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return nil, err
	}
	job, a, err := s.assignedJob(ctx, claims, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobProviderEnRoute {
		return nil, errs.E(errs.KindConflictingState, op, "job %s is %s, not provider_en_route", jobID, job.Status)
	}
	if a.ArrivedAt != nil {
		return nil, errs.E(errs.KindConflictingState, op, "arrival already recorded")
	}

	now := s.now()
	a.ArrivedAt = &now
	if a.SlaArrivalDeadline != nil {
		met := !now.After(*a.SlaArrivalDeadline)
		a.SlaArrivalMet = &met
		if !met {
			s.breachPenalty(ctx, a.ProviderID, jobID, "arrival deadline missed")
		}
	}
	if err := s.store.UpdateAssignmentProgress(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// StartWork moves the job to in_progress and arms the completion deadline.
func (s *Service) StartWork(ctx context.Context, claims *auth.Claims, jobID string) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return nil, err
	}
	job, a, err := s.assignedJob(ctx, claims, jobID)
	if err != nil {
		return nil, err
	}

	job, err = s.store.TransitionJob(ctx, jobID, domain.JobInProgress, domain.ActorProvider, "")
	if err != nil {
		return nil, err
	}

	now := s.now()
	a.StartedWorkAt = &now
	a.SlaCompletionDeadline = sla.CompletionDeadline(job.SlaSnapshot, now)
	if err := s.store.UpdateAssignmentProgress(ctx, a); err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteJob finishes the work and settles the completion SLA flag.
func (s *Service) CompleteJob(ctx context.Context, claims *auth.Claims, jobID string) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return nil, err
	}
	_, a, err := s.assignedJob(ctx, claims, jobID)
	if err != nil {
		return nil, err
	}

	job, err := s.store.TransitionJob(ctx, jobID, domain.JobCompleted, domain.ActorProvider, "")
	if err != nil {
		return nil, err
	}

	now := s.now()
	a.CompletedAt = &now
	if a.SlaCompletionDeadline != nil {
		met := !now.After(*a.SlaCompletionDeadline)
		a.SlaCompletionMet = &met
		if !met {
			s.breachPenalty(ctx, a.ProviderID, jobID, "completion deadline missed")
		}
	}
	if err := s.store.UpdateAssignmentProgress(ctx, a); err != nil {
		return nil, err
	}

	s.log.Info("job completed", "job_id", jobID, "provider_id", a.ProviderID)
	return job, nil
}

// CancelAcceptedJob is a provider backing out after acceptance. It always
// costs a cancellation penalty.
func (s *Service) CancelAcceptedJob(ctx context.Context, claims *auth.Claims, jobID, reason string) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return nil, err
	}
	if _, _, err := s.assignedJob(ctx, claims, jobID); err != nil {
		return nil, err
	}

	job, err := s.store.TransitionJob(ctx, jobID, domain.JobCancelledByProvider, domain.ActorProvider, reason)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.ApplyPenalty(ctx, claims.ProfileID, domain.PenaltyCancellation, &jobID, reason); err != nil {
		s.log.Error("cancellation penalty failed", "provider_id", claims.ProfileID, "error", err)
	}
	return job, nil
}

// UploadCredential registers a document for admin review.
func (s *Service) UploadCredential(ctx context.Context, claims *auth.Claims, c domain.Credential) (*domain.Credential, error) {
	const op = "service.UploadCredential"

	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return nil, err
	}
	if c.Type == "" || c.Name == "" || c.FileRef == "" {
		return nil, errs.E(errs.KindValidationFailed, op, "type, name, and file_ref are required")
	}

	c.ID = domain.NewID()
	c.ProviderID = claims.ProfileID
	c.Status = domain.CredentialPendingReview
	if err := s.store.InsertCredential(ctx, &c); err != nil {
		return nil, err
	}

	s.log.Info("credential submitted", "credential_id", c.ID, "provider_id", c.ProviderID, "type", c.Type)
	return &c, nil
}

// ListAssignedJobs returns the provider's jobs in active states.
func (s *Service) ListAssignedJobs(ctx context.Context, claims *auth.Claims, limit, offset int) ([]domain.Job, error) {
	if err := requireRole(claims, auth.RoleProvider); err != nil {
		return nil, err
	}
	return s.store.ListJobsByProvider(ctx, claims.ProfileID, activeStatuses, limit, offset)
}

// breachPenalty applies the level-gated SLA breach deduction; levels without
// a matrix entry only log.
func (s *Service) breachPenalty(ctx context.Context, providerID, jobID, reason string) {
	if _, err := s.ledger.ApplyPenalty(ctx, providerID, domain.PenaltySlaBreach, &jobID, reason); err != nil {
		if errs.Is(err, errs.KindValidationFailed) {
			s.log.Info("sla breach without score penalty", "provider_id", providerID, "job_id", jobID, "reason", reason)
			return
		}
		s.log.Error("sla breach penalty failed", "provider_id", providerID, "error", err)
	}
}
