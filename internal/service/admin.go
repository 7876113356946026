package service

import (
	"context"

	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/scoring"
)

// ReviewCredential settles a pending credential as verified or rejected.
func (s *Service) ReviewCredential(ctx context.Context, claims *auth.Claims, credentialID string, approve bool) (*domain.Credential, error) {
	const op = "service.ReviewCredential"

	if err := requireRole(claims, auth.RoleAdmin); err != nil {
		return nil, err
	}

	c, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CredentialPendingReview {
		return nil, errs.E(errs.KindConflictingState, op, "credential %s is %s", credentialID, c.Status)
	}

	status := domain.CredentialRejected
	if approve {
		status = domain.CredentialVerified
	}
	if err := s.store.SetCredentialStatus(ctx, credentialID, status); err != nil {
		return nil, err
	}
	c.Status = status

	s.log.Info("credential reviewed", "credential_id", credentialID, "status", status, "admin_id", claims.UserID)
	return c, nil
}

// AdjustProviderScore applies a manual score delta with an audit reason.
func (s *Service) AdjustProviderScore(ctx context.Context, claims *auth.Claims, providerID string, delta float64, reason string) (*scoring.Mutation, error) {
	if err := requireRole(claims, auth.RoleAdmin); err != nil {
		return nil, err
	}
	mut, err := s.ledger.AdjustScore(ctx, providerID, delta, reason)
	if err != nil {
		return nil, err
	}
	s.log.Info("provider score adjusted",
		"provider_id", providerID, "delta", delta, "new_score", mut.NewScore, "admin_id", claims.UserID)
	return mut, nil
}

// ReassignJob force-closes the current offers and restarts dispatch.
func (s *Service) ReassignJob(ctx context.Context, claims *auth.Claims, jobID, reason string) error {
	if err := requireRole(claims, auth.RoleAdmin); err != nil {
		return err
	}
	if err := s.coord.Reassign(ctx, jobID, reason); err != nil {
		return err
	}
	s.log.Info("job reassigned", "job_id", jobID, "admin_id", claims.UserID)
	return nil
}

// AdminCancelJob cancels any cancellable job. Admin cancellation records as
// cancelled_by_system.
func (s *Service) AdminCancelJob(ctx context.Context, claims *auth.Claims, jobID, reason string) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleAdmin); err != nil {
		return nil, err
	}

	job, err := s.store.TransitionJob(ctx, jobID, domain.JobCancelledBySystem, domain.ActorAdmin, reason)
	if err != nil {
		return nil, err
	}

	if err := s.coord.ReleaseOffers(ctx, jobID, reason); err != nil {
		s.log.Error("release offers failed", "job_id", jobID, "error", err)
	}
	return job, nil
}

// RefundJob moves a completed job to refunded.
func (s *Service) RefundJob(ctx context.Context, claims *auth.Claims, jobID, reason string) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleAdmin); err != nil {
		return nil, err
	}
	job, err := s.store.TransitionJob(ctx, jobID, domain.JobRefunded, domain.ActorAdmin, reason)
	if err != nil {
		return nil, err
	}
	s.log.Info("job refunded", "job_id", jobID, "admin_id", claims.UserID, "reason", reason)
	return job, nil
}

// MarkNoShow records that the assigned provider never appeared: the job is
// cancelled by the platform, the provider takes the no-show penalty, and
// the customer can rebook.
func (s *Service) MarkNoShow(ctx context.Context, claims *auth.Claims, jobID string) (*domain.Job, error) {
	if err := requireRole(claims, auth.RoleAdmin); err != nil {
		return nil, err
	}

	a, err := s.store.GetAcceptedAssignment(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job, err := s.store.TransitionJob(ctx, jobID, domain.JobCancelledBySystem, domain.ActorAdmin, "provider no-show")
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.ApplyPenalty(ctx, a.ProviderID, domain.PenaltyNoShow, &jobID, "no-show confirmed by support"); err != nil {
		s.log.Error("no-show penalty failed", "provider_id", a.ProviderID, "error", err)
	}
	return job, nil
}
