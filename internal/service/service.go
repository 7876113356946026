// Package service implements the customer, provider, and admin operations
// on top of the lifecycle machine, pricing engine, matcher, and scoring
// ledger.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/catalog"
	"github.com/fixline/backend/internal/dispatch"
	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/pricing"
	"github.com/fixline/backend/internal/scoring"
)

// Store is the persistence surface the service layer drives. Mutations that
// change job state must also write the matching outbox event in the same
// transaction.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobsByCustomer(ctx context.Context, customerID string, statuses []domain.JobStatus, limit, offset int) ([]domain.Job, error)
	ListJobsByProvider(ctx context.Context, providerID string, statuses []domain.JobStatus, limit, offset int) ([]domain.Job, error)

	// TransitionJob validates the edge under a row lock, applies it, and
	// records the status-change event.
	TransitionJob(ctx context.Context, jobID string, to domain.JobStatus, actor domain.Actor, reason string) (*domain.Job, error)

	GetAcceptedAssignment(ctx context.Context, jobID string) (*domain.Assignment, error)
	UpdateAssignmentProgress(ctx context.Context, a *domain.Assignment) error
	// RejectAcceptedAssignment closes the accepted assignment when the
	// customer turns the provider down.
	RejectAcceptedAssignment(ctx context.Context, jobID, reason string, now time.Time) (*domain.Assignment, error)
	ListOffersByProvider(ctx context.Context, providerID string, limit int) ([]domain.Assignment, error)

	InsertReview(ctx context.Context, r *domain.Review) error
	HasReview(ctx context.Context, jobID string) (bool, error)

	GetProviderProfile(ctx context.Context, id string) (*domain.ProviderProfile, error)
	GetProviderProfileByUser(ctx context.Context, userID string) (*domain.ProviderProfile, error)
	SetProviderOnline(ctx context.Context, providerID string, online bool) error

	InsertCredential(ctx context.Context, c *domain.Credential) error
	GetCredential(ctx context.Context, id string) (*domain.Credential, error)
	SetCredentialStatus(ctx context.Context, id string, status domain.CredentialStatus) error
	// ListExpiringCredentials returns verified credentials whose expiry falls
	// before the horizon.
	ListExpiringCredentials(ctx context.Context, horizon time.Time, limit int) ([]domain.Credential, error)
	MarkCredentialExpired(ctx context.Context, id string) error
}

// Presence maintains the online provider geo index.
type Presence interface {
	TrackProvider(ctx context.Context, providerID string, lat, lng float64) error
	UntrackProvider(ctx context.Context, providerID string) error
}

// Service exposes every marketplace operation.
type Service struct {
	store    Store
	catalog  *catalog.Catalog
	pricer   *pricing.Engine
	coord    *dispatch.Coordinator
	ledger   *scoring.Ledger
	presence Presence
	log      *slog.Logger
	now      func() time.Time
}

func New(store Store, cat *catalog.Catalog, pricer *pricing.Engine, coord *dispatch.Coordinator, ledger *scoring.Ledger, presence Presence, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		catalog:  cat,
		pricer:   pricer,
		coord:    coord,
		ledger:   ledger,
		presence: presence,
		log:      log,
		now:      time.Now,
	}
}

// requireRole rejects callers whose role does not match.
func requireRole(claims *auth.Claims, role auth.Role) error {
	if claims == nil || claims.Role != role {
		return errs.E(errs.KindUnauthorized, "service.requireRole", "%s role required", role)
	}
	return nil
}

// ownedJob loads a job and checks the customer owns it.
func (s *Service) ownedJob(ctx context.Context, claims *auth.Claims, jobID string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CustomerID != claims.UserID {
		return nil, errs.E(errs.KindUnauthorized, "service.ownedJob", "job %s does not belong to caller", jobID)
	}
	return job, nil
}

// assignedJob loads a job and its accepted assignment, checking the calling
// provider holds it.
func (s *Service) assignedJob(ctx context.Context, claims *auth.Claims, jobID string) (*domain.Job, *domain.Assignment, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.store.GetAcceptedAssignment(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if a.ProviderID != claims.ProfileID {
		return nil, nil, errs.E(errs.KindUnauthorized, "service.assignedJob", "job %s is not assigned to caller", jobID)
	}
	return job, a, nil
}
