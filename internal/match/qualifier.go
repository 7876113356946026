// Package match selects and ranks candidate providers for a job. Hard
// eligibility filters run first, then the survivors are scored and ordered.
package match

import (
	"context"
	"time"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/geo"
)

// Level4InsuranceFloorCents is the minimum verified coverage for level-4
// dispatch.
const Level4InsuranceFloorCents int64 = 200_000_000

// Store is the provider-side read surface the matcher needs.
type Store interface {
	// ListQualifiedProviders returns providers holding an active
	// qualification for the task, regardless of any other eligibility.
	ListQualifiedProviders(ctx context.Context, taskID string) ([]domain.ProviderProfile, error)
	HasVerifiedLicense(ctx context.Context, providerID, taskID string) (bool, error)
	HasVerifiedInsurance(ctx context.Context, providerID string, minCoverageCents int64) (bool, error)
	HasActiveOnCallShift(ctx context.Context, providerID string, at time.Time) (bool, error)
	// ResponseTimeAvgMinutes is nil for providers with no response history.
	ResponseTimeAvgMinutes(ctx context.Context, providerID string) (*float64, error)
}

// Qualifier applies the hard eligibility filters. A provider failing any
// filter is silently dropped; filters never rank.
type Qualifier struct {
	store Store
	now   func() time.Time
}

func NewQualifier(store Store) *Qualifier {
	return &Qualifier{store: store, now: time.Now}
}

// statusAdmitted is the candidate-status gate. Level 3 and up dispatch only
// to active providers; entry-level tasks also admit providers still in
// onboarding or pending review.
func statusAdmitted(s domain.ProviderStatus, requiredLevel int) bool {
	if requiredLevel >= 3 {
		return s == domain.ProviderActive
	}
	switch s {
	case domain.ProviderOnboarding, domain.ProviderPendingReview, domain.ProviderActive:
		return true
	}
	return false
}

// eligible runs every non-spatial filter for one provider.
func (q *Qualifier) eligible(ctx context.Context, p *domain.ProviderProfile, job *domain.Job, task *domain.Task) (bool, error) {
	now := q.now()

	if !statusAdmitted(p.Status, task.RequiredLevel) || !p.IsOnline {
		return false, nil
	}
	if p.UserID == job.CustomerID {
		// a provider never sees their own request
		return false, nil
	}
	if task.RequiredLevel >= 3 && !p.BackgroundCheck.ClearedAt(now) {
		return false, nil
	}
	if p.Level < task.RequiredLevel {
		return false, nil
	}
	if job.IsEmergency && !p.AvailableForEmergency {
		return false, nil
	}

	if task.RequiredLevel >= 3 || task.LicenseRequired || task.Regulated {
		ok, err := q.store.HasVerifiedLicense(ctx, p.ID, task.ID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if task.RequiredLevel >= 3 || task.Hazardous || task.Structural {
		floor := int64(0)
		if task.RequiredLevel >= 4 {
			floor = Level4InsuranceFloorCents
		}
		ok, err := q.store.HasVerifiedInsurance(ctx, p.ID, floor)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if task.RequiredLevel >= 4 {
		ok, err := q.store.HasActiveOnCallShift(ctx, p.ID, now)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// withinReach checks the spatial filter. Providers without a home location
// are unreachable.
func withinReach(p *domain.ProviderProfile, job *domain.Job) (float64, bool) {
	if p.HomeLat == nil || p.HomeLng == nil {
		return 0, false
	}
	d := geo.HaversineKm(job.ServiceLat, job.ServiceLng, *p.HomeLat, *p.HomeLng)
	return d, d <= p.ServiceRadiusKm
}
