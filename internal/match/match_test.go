package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixline/backend/internal/domain"
)

type fakeMatchStore struct {
	providers []domain.ProviderProfile
	licensed  map[string]bool
	insured   map[string]int64 // provider -> verified coverage
	onShift   map[string]bool
	respAvg   map[string]float64
}

func (f *fakeMatchStore) ListQualifiedProviders(_ context.Context, _ string) ([]domain.ProviderProfile, error) {
	return f.providers, nil
}

func (f *fakeMatchStore) HasVerifiedLicense(_ context.Context, providerID, _ string) (bool, error) {
	return f.licensed[providerID], nil
}

func (f *fakeMatchStore) HasVerifiedInsurance(_ context.Context, providerID string, minCoverage int64) (bool, error) {
	cov, ok := f.insured[providerID]
	return ok && cov >= minCoverage, nil
}

func (f *fakeMatchStore) HasActiveOnCallShift(_ context.Context, providerID string, _ time.Time) (bool, error) {
	return f.onShift[providerID], nil
}

func (f *fakeMatchStore) ResponseTimeAvgMinutes(_ context.Context, providerID string) (*float64, error) {
	if v, ok := f.respAvg[providerID]; ok {
		return &v, nil
	}
	return nil, nil
}

func f64(v float64) *float64 { return &v }

func activeProvider(id string, level int, score float64, lat, lng float64) domain.ProviderProfile {
	return domain.ProviderProfile{
		ID:              id,
		UserID:          "user-" + id,
		Level:           level,
		Status:          domain.ProviderActive,
		BackgroundCheck: domain.BackgroundCheck{Status: domain.BackgroundCleared},
		InternalScore:   score,
		ServiceRadiusKm: 40,
		HomeLat:         f64(lat),
		HomeLng:         f64(lng),
		IsOnline:        true,
	}
}

// Downtown Toronto job site.
var testJob = domain.Job{
	ID:         "job-1",
	CustomerID: "cust-1",
	TaskID:     "task-1",
	ServiceLat: 43.6532,
	ServiceLng: -79.3832,
}

var basicTask = domain.Task{ID: "task-1", RequiredLevel: 1, Active: true}

func TestCompositeScore(t *testing.T) {
	// perfect score at zero distance with instant responses
	assert.Equal(t, 1.0, CompositeScore(100, 0, f64(0)))

	// no history contributes the neutral midpoint
	assert.Equal(t, 0.95, CompositeScore(100, 0, nil))

	// beyond the distance horizon the proximity term bottoms out at zero
	assert.Equal(t, 0.7, CompositeScore(100, 120, f64(0)))

	// response times past the horizon clamp rather than going negative
	assert.Equal(t, 0.9, CompositeScore(100, 0, f64(500)))

	// out-of-band internal scores clamp so the composite stays in [0,1]
	assert.Equal(t, 1.0, CompositeScore(140, 0, f64(0)))
	assert.Equal(t, 0.4, CompositeScore(-10, 0, f64(0)))
}

func TestFindCandidates_RanksByScoreThenDistanceThenID(t *testing.T) {
	near := activeProvider("p-near", 1, 80, 43.6540, -79.3840) // well under 1 km
	far := activeProvider("p-far", 1, 80, 43.80, -79.50)       // ~19 km
	best := activeProvider("p-best", 1, 98, 43.70, -79.40)     // ~5 km, higher score

	store := &fakeMatchStore{providers: []domain.ProviderProfile{far, best, near}}
	m := NewMatcher(store, 10)

	cands, err := m.FindCandidates(context.Background(), &testJob, &basicTask)
	require.NoError(t, err)
	require.Len(t, cands, 3)

	assert.Equal(t, "p-best", cands[0].Provider.ID)
	assert.Equal(t, "p-near", cands[1].Provider.ID, "same internal score, closer wins")
	assert.Equal(t, "p-far", cands[2].Provider.ID)
}

func TestFindCandidates_HardFilters(t *testing.T) {
	offline := activeProvider("p-offline", 1, 90, 43.66, -79.39)
	offline.IsOnline = false

	suspended := activeProvider("p-suspended", 1, 90, 43.66, -79.39)
	suspended.Status = domain.ProviderSuspended

	underLevel := activeProvider("p-underlevel", 1, 90, 43.66, -79.39)

	outOfRange := activeProvider("p-out", 2, 90, 44.5, -80.5)
	outOfRange.ServiceRadiusKm = 20

	self := activeProvider("p-self", 2, 90, 43.66, -79.39)
	self.UserID = testJob.CustomerID

	good := activeProvider("p-good", 2, 90, 43.66, -79.39)

	store := &fakeMatchStore{providers: []domain.ProviderProfile{
		offline, suspended, underLevel, outOfRange, self, good,
	}}
	task := domain.Task{ID: "task-1", RequiredLevel: 2, Active: true}
	m := NewMatcher(store, 10)

	cands, err := m.FindCandidates(context.Background(), &testJob, &task)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "p-good", cands[0].Provider.ID)
}

func TestFindCandidates_EntryLevelAdmitsOnboarding(t *testing.T) {
	onboarding := activeProvider("p-onboarding", 2, 70, 43.66, -79.39)
	onboarding.Status = domain.ProviderOnboarding
	onboarding.BackgroundCheck = domain.BackgroundCheck{Status: domain.BackgroundNotSubmitted}

	pending := activeProvider("p-pending", 2, 70, 43.66, -79.39)
	pending.Status = domain.ProviderPendingReview

	inactive := activeProvider("p-inactive", 2, 70, 43.66, -79.39)
	inactive.Status = domain.ProviderInactive

	store := &fakeMatchStore{providers: []domain.ProviderProfile{onboarding, pending, inactive}}
	m := NewMatcher(store, 10)

	// level 1: onboarding and pending_review are dispatchable
	cands, err := m.FindCandidates(context.Background(), &testJob, &basicTask)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	// level 3: only active status qualifies
	l3 := domain.Task{ID: "task-1", RequiredLevel: 3, Active: true}
	onboarding.Level = 3
	pending.Level = 3
	store.providers = []domain.ProviderProfile{onboarding, pending}
	cands, err = m.FindCandidates(context.Background(), &testJob, &l3)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestFindCandidates_Level3AlwaysNeedsLicenseInsuranceBackground(t *testing.T) {
	// the task row carries none of the license/hazard flags; level alone
	// mandates the checks
	task := domain.Task{ID: "task-1", RequiredLevel: 3, Active: true}

	full := activeProvider("p-full", 3, 80, 43.66, -79.39)
	unlicensed := activeProvider("p-unlicensed", 3, 95, 43.66, -79.39)
	uninsured := activeProvider("p-uninsured", 3, 95, 43.66, -79.39)
	uncleared := activeProvider("p-uncleared", 3, 95, 43.66, -79.39)
	uncleared.BackgroundCheck.Status = domain.BackgroundPending

	store := &fakeMatchStore{
		providers: []domain.ProviderProfile{full, unlicensed, uninsured, uncleared},
		licensed:  map[string]bool{"p-full": true, "p-uninsured": true, "p-uncleared": true},
		insured:   map[string]int64{"p-full": 1_000_000, "p-unlicensed": 1_000_000, "p-uncleared": 1_000_000},
	}
	m := NewMatcher(store, 10)

	cands, err := m.FindCandidates(context.Background(), &testJob, &task)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "p-full", cands[0].Provider.ID)
}

func TestFindCandidates_BackgroundCheckScopedToLevel3(t *testing.T) {
	uncleared := activeProvider("p-uncleared", 1, 90, 43.66, -79.39)
	uncleared.BackgroundCheck.Status = domain.BackgroundPending

	store := &fakeMatchStore{providers: []domain.ProviderProfile{uncleared}}
	m := NewMatcher(store, 10)

	cands, err := m.FindCandidates(context.Background(), &testJob, &basicTask)
	require.NoError(t, err)
	require.Len(t, cands, 1, "entry-level dispatch does not gate on background status")
}

func TestFindCandidates_Level4StandardJobStillNeedsShift(t *testing.T) {
	onShift := activeProvider("p-shift", 4, 85, 43.66, -79.39)
	offShift := activeProvider("p-noshift", 4, 95, 43.66, -79.39)

	store := &fakeMatchStore{
		providers: []domain.ProviderProfile{onShift, offShift},
		licensed:  map[string]bool{"p-shift": true, "p-noshift": true},
		insured: map[string]int64{
			"p-shift":   Level4InsuranceFloorCents,
			"p-noshift": Level4InsuranceFloorCents,
		},
		onShift: map[string]bool{"p-shift": true},
	}
	task := domain.Task{ID: "task-1", RequiredLevel: 4, Active: true}
	m := NewMatcher(store, 10)

	// not an emergency; the shift requirement holds regardless
	cands, err := m.FindCandidates(context.Background(), &testJob, &task)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "p-shift", cands[0].Provider.ID)
}

func TestFindCandidates_RegulatedTaskNeedsLicense(t *testing.T) {
	licensed := activeProvider("p-licensed", 2, 80, 43.66, -79.39)
	unlicensed := activeProvider("p-unlicensed", 2, 95, 43.66, -79.39)

	store := &fakeMatchStore{
		providers: []domain.ProviderProfile{licensed, unlicensed},
		licensed:  map[string]bool{"p-licensed": true},
	}
	task := domain.Task{ID: "task-1", RequiredLevel: 2, Regulated: true, LicenseRequired: true, Active: true}
	m := NewMatcher(store, 10)

	cands, err := m.FindCandidates(context.Background(), &testJob, &task)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "p-licensed", cands[0].Provider.ID)
}

func TestFindCandidates_Level4EmergencyNeedsShiftAndCoverage(t *testing.T) {
	onShift := activeProvider("p-shift", 4, 85, 43.66, -79.39)
	onShift.AvailableForEmergency = true
	offShift := activeProvider("p-noshift", 4, 95, 43.66, -79.39)
	offShift.AvailableForEmergency = true
	thin := activeProvider("p-thin-coverage", 4, 99, 43.66, -79.39)
	thin.AvailableForEmergency = true

	store := &fakeMatchStore{
		providers: []domain.ProviderProfile{onShift, offShift, thin},
		licensed:  map[string]bool{"p-shift": true, "p-noshift": true, "p-thin-coverage": true},
		insured: map[string]int64{
			"p-shift":         Level4InsuranceFloorCents,
			"p-noshift":       Level4InsuranceFloorCents,
			"p-thin-coverage": Level4InsuranceFloorCents - 1,
		},
		onShift: map[string]bool{"p-shift": true, "p-thin-coverage": true},
	}
	task := domain.Task{ID: "task-1", RequiredLevel: 4, Regulated: true, LicenseRequired: true, Active: true}
	job := testJob
	job.IsEmergency = true
	m := NewMatcher(store, 10)

	cands, err := m.FindCandidates(context.Background(), &job, &task)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "p-shift", cands[0].Provider.ID)
}

func TestFindCandidates_LimitTruncates(t *testing.T) {
	store := &fakeMatchStore{}
	for i := 0; i < 6; i++ {
		p := activeProvider(string(rune('a'+i)), 1, float64(50+i*5), 43.66, -79.39)
		store.providers = append(store.providers, p)
	}
	m := NewMatcher(store, 3)

	cands, err := m.FindCandidates(context.Background(), &testJob, &basicTask)
	require.NoError(t, err)
	assert.Len(t, cands, 3)
	assert.Equal(t, "f", cands[0].Provider.ID, "highest internal score survives the cut")
}
