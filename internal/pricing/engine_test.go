package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
)

type fakePricingStore struct {
	tasks     map[string]*domain.Task
	surge     []domain.SurgeRule
	schedules map[int]*domain.CommissionSchedule
	events    []*domain.PricingEvent
}

func (f *fakePricingStore) GetTask(_ context.Context, id string) (*domain.Task, error) {
	return f.tasks[id], nil
}

func (f *fakePricingStore) ListActiveSurgeRules(_ context.Context, _ string, _ int, _ string) ([]domain.SurgeRule, error) {
	return f.surge, nil
}

func (f *fakePricingStore) GetCommissionSchedule(_ context.Context, level int, _ string) (*domain.CommissionSchedule, error) {
	return f.schedules[level], nil
}

func (f *fakePricingStore) AppendPricingEvent(_ context.Context, ev *domain.PricingEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type stubWeather struct {
	extreme bool
	delay   time.Duration
}

func (s stubWeather) GetConditions(ctx context.Context, _, _ float64) (*Conditions, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Conditions{IsExtreme: s.extreme}, nil
}

func i64(v int64) *int64   { return &v }
func str(v string) *string { return &v }

func plumbingStore() *fakePricingStore {
	return &fakePricingStore{tasks: map[string]*domain.Task{
		"plumbing": {
			ID:                "plumbing",
			RequiredLevel:     2,
			EmergencyEligible: true,
			BasePriceMinCents: i64(15000),
			BasePriceMaxCents: i64(30000),
			Active:            true,
		},
	}}
}

func TestEstimate_EmergencyStackClampsAtCeiling(t *testing.T) {
	store := plumbingStore()
	holiday := time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)
	eng := New(store, stubWeather{extreme: true}, NewStaticHolidays([]time.Time{holiday}), 5.0, time.Second)

	q, err := eng.Estimate(context.Background(), EstimateRequest{
		TaskID:        "plumbing",
		RequestedDate: &holiday,
		RequestedTime: str("23:30"),
		IsEmergency:   true,
		Country:       "CA",
	})
	require.NoError(t, err)

	// night 1.5 x weather 2.0 x holiday 2.5 = 7.5, clamped to 5.0
	assert.Equal(t, 5.0, q.DynamicMultiplier)
	assert.Equal(t, int64(75000), q.FinalMinCents)
	assert.Equal(t, int64(150000), q.FinalMaxCents)

	names := make([]string, len(q.MultiplierDetails))
	for i, r := range q.MultiplierDetails {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"night_surcharge", "extreme_weather", "holiday", "ceiling_clamp"}, names)
}

func TestEstimate_NonEmergencyNeverMultiplied(t *testing.T) {
	store := plumbingStore()
	holiday := time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)
	store.surge = []domain.SurgeRule{{ID: "s1", RuleType: "demand_surge", MultiplierMax: 1.8, Active: true}}
	eng := New(store, stubWeather{extreme: true}, NewStaticHolidays([]time.Time{holiday}), 5.0, time.Second)

	q, err := eng.Estimate(context.Background(), EstimateRequest{
		TaskID:        "plumbing",
		RequestedDate: &holiday,
		RequestedTime: str("23:30"),
		IsEmergency:   false,
		Country:       "CA",
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, q.DynamicMultiplier)
	assert.Empty(t, q.MultiplierDetails)
	assert.Equal(t, int64(15000), q.FinalMinCents)
	assert.Equal(t, int64(30000), q.FinalMaxCents)
}

func TestEstimate_WeekendAndAdjacentExclusive(t *testing.T) {
	store := plumbingStore()
	holiday := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) // Wednesday
	cal := NewStaticHolidays([]time.Time{holiday})
	eng := New(store, NoWeather{}, cal, 5.0, time.Second)

	dayBefore := holiday.AddDate(0, 0, -1)
	q, err := eng.Estimate(context.Background(), EstimateRequest{
		TaskID:        "plumbing",
		RequestedDate: &dayBefore,
		IsEmergency:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, holidayAdjacentFactor, q.DynamicMultiplier)

	saturday := time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)
	q, err = eng.Estimate(context.Background(), EstimateRequest{
		TaskID:        "plumbing",
		RequestedDate: &saturday,
		IsEmergency:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, weekendFactor, q.DynamicMultiplier)
}

func TestEstimate_WeatherTimeoutDegrades(t *testing.T) {
	store := plumbingStore()
	eng := New(store, stubWeather{extreme: true, delay: 200 * time.Millisecond}, nil, 5.0, 10*time.Millisecond)

	q, err := eng.Estimate(context.Background(), EstimateRequest{
		TaskID:      "plumbing",
		IsEmergency: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, q.DynamicMultiplier, "slow oracle must degrade to calm, not block")
}

func TestEstimate_MissingBasePrices(t *testing.T) {
	store := &fakePricingStore{tasks: map[string]*domain.Task{
		"quoted-only": {ID: "quoted-only", RequiredLevel: 1, Active: true},
	}}
	eng := New(store, nil, nil, 5.0, time.Second)

	_, err := eng.Estimate(context.Background(), EstimateRequest{TaskID: "quoted-only"})
	assert.True(t, errs.Is(err, errs.KindPricingUnavailable))

	_, err = eng.Estimate(context.Background(), EstimateRequest{TaskID: "absent"})
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestEstimate_CommissionScheduleOverridesDefaults(t *testing.T) {
	store := plumbingStore()
	store.schedules = map[int]*domain.CommissionSchedule{
		2: {Level: 2, RateMin: 0.10, RateMax: 0.14, RateDefault: 0.12, Active: true},
	}
	eng := New(store, nil, nil, 5.0, time.Second)

	q, err := eng.Estimate(context.Background(), EstimateRequest{TaskID: "plumbing", Country: "CA"})
	require.NoError(t, err)
	assert.Equal(t, 0.12, q.CommissionDefault)
	// payout bounds use the opposite ends of the band
	assert.Equal(t, int64(12900), q.PayoutMinCents) // 15000 * (1 - 0.14)
	assert.Equal(t, int64(27000), q.PayoutMaxCents) // 30000 * (1 - 0.10)
}

func TestSplitCommission_BankersRoundingResidual(t *testing.T) {
	// 3500 * 0.175 = 612.5, ties to even -> 612
	commission, payout := SplitCommission(3500, 0.175)
	assert.Equal(t, int64(612), commission)
	assert.Equal(t, int64(2888), payout)
	assert.Equal(t, int64(3500), commission+payout)
}

func TestPriceJob_RecordsAuditEvent(t *testing.T) {
	store := plumbingStore()
	eng := New(store, nil, nil, 5.0, time.Second)

	job := &domain.Job{
		ID:             domain.NewID(),
		TaskID:         "plumbing",
		ServiceAddress: domain.Address{Country: "CA"},
	}
	ev, err := eng.PriceJob(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, store.events, 1)

	// midpoint of 15000..30000 at level-2 default 15%
	assert.Equal(t, int64(22500), ev.FinalPriceCents)
	assert.Equal(t, 0.15, ev.CommissionRate)
	assert.Equal(t, int64(3375), ev.CommissionCents)
	assert.Equal(t, int64(19125), ev.ProviderPayout)
	assert.Equal(t, ev.FinalPriceCents, ev.CommissionCents+ev.ProviderPayout)
	assert.Equal(t, "job_priced", ev.EventType)
}
