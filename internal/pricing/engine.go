// Package pricing implements the dynamic pricing engine: emergency
// multiplier stacking, ceiling clamp, commission split, and the append-only
// pricing audit trail.
package pricing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
)

// Store is the slice of the relational store the engine reads and appends to.
type Store interface {
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListActiveSurgeRules(ctx context.Context, taskID string, level int, country string) ([]domain.SurgeRule, error)
	GetCommissionSchedule(ctx context.Context, level int, country string) (*domain.CommissionSchedule, error)
	AppendPricingEvent(ctx context.Context, ev *domain.PricingEvent) error
}

// commissionBand is the static fallback when no schedule row is active.
type commissionBand struct {
	min, max, def float64
}

var defaultCommissions = map[int]commissionBand{
	1: {0.15, 0.20, 0.175},
	2: {0.12, 0.18, 0.15},
	3: {0.10, 0.15, 0.125},
	4: {0.05, 0.10, 0.075},
}

// Multiplier factors for the emergency stack.
const (
	nightFactor           = 1.5
	extremeWeatherFactor  = 2.0
	holidayFactor         = 2.5
	holidayAdjacentFactor = 1.5
	weekendFactor         = 1.25
)

// EstimateRequest is the pricing input for a quote.
type EstimateRequest struct {
	TaskID        string
	Lat           float64
	Lng           float64
	RequestedDate *time.Time
	RequestedTime *string // "HH:MM"
	IsEmergency   bool
	Country       string
}

// Quote is a price estimate range with the multiplier breakdown.
type Quote struct {
	BaseMinCents      int64                `json:"base_min_cents"`
	BaseMaxCents      int64                `json:"base_max_cents"`
	DynamicMultiplier float64              `json:"dynamic_multiplier"`
	MultiplierDetails []domain.PricingRule `json:"multiplier_details"`
	FinalMinCents     int64                `json:"final_min_cents"`
	FinalMaxCents     int64                `json:"final_max_cents"`
	CommissionMin     float64              `json:"commission_rate_min"`
	CommissionMax     float64              `json:"commission_rate_max"`
	CommissionDefault float64              `json:"commission_rate_default"`
	PayoutMinCents    int64                `json:"payout_min_cents"`
	PayoutMaxCents    int64                `json:"payout_max_cents"`
	Currency          string               `json:"currency"`
}

// Engine computes quotes and records definitive pricing events.
type Engine struct {
	store          Store
	weather        WeatherOracle
	holidays       HolidayCalendar
	ceiling        float64
	weatherTimeout time.Duration
	now            func() time.Time
}

// New creates a pricing engine. A nil oracle or calendar degrades to calm
// weather and regular days.
func New(store Store, weather WeatherOracle, holidays HolidayCalendar, ceiling float64, weatherTimeout time.Duration) *Engine {
	if weather == nil {
		weather = NoWeather{}
	}
	if ceiling <= 0 {
		ceiling = 5.0
	}
	if weatherTimeout <= 0 {
		weatherTimeout = 2 * time.Second
	}
	return &Engine{
		store:          store,
		weather:        weather,
		holidays:       holidays,
		ceiling:        ceiling,
		weatherTimeout: weatherTimeout,
		now:            time.Now,
	}
}

// Estimate computes a price range for the request. Non-emergency requests
// never receive multipliers, regardless of time, weather, or date.
func (e *Engine) Estimate(ctx context.Context, req EstimateRequest) (*Quote, error) {
	const op = "pricing.Estimate"

	task, err := e.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errs.E(errs.KindNotFound, op, "task %s not found", req.TaskID)
	}
	if task.BasePriceMinCents == nil || task.BasePriceMaxCents == nil {
		return nil, errs.E(errs.KindPricingUnavailable, op, "task %s has no base prices", req.TaskID)
	}

	combined := 1.0
	var details []domain.PricingRule

	if req.IsEmergency {
		combined, details = e.stackMultipliers(ctx, req, task)
	}

	baseMin, baseMax := *task.BasePriceMinCents, *task.BasePriceMaxCents
	finalMin := BankersRound(float64(baseMin) * combined)
	finalMax := BankersRound(float64(baseMax) * combined)

	band := e.commissionBand(ctx, task.RequiredLevel, req.Country)

	q := &Quote{
		BaseMinCents:      baseMin,
		BaseMaxCents:      baseMax,
		DynamicMultiplier: combined,
		MultiplierDetails: details,
		FinalMinCents:     finalMin,
		FinalMaxCents:     finalMax,
		CommissionMin:     band.min,
		CommissionMax:     band.max,
		CommissionDefault: band.def,
		PayoutMinCents:    BankersRound(float64(finalMin) * (1 - band.max)),
		PayoutMaxCents:    BankersRound(float64(finalMax) * (1 - band.min)),
		Currency:          "CAD",
	}
	return q, nil
}

// PriceJob re-invokes the engine at job creation and records the definitive
// PricingEvent: final price is the midpoint of the range, commission uses
// the schedule default. The returned event has already been appended.
func (e *Engine) PriceJob(ctx context.Context, job *domain.Job) (*domain.PricingEvent, error) {
	const op = "pricing.PriceJob"

	q, err := e.Estimate(ctx, EstimateRequest{
		TaskID:        job.TaskID,
		Lat:           job.ServiceLat,
		Lng:           job.ServiceLng,
		RequestedDate: job.RequestedDate,
		RequestedTime: job.RequestedTimeStart,
		IsEmergency:   job.IsEmergency,
		Country:       job.ServiceAddress.Country,
	})
	if err != nil {
		return nil, err
	}

	final := BankersRound(float64(q.FinalMinCents+q.FinalMaxCents) / 2)
	commission, payout := SplitCommission(final, q.CommissionDefault)
	if commission+payout != final {
		return nil, errs.E(errs.KindFatal, op,
			"commission %d + payout %d != final %d", commission, payout, final)
	}

	ev := &domain.PricingEvent{
		ID:              domain.NewID(),
		JobID:           job.ID,
		EventType:       "job_priced",
		BasePriceCents:  BankersRound(float64(q.BaseMinCents+q.BaseMaxCents) / 2),
		Multiplier:      q.DynamicMultiplier,
		FinalPriceCents: final,
		RulesApplied:    q.MultiplierDetails,
		CommissionRate:  q.CommissionDefault,
		CommissionCents: commission,
		ProviderPayout:  payout,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.store.AppendPricingEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("%s: append pricing event: %w", op, err)
	}
	return ev, nil
}

// stackMultipliers tests each emergency multiplier and stacks them
// multiplicatively, clamping to the configured ceiling.
func (e *Engine) stackMultipliers(ctx context.Context, req EstimateRequest, task *domain.Task) (float64, []domain.PricingRule) {
	combined := 1.0
	var details []domain.PricingRule

	apply := func(name string, factor float64, note string) {
		combined *= factor
		details = append(details, domain.PricingRule{Name: name, Factor: factor, Note: note})
	}

	if isNight(req.RequestedTime) {
		apply("night_surcharge", nightFactor, "requested time between 22:00 and 06:00")
	}

	if e.weatherIsExtreme(ctx, req.Lat, req.Lng) {
		apply("extreme_weather", extremeWeatherFactor, "")
	}

	if req.RequestedDate != nil && e.holidays != nil {
		d := *req.RequestedDate
		switch {
		case e.holidays.IsHoliday(d):
			apply("holiday", holidayFactor, d.Format("2006-01-02"))
		case e.holidays.IsHoliday(d.AddDate(0, 0, -1)) || e.holidays.IsHoliday(d.AddDate(0, 0, 1)):
			apply("holiday_adjacent", holidayAdjacentFactor, "")
		case d.Weekday() == time.Saturday || d.Weekday() == time.Sunday:
			apply("weekend", weekendFactor, "")
		}
	}

	rules, err := e.store.ListActiveSurgeRules(ctx, task.ID, task.RequiredLevel, req.Country)
	if err == nil {
		for _, r := range rules {
			switch r.RuleType {
			case "demand_surge", "level_premium", "distance_adjustment":
				apply(r.RuleType, r.MultiplierMax, r.ID)
			}
		}
	}

	if combined > e.ceiling {
		details = append(details, domain.PricingRule{
			Name:   "ceiling_clamp",
			Factor: e.ceiling / combined,
			Note:   fmt.Sprintf("combined %.2f clamped to %.2f", combined, e.ceiling),
		})
		combined = e.ceiling
	}

	return combined, details
}

// weatherIsExtreme asks the oracle with a bounded budget; any failure
// degrades to non-extreme.
func (e *Engine) weatherIsExtreme(ctx context.Context, lat, lng float64) bool {
	wctx, cancel := context.WithTimeout(ctx, e.weatherTimeout)
	defer cancel()

	cond, err := e.weather.GetConditions(wctx, lat, lng)
	if err != nil || cond == nil {
		return false
	}
	return cond.IsExtreme
}

func (e *Engine) commissionBand(ctx context.Context, level int, country string) commissionBand {
	if sched, err := e.store.GetCommissionSchedule(ctx, level, country); err == nil && sched != nil {
		return commissionBand{min: sched.RateMin, max: sched.RateMax, def: sched.RateDefault}
	}
	if band, ok := defaultCommissions[level]; ok {
		return band
	}
	return defaultCommissions[1]
}

// isNight reports whether an "HH:MM" time falls in [22:00, 06:00).
func isNight(hhmm *string) bool {
	if hhmm == nil {
		return false
	}
	parts := strings.SplitN(*hhmm, ":", 2)
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	return hour >= 22 || hour < 6
}
