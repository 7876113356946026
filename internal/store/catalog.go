package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
)

// GetTask loads one catalog task. Missing tasks return (nil, nil); the
// catalog layer turns that into a not-found error.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var t domain.Task
	var baseMin, baseMax sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, category_id, slug, name, required_level,
		       regulated, license_required, hazardous, structural, emergency_eligible,
		       base_price_min_cents, base_price_max_cents,
		       estimated_duration, escalation_keywords, active
		FROM tasks WHERE id = $1`, id).Scan(
		&t.ID, &t.CategoryID, &t.Slug, &t.Name, &t.RequiredLevel,
		&t.Regulated, &t.LicenseRequired, &t.Hazardous, &t.Structural, &t.EmergencyEligible,
		&baseMin, &baseMax,
		&t.EstimatedDuration, pq.Array(&t.EscalationKeywords), &t.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t.BasePriceMinCents = int64Ptr(baseMin)
	t.BasePriceMaxCents = int64Ptr(baseMax)
	return &t, nil
}

// ListActiveSlaProfiles returns live profiles for a level and country. The
// catalog does the region/task ranking in memory.
func (s *Store) ListActiveSlaProfiles(ctx context.Context, level int, country string) ([]domain.SlaProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, region_type, region_value, country, task_id,
		       response_time_min, arrival_time_min, completion_time_min,
		       penalty_enabled, penalty_per_min_cents, penalty_cap_cents,
		       effective_from, effective_until, priority_order, active
		FROM sla_profiles
		WHERE level = $1 AND country = $2 AND active`, level, country)
	if err != nil {
		return nil, fmt.Errorf("list sla profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.SlaProfile
	for rows.Next() {
		var p domain.SlaProfile
		var regionType string
		var taskID sql.NullString
		var arrival, completion sql.NullInt64
		var perMin, penCap sql.NullInt64
		var until sql.NullTime
		if err := rows.Scan(&p.ID, &p.Level, &regionType, &p.RegionValue, &p.Country, &taskID,
			&p.ResponseTimeMin, &arrival, &completion,
			&p.PenaltyEnabled, &perMin, &penCap,
			&p.EffectiveFrom, &until, &p.PriorityOrder, &p.Active); err != nil {
			return nil, fmt.Errorf("scan sla profile: %w", err)
		}
		p.RegionType = domain.RegionType(regionType)
		p.TaskID = strPtr(taskID)
		p.ArrivalTimeMin = intPtr(arrival)
		p.CompletionTimeMin = intPtr(completion)
		p.PenaltyPerMin = int64Ptr(perMin)
		p.PenaltyCapCents = int64Ptr(penCap)
		p.EffectiveUntil = timePtr(until)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListActiveSurgeRules returns surge rules live right now that apply to the
// task or level, scoped to the country.
func (s *Store) ListActiveSurgeRules(ctx context.Context, taskID string, level int, country string) ([]domain.SurgeRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_type, task_id, level, country, multiplier_max,
		       effective_from, effective_to, active
		FROM surge_rules
		WHERE country = $1 AND active
		  AND (task_id IS NULL OR task_id = $2)
		  AND (level IS NULL OR level = $3)
		  AND effective_from <= now()
		  AND (effective_to IS NULL OR effective_to > now())`, country, taskID, level)
	if err != nil {
		return nil, fmt.Errorf("list surge rules: %w", err)
	}
	defer rows.Close()

	var out []domain.SurgeRule
	for rows.Next() {
		var r domain.SurgeRule
		var tID sql.NullString
		var lvl sql.NullInt64
		var to sql.NullTime
		if err := rows.Scan(&r.ID, &r.RuleType, &tID, &lvl, &r.Country, &r.MultiplierMax,
			&r.EffectiveFrom, &to, &r.Active); err != nil {
			return nil, fmt.Errorf("scan surge rule: %w", err)
		}
		r.TaskID = strPtr(tID)
		r.Level = intPtr(lvl)
		r.EffectiveTo = timePtr(to)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetCommissionSchedule returns the live schedule for a level and country, or
// (nil, nil) when none is configured; the engine falls back to defaults.
func (s *Store) GetCommissionSchedule(ctx context.Context, level int, country string) (*domain.CommissionSchedule, error) {
	var c domain.CommissionSchedule
	var to sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, level, country, rate_min, rate_max, rate_default,
		       effective_from, effective_to, active
		FROM commission_schedules
		WHERE level = $1 AND country = $2 AND active
		  AND effective_from <= now()
		  AND (effective_to IS NULL OR effective_to > now())
		ORDER BY effective_from DESC
		LIMIT 1`, level, country).Scan(
		&c.ID, &c.Level, &c.Country, &c.RateMin, &c.RateMax, &c.RateDefault,
		&c.EffectiveFrom, &to, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get commission schedule: %w", err)
	}
	c.EffectiveTo = timePtr(to)
	return &c, nil
}

// AppendPricingEvent writes one audit row. Append-only.
func (s *Store) AppendPricingEvent(ctx context.Context, ev *domain.PricingEvent) error {
	rules, err := json.Marshal(ev.RulesApplied)
	if err != nil {
		return errs.Wrap(errs.KindFatal, "store.AppendPricingEvent", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pricing_events (id, job_id, event_type, base_price_cents, multiplier_applied,
		       adjustments_cents, final_price_cents, rules_applied,
		       commission_rate, commission_cents, provider_payout_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.JobID, ev.EventType, ev.BasePriceCents, ev.Multiplier,
		ev.Adjustments, ev.FinalPriceCents, rules,
		ev.CommissionRate, ev.CommissionCents, ev.ProviderPayout, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append pricing event: %w", err)
	}
	return nil
}
