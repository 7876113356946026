package domain

import "time"

// Task is an entry in the closed service catalog. Immutable within a job's
// lifetime.
type Task struct {
	ID                 string   `json:"id"`
	CategoryID         string   `json:"category_id"`
	Slug               string   `json:"slug"`
	Name               string   `json:"name"`
	RequiredLevel      int      `json:"required_level"` // 1..4
	Regulated          bool     `json:"regulated"`
	LicenseRequired    bool     `json:"license_required"`
	Hazardous          bool     `json:"hazardous"`
	Structural         bool     `json:"structural"`
	EmergencyEligible  bool     `json:"emergency_eligible"`
	BasePriceMinCents  *int64   `json:"base_price_min_cents"`
	BasePriceMaxCents  *int64   `json:"base_price_max_cents"`
	EstimatedDuration  int      `json:"estimated_duration_min"`
	EscalationKeywords []string `json:"escalation_keywords"`
	Active             bool     `json:"active"`
}

// RegionType scopes an SLA profile or on-call shift.
type RegionType string

const (
	RegionCountry      RegionType = "country"
	RegionProvince     RegionType = "province"
	RegionCity         RegionType = "city"
	RegionPostalPrefix RegionType = "postal_prefix"
	RegionCustomZone   RegionType = "custom_zone"
)

// Specificity orders region types from widest to narrowest. Custom zones are
// the narrowest scope and win every tie.
func (r RegionType) Specificity() int {
	switch r {
	case RegionCountry:
		return 1
	case RegionProvince:
		return 2
	case RegionCity:
		return 3
	case RegionPostalPrefix:
		return 4
	case RegionCustomZone:
		return 5
	default:
		return 0
	}
}

// SlaProfile is a region-scoped service-level profile.
type SlaProfile struct {
	ID                string     `json:"id"`
	Level             int        `json:"level"`
	RegionType        RegionType `json:"region_type"`
	RegionValue       string     `json:"region_value"`
	Country           string     `json:"country"`
	TaskID            *string    `json:"task_id,omitempty"`
	ResponseTimeMin   int        `json:"response_time_min"`
	ArrivalTimeMin    *int       `json:"arrival_time_min,omitempty"`
	CompletionTimeMin *int       `json:"completion_time_min,omitempty"`
	PenaltyEnabled    bool       `json:"penalty_enabled"`
	PenaltyPerMin     *int64     `json:"penalty_per_min_cents,omitempty"`
	PenaltyCapCents   *int64     `json:"penalty_cap_cents,omitempty"`
	EffectiveFrom     time.Time  `json:"effective_from"`
	EffectiveUntil    *time.Time `json:"effective_until,omitempty"`
	PriorityOrder     int        `json:"priority_order"`
	Active            bool       `json:"active"`
}

// EffectiveAt reports whether the profile is live at the given instant.
func (p *SlaProfile) EffectiveAt(now time.Time) bool {
	if !p.Active || now.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveUntil == nil || now.Before(*p.EffectiveUntil)
}

// SurgeRule is a configured dynamic-pricing rule.
type SurgeRule struct {
	ID            string     `json:"id"`
	RuleType      string     `json:"rule_type"` // demand_surge, level_premium, distance_adjustment
	TaskID        *string    `json:"task_id,omitempty"`
	Level         *int       `json:"level,omitempty"`
	Country       string     `json:"country"`
	MultiplierMax float64    `json:"multiplier_max"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Active        bool       `json:"active"`
}

// CommissionSchedule is the active commission band for a (level, country).
type CommissionSchedule struct {
	ID            string     `json:"id"`
	Level         int        `json:"level"`
	Country       string     `json:"country"`
	RateMin       float64    `json:"rate_min"`
	RateMax       float64    `json:"rate_max"`
	RateDefault   float64    `json:"rate_default"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Active        bool       `json:"active"`
}
