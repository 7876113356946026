package domain

import "time"

// JobStatus is a state in the job lifecycle machine.
type JobStatus string

const (
	JobDraft                 JobStatus = "draft"
	JobPendingMatch          JobStatus = "pending_match"
	JobMatched               JobStatus = "matched"
	JobPendingApproval       JobStatus = "pending_approval"
	JobPendingPriceAgreement JobStatus = "pending_price_agreement"
	JobScheduled             JobStatus = "scheduled"
	JobProviderAccepted      JobStatus = "provider_accepted"
	JobProviderEnRoute       JobStatus = "provider_en_route"
	JobInProgress            JobStatus = "in_progress"
	JobCompleted             JobStatus = "completed"
	JobCancelledByCustomer   JobStatus = "cancelled_by_customer"
	JobCancelledByProvider   JobStatus = "cancelled_by_provider"
	JobCancelledBySystem     JobStatus = "cancelled_by_system"
	JobDisputed              JobStatus = "disputed"
	JobRefunded              JobStatus = "refunded"
)

// Cancelled reports whether the status is one of the cancelled_* states.
func (s JobStatus) Cancelled() bool {
	return s == JobCancelledByCustomer || s == JobCancelledByProvider || s == JobCancelledBySystem
}

// Terminal reports whether no further transitions are legal except the
// completed → {refunded, disputed} edges handled by the lifecycle table.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobRefunded || s.Cancelled()
}

// Actor identifies who is driving a transition.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorProvider Actor = "provider"
	ActorSystem   Actor = "system"
	ActorAdmin    Actor = "admin"
)

// JobPriority orders dispatch urgency.
type JobPriority string

const (
	PriorityStandard  JobPriority = "standard"
	PriorityPriority  JobPriority = "priority"
	PriorityUrgent    JobPriority = "urgent"
	PriorityEmergency JobPriority = "emergency"
)

// Address is the structured service location.
type Address struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Zone       string `json:"zone,omitempty"` // custom dispatch zone tag
}

// SlaSnapshot is the immutable copy of SLA targets captured into a job at
// creation. All deadline math for the job reads this snapshot, never the
// live catalog.
type SlaSnapshot struct {
	ProfileID         *string   `json:"profile_id,omitempty"`
	ResponseTimeMin   *int      `json:"response_time_min,omitempty"`
	ArrivalTimeMin    *int      `json:"arrival_time_min,omitempty"`
	CompletionTimeMin *int      `json:"completion_time_min,omitempty"`
	PenaltyPerMin     *int64    `json:"penalty_per_min_cents,omitempty"`
	PenaltyCapCents   *int64    `json:"penalty_cap_cents,omitempty"`
	CapturedAt        time.Time `json:"captured_at"`
}

// Degraded reports whether no SLA profile matched at creation; timers are
// absent but dispatch still runs.
func (s SlaSnapshot) Degraded() bool { return s.ResponseTimeMin == nil }

// Job is the aggregate root of one dispatch cycle.
type Job struct {
	ID                 string      `json:"id"`
	Reference          string      `json:"reference"`
	CustomerID         string      `json:"customer_id"`
	TaskID             string      `json:"task_id"`
	Status             JobStatus   `json:"status"`
	Priority           JobPriority `json:"priority"`
	IsEmergency        bool        `json:"is_emergency"`
	ServiceLat         float64     `json:"service_lat"`
	ServiceLng         float64     `json:"service_lng"`
	ServiceAddress     Address     `json:"service_address"`
	RequestedDate      *time.Time  `json:"requested_date,omitempty"`
	RequestedTimeStart *string     `json:"requested_time_start,omitempty"` // "HH:MM"
	RequestedTimeEnd   *string     `json:"requested_time_end,omitempty"`
	FlexibleSchedule   bool        `json:"flexible_schedule"`
	SlaSnapshot        SlaSnapshot `json:"sla_snapshot"`
	QuotedPriceCents   int64       `json:"quoted_price_cents"`
	CommissionRate     float64     `json:"commission_rate"`
	CommissionCents    int64       `json:"commission_cents"`
	ProviderPayout     int64       `json:"provider_payout_cents"`
	Currency           string      `json:"currency"`
	CustomerNotes      []string    `json:"customer_notes"` // closed set, never free text
	StartedAt          *time.Time  `json:"started_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
	CancellationReason *string     `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// AssignmentStatus is the state of a job/provider edge.
type AssignmentStatus string

const (
	AssignmentOffered   AssignmentStatus = "offered"
	AssignmentAccepted  AssignmentStatus = "accepted"
	AssignmentDeclined  AssignmentStatus = "declined"
	AssignmentExpired   AssignmentStatus = "expired"
	AssignmentCancelled AssignmentStatus = "cancelled"
	AssignmentRejected  AssignmentStatus = "rejected"
)

// Responded reports whether the assignment has left the offered state.
func (s AssignmentStatus) Responded() bool { return s != AssignmentOffered }

// Assignment links a job to one candidate provider.
type Assignment struct {
	ID                    string           `json:"id"`
	JobID                 string           `json:"job_id"`
	ProviderID            string           `json:"provider_id"`
	Status                AssignmentStatus `json:"status"`
	OfferedAt             time.Time        `json:"offered_at"`
	OfferExpiresAt        time.Time        `json:"offer_expires_at"`
	RespondedAt           *time.Time       `json:"responded_at,omitempty"`
	DeclineReason         *string          `json:"decline_reason,omitempty"`
	SlaResponseDeadline   time.Time        `json:"sla_response_deadline"`
	SlaArrivalDeadline    *time.Time       `json:"sla_arrival_deadline,omitempty"`
	SlaCompletionDeadline *time.Time       `json:"sla_completion_deadline,omitempty"`
	SlaResponseMet        *bool            `json:"sla_response_met,omitempty"`
	SlaArrivalMet         *bool            `json:"sla_arrival_met,omitempty"`
	SlaCompletionMet      *bool            `json:"sla_completion_met,omitempty"`
	EnRouteAt             *time.Time       `json:"en_route_at,omitempty"`
	ArrivedAt             *time.Time       `json:"arrived_at,omitempty"`
	StartedWorkAt         *time.Time       `json:"started_work_at,omitempty"`
	CompletedAt           *time.Time       `json:"completed_at,omitempty"`
	MatchScore            float64          `json:"match_score"`
}

// PricingEvent is an append-only audit row; it outlives job hard deletes.
type PricingEvent struct {
	ID              string        `json:"id"`
	JobID           string        `json:"job_id"`
	EventType       string        `json:"event_type"` // quote, job_priced
	BasePriceCents  int64         `json:"base_price_cents"`
	Multiplier      float64       `json:"multiplier_applied"`
	Adjustments     int64         `json:"adjustments_cents"`
	FinalPriceCents int64         `json:"final_price_cents"`
	RulesApplied    []PricingRule `json:"rules_applied"`
	CommissionRate  float64       `json:"commission_rate"`
	CommissionCents int64         `json:"commission_cents"`
	ProviderPayout  int64         `json:"provider_payout_cents"`
	CreatedAt       time.Time     `json:"created_at"`
}

// PricingRule is one applied multiplier entry in the audit trail.
type PricingRule struct {
	Name   string  `json:"name"`
	Factor float64 `json:"factor"`
	Note   string  `json:"note,omitempty"`
}

// Review is the data produced by the customer rating flow.
type Review struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	CustomerID string    `json:"customer_id"`
	ProviderID string    `json:"provider_id"`
	Stars      int       `json:"stars"` // 1..5
	Feedback   string    `json:"feedback,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
