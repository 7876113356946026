package events

import "time"

// Typed payloads for the event envelope. Producers marshal these; consumers
// decode the ones they care about.

// JobCreatedPayload rides job.created.
type JobCreatedPayload struct {
	TaskID      string  `json:"task_id"`
	Reference   string  `json:"reference"`
	IsEmergency bool    `json:"is_emergency"`
	Priority    string  `json:"priority"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// StatusChangedPayload rides job.status_changed and job.cancelled.
type StatusChangedPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// OfferPayload rides the offer.* events.
type OfferPayload struct {
	AssignmentID   string    `json:"assignment_id"`
	OfferExpiresAt time.Time `json:"offer_expires_at,omitempty"`
	MatchScore     float64   `json:"match_score,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// PenaltyPayload rides provider.penalized and provider.suspended.
type PenaltyPayload struct {
	PenaltyType string  `json:"penalty_type"`
	Points      float64 `json:"points"`
	NewScore    float64 `json:"new_score"`
}
