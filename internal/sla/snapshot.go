// Package sla captures service-level targets into jobs at creation and
// watches active assignments for approaching deadline breaches. Deadline
// math always reads the job's frozen snapshot, never the live catalog.
package sla

import (
	"time"

	"github.com/fixline/backend/internal/domain"
)

// Build freezes an SLA profile into a job snapshot. A nil profile produces a
// degraded snapshot: the job dispatches normally but carries no timers.
func Build(profile *domain.SlaProfile, now time.Time) domain.SlaSnapshot {
	snap := domain.SlaSnapshot{CapturedAt: now.UTC()}
	if profile == nil {
		return snap
	}

	rt := profile.ResponseTimeMin
	snap.ProfileID = &profile.ID
	snap.ResponseTimeMin = &rt
	snap.ArrivalTimeMin = profile.ArrivalTimeMin
	snap.CompletionTimeMin = profile.CompletionTimeMin
	if profile.PenaltyEnabled {
		snap.PenaltyPerMin = profile.PenaltyPerMin
		snap.PenaltyCapCents = profile.PenaltyCapCents
	}
	return snap
}

// ResponseDeadline is when an offered provider must respond. Degraded
// snapshots fall back to the offer TTL so offers still expire.
func ResponseDeadline(snap domain.SlaSnapshot, offeredAt time.Time, offerTTL time.Duration) time.Time {
	if snap.ResponseTimeMin != nil {
		return offeredAt.Add(time.Duration(*snap.ResponseTimeMin) * time.Minute)
	}
	return offeredAt.Add(offerTTL)
}

// ArrivalDeadline is when an accepted provider must be on site, measured
// from acceptance. Nil when the snapshot carries no arrival target.
func ArrivalDeadline(snap domain.SlaSnapshot, acceptedAt time.Time) *time.Time {
	if snap.ArrivalTimeMin == nil {
		return nil
	}
	d := acceptedAt.Add(time.Duration(*snap.ArrivalTimeMin) * time.Minute)
	return &d
}

// CompletionDeadline is when work must be finished, measured from work
// start. Nil when the snapshot carries no completion target.
func CompletionDeadline(snap domain.SlaSnapshot, startedAt time.Time) *time.Time {
	if snap.CompletionTimeMin == nil {
		return nil
	}
	d := startedAt.Add(time.Duration(*snap.CompletionTimeMin) * time.Minute)
	return &d
}

// BreachPenaltyCents computes the monetary penalty for finishing lateBy past
// a deadline, per the snapshot's per-minute rate and cap. Zero when the
// snapshot has no penalty terms or the work was on time.
func BreachPenaltyCents(snap domain.SlaSnapshot, lateBy time.Duration) int64 {
	if snap.PenaltyPerMin == nil || lateBy <= 0 {
		return 0
	}

	// partial minutes bill as full minutes
	mins := int64(lateBy / time.Minute)
	if lateBy%time.Minute != 0 {
		mins++
	}

	total := mins * *snap.PenaltyPerMin
	if snap.PenaltyCapCents != nil && total > *snap.PenaltyCapCents {
		total = *snap.PenaltyCapCents
	}
	return total
}
