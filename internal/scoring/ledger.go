// Package scoring owns the provider internal score: the penalty matrix, the
// append-only penalty ledger, floor clamping with automatic suspension, and
// the weekly recovery pass.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
)

// band is the score range for a provider level. A score clamped at min
// triggers suspension; recovery drifts back toward base, never past it.
type band struct {
	min, base, max float64
}

var levelBands = map[int]band{
	1: {min: 40, base: 70, max: 90},
	2: {min: 50, base: 75, max: 95},
	3: {min: 60, base: 80, max: 98},
	4: {min: 70, base: 85, max: 100},
}

// penaltyMatrix maps infraction type and provider level to the deduction.
// Levels carry stricter expectations, so the same infraction costs more the
// higher the level.
var penaltyMatrix = map[domain.PenaltyType]map[int]float64{
	domain.PenaltyResponseTimeout: {1: 2, 2: 4, 3: 6, 4: 15},
	domain.PenaltyCancellation:    {1: 3, 2: 6, 3: 10, 4: 25},
	domain.PenaltyNoShow:          {1: 10, 2: 15, 3: 30}, // level 4 handled as zero tolerance
	domain.PenaltyBadReview:       {1: 5, 2: 7, 3: 10},
	domain.PenaltySlaBreach:       {4: 30},
}

// maxWeeklyRecovery caps how many points one recovery pass restores.
const maxWeeklyRecovery = 5.0

// recoveryQuietPeriod is how long a provider must stay penalty-free before
// recovery applies.
const recoveryQuietPeriod = 7 * 24 * time.Hour

// Mutation is the outcome of one atomic score change.
type Mutation struct {
	NewScore  float64
	NewStatus *domain.ProviderStatus // nil means unchanged
	Record    *domain.PenaltyRecord
}

// Store is the provider-score persistence surface. MutateProviderScore must
// run fn under a row lock and persist score, status, and ledger row in one
// transaction. A nil Mutation from fn skips the write entirely.
type Store interface {
	MutateProviderScore(ctx context.Context, providerID string, fn func(p *domain.ProviderProfile) (*Mutation, error)) (*Mutation, error)
	LastPenaltyAt(ctx context.Context, providerID string) (*time.Time, error)
	// ListRecoveryCandidates returns active providers below their level base.
	ListRecoveryCandidates(ctx context.Context) ([]domain.ProviderProfile, error)
}

// Ledger applies penalties, admin adjustments, and recoveries.
type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Deduction returns the matrix points for an infraction at a level, and
// whether the infraction is zero tolerance (score to floor plus suspension).
func Deduction(ptype domain.PenaltyType, level int) (points float64, zeroTolerance bool, ok bool) {
	if ptype == domain.PenaltyNoShow && level >= 4 {
		return 0, true, true
	}
	byLevel, found := penaltyMatrix[ptype]
	if !found {
		return 0, false, false
	}
	points, found = byLevel[level]
	return points, false, found
}

// ApplyPenalty deducts points for an infraction, records the ledger row, and
// suspends the provider when the score hits the level floor.
func (l *Ledger) ApplyPenalty(ctx context.Context, providerID string, ptype domain.PenaltyType, jobID *string, reason string) (*Mutation, error) {
	const op = "scoring.ApplyPenalty"

	return l.store.MutateProviderScore(ctx, providerID, func(p *domain.ProviderProfile) (*Mutation, error) {
		b, ok := levelBands[p.Level]
		if !ok {
			return nil, errs.E(errs.KindFatal, op, "provider %s has unknown level %d", p.ID, p.Level)
		}

		points, zeroTolerance, ok := Deduction(ptype, p.Level)
		if !ok {
			return nil, errs.E(errs.KindValidationFailed, op, "%s does not apply at level %d", ptype, p.Level)
		}

		mut := &Mutation{}
		switch {
		case zeroTolerance:
			points = p.InternalScore
			mut.NewScore = 0
			suspended := domain.ProviderSuspended
			mut.NewStatus = &suspended
		default:
			mut.NewScore = p.InternalScore - points
			if mut.NewScore <= b.min {
				mut.NewScore = b.min
				suspended := domain.ProviderSuspended
				mut.NewStatus = &suspended
			}
		}

		mut.Record = &domain.PenaltyRecord{
			ID:             domain.NewID(),
			ProviderID:     p.ID,
			PenaltyType:    ptype,
			PointsDeducted: points,
			Reason:         reason,
			JobID:          jobID,
			AppliedAt:      l.now().UTC(),
		}
		return mut, nil
	})
}

// AdjustScore applies a manual admin delta, clamped to the level band. The
// ledger row keeps the audit trail; positive deltas record as negative
// deductions.
func (l *Ledger) AdjustScore(ctx context.Context, providerID string, delta float64, reason string) (*Mutation, error) {
	const op = "scoring.AdjustScore"

	if reason == "" {
		return nil, errs.E(errs.KindValidationFailed, op, "adjustment requires a reason")
	}

	return l.store.MutateProviderScore(ctx, providerID, func(p *domain.ProviderProfile) (*Mutation, error) {
		b, ok := levelBands[p.Level]
		if !ok {
			return nil, errs.E(errs.KindFatal, op, "provider %s has unknown level %d", p.ID, p.Level)
		}

		target := p.InternalScore + delta
		if target > b.max {
			target = b.max
		}
		if target < b.min {
			target = b.min
		}

		mut := &Mutation{NewScore: target}
		mut.Record = &domain.PenaltyRecord{
			ID:             domain.NewID(),
			ProviderID:     p.ID,
			PenaltyType:    domain.PenaltyAdminAdjust,
			PointsDeducted: p.InternalScore - target,
			Reason:         reason,
			AppliedAt:      l.now().UTC(),
		}
		return mut, nil
	})
}

// Suspend parks a provider without touching the score, recording the reason
// in the ledger. Used when a credential their level mandates lapses. Already
// suspended providers are a no-op.
func (l *Ledger) Suspend(ctx context.Context, providerID, reason string) (*Mutation, error) {
	return l.store.MutateProviderScore(ctx, providerID, func(p *domain.ProviderProfile) (*Mutation, error) {
		if p.Status == domain.ProviderSuspended {
			return nil, nil
		}

		suspended := domain.ProviderSuspended
		mut := &Mutation{NewScore: p.InternalScore, NewStatus: &suspended}
		mut.Record = &domain.PenaltyRecord{
			ID:          domain.NewID(),
			ProviderID:  p.ID,
			PenaltyType: domain.PenaltyCredentialLapse,
			Reason:      reason,
			AppliedAt:   l.now().UTC(),
		}
		return mut, nil
	})
}

// RecoveryPass restores up to maxWeeklyRecovery points to every active
// provider below their level base who has been penalty-free for the quiet
// period. Returns how many providers recovered.
func (l *Ledger) RecoveryPass(ctx context.Context) (int, error) {
	const op = "scoring.RecoveryPass"

	candidates, err := l.store.ListRecoveryCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: list candidates: %w", op, err)
	}

	now := l.now()
	recovered := 0
	for i := range candidates {
		c := &candidates[i]

		last, err := l.store.LastPenaltyAt(ctx, c.ID)
		if err != nil {
			return recovered, fmt.Errorf("%s: last penalty %s: %w", op, c.ID, err)
		}
		if last != nil && now.Sub(*last) < recoveryQuietPeriod {
			continue
		}

		mut, err := l.store.MutateProviderScore(ctx, c.ID, func(p *domain.ProviderProfile) (*Mutation, error) {
			b, ok := levelBands[p.Level]
			if !ok || p.InternalScore >= b.base {
				return nil, nil
			}

			gain := b.base - p.InternalScore
			if gain > maxWeeklyRecovery {
				gain = maxWeeklyRecovery
			}

			mut := &Mutation{NewScore: p.InternalScore + gain}
			mut.Record = &domain.PenaltyRecord{
				ID:             domain.NewID(),
				ProviderID:     p.ID,
				PenaltyType:    domain.PenaltyScoreRecovery,
				PointsDeducted: -gain,
				Reason:         "weekly recovery",
				AppliedAt:      now.UTC(),
			}
			return mut, nil
		})
		if err != nil {
			return recovered, fmt.Errorf("%s: recover %s: %w", op, c.ID, err)
		}
		if mut != nil {
			recovered++
		}
	}
	return recovered, nil
}
