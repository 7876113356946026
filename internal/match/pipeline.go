package match

import (
	"context"
	"fmt"

	"github.com/fixline/backend/internal/domain"
)

// Matcher runs the full candidate pipeline: qualification list, hard
// filters, spatial cut, scoring, ranking, truncation.
type Matcher struct {
	store     Store
	qualifier *Qualifier
	limit     int
}

// NewMatcher creates a matcher returning at most limit candidates per query.
func NewMatcher(store Store, limit int) *Matcher {
	if limit <= 0 {
		limit = 10
	}
	return &Matcher{store: store, qualifier: NewQualifier(store), limit: limit}
}

// FindCandidates returns the ranked providers eligible for the job, best
// first, at most the configured limit. An empty result is not an error; the
// caller decides whether to requeue or widen.
func (m *Matcher) FindCandidates(ctx context.Context, job *domain.Job, task *domain.Task) ([]Candidate, error) {
	const op = "match.FindCandidates"

	providers, err := m.store.ListQualifiedProviders(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: list qualified: %w", op, err)
	}

	var cands []Candidate
	for i := range providers {
		p := &providers[i]

		dist, reachable := withinReach(p, job)
		if !reachable {
			continue
		}

		ok, err := m.qualifier.eligible(ctx, p, job, task)
		if err != nil {
			return nil, fmt.Errorf("%s: filter %s: %w", op, p.ID, err)
		}
		if !ok {
			continue
		}

		respAvg, err := m.store.ResponseTimeAvgMinutes(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: response avg %s: %w", op, p.ID, err)
		}

		cands = append(cands, Candidate{
			Provider:   *p,
			DistanceKm: dist,
			Score:      CompositeScore(p.InternalScore, dist, respAvg),
		})
	}

	rank(cands)
	if len(cands) > m.limit {
		cands = cands[:m.limit]
	}
	return cands, nil
}
