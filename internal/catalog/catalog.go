// Package catalog serves the closed task taxonomy and region-scoped SLA
// profiles. Read-mostly reference data; resolution is pure over whatever the
// store returns.
package catalog

import (
	"context"
	"sort"
	"time"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
)

// Store is the slice of the relational store the catalog reads.
type Store interface {
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListActiveSlaProfiles(ctx context.Context, level int, country string) ([]domain.SlaProfile, error)
}

// Catalog resolves tasks and SLA profiles.
type Catalog struct {
	store Store
	now   func() time.Time
}

// New creates a catalog over the given store.
func New(store Store) *Catalog {
	return &Catalog{store: store, now: time.Now}
}

// ResolveTask loads an active task from the closed catalog.
func (c *Catalog) ResolveTask(ctx context.Context, taskID string) (*domain.Task, error) {
	const op = "catalog.ResolveTask"

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || !task.Active {
		return nil, errs.E(errs.KindNotFound, op, "task %s not found", taskID)
	}
	return task, nil
}

// FindSla resolves the best matching SLA profile for a job, or nil when no
// profile matches (degraded mode: the job proceeds without SLA timers).
//
// Ranking: task-specific profiles outrank level-wide ones; then higher
// priority_order; then the most specific region type.
func (c *Catalog) FindSla(ctx context.Context, level int, country, taskID string, addr domain.Address) (*domain.SlaProfile, error) {
	profiles, err := c.store.ListActiveSlaProfiles(ctx, level, country)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var candidates []domain.SlaProfile
	for _, p := range profiles {
		if !p.EffectiveAt(now) || p.Level != level || p.Country != country {
			continue
		}
		if p.TaskID != nil && *p.TaskID != taskID {
			continue
		}
		if !regionMatches(p, addr) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if (a.TaskID != nil) != (b.TaskID != nil) {
			return a.TaskID != nil
		}
		if a.PriorityOrder != b.PriorityOrder {
			return a.PriorityOrder > b.PriorityOrder
		}
		return a.RegionType.Specificity() > b.RegionType.Specificity()
	})

	best := candidates[0]
	return &best, nil
}

func regionMatches(p domain.SlaProfile, addr domain.Address) bool {
	switch p.RegionType {
	case domain.RegionCountry:
		return true // country already filtered
	case domain.RegionProvince:
		return p.RegionValue == addr.Province
	case domain.RegionCity:
		return p.RegionValue == addr.City
	case domain.RegionPostalPrefix:
		return len(addr.PostalCode) >= len(p.RegionValue) &&
			addr.PostalCode[:len(p.RegionValue)] == p.RegionValue
	case domain.RegionCustomZone:
		return p.RegionValue == addr.Zone
	default:
		return false
	}
}
