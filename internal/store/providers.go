package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/events"
	"github.com/fixline/backend/internal/scoring"
)

const providerColumns = `id, user_id, level, status, background_status, background_date, background_expiry,
	internal_score, service_radius_km, home_lat, home_lng, max_concurrent_jobs,
	available_for_emergency, is_online`

func scanProvider(row rowScanner) (*domain.ProviderProfile, error) {
	var p domain.ProviderProfile
	var status, bgStatus string
	var bgDate, bgExpiry sql.NullTime
	var homeLat, homeLng sql.NullFloat64

	err := row.Scan(&p.ID, &p.UserID, &p.Level, &status, &bgStatus, &bgDate, &bgExpiry,
		&p.InternalScore, &p.ServiceRadiusKm, &homeLat, &homeLng, &p.MaxConcurrentJobs,
		&p.AvailableForEmergency, &p.IsOnline)
	if err != nil {
		return nil, err
	}

	p.Status = domain.ProviderStatus(status)
	p.BackgroundCheck = domain.BackgroundCheck{
		Status: domain.BackgroundStatus(bgStatus),
		Date:   timePtr(bgDate),
		Expiry: timePtr(bgExpiry),
	}
	p.HomeLat = floatPtr(homeLat)
	p.HomeLng = floatPtr(homeLng)
	return &p, nil
}

// GetProviderProfile loads one provider profile.
func (s *Store) GetProviderProfile(ctx context.Context, id string) (*domain.ProviderProfile, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM provider_profiles WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "store.GetProviderProfile", "provider %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %s: %w", id, err)
	}
	return p, nil
}

// GetProviderProfileByUser loads the profile owned by a user account.
func (s *Store) GetProviderProfileByUser(ctx context.Context, userID string) (*domain.ProviderProfile, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM provider_profiles WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "store.GetProviderProfileByUser", "no provider profile for user %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get provider by user %s: %w", userID, err)
	}
	return p, nil
}

// SetProviderOnline flips the availability flag.
func (s *Store) SetProviderOnline(ctx context.Context, providerID string, online bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE provider_profiles SET is_online = $2 WHERE id = $1`, providerID, online)
	if err != nil {
		return fmt.Errorf("set provider online: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.E(errs.KindNotFound, "store.SetProviderOnline", "provider %s not found", providerID)
	}
	return nil
}

// ListQualifiedProviders returns providers holding an active qualification
// for the task. Eligibility beyond qualification is the matcher's concern.
func (s *Store) ListQualifiedProviders(ctx context.Context, taskID string) ([]domain.ProviderProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.user_id, p.level, p.status, p.background_status, p.background_date, p.background_expiry,
		       p.internal_score, p.service_radius_km, p.home_lat, p.home_lng, p.max_concurrent_jobs,
		       p.available_for_emergency, p.is_online
		FROM provider_profiles p
		JOIN provider_task_qualifications q ON q.provider_id = p.id AND q.task_id = $1 AND q.qualified`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list qualified providers: %w", err)
	}
	defer rows.Close()

	var out []domain.ProviderProfile
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// HasVerifiedLicense reports whether the provider holds a verified, unexpired
// license usable for the task.
func (s *Store) HasVerifiedLicense(ctx context.Context, providerID, taskID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credentials
			WHERE provider_id = $1 AND type = 'license' AND status = 'verified'
			  AND (task_id IS NULL OR task_id = $2)
			  AND (expiry_date IS NULL OR expiry_date > now())
		)`, providerID, taskID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check license: %w", err)
	}
	return ok, nil
}

// HasVerifiedInsurance reports whether the provider holds verified, in-force
// coverage of at least minCoverageCents.
func (s *Store) HasVerifiedInsurance(ctx context.Context, providerID string, minCoverageCents int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM insurance_policies
			WHERE provider_id = $1 AND status = 'verified'
			  AND coverage_cents >= $2
			  AND effective_date <= now() AND expiry_date > now()
		)`, providerID, minCoverageCents).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check insurance: %w", err)
	}
	return ok, nil
}

// HasActiveOnCallShift reports whether the provider is inside an active
// on-call window at the given instant.
func (s *Store) HasActiveOnCallShift(ctx context.Context, providerID string, at time.Time) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM on_call_shifts
			WHERE provider_id = $1 AND status = 'active'
			  AND shift_start <= $2 AND shift_end > $2
		)`, providerID, at).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check on-call shift: %w", err)
	}
	return ok, nil
}

// ResponseTimeAvgMinutes averages how fast the provider answered offers over
// the trailing 90 days. Nil for providers with no response history.
func (s *Store) ResponseTimeAvgMinutes(ctx context.Context, providerID string) (*float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (responded_at - offered_at)) / 60)
		FROM assignments
		WHERE provider_id = $1 AND responded_at IS NOT NULL
		  AND status IN ('accepted', 'declined')
		  AND offered_at > now() - interval '90 days'`, providerID).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("response time avg: %w", err)
	}
	return floatPtr(avg), nil
}

// MutateProviderScore runs fn under a row lock and persists the score,
// status, and ledger row in one transaction. A nil Mutation from fn skips
// the write entirely.
func (s *Store) MutateProviderScore(ctx context.Context, providerID string, fn func(p *domain.ProviderProfile) (*scoring.Mutation, error)) (*scoring.Mutation, error) {
	const op = "store.MutateProviderScore"

	var mut *scoring.Mutation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := scanProvider(tx.QueryRow(
			`SELECT `+providerColumns+` FROM provider_profiles WHERE id = $1 FOR UPDATE`, providerID))
		if errors.Is(err, sql.ErrNoRows) {
			return errs.E(errs.KindNotFound, op, "provider %s not found", providerID)
		}
		if err != nil {
			return fmt.Errorf("%s: lock provider: %w", op, err)
		}

		mut, err = fn(p)
		if err != nil {
			return err
		}
		if mut == nil {
			return nil
		}

		if mut.NewStatus != nil {
			_, err = tx.Exec(`UPDATE provider_profiles SET internal_score = $2, status = $3 WHERE id = $1`,
				providerID, mut.NewScore, string(*mut.NewStatus))
		} else {
			_, err = tx.Exec(`UPDATE provider_profiles SET internal_score = $2 WHERE id = $1`,
				providerID, mut.NewScore)
		}
		if err != nil {
			return fmt.Errorf("%s: update score: %w", op, err)
		}

		if mut.Record != nil {
			r := mut.Record
			_, err = tx.Exec(`
				INSERT INTO penalty_records (id, provider_id, penalty_type, points_deducted, reason, job_id, applied_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				r.ID, r.ProviderID, string(r.PenaltyType), r.PointsDeducted, r.Reason, nullStr(r.JobID), r.AppliedAt)
			if err != nil {
				return fmt.Errorf("%s: insert penalty record: %w", op, err)
			}
		}

		return insertScoreEvents(tx, providerID, mut)
	})
	if err != nil {
		return nil, err
	}
	return mut, nil
}

// insertScoreEvents captures the score change on the outbox.
func insertScoreEvents(tx *sql.Tx, providerID string, mut *scoring.Mutation) error {
	if mut.Record == nil {
		return nil
	}
	r := mut.Record

	typ := events.ProviderPenalized
	if r.PenaltyType == domain.PenaltyScoreRecovery {
		typ = events.ProviderRecovered
	}

	ev := events.Event{
		ID:         domain.NewID(),
		Type:       typ,
		ProviderID: providerID,
		Payload: events.MarshalPayload(events.PenaltyPayload{
			PenaltyType: string(r.PenaltyType),
			Points:      r.PointsDeducted,
			NewScore:    mut.NewScore,
		}),
		OccurredAt: r.AppliedAt,
	}
	if r.JobID != nil {
		ev.JobID = *r.JobID
	}
	if err := insertOutbox(tx, ev); err != nil {
		return err
	}

	if mut.NewStatus != nil && *mut.NewStatus == domain.ProviderSuspended {
		ev.ID = domain.NewID()
		ev.Type = events.ProviderSuspended
		return insertOutbox(tx, ev)
	}
	return nil
}

// LastPenaltyAt returns when the provider was last penalized. Recovery rows
// do not count; they would otherwise push the quiet period forever.
func (s *Store) LastPenaltyAt(ctx context.Context, providerID string) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(applied_at) FROM penalty_records
		WHERE provider_id = $1 AND penalty_type <> 'score_recovery'`, providerID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last penalty at: %w", err)
	}
	return timePtr(last), nil
}

// ListRecoveryCandidates returns active providers below their level base.
// The base scores mirror the scoring level bands.
func (s *Store) ListRecoveryCandidates(ctx context.Context) ([]domain.ProviderProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+providerColumns+` FROM provider_profiles
		WHERE status = 'active'
		  AND internal_score < CASE level
		      WHEN 1 THEN 70 WHEN 2 THEN 75 WHEN 3 THEN 80 WHEN 4 THEN 85
		      ELSE 0 END`)
	if err != nil {
		return nil, fmt.Errorf("list recovery candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.ProviderProfile
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
