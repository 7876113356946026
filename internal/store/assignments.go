package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fixline/backend/internal/dispatch"
	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/errs"
	"github.com/fixline/backend/internal/events"
	"github.com/fixline/backend/internal/lifecycle"
	"github.com/fixline/backend/internal/sla"
)

const assignmentColumns = `id, job_id, provider_id, status, offered_at, offer_expires_at,
	responded_at, decline_reason, sla_response_deadline, sla_arrival_deadline, sla_completion_deadline,
	sla_response_met, sla_arrival_met, sla_completion_met,
	en_route_at, arrived_at, started_work_at, completed_at, match_score`

func scanAssignment(row rowScanner) (*domain.Assignment, error) {
	var a domain.Assignment
	var status string
	var respondedAt, arrivalDL, completionDL, enRouteAt, arrivedAt, startedAt, completedAt sql.NullTime
	var declineReason sql.NullString
	var respMet, arrMet, compMet sql.NullBool

	err := row.Scan(&a.ID, &a.JobID, &a.ProviderID, &status, &a.OfferedAt, &a.OfferExpiresAt,
		&respondedAt, &declineReason, &a.SlaResponseDeadline, &arrivalDL, &completionDL,
		&respMet, &arrMet, &compMet,
		&enRouteAt, &arrivedAt, &startedAt, &completedAt, &a.MatchScore)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AssignmentStatus(status)
	a.RespondedAt = timePtr(respondedAt)
	a.DeclineReason = strPtr(declineReason)
	a.SlaArrivalDeadline = timePtr(arrivalDL)
	a.SlaCompletionDeadline = timePtr(completionDL)
	a.SlaResponseMet = boolPtr(respMet)
	a.SlaArrivalMet = boolPtr(arrMet)
	a.SlaCompletionMet = boolPtr(compMet)
	a.EnRouteAt = timePtr(enRouteAt)
	a.ArrivedAt = timePtr(arrivedAt)
	a.StartedWorkAt = timePtr(startedAt)
	a.CompletedAt = timePtr(completedAt)
	return &a, nil
}

// GetAssignment loads one assignment.
func (s *Store) GetAssignment(ctx context.Context, id string) (*domain.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindOfferNotFound, "store.GetAssignment", "assignment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment %s: %w", id, err)
	}
	return a, nil
}

func getAssignmentForUpdate(tx *sql.Tx, id string) (*domain.Assignment, error) {
	a, err := scanAssignment(tx.QueryRow(
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindOfferNotFound, "store.getAssignmentForUpdate", "assignment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock assignment %s: %w", id, err)
	}
	return a, nil
}

func insertAssignment(tx *sql.Tx, a *domain.Assignment) error {
	_, err := tx.Exec(`
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		a.ID, a.JobID, a.ProviderID, string(a.Status), a.OfferedAt, a.OfferExpiresAt,
		nullTime(a.RespondedAt), nullStr(a.DeclineReason), a.SlaResponseDeadline,
		nullTime(a.SlaArrivalDeadline), nullTime(a.SlaCompletionDeadline),
		nullBool(a.SlaResponseMet), nullBool(a.SlaArrivalMet), nullBool(a.SlaCompletionMet),
		nullTime(a.EnRouteAt), nullTime(a.ArrivedAt), nullTime(a.StartedWorkAt), nullTime(a.CompletedAt),
		a.MatchScore)
	if err != nil {
		return fmt.Errorf("insert assignment %s: %w", a.ID, err)
	}
	return nil
}

// CreateOffers inserts the offer batch and moves the job from pending_match
// to matched in one transaction, capturing the offer events.
func (s *Store) CreateOffers(ctx context.Context, jobID string, offers []domain.Assignment) error {
	const op = "store.CreateOffers"

	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobForUpdate(tx, jobID)
		if err != nil {
			return err
		}
		if err := lifecycle.Apply(job, domain.JobMatched, domain.ActorSystem, "", s.now().UTC()); err != nil {
			return err
		}
		if err := updateJobLifecycle(tx, job); err != nil {
			return err
		}

		for i := range offers {
			if err := insertAssignment(tx, &offers[i]); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			err := insertOutbox(tx, events.Event{
				ID:         domain.NewID(),
				Type:       events.OfferCreated,
				JobID:      jobID,
				ProviderID: offers[i].ProviderID,
				Payload: events.MarshalPayload(events.OfferPayload{
					AssignmentID:   offers[i].ID,
					OfferExpiresAt: offers[i].OfferExpiresAt,
					MatchScore:     offers[i].MatchScore,
				}),
				OccurredAt: offers[i].OfferedAt,
			})
			if err != nil {
				return err
			}
		}

		return insertOutbox(tx, events.Event{
			ID:         domain.NewID(),
			Type:       events.JobMatched,
			JobID:      jobID,
			CustomerID: job.CustomerID,
			OccurredAt: job.UpdatedAt,
		})
	})
}

// AcceptOffer settles an acceptance first-wins. The job row lock is taken
// before the assignment lock so concurrent acceptances on sibling offers
// serialize on the job instead of deadlocking.
func (s *Store) AcceptOffer(ctx context.Context, assignmentID, providerID string, now time.Time) (*dispatch.AcceptOutcome, error) {
	const op = "store.AcceptOffer"

	var outcome *dispatch.AcceptOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var jobID string
		err := tx.QueryRow(`SELECT job_id FROM assignments WHERE id = $1`, assignmentID).Scan(&jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.E(errs.KindOfferNotFound, op, "assignment %s not found", assignmentID)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		job, err := getJobForUpdate(tx, jobID)
		if err != nil {
			return err
		}
		a, err := getAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}

		if a.ProviderID != providerID {
			return errs.E(errs.KindOfferNotFound, op, "offer %s does not belong to provider", assignmentID)
		}
		if a.Status == domain.AssignmentAccepted {
			// the winner replaying its own accept is a no-op
			outcome = &dispatch.AcceptOutcome{Assignment: a, Job: job}
			return nil
		}
		if a.Status != domain.AssignmentOffered {
			return errs.E(errs.KindOfferAlreadyResponded, op, "offer %s already %s", assignmentID, a.Status)
		}
		if now.After(a.OfferExpiresAt) {
			return errs.E(errs.KindOfferAlreadyResponded, op, "offer %s expired", assignmentID)
		}

		from := job.Status
		if err := lifecycle.Apply(job, domain.JobPendingApproval, domain.ActorProvider, "", now.UTC()); err != nil {
			return err
		}

		responseMet := !now.After(a.SlaResponseDeadline)
		t := now.UTC()
		a.Status = domain.AssignmentAccepted
		a.RespondedAt = &t
		a.SlaResponseMet = &responseMet
		a.SlaArrivalDeadline = sla.ArrivalDeadline(job.SlaSnapshot, now)

		_, err = tx.Exec(`
			UPDATE assignments SET status = 'accepted', responded_at = $2,
			       sla_response_met = $3, sla_arrival_deadline = $4
			WHERE id = $1`,
			a.ID, t, responseMet, nullTime(a.SlaArrivalDeadline))
		if err != nil {
			return fmt.Errorf("%s: settle winner: %w", op, err)
		}

		losers, err := closeSiblingOffers(tx, jobID, a.ID, t)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if err := updateJobLifecycle(tx, job); err != nil {
			return err
		}

		err = insertOutbox(tx, events.Event{
			ID:         domain.NewID(),
			Type:       events.OfferAccepted,
			JobID:      jobID,
			ProviderID: a.ProviderID,
			CustomerID: job.CustomerID,
			Payload: events.MarshalPayload(events.OfferPayload{
				AssignmentID: a.ID,
				MatchScore:   a.MatchScore,
			}),
			OccurredAt: t,
		})
		if err != nil {
			return err
		}
		for i := range losers {
			err := insertOutbox(tx, events.Event{
				ID:         domain.NewID(),
				Type:       events.OfferDeclined,
				JobID:      jobID,
				ProviderID: losers[i].ProviderID,
				Payload: events.MarshalPayload(events.OfferPayload{
					AssignmentID: losers[i].ID,
					Reason:       dispatch.LostRaceReason,
				}),
				OccurredAt: t,
			})
			if err != nil {
				return err
			}
		}
		if err := insertStatusEvents(tx, job, from, domain.ActorProvider, ""); err != nil {
			return err
		}

		outcome = &dispatch.AcceptOutcome{Assignment: a, Job: job, Losers: losers}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// closeSiblingOffers declines every other open offer on the job after an
// acceptance.
func closeSiblingOffers(tx *sql.Tx, jobID, winnerID string, now time.Time) ([]domain.Assignment, error) {
	rows, err := tx.Query(`
		UPDATE assignments SET status = 'declined', decline_reason = $3, responded_at = $4
		WHERE job_id = $1 AND id <> $2 AND status = 'offered'
		RETURNING `+assignmentColumns, jobID, winnerID, dispatch.LostRaceReason, now)
	if err != nil {
		return nil, fmt.Errorf("close sibling offers: %w", err)
	}
	defer rows.Close()

	var losers []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan losing offer: %w", err)
		}
		losers = append(losers, *a)
	}
	return losers, rows.Err()
}

// DeclineOffer records a provider's decline on an open offer.
func (s *Store) DeclineOffer(ctx context.Context, assignmentID, providerID, reason string, now time.Time) (*domain.Assignment, error) {
	const op = "store.DeclineOffer"

	var out *domain.Assignment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}
		if a.ProviderID != providerID {
			return errs.E(errs.KindOfferNotFound, op, "offer %s does not belong to provider", assignmentID)
		}
		if a.Status != domain.AssignmentOffered {
			return errs.E(errs.KindOfferAlreadyResponded, op, "offer %s already %s", assignmentID, a.Status)
		}

		responseMet := !now.After(a.SlaResponseDeadline)
		t := now.UTC()
		a.Status = domain.AssignmentDeclined
		a.RespondedAt = &t
		a.DeclineReason = &reason
		a.SlaResponseMet = &responseMet

		_, err = tx.Exec(`
			UPDATE assignments SET status = 'declined', responded_at = $2, decline_reason = $3, sla_response_met = $4
			WHERE id = $1`, a.ID, t, reason, responseMet)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		out = a
		return insertOutbox(tx, events.Event{
			ID:         domain.NewID(),
			Type:       events.OfferDeclined,
			JobID:      a.JobID,
			ProviderID: a.ProviderID,
			Payload: events.MarshalPayload(events.OfferPayload{
				AssignmentID: a.ID,
				Reason:       reason,
			}),
			OccurredAt: t,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireOffer closes an open offer whose deadline passed without a response.
func (s *Store) ExpireOffer(ctx context.Context, assignmentID string, now time.Time) (*domain.Assignment, error) {
	const op = "store.ExpireOffer"

	var out *domain.Assignment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := getAssignmentForUpdate(tx, assignmentID)
		if err != nil {
			return err
		}
		if a.Status != domain.AssignmentOffered {
			return errs.E(errs.KindOfferAlreadyResponded, op, "offer %s already %s", assignmentID, a.Status)
		}

		responseMet := false
		a.Status = domain.AssignmentExpired
		a.SlaResponseMet = &responseMet

		_, err = tx.Exec(`
			UPDATE assignments SET status = 'expired', sla_response_met = false
			WHERE id = $1`, a.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		out = a
		return insertOutbox(tx, events.Event{
			ID:         domain.NewID(),
			Type:       events.OfferExpired,
			JobID:      a.JobID,
			ProviderID: a.ProviderID,
			Payload:    events.MarshalPayload(events.OfferPayload{AssignmentID: a.ID}),
			OccurredAt: now.UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelOpenOffers closes every open offer on a job, for cancellations and
// admin reassignment.
func (s *Store) CancelOpenOffers(ctx context.Context, jobID, reason string, now time.Time) ([]domain.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE assignments SET status = 'cancelled', decline_reason = $2, responded_at = $3
		WHERE job_id = $1 AND status = 'offered'
		RETURNING `+assignmentColumns, jobID, reason, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("cancel open offers: %w", err)
	}
	defer rows.Close()

	var out []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cancelled offer: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListExpiredOpenOffers returns open offers past their expiry, oldest first.
func (s *Store) ListExpiredOpenOffers(ctx context.Context, now time.Time, limit int) ([]domain.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE status = 'offered' AND offer_expires_at <= $1
		ORDER BY offer_expires_at
		LIMIT $2`, now, limit)
}

// CountOpenOffers counts offers still awaiting a response on a job.
func (s *Store) CountOpenOffers(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM assignments WHERE job_id = $1 AND status = 'offered'`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open offers: %w", err)
	}
	return n, nil
}

// GetAcceptedAssignment returns the accepted assignment on a job.
func (s *Store) GetAcceptedAssignment(ctx context.Context, jobID string) (*domain.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE job_id = $1 AND status = 'accepted'`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "store.GetAcceptedAssignment", "job %s has no accepted assignment", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get accepted assignment: %w", err)
	}
	return a, nil
}

// UpdateAssignmentProgress persists the provider's field progress stamps and
// SLA outcomes.
func (s *Store) UpdateAssignmentProgress(ctx context.Context, a *domain.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE assignments SET
		       sla_completion_deadline = $2,
		       sla_response_met = $3, sla_arrival_met = $4, sla_completion_met = $5,
		       en_route_at = $6, arrived_at = $7, started_work_at = $8, completed_at = $9
		WHERE id = $1`,
		a.ID, nullTime(a.SlaCompletionDeadline),
		nullBool(a.SlaResponseMet), nullBool(a.SlaArrivalMet), nullBool(a.SlaCompletionMet),
		nullTime(a.EnRouteAt), nullTime(a.ArrivedAt), nullTime(a.StartedWorkAt), nullTime(a.CompletedAt))
	if err != nil {
		return fmt.Errorf("update assignment progress %s: %w", a.ID, err)
	}
	return nil
}

// RejectAcceptedAssignment closes the accepted assignment when the customer
// turns the provider down.
func (s *Store) RejectAcceptedAssignment(ctx context.Context, jobID, reason string, now time.Time) (*domain.Assignment, error) {
	const op = "store.RejectAcceptedAssignment"

	var out *domain.Assignment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t := now.UTC()
		a, err := scanAssignment(tx.QueryRow(`
			UPDATE assignments SET status = 'rejected', decline_reason = $2, responded_at = $3
			WHERE job_id = $1 AND status = 'accepted'
			RETURNING `+assignmentColumns, jobID, reason, t))
		if errors.Is(err, sql.ErrNoRows) {
			return errs.E(errs.KindNotFound, op, "job %s has no accepted assignment", jobID)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		err = insertOutbox(tx, events.Event{
			ID:         domain.NewID(),
			Type:       events.OfferDeclined,
			JobID:      jobID,
			ProviderID: a.ProviderID,
			Payload: events.MarshalPayload(events.OfferPayload{
				AssignmentID: a.ID,
				Reason:       reason,
			}),
			OccurredAt: t,
		})
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListOffersByProvider returns a provider's open, unexpired offers, newest
// first.
func (s *Store) ListOffersByProvider(ctx context.Context, providerID string, limit int) ([]domain.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE provider_id = $1 AND status = 'offered' AND offer_expires_at > now()
		ORDER BY offered_at DESC
		LIMIT $2`, providerID, limit)
}

// ListWatchedAssignments returns assignments the SLA scanner watches: open
// offers awaiting a response and accepted assignments with an unmet arrival
// or completion deadline on a still-active job.
func (s *Store) ListWatchedAssignments(ctx context.Context) ([]domain.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT a.id, a.job_id, a.provider_id, a.status, a.offered_at, a.offer_expires_at,
		       a.responded_at, a.decline_reason, a.sla_response_deadline, a.sla_arrival_deadline, a.sla_completion_deadline,
		       a.sla_response_met, a.sla_arrival_met, a.sla_completion_met,
		       a.en_route_at, a.arrived_at, a.started_work_at, a.completed_at, a.match_score
		FROM assignments a
		JOIN jobs j ON j.id = a.job_id
		WHERE (a.status = 'offered' AND a.sla_response_met IS NULL)
		   OR (a.status = 'accepted'
		       AND j.status IN ('pending_approval', 'scheduled', 'provider_accepted', 'provider_en_route', 'in_progress')
		       AND (a.sla_arrival_met IS NULL OR a.sla_completion_met IS NULL))`)
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]domain.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
