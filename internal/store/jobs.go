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
	"github.com/fixline/backend/internal/events"
	"github.com/fixline/backend/internal/lifecycle"
)

const jobColumns = `id, reference, customer_id, task_id, status, priority, is_emergency,
	service_lat, service_lng, service_address,
	requested_date, requested_time_start, requested_time_end, flexible_schedule,
	sla_snapshot, quoted_price_cents, commission_rate, commission_cents, provider_payout_cents,
	currency, customer_notes, started_at, completed_at, cancelled_at, cancellation_reason,
	created_at, updated_at`

const prefixedJobColumns = `j.id, j.reference, j.customer_id, j.task_id, j.status, j.priority, j.is_emergency,
	j.service_lat, j.service_lng, j.service_address,
	j.requested_date, j.requested_time_start, j.requested_time_end, j.flexible_schedule,
	j.sla_snapshot, j.quoted_price_cents, j.commission_rate, j.commission_cents, j.provider_payout_cents,
	j.currency, j.customer_notes, j.started_at, j.completed_at, j.cancelled_at, j.cancellation_reason,
	j.created_at, j.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var status, priority string
	var addr, snap []byte
	var reqDate, startedAt, completedAt, cancelledAt sql.NullTime
	var timeStart, timeEnd, cancelReason sql.NullString

	err := row.Scan(&j.ID, &j.Reference, &j.CustomerID, &j.TaskID, &status, &priority, &j.IsEmergency,
		&j.ServiceLat, &j.ServiceLng, &addr,
		&reqDate, &timeStart, &timeEnd, &j.FlexibleSchedule,
		&snap, &j.QuotedPriceCents, &j.CommissionRate, &j.CommissionCents, &j.ProviderPayout,
		&j.Currency, pq.Array(&j.CustomerNotes), &startedAt, &completedAt, &cancelledAt, &cancelReason,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	j.Status = domain.JobStatus(status)
	j.Priority = domain.JobPriority(priority)
	if err := json.Unmarshal(addr, &j.ServiceAddress); err != nil {
		return nil, fmt.Errorf("decode service address: %w", err)
	}
	if err := json.Unmarshal(snap, &j.SlaSnapshot); err != nil {
		return nil, fmt.Errorf("decode sla snapshot: %w", err)
	}
	j.RequestedDate = timePtr(reqDate)
	j.RequestedTimeStart = strPtr(timeStart)
	j.RequestedTimeEnd = strPtr(timeEnd)
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	j.CancelledAt = timePtr(cancelledAt)
	j.CancellationReason = strPtr(cancelReason)
	return &j, nil
}

// CreateJob inserts the job and captures job.created in the same transaction.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	const op = "store.CreateJob"

	addr, err := json.Marshal(job.ServiceAddress)
	if err != nil {
		return errs.Wrap(errs.KindFatal, op, err)
	}
	snap, err := json.Marshal(job.SlaSnapshot)
	if err != nil {
		return errs.Wrap(errs.KindFatal, op, err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`,
			job.ID, job.Reference, job.CustomerID, job.TaskID, string(job.Status), string(job.Priority), job.IsEmergency,
			job.ServiceLat, job.ServiceLng, addr,
			nullTime(job.RequestedDate), nullStr(job.RequestedTimeStart), nullStr(job.RequestedTimeEnd), job.FlexibleSchedule,
			snap, job.QuotedPriceCents, job.CommissionRate, job.CommissionCents, job.ProviderPayout,
			job.Currency, pq.Array(job.CustomerNotes), nullTime(job.StartedAt), nullTime(job.CompletedAt),
			nullTime(job.CancelledAt), nullStr(job.CancellationReason), job.CreatedAt, job.UpdatedAt)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		return insertOutbox(tx, events.Event{
			ID:         domain.NewID(),
			Type:       events.JobCreated,
			JobID:      job.ID,
			CustomerID: job.CustomerID,
			Payload: events.MarshalPayload(events.JobCreatedPayload{
				TaskID:      job.TaskID,
				Reference:   job.Reference,
				IsEmergency: job.IsEmergency,
				Priority:    string(job.Priority),
				Lat:         job.ServiceLat,
				Lng:         job.ServiceLng,
			}),
			OccurredAt: job.CreatedAt,
		})
	})
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "store.GetJob", "job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// getJobForUpdate loads a job under a row lock inside tx.
func getJobForUpdate(tx *sql.Tx, id string) (*domain.Job, error) {
	job, err := scanJob(tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "store.getJobForUpdate", "job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock job %s: %w", id, err)
	}
	return job, nil
}

// updateJobLifecycle persists the fields lifecycle.Apply mutates.
func updateJobLifecycle(tx *sql.Tx, job *domain.Job) error {
	_, err := tx.Exec(`
		UPDATE jobs SET status = $2, started_at = $3, completed_at = $4,
		       cancelled_at = $5, cancellation_reason = $6, updated_at = $7
		WHERE id = $1`,
		job.ID, string(job.Status), nullTime(job.StartedAt), nullTime(job.CompletedAt),
		nullTime(job.CancelledAt), nullStr(job.CancellationReason), job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

// TransitionJob validates the edge under a row lock, applies it, and captures
// the status-change event transactionally.
func (s *Store) TransitionJob(ctx context.Context, jobID string, to domain.JobStatus, actor domain.Actor, reason string) (*domain.Job, error) {
	var job *domain.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		job, err = getJobForUpdate(tx, jobID)
		if err != nil {
			return err
		}

		from := job.Status
		if err := lifecycle.Apply(job, to, actor, reason, s.now().UTC()); err != nil {
			return err
		}
		if err := updateJobLifecycle(tx, job); err != nil {
			return err
		}
		return insertStatusEvents(tx, job, from, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// insertStatusEvents writes the status-change event, plus the milestone
// event for cancellations and completion.
func insertStatusEvents(tx *sql.Tx, job *domain.Job, from domain.JobStatus, actor domain.Actor, reason string) error {
	payload := events.MarshalPayload(events.StatusChangedPayload{
		From:   string(from),
		To:     string(job.Status),
		Actor:  string(actor),
		Reason: reason,
	})

	ev := events.Event{
		ID:         domain.NewID(),
		Type:       events.JobStatusChanged,
		JobID:      job.ID,
		CustomerID: job.CustomerID,
		Payload:    payload,
		OccurredAt: job.UpdatedAt,
	}
	if err := insertOutbox(tx, ev); err != nil {
		return err
	}

	var milestone events.Type
	switch {
	case job.Status.Cancelled():
		milestone = events.JobCancelled
	case job.Status == domain.JobCompleted:
		milestone = events.JobCompleted
	default:
		return nil
	}
	ev.ID = domain.NewID()
	ev.Type = milestone
	return insertOutbox(tx, ev)
}

// RequeueJob moves a matched job back to pending_match for a fresh broadcast.
func (s *Store) RequeueJob(ctx context.Context, jobID, reason string) (*domain.Job, error) {
	return s.TransitionJob(ctx, jobID, domain.JobPendingMatch, domain.ActorSystem, reason)
}

// statusStrings adapts a status filter for the ANY($n) predicate. An empty
// filter matches everything.
func statusStrings(statuses []domain.JobStatus) pq.StringArray {
	out := make(pq.StringArray, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// ListJobsByCustomer returns a customer's jobs, optionally filtered by
// status, newest first.
func (s *Store) ListJobsByCustomer(ctx context.Context, customerID string, statuses []domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE customer_id = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, customerID, statusStrings(statuses), limit, offset)
}

// ListJobsByProvider returns jobs a provider holds an accepted assignment on,
// optionally filtered by job status, newest first.
func (s *Store) ListJobsByProvider(ctx context.Context, providerID string, statuses []domain.JobStatus, limit, offset int) ([]domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+prefixedJobColumns+` FROM jobs j
		JOIN assignments a ON a.job_id = j.id AND a.provider_id = $1 AND a.status = 'accepted'
		WHERE (cardinality($2::text[]) = 0 OR j.status = ANY($2))
		ORDER BY j.created_at DESC
		LIMIT $3 OFFSET $4`, providerID, statusStrings(statuses), limit, offset)
}

// ListJobsInStatus returns the oldest jobs sitting in a status, for the
// dispatch runner's rebroadcast pass.
func (s *Store) ListJobsInStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`, string(status), limit)
}
