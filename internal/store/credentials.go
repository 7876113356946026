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
)

const credentialColumns = `id, provider_id, type, name, status, file_ref, task_id,
	issued_date, expiry_date, jurisdiction`

func scanCredential(row rowScanner) (*domain.Credential, error) {
	var c domain.Credential
	var typ, status string
	var taskID, jurisdiction sql.NullString
	var issued, expiry sql.NullTime

	err := row.Scan(&c.ID, &c.ProviderID, &typ, &c.Name, &status, &c.FileRef, &taskID,
		&issued, &expiry, &jurisdiction)
	if err != nil {
		return nil, err
	}

	c.Type = domain.CredentialType(typ)
	c.Status = domain.CredentialStatus(status)
	c.TaskID = strPtr(taskID)
	c.IssuedDate = timePtr(issued)
	c.ExpiryDate = timePtr(expiry)
	c.Jurisdiction = strPtr(jurisdiction)
	return &c, nil
}

// InsertCredential stores a newly submitted credential.
func (s *Store) InsertCredential(ctx context.Context, c *domain.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.ProviderID, string(c.Type), c.Name, string(c.Status), c.FileRef, nullStr(c.TaskID),
		nullTime(c.IssuedDate), nullTime(c.ExpiryDate), nullStr(c.Jurisdiction))
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential loads one credential.
func (s *Store) GetCredential(ctx context.Context, id string) (*domain.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "store.GetCredential", "credential %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	return c, nil
}

// SetCredentialStatus moves a credential through review.
func (s *Store) SetCredentialStatus(ctx context.Context, id string, status domain.CredentialStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("set credential status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.E(errs.KindNotFound, "store.SetCredentialStatus", "credential %s not found", id)
	}
	return nil
}

// ListExpiringCredentials returns verified credentials whose expiry falls
// before the horizon, soonest first.
func (s *Store) ListExpiringCredentials(ctx context.Context, horizon time.Time, limit int) ([]domain.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE status = 'verified' AND expiry_date IS NOT NULL AND expiry_date < $1
		ORDER BY expiry_date
		LIMIT $2`, horizon, limit)
	if err != nil {
		return nil, fmt.Errorf("list expiring credentials: %w", err)
	}
	defer rows.Close()

	var out []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// MarkCredentialExpired expires a verified credential and captures the
// expiry event for downstream notification.
func (s *Store) MarkCredentialExpired(ctx context.Context, id string) error {
	const op = "store.MarkCredentialExpired"

	return s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanCredential(tx.QueryRow(
			`SELECT `+credentialColumns+` FROM credentials WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return errs.E(errs.KindNotFound, op, "credential %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if c.Status != domain.CredentialVerified {
			return nil
		}

		if _, err := tx.Exec(`UPDATE credentials SET status = 'expired' WHERE id = $1`, id); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		return insertOutbox(tx, events.Event{
			ID:         domain.NewID(),
			Type:       events.CredentialExpiring,
			ProviderID: c.ProviderID,
			Payload: events.MarshalPayload(map[string]any{
				"credential_id": c.ID,
				"type":          string(c.Type),
				"name":          c.Name,
			}),
			OccurredAt: s.now().UTC(),
		})
	})
}

// InsertReview stores the customer's rating for a completed job. The unique
// constraint on job_id enforces one review per job.
func (s *Store) InsertReview(ctx context.Context, r *domain.Review) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, job_id, customer_id, provider_id, stars, feedback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.JobID, r.CustomerID, r.ProviderID, r.Stars, r.Feedback, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// HasReview reports whether a job already carries a review.
func (s *Store) HasReview(ctx context.Context, jobID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reviews WHERE job_id = $1)`, jobID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check review: %w", err)
	}
	return ok, nil
}
