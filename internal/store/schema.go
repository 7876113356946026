package store

import (
	"context"
	"fmt"
)

// schema is the full DDL, applied idempotently at startup. Migrations beyond
// additive changes go through ops tooling, not this path.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id                   text PRIMARY KEY,
		category_id          text NOT NULL,
		slug                 text NOT NULL UNIQUE,
		name                 text NOT NULL,
		required_level       int NOT NULL,
		regulated            boolean NOT NULL DEFAULT false,
		license_required     boolean NOT NULL DEFAULT false,
		hazardous            boolean NOT NULL DEFAULT false,
		structural           boolean NOT NULL DEFAULT false,
		emergency_eligible   boolean NOT NULL DEFAULT false,
		base_price_min_cents bigint,
		base_price_max_cents bigint,
		estimated_duration   int NOT NULL DEFAULT 60,
		escalation_keywords  text[] NOT NULL DEFAULT '{}',
		active               boolean NOT NULL DEFAULT true
	)`,

	`CREATE TABLE IF NOT EXISTS sla_profiles (
		id                    text PRIMARY KEY,
		level                 int NOT NULL,
		region_type           text NOT NULL,
		region_value          text NOT NULL,
		country               text NOT NULL,
		task_id               text REFERENCES tasks(id),
		response_time_min     int NOT NULL,
		arrival_time_min      int,
		completion_time_min   int,
		penalty_enabled       boolean NOT NULL DEFAULT false,
		penalty_per_min_cents bigint,
		penalty_cap_cents     bigint,
		effective_from        timestamptz NOT NULL,
		effective_until       timestamptz,
		priority_order        int NOT NULL DEFAULT 0,
		active                boolean NOT NULL DEFAULT true
	)`,

	`CREATE TABLE IF NOT EXISTS surge_rules (
		id             text PRIMARY KEY,
		rule_type      text NOT NULL,
		task_id        text REFERENCES tasks(id),
		level          int,
		country        text NOT NULL,
		multiplier_max double precision NOT NULL,
		effective_from timestamptz NOT NULL,
		effective_to   timestamptz,
		active         boolean NOT NULL DEFAULT true
	)`,

	`CREATE TABLE IF NOT EXISTS commission_schedules (
		id             text PRIMARY KEY,
		level          int NOT NULL,
		country        text NOT NULL,
		rate_min       double precision NOT NULL,
		rate_max       double precision NOT NULL,
		rate_default   double precision NOT NULL,
		effective_from timestamptz NOT NULL,
		effective_to   timestamptz,
		active         boolean NOT NULL DEFAULT true
	)`,

	`CREATE TABLE IF NOT EXISTS provider_profiles (
		id                      text PRIMARY KEY,
		user_id                 text NOT NULL UNIQUE,
		level                   int NOT NULL DEFAULT 1,
		status                  text NOT NULL DEFAULT 'onboarding',
		background_status       text NOT NULL DEFAULT 'not_submitted',
		background_date         timestamptz,
		background_expiry       timestamptz,
		internal_score          double precision NOT NULL DEFAULT 70,
		service_radius_km       double precision NOT NULL DEFAULT 25,
		home_lat                double precision,
		home_lng                double precision,
		max_concurrent_jobs     int NOT NULL DEFAULT 1,
		available_for_emergency boolean NOT NULL DEFAULT false,
		is_online               boolean NOT NULL DEFAULT false
	)`,

	`CREATE TABLE IF NOT EXISTS credentials (
		id           text PRIMARY KEY,
		provider_id  text NOT NULL REFERENCES provider_profiles(id),
		type         text NOT NULL,
		name         text NOT NULL,
		status       text NOT NULL DEFAULT 'pending_review',
		file_ref     text NOT NULL DEFAULT '',
		task_id      text REFERENCES tasks(id),
		issued_date  timestamptz,
		expiry_date  timestamptz,
		jurisdiction text
	)`,

	`CREATE TABLE IF NOT EXISTS insurance_policies (
		id             text PRIMARY KEY,
		provider_id    text NOT NULL REFERENCES provider_profiles(id),
		policy_type    text NOT NULL,
		coverage_cents bigint NOT NULL,
		effective_date timestamptz NOT NULL,
		expiry_date    timestamptz NOT NULL,
		status         text NOT NULL DEFAULT 'pending_review'
	)`,

	`CREATE TABLE IF NOT EXISTS on_call_shifts (
		id           text PRIMARY KEY,
		provider_id  text NOT NULL REFERENCES provider_profiles(id),
		shift_start  timestamptz NOT NULL,
		shift_end    timestamptz NOT NULL,
		region_type  text NOT NULL,
		region_value text NOT NULL,
		status       text NOT NULL DEFAULT 'scheduled'
	)`,

	`CREATE TABLE IF NOT EXISTS provider_task_qualifications (
		provider_id  text NOT NULL REFERENCES provider_profiles(id),
		task_id      text NOT NULL REFERENCES tasks(id),
		qualified    boolean NOT NULL DEFAULT true,
		qualified_at timestamptz,
		auto_granted boolean NOT NULL DEFAULT false,
		PRIMARY KEY (provider_id, task_id)
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id                    text PRIMARY KEY,
		reference             text NOT NULL UNIQUE,
		customer_id           text NOT NULL,
		task_id               text NOT NULL REFERENCES tasks(id),
		status                text NOT NULL DEFAULT 'pending_match',
		priority              text NOT NULL DEFAULT 'standard',
		is_emergency          boolean NOT NULL DEFAULT false,
		service_lat           double precision NOT NULL,
		service_lng           double precision NOT NULL,
		service_address       jsonb NOT NULL DEFAULT '{}',
		requested_date        timestamptz,
		requested_time_start  text,
		requested_time_end    text,
		flexible_schedule     boolean NOT NULL DEFAULT false,
		sla_snapshot          jsonb NOT NULL DEFAULT '{}',
		quoted_price_cents    bigint NOT NULL DEFAULT 0,
		commission_rate       double precision NOT NULL DEFAULT 0,
		commission_cents      bigint NOT NULL DEFAULT 0,
		provider_payout_cents bigint NOT NULL DEFAULT 0,
		currency              text NOT NULL DEFAULT 'CAD',
		customer_notes        text[] NOT NULL DEFAULT '{}',
		started_at            timestamptz,
		completed_at          timestamptz,
		cancelled_at          timestamptz,
		cancellation_reason   text,
		created_at            timestamptz NOT NULL DEFAULT now(),
		updated_at            timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_customer ON jobs (customer_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS assignments (
		id                      text PRIMARY KEY,
		job_id                  text NOT NULL REFERENCES jobs(id),
		provider_id             text NOT NULL REFERENCES provider_profiles(id),
		status                  text NOT NULL DEFAULT 'offered',
		offered_at              timestamptz NOT NULL,
		offer_expires_at        timestamptz NOT NULL,
		responded_at            timestamptz,
		decline_reason          text,
		sla_response_deadline   timestamptz NOT NULL,
		sla_arrival_deadline    timestamptz,
		sla_completion_deadline timestamptz,
		sla_response_met        boolean,
		sla_arrival_met         boolean,
		sla_completion_met      boolean,
		en_route_at             timestamptz,
		arrived_at              timestamptz,
		started_work_at         timestamptz,
		completed_at            timestamptz,
		match_score             double precision NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_job ON assignments (job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_provider ON assignments (provider_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_open ON assignments (offer_expires_at) WHERE status = 'offered'`,

	// no job FK: the pricing audit trail outlives job hard deletes
	`CREATE TABLE IF NOT EXISTS pricing_events (
		id                    text PRIMARY KEY,
		job_id                text NOT NULL,
		event_type            text NOT NULL,
		base_price_cents      bigint NOT NULL,
		multiplier_applied    double precision NOT NULL,
		adjustments_cents     bigint NOT NULL DEFAULT 0,
		final_price_cents     bigint NOT NULL,
		rules_applied         jsonb NOT NULL DEFAULT '[]',
		commission_rate       double precision NOT NULL,
		commission_cents      bigint NOT NULL,
		provider_payout_cents bigint NOT NULL,
		created_at            timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS penalty_records (
		id              text PRIMARY KEY,
		provider_id     text NOT NULL REFERENCES provider_profiles(id),
		penalty_type    text NOT NULL,
		points_deducted double precision NOT NULL,
		reason          text NOT NULL DEFAULT '',
		job_id          text,
		applied_at      timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_penalties_provider ON penalty_records (provider_id, applied_at DESC)`,

	`CREATE TABLE IF NOT EXISTS reviews (
		id          text PRIMARY KEY,
		job_id      text NOT NULL UNIQUE REFERENCES jobs(id),
		customer_id text NOT NULL,
		provider_id text NOT NULL,
		stars       int NOT NULL,
		feedback    text NOT NULL DEFAULT '',
		created_at  timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS event_outbox (
		seq          bigserial PRIMARY KEY,
		event_id     text NOT NULL,
		event_type   text NOT NULL,
		job_id       text,
		provider_id  text,
		customer_id  text,
		payload      jsonb,
		occurred_at  timestamptz NOT NULL,
		published_at timestamptz
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON event_outbox (seq) WHERE published_at IS NULL`,
}

// EnsureSchema applies the DDL. Safe to run on every boot.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
