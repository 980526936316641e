package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`CREATE TABLE IF NOT EXISTS resources (
		ref TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'service',
		weekdays TEXT NOT NULL DEFAULT '',
		start_hour INTEGER NOT NULL,
		end_hour INTEGER NOT NULL,
		weekly_hours TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		same_day_allowed BOOLEAN,
		min_notice_minutes INTEGER NOT NULL DEFAULT 0,
		max_daily_bookings INTEGER NOT NULL DEFAULT 0,
		default_duration_minutes INTEGER NOT NULL DEFAULT 30,
		notify_chat_id BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		booking_reference TEXT NOT NULL,
		resource_ref TEXT NOT NULL,
		subject_ref TEXT NOT NULL DEFAULT '',
		client_name TEXT NOT NULL,
		client_phone TEXT NOT NULL DEFAULT '',
		client_email TEXT NOT NULL DEFAULT '',
		start_at TIMESTAMPTZ NOT NULL,
		end_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL DEFAULT '',
		reminder_sent_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		CHECK (end_at > start_at),
		CONSTRAINT bookings_no_overlap EXCLUDE USING gist (
			resource_ref WITH =,
			tstzrange(start_at, end_at, '[)') WITH &&
		) WHERE (status <> 'cancelled')
	)`,
	`CREATE TABLE IF NOT EXISTS availability_blocks (
		id BIGSERIAL PRIMARY KEY,
		resource_ref TEXT NOT NULL REFERENCES resources(ref),
		start_at TIMESTAMPTZ NOT NULL,
		end_at TIMESTAMPTZ NOT NULL,
		reason TEXT NOT NULL DEFAULT 'other',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (end_at > start_at)
	)`,
	`CREATE TABLE IF NOT EXISTS notification_queue (
		id BIGSERIAL PRIMARY KEY,
		event_kind TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_resource_window ON bookings(resource_ref, start_at, end_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_reference ON bookings(booking_reference)`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_resource_window ON availability_blocks(resource_ref, start_at, end_at)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
}

// Migrate creates missing tables. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
