package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"slotdesk/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the sqlite implementation of the scheduler's storage.
// It is opened with a single connection, so transactions are serialized
// and every query issued inside InTx must go through the tx store.
type DB struct {
	*sql.DB
	store
	path   string
	logger *zerolog.Logger
}

var (
	_ domain.Repository         = (*DB)(nil)
	_ domain.ResourceRepository = (*DB)(nil)
	_ domain.NotificationQueue  = (*DB)(nil)
)

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: sqlDB, store: store{q: sqlDB}, path: path, logger: logger}, nil
}

func (db *DB) Path() string {
	return db.path
}

// InTx runs fn inside one transaction. fn's error rolls the transaction back.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.BookingStore) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Storage("begin", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, &store{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.Storage("commit", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS resources (
            ref TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            kind TEXT NOT NULL DEFAULT 'service',
            weekdays TEXT NOT NULL DEFAULT '',
            start_hour INTEGER NOT NULL,
            end_hour INTEGER NOT NULL,
            weekly_hours TEXT NOT NULL DEFAULT '',
            timezone TEXT NOT NULL DEFAULT 'UTC',
            is_active BOOLEAN NOT NULL DEFAULT 1,
            same_day_allowed INTEGER,
            min_notice_minutes INTEGER NOT NULL DEFAULT 0,
            max_daily_bookings INTEGER NOT NULL DEFAULT 0,
            default_duration_minutes INTEGER NOT NULL DEFAULT 30,
            notify_chat_id INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            booking_reference TEXT NOT NULL,
            resource_ref TEXT NOT NULL,
            subject_ref TEXT NOT NULL DEFAULT '',
            client_name TEXT NOT NULL,
            client_phone TEXT NOT NULL DEFAULT '',
            client_email TEXT NOT NULL DEFAULT '',
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            notes TEXT NOT NULL DEFAULT '',
            channel TEXT NOT NULL DEFAULT '',
            reminder_sent_at INTEGER,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (end_at > start_at)
        )`,
		`CREATE TABLE IF NOT EXISTS availability_blocks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            resource_ref TEXT NOT NULL,
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            reason TEXT NOT NULL DEFAULT 'other',
            notes TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL,
            FOREIGN KEY (resource_ref) REFERENCES resources(ref),
            CHECK (end_at > start_at)
        )`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_kind TEXT NOT NULL,
            booking_id TEXT NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at INTEGER NOT NULL,
            processed_at INTEGER,
            next_retry_at INTEGER
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_resource_window ON bookings(resource_ref, start_at, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_reference ON bookings(booking_reference)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_resource_window ON availability_blocks(resource_ref, start_at, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
