// Package postgres is the multi-instance storage backend. Overlap safety does
// not depend on the caller's lock: an exclusion constraint rejects two active
// bookings with intersecting windows on the same resource.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"slotdesk/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	codeExclusionViolation = "23P01"
	codeUniqueViolation    = "23505"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store runs queries against the pool, or against a transaction inside InTx.
type Store struct {
	pool   Pool
	q      Querier
	logger *zerolog.Logger
}

var (
	_ domain.Repository         = (*Store)(nil)
	_ domain.ResourceRepository = (*Store)(nil)
	_ domain.NotificationQueue  = (*Store)(nil)
)

func New(pool Pool, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{pool: pool, q: pool, logger: logger}
}

// Connect opens a pool and applies the schema.
func Connect(ctx context.Context, dsn string, logger *zerolog.Logger) (*pgxpool.Pool, *Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := New(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	s.logger.Info().Msg("Postgres storage initialized")
	return pool, s, nil
}

// InTx runs fn in one transaction. Returning an error rolls it back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.BookingStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Storage("begin tx", fmt.Errorf("postgres: begin: %w", err))
	}

	if err := fn(ctx, &Store{pool: s.pool, q: tx, logger: s.logger}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error().Err(rbErr).Msg("postgres: rollback failed")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError("commit tx", err)
	}
	return nil
}

// mapError translates constraint violations into domain kinds.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeExclusionViolation:
			return domain.E(domain.KindSlotConflict, op, err)
		case codeUniqueViolation:
			return domain.E(domain.KindInvalidInput, op, err)
		}
	}
	return domain.Storage(op, fmt.Errorf("postgres: %w", err))
}
