package locking

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"slotdesk/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker prefers the primary (redis) locker and drops to the local
// fallback while the primary is unreachable, probing it again once a minute.
type FailoverLocker struct {
	primary   domain.Locker
	fallback  domain.Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *FailoverLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.isDown.Load() && l.now().Sub(time.Unix(0, l.lastCheck.Load())) > recoveryInterval {
		l.isDown.Store(false)
		l.logger.Info().Msg("Retrying primary locker")
	}

	if !l.isDown.Load() {
		unlock, err := l.primary.Lock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if !isInfraError(err) {
			return nil, err
		}
		l.logger.Error().Err(err).Str("key", key).Msg("Primary locker failed, falling back to memory")
		l.isDown.Store(true)
		l.lastCheck.Store(l.now().UnixNano())
	}

	return l.fallback.Lock(ctx, key)
}

// Degraded reports whether locks are currently served by the fallback.
func (l *FailoverLocker) Degraded() bool {
	return l.isDown.Load()
}

// contention and caller cancellation are not reasons to fail over
func isInfraError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, domain.ErrConcurrentModification)
}
