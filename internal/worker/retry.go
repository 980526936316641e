package worker

import (
	"math"
	"math/rand/v2"
	"time"

	"slotdesk/internal/config"
)

const (
	// maxBackoffExponent keeps Pow finite for very large attempt counts.
	maxBackoffExponent = 32
	// defaultDelayCap bounds policies that set no MaxDelay.
	defaultDelayCap = 24 * time.Hour
)

// RetryPolicy schedules redelivery of failed notifications.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter in [0, 1] shortens each delay by up to that fraction so queued
	// retries for one outage do not fire together.
	Jitter float64
}

func RetryPolicyFromConfig(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    c.MaxRetries,
		InitialDelay:  c.InitialDelay,
		MaxDelay:      c.MaxDelay,
		BackoffFactor: c.BackoffFactor,
		Jitter:        c.Jitter,
	}
}

// Exhausted reports whether the task should fail instead of retrying after
// its attempt-th failed delivery. A policy without MaxRetries never retries.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= r.MaxRetries
}

// NextDelay returns the wait before retry number attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	attempt = min(max(attempt, 1), maxBackoffExponent)
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor < 1 {
		factor = 2
	}

	limit := r.MaxDelay
	if limit <= 0 {
		limit = defaultDelayCap
	}

	delay := min(float64(initial)*math.Pow(factor, float64(attempt-1)), float64(limit))
	if j := min(r.Jitter, 1); j > 0 {
		delay -= delay * j * rand.Float64()
	}

	d := time.Duration(delay)
	if d <= 0 {
		d = time.Second
	}
	return d
}
