package domain

import (
	"errors"
	"fmt"
)

// Kind classifies scheduler failures so callers can present a specific message.
type Kind string

const (
	KindInvalidWindow          Kind = "invalid_window"
	KindInvalidInput           Kind = "invalid_input"
	KindClosedDay              Kind = "closed_day"
	KindOutsideHours           Kind = "outside_hours"
	KindInPast                 Kind = "in_past"
	KindTooSoon                Kind = "too_soon"
	KindSlotConflict           Kind = "slot_conflict"
	KindDailyLimitReached      Kind = "daily_limit_reached"
	KindAlreadyFinalized       Kind = "already_finalized"
	KindInvalidTransition      Kind = "invalid_transition"
	KindResourceInactive       Kind = "resource_inactive"
	KindNotFound               Kind = "not_found"
	KindConcurrentModification Kind = "concurrent_modification"
	KindStorageFailure         Kind = "storage_failure"
)

// Error carries a Kind, the failing operation and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrSlotConflict)
// holds regardless of Op or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidWindow          = &Error{Kind: KindInvalidWindow}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput}
	ErrClosedDay              = &Error{Kind: KindClosedDay}
	ErrOutsideHours           = &Error{Kind: KindOutsideHours}
	ErrInPast                 = &Error{Kind: KindInPast}
	ErrTooSoon                = &Error{Kind: KindTooSoon}
	ErrSlotConflict           = &Error{Kind: KindSlotConflict}
	ErrDailyLimitReached      = &Error{Kind: KindDailyLimitReached}
	ErrAlreadyFinalized       = &Error{Kind: KindAlreadyFinalized}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrResourceInactive       = &Error{Kind: KindResourceInactive}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrStorageFailure         = &Error{Kind: KindStorageFailure}
)

func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in the chain.
// Errors that carry no kind are storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageFailure
}

// Storage wraps err as a storage failure unless it already carries a kind.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStorageFailure, Op: op, Err: err}
}
