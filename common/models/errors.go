package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an operation was rejected
type ErrorKind string

const (
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindForbidden      ErrorKind = "forbidden"
	KindInvalid        ErrorKind = "invalid"
	KindPersistence    ErrorKind = "persistence_error"
	KindRetryExhausted ErrorKind = "retry_exhausted"
)

// Sentinels for errors.Is matching against *Error values
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrInvalid        = &Error{Kind: KindInvalid}
	ErrPersistence    = &Error{Kind: KindPersistence}
	ErrRetryExhausted = &Error{Kind: KindRetryExhausted}
)

// Error is the outcome of a rejected operation. Reason is shown to operators.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can write errors.Is(err, models.ErrConflict)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NotFound builds a KindNotFound error
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Reason: fmt.Sprintf(format, args...)}
}

// Forbidden builds a KindForbidden error
func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Reason: fmt.Sprintf(format, args...)}
}

// Invalid builds a KindInvalid error
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, Reason: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage failure
func Persistence(err error, format string, args ...any) *Error {
	return &Error{Kind: KindPersistence, Reason: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" if err is not a *Error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the operator-facing reason for err
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return err.Error()
}
