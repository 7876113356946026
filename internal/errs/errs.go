// Package errs defines the dispatch error taxonomy.
//
// Every error that crosses a service boundary carries a Kind so the REST and
// socket layers can map it to a status code without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindInvalidTransition     Kind = "invalid_transition"
	KindOfferNotFound         Kind = "offer_not_found"
	KindOfferAlreadyResponded Kind = "offer_already_responded"
	KindUnauthorized          Kind = "unauthorized"
	KindValidationFailed      Kind = "validation_failed"
	KindPricingUnavailable    Kind = "pricing_unavailable"
	KindExternalTimeout       Kind = "external_timeout"
	KindConflictingState      Kind = "conflicting_state"
	KindFatal                 Kind = "fatal"
)

// Error is a kinded domain error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a new kinded error with a formatted message.
func E(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// reported as KindFatal so they are never silently treated as user error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// Is reports whether any error in the chain carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the operation may be retried safely.
// Only lost-writer conflicts qualify; everything else is surfaced verbatim.
func Retryable(err error) bool {
	return Is(err, KindConflictingState)
}
