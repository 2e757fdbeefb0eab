package cep

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error a protocol operation can return.
type ErrorKind string

const (
	// KindInvalidRequest means the input was malformed or out of policy; the
	// caller must change the request, retrying is pointless
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindNotFound means a referenced intent, offer or envelope does not exist
	KindNotFound ErrorKind = "not_found"

	// KindConflict means a state-machine precondition was violated
	KindConflict ErrorKind = "conflict"

	// KindDependencyUnavailable means a circuit breaker tripped or a collaborator
	// failed; the same request may succeed later
	KindDependencyUnavailable ErrorKind = "dependency_unavailable"

	// KindInternal means serialization, hashing or signing failed; a bug, not a
	// policy decision
	KindInternal ErrorKind = "internal"
)

// Error is the error type returned by every protocol operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a protocol error with a formatted message.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds a protocol error around an underlying cause.
func WrapError(kind ErrorKind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from an error chain.
// Errors that did not originate from a protocol operation report KindInternal.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
