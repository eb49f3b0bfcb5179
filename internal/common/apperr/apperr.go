// Package apperr defines the error taxonomy carried in RPC responses.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind is one of the nine RPC error kinds from spec.md §7.
type Kind string

const (
	KindInvalidParam       Kind = "InvalidParam"
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindPrecondition       Kind = "Precondition"
	KindRuntimeUnavailable Kind = "RuntimeUnavailable"
	KindExternal           Kind = "External"
	KindCancelled          Kind = "Cancelled"
	KindTimeout            Kind = "Timeout"
	KindInternal           Kind = "Internal"
)

// Error is the typed error every component returns across an RPC boundary.
// Message is a single short human-readable sentence; clients format it
// verbatim (spec §7).
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind. Internal errors are stamped
// with a correlation id so the Internal message stays opaque while logs can
// still be traced back to a request.
func New(kind Kind, message string) *Error {
	e := &Error{Kind: kind, Message: message}
	if kind == KindInternal {
		e.CorrelationID = uuid.NewString()
	}
	return e
}

// Wrap attaches kind/message to an underlying cause, preserving it for
// errors.Unwrap/errors.Is/errors.As chains.
func Wrap(kind Kind, message string, cause error) *Error {
	e := New(kind, message)
	e.cause = cause
	return e
}

// Of extracts the *Error from err via errors.As, if present.
func Of(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := Of(err)
	return ok && e.Kind == kind
}

func InvalidParam(format string, args ...any) *Error {
	return New(KindInvalidParam, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Precondition(format string, args ...any) *Error {
	return New(KindPrecondition, fmt.Sprintf(format, args...))
}

func RuntimeUnavailable(format string, args ...any) *Error {
	return New(KindRuntimeUnavailable, fmt.Sprintf(format, args...))
}

func External(format string, args ...any) *Error {
	return New(KindExternal, fmt.Sprintf(format, args...))
}

func Cancelled(format string, args ...any) *Error {
	return New(KindCancelled, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, fmt.Sprintf(format, args...))
}

func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindInternal, fmt.Sprintf(format, args...), cause)
}
