// Package apperr defines the typed error taxonomy returned by the appointment
// and availability engines. Callers branch on Kind to decide between retrying
// (Conflict only) and surfacing the rejection to the user.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a business or concurrency failure.
type Kind string

const (
	InvalidFormat            Kind = "InvalidFormat"
	InvalidInput             Kind = "InvalidInput"
	DeadlineExpired          Kind = "DeadlineExpired"
	CancellationWindowClosed Kind = "CancellationWindowClosed"
	NotServiceDate           Kind = "NotServiceDate"
	IncompleteRequiredTasks  Kind = "IncompleteRequiredTasks"
	InvalidTransition        Kind = "InvalidTransition"
	ActiveJobConflict        Kind = "ActiveJobConflict"
	OverlapsBooking          Kind = "OverlapsBooking"
	OverlapsExistingRange    Kind = "OverlapsExistingRange"
	Conflict                 Kind = "Conflict"
	NotFound                 Kind = "NotFound"
)

// Error is a typed failure carrying optional structured details that the
// caller can render (offending task names, blocking appointment id, ...).
type Error struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports kind equality so errors.Is(err, apperr.New(apperr.NotFound, ""))
// matches any NotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// With attaches a detail to the error and returns it for chaining.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" for
// untyped (infrastructure) errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller may re-read and reapply the operation.
func Retryable(err error) bool {
	return Is(err, Conflict)
}

// HTTPStatus maps a kind to the response code used by the HTTP handlers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidFormat, InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
