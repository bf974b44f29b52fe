// Package apperror defines the error taxonomy shared by the reservation
// engine and the HTTP layer.  Errors carry a Kind that callers compare
// with errors.Is, an end-user message and, for lost races, the list of
// units that were not available.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindUnitsUnavailable  Kind = "units_unavailable"
	KindReservationFailed Kind = "reservation_failed"
	KindPolicyViolation   Kind = "policy_violation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
)

// Sentinels usable as errors.Is targets.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUnitsUnavailable  = &Error{Kind: KindUnitsUnavailable}
	ErrReservationFailed = &Error{Kind: KindReservationFailed}
	ErrPolicyViolation   = &Error{Kind: KindPolicyViolation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
)

// Error is the typed error returned by the engine.
type Error struct {
	Kind    Kind
	Message string
	Units   []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Units) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Units, ","))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work
// as errors.Is targets regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus maps the kind onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnitsUnavailable, KindConflict:
		return http.StatusConflict
	case KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindReservationFailed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func UnitsUnavailable(units []string) *Error {
	return &Error{Kind: KindUnitsUnavailable, Message: "some units are unavailable", Units: units}
}

func ReservationFailed(step string, err error) *Error {
	return &Error{Kind: KindReservationFailed, Message: step, Err: err}
}

func PolicyViolation(format string, args ...any) *Error {
	return &Error{Kind: KindPolicyViolation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err or the empty string.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
