// Package apierr defines the error taxonomy shared by every gateway component.
//
// DESIGN: Domain packages return *Error values (optionally wrapped with
// fmt.Errorf("...: %w")). The HTTP layer recovers them with errors.As and
// maps Kind to a status code. Any error that is not an *Error is treated as
// an internal failure and reported to the client without detail.
package apierr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindForbidden        Kind = "forbidden"
	KindTooManyRequests  Kind = "too_many_requests"
	KindInvalidInput     Kind = "invalid_input"
	KindUnauthorized     Kind = "unauthorized"
	KindConflict         Kind = "conflict"
	KindBadGateway       Kind = "bad_gateway"
	KindNotFound         Kind = "not_found"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindInternal         Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindForbidden:        http.StatusForbidden,
	KindTooManyRequests:  http.StatusTooManyRequests,
	KindInvalidInput:     http.StatusBadRequest,
	KindUnauthorized:     http.StatusUnauthorized,
	KindConflict:         http.StatusConflict,
	KindBadGateway:       http.StatusBadGateway,
	KindNotFound:         http.StatusNotFound,
	KindMethodNotAllowed: http.StatusMethodNotAllowed,
	KindInternal:         http.StatusInternalServerError,
}

// Error is a classified, client-presentable failure.
type Error struct {
	Kind    Kind
	Message string // safe to show to the client
	// Status overrides the kind's default status (used to pass upstream codes through).
	Status int
	Err    error // underlying cause, never shown to the client
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the response status for the error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Is matches on Kind so callers can write errors.Is(err, apierr.ErrConflict).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is comparisons.
var (
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrBadGateway   = &Error{Kind: KindBadGateway}
	ErrNotFound     = &Error{Kind: KindNotFound}
)

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates a classified error with an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Invalid is shorthand for an InvalidInput error.
func Invalid(msg string) *Error { return New(KindInvalidInput, msg) }

// Unauthorized is shorthand for an Unauthorized error.
func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }

// Conflict is shorthand for a Conflict error.
func Conflict(msg string) *Error { return New(KindConflict, msg) }

// Upstream builds a BadGateway-class error that reports the upstream status.
func Upstream(status int, msg string) *Error {
	return &Error{Kind: KindBadGateway, Message: msg, Status: status}
}

// As extracts an *Error from err. Unclassified errors become an opaque
// internal error wrapping the original cause.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "Server Error", Err: err}
}
