// Package apperr is the error taxonomy shared by the store, auth and HTTP layers.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the HTTP boundary.
type Kind uint8

const (
	Unknown Kind = iota
	Validation
	Unauthenticated
	Forbidden
	Conflict
	NotFound
	Storage
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Storage:
		return "storage"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind and a short caller-safe message. Err holds the cause,
// which is logged but never written to a response.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New returns an error without an underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches kind and message to a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public returns the status code and message safe to send to a client.
// Storage and unclassified errors collapse to a generic message.
func Public(err error) (int, string) {
	var e *Error
	if !errors.As(err, &e) || e.Kind == Storage || e.Kind == Unknown {
		return http.StatusInternalServerError, "server error"
	}
	return e.Kind.Status(), e.Message
}
