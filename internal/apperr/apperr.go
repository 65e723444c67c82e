// Package apperr classifies failures so transports can decide between a
// permanent rejection and a retryable error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// Transient is the zero value: anything unclassified is assumed retryable.
	Transient Kind = iota
	Authentication
	Validation
	NotFound
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Authentication:
		return "authentication"
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	default:
		return "transient"
	}
}

// Error carries a kind and a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error without an underlying cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap returns an *Error around err.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or Transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}

// CodeOf reports the code of the first *Error in err's chain, or
// "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

// Permanent reports whether retrying the operation cannot succeed.
func Permanent(err error) bool {
	return err != nil && KindOf(err) != Transient
}

// HTTPStatus maps a kind to the status code used by direct API requests.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Authentication:
		return http.StatusUnauthorized
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
