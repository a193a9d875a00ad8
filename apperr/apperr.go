// Package apperr defines the error taxonomy shared by every engine.
//
// Engines return *Error instead of bare errors so a single adapter (see
// httpapi) can map a kind to a status code once, instead of every handler
// guessing one. Kinds are closed: Unauthenticated, Forbidden, NotFound,
// BadRequest, Conflict, Internal.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Unauthenticated
	Forbidden
	NotFound
	BadRequest
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case BadRequest:
		return "bad_request"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Err: err}
}

func NotFoundf(format string, a ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, a...))
}

func Unauthenticatedf(format string, a ...any) *Error {
	return New(Unauthenticated, fmt.Sprintf(format, a...))
}

func BadRequestf(format string, a ...any) *Error {
	return New(BadRequest, fmt.Sprintf(format, a...))
}

func Forbiddenf(format string, a ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, a...))
}

func Conflictf(format string, a ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, a...))
}

func Internalf(err error, format string, a ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, a...), err)
}

// KindOf extracts the Kind of err, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
