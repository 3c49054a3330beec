// Package fault defines the error taxonomy shared by all collaborator
// boundaries: text generation, skill execution, and memory persistence.
// Every fault crossing into the engine is classified before use so that
// retry and degradation decisions are uniform.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Class describes how a failure should be handled.
type Class string

const (
	// ClassTransient marks timeouts, rate limits, and momentary
	// unavailability. Eligible for bounded retry.
	ClassTransient Class = "transient"
	// ClassPermanent marks malformed input, unknown skills, and invalid
	// arguments. Never retried.
	ClassPermanent Class = "permanent"
	// ClassDegraded marks a collaborator that is down but does not block
	// the turn (non-durable memory, skipped reflection).
	ClassDegraded Class = "degraded"
	// ClassExhausted marks an invocation whose retries ran out.
	ClassExhausted Class = "exhausted"
)

// Sentinel errors for the collaborator contracts.
var (
	// ErrUnavailable indicates a collaborator cannot be reached at all.
	ErrUnavailable = errors.New("collaborator unavailable")
	// ErrRateLimited indicates the backend rejected the call due to load.
	ErrRateLimited = errors.New("rate limited")
	// ErrMalformed indicates the backend returned an unusable payload.
	ErrMalformed = errors.New("malformed response")
	// ErrInvalidArguments indicates a skill rejected its arguments and
	// wants them revised rather than retried.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Error wraps an underlying failure with its class.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified fault.
func New(class Class, err error) *Error {
	return &Error{Class: class, Err: err}
}

// Newf creates a classified fault from a format string.
func Newf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Err: fmt.Errorf(format, args...)}
}

// Classify maps an arbitrary error onto the taxonomy. Unwrapped errors
// default to permanent: an unknown failure is not safe to retry.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrRateLimited):
		return ClassTransient
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrInvalidArguments):
		return ClassPermanent
	default:
		return ClassPermanent
	}
}

// Retryable reports whether a failure is eligible for bounded retry.
func Retryable(err error) bool {
	return Classify(err) == ClassTransient
}
