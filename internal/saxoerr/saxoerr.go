// Package saxoerr carries the error taxonomy from the spec's error-handling
// design (§7) so callers can branch with errors.As instead of string
// matching, following the teacher's SaxoErrorResponse / handleErrorResponse
// pattern in adapter/saxo.go, generalized into a typed Kind.
package saxoerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the spec's taxonomy.
type Kind string

const (
	AuthUnavailable    Kind = "AUTH_UNAVAILABLE"
	RateLimited        Kind = "RATE_LIMITED"
	SubscriptionLimit  Kind = "SUBSCRIPTION_LIMIT"
	Transport          Kind = "TRANSPORT"
	Decode             Kind = "DECODE"
	RemoteNon2xx       Kind = "REMOTE_NON_2XX"
)

// Error wraps an underlying cause with a taxonomy Kind and, where relevant,
// the Retry-After seconds read off a 429 response.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds; 0 if not applicable
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given Kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRetryAfter attaches a Retry-After duration (seconds) to a RateLimited error.
func WithRetryAfter(message string, seconds int, cause error) *Error {
	return &Error{Kind: RateLimited, Message: message, RetryAfter: seconds, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
