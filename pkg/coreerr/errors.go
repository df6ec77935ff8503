// Package coreerr provides the classified error taxonomy shared by every layer
// of the resource-control core: endpoints classify transport/HTTP failures into
// it, retry policies and circuit breakers decide on it, and callers inspect it
// on a terminal ApiCall.
package coreerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes a failure for retry, exclusion, and breaker decisions.
type Kind int8

const (
	// KindTransport covers connect-level transport failures (DNS, dial, reset).
	KindTransport Kind = iota
	// KindTimeout covers request timeouts, including HTTP 408 and context deadlines.
	KindTimeout
	// KindRateLimit covers HTTP 429 and provider-reported throttling.
	KindRateLimit
	// KindAuth covers HTTP 401/403 and bad-credential failures. Never retried.
	KindAuth
	// KindNotFound covers HTTP 404. Never retried.
	KindNotFound
	// KindBadRequest covers HTTP 400 and other 4xx (except 408/429). Never retried.
	KindBadRequest
	// KindServer covers HTTP 5xx and successful-status decode failures (BadResponse).
	KindServer
	// KindCircuitOpen is returned by a breaker that is rejecting admission.
	KindCircuitOpen
	// KindBackpressure is returned when an enqueue could not complete within its timeout.
	KindBackpressure
	// KindInvalidState is returned when an operation is attempted outside the
	// lifecycle state that permits it (e.g. put() on a stopped queue).
	KindInvalidState
	// KindInvalidArgument is returned by constructors given out-of-range configuration.
	KindInvalidArgument
	// KindCancelled is returned when a context is cancelled while a caller is suspended.
	KindCancelled
)

// String returns the taxonomy name used in log lines and error messages.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindServer:
		return "server"
	case KindCircuitOpen:
		return "circuit_open"
	case KindBackpressure:
		return "backpressure"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified failure. It wraps an optional underlying cause and may
// carry a provider-specific payload (e.g. a truncated response body) for
// diagnostics. Error never holds secret material; callers must sanitize any
// payload before attaching it.
type Error struct {
	Err        error
	Message    string
	Payload    string
	Kind       Kind
	StatusCode int
	// RetryAfter is a server-supplied wait hint (e.g. an HTTP 429's
	// Retry-After header), zero when none was present. A RetryPolicy may
	// honor it in place of its own computed backoff.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithStatus creates a classified error carrying an HTTP status code.
func WithStatus(kind Kind, statusCode int, message string) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Message: message}
}

// WithCause creates a classified error wrapping an underlying cause.
func WithCause(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Err: cause, Message: message}
}

// WithRetryAfter attaches a server-supplied retry-after hint to e, returning
// e for chaining.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// RetryAfterOf returns the retry-after hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ce *Error
	if errors.As(err, &ce) && ce.RetryAfter > 0 {
		return ce.RetryAfter, true
	}
	return 0, false
}

// Is reports whether err is a classified Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or KindServer if err is not a classified Error
// (unclassified failures are treated conservatively as server-side so they are
// retried rather than silently dropped).
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return KindServer, false
}

// Truncate bounds a diagnostic payload to maxChars, annotating that it was cut.
// Use this before attaching response bodies or prompts to an Error's Payload
// field so logs and stored events never carry unbounded or secret-laden blobs.
func Truncate(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	return fmt.Sprintf("%s...[truncated, %d chars total]", s[:maxChars], len(s))
}
