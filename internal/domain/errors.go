// Package domain provides the event model, result types, and canonical
// error taxonomy shared by the transport and session layers.
package domain

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorKind represents the category of a research failure.
type ErrorKind string

const (
	// ErrorKindAuth indicates the API credential was rejected. Never retried.
	ErrorKindAuth ErrorKind = "auth"

	// ErrorKindNetwork indicates a transient connection failure, including
	// an upstream stream that closed without a terminal event.
	ErrorKindNetwork ErrorKind = "network"

	// ErrorKindRateLimit indicates the service throttled the request.
	ErrorKindRateLimit ErrorKind = "rate_limit"

	// ErrorKindServer indicates a 5xx-equivalent upstream failure.
	ErrorKindServer ErrorKind = "server"

	// ErrorKindTimeout indicates the overall session ceiling was exceeded.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindAPI indicates a non-retriable API-level failure, such as the
	// service reporting the research task itself failed.
	ErrorKindAPI ErrorKind = "api"

	// ErrorKindCancelled indicates the caller cancelled the session.
	ErrorKindCancelled ErrorKind = "cancelled"
)

// ProbeError is the canonical error returned by every layer of the client.
// Terminal errors carry the interaction ID when one was assigned, so the
// caller can resume the session later, and any partial accumulated state.
type ProbeError struct {
	// Kind is the failure category, stable for callers to branch on.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// InteractionID is the server-assigned session identifier, if known.
	InteractionID string `json:"interaction_id,omitempty"`

	// RetryAfter is the server-provided backoff hint, if any.
	RetryAfter time.Duration `json:"-"`

	// StatusCode is the upstream HTTP status, when the failure came from
	// an HTTP response.
	StatusCode int `json:"-"`

	// Partial holds whatever was accumulated before a terminal failure.
	Partial *Result `json:"-"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.InteractionID != "" {
		return fmt.Sprintf("%s: %s (interaction_id: %s)", e.Kind, e.Message, e.InteractionID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Retriable reports whether the session orchestrator may retry after this
// failure. Auth, timeout, API, and cancellation failures are final.
func (e *ProbeError) Retriable() bool {
	switch e.Kind {
	case ErrorKindNetwork, ErrorKindRateLimit, ErrorKindServer:
		return true
	default:
		return false
	}
}

// NewProbeError creates a new error of the given kind.
func NewProbeError(kind ErrorKind, message string) *ProbeError {
	return &ProbeError{Kind: kind, Message: message}
}

// WithInteraction attaches the interaction identifier.
func (e *ProbeError) WithInteraction(id string) *ProbeError {
	e.InteractionID = id
	return e
}

// WithRetryAfter attaches a server-provided backoff hint.
func (e *ProbeError) WithRetryAfter(d time.Duration) *ProbeError {
	e.RetryAfter = d
	return e
}

// WithStatusCode attaches the upstream HTTP status.
func (e *ProbeError) WithStatusCode(code int) *ProbeError {
	e.StatusCode = code
	return e
}

// WithPartial attaches partial accumulated state to a terminal error.
func (e *ProbeError) WithPartial(r *Result) *ProbeError {
	e.Partial = r
	return e
}

// WithCause attaches the underlying error.
func (e *ProbeError) WithCause(err error) *ProbeError {
	e.Cause = err
	return e
}

// Convenience constructors for common failures

// ErrAuth creates an authentication error.
func ErrAuth(message string) *ProbeError {
	return NewProbeError(ErrorKindAuth, message)
}

// ErrNetwork creates a transient network error.
func ErrNetwork(message string) *ProbeError {
	return NewProbeError(ErrorKindNetwork, message)
}

// ErrRateLimit creates a rate-limit error.
func ErrRateLimit(message string) *ProbeError {
	return NewProbeError(ErrorKindRateLimit, message)
}

// ErrServer creates an upstream server error.
func ErrServer(message string) *ProbeError {
	return NewProbeError(ErrorKindServer, message)
}

// ErrTimeout creates an overall-deadline error.
func ErrTimeout(message string) *ProbeError {
	return NewProbeError(ErrorKindTimeout, message)
}

// ErrAPI creates a non-retriable API error.
func ErrAPI(message string) *ProbeError {
	return NewProbeError(ErrorKindAPI, message)
}

// ErrCancelled creates a caller-cancellation error.
func ErrCancelled(message string) *ProbeError {
	return NewProbeError(ErrorKindCancelled, message)
}

// ErrFromStatusCode maps an upstream HTTP status to a canonical error.
func ErrFromStatusCode(status int, message string) *ProbeError {
	var e *ProbeError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = ErrAuth(message)
	case status == http.StatusTooManyRequests:
		e = ErrRateLimit(message)
	case status >= 500:
		e = ErrServer(message)
	case status == http.StatusRequestTimeout:
		e = ErrNetwork(message)
	default:
		e = ErrAPI(message)
	}
	return e.WithStatusCode(status)
}
