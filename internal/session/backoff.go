// Package session drives the resumable research session: the reconnection
// policy, the stall monitor, and the orchestrating state machine.
package session

import (
	"time"

	"github.com/tjfontaine/deep-probe/internal/domain"
)

// BackoffPolicy decides whether and when to retry after a classified
// failure. It is a pure decision function; the orchestrator owns the
// attempt counters and the actual sleeping.
type BackoffPolicy struct {
	// MaxNetworkRetries bounds retries for network and server failures.
	MaxNetworkRetries int

	// MaxRateLimitRetries bounds retries for rate-limit failures.
	MaxRateLimitRetries int

	// BaseDelay is the first delay for network and server failures.
	// Subsequent delays double: 2s, 4s, 8s with the default.
	BaseDelay time.Duration

	// RateLimitBaseDelay is the first delay for rate-limit failures.
	// The schedule doubles then clamps: 60s, 120s, 240s, 300s, 300s with
	// the defaults.
	RateLimitBaseDelay time.Duration

	// MaxRateLimitDelay clamps the rate-limit schedule.
	MaxRateLimitDelay time.Duration
}

// DefaultBackoffPolicy returns the documented default schedules.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxNetworkRetries:   3,
		MaxRateLimitRetries: 5,
		BaseDelay:           2 * time.Second,
		RateLimitBaseDelay:  60 * time.Second,
		MaxRateLimitDelay:   300 * time.Second,
	}
}

// Decision is the outcome of consulting the policy after a failure.
type Decision struct {
	// Retry is true when the session should reconnect after Delay.
	Retry bool

	// Delay is how long to wait before reconnecting.
	Delay time.Duration

	// Reason explains a give-up decision.
	Reason string
}

// Next returns the decision for the attempt-th consecutive failure of the
// given kind (1-based). retryAfter, when positive, is a server-provided
// hint that overrides the schedule for rate-limit failures.
func (p BackoffPolicy) Next(kind domain.ErrorKind, attempt int, retryAfter time.Duration) Decision {
	switch kind {
	case domain.ErrorKindNetwork, domain.ErrorKindServer:
		if attempt > p.MaxNetworkRetries {
			return Decision{Reason: "retry budget exhausted"}
		}
		return Decision{Retry: true, Delay: p.BaseDelay << (attempt - 1)}

	case domain.ErrorKindRateLimit:
		if attempt > p.MaxRateLimitRetries {
			return Decision{Reason: "rate limit retry budget exhausted"}
		}
		if retryAfter > 0 {
			return Decision{Retry: true, Delay: retryAfter}
		}
		delay := p.RateLimitBaseDelay << (attempt - 1)
		if delay > p.MaxRateLimitDelay {
			delay = p.MaxRateLimitDelay
		}
		return Decision{Retry: true, Delay: delay}

	default:
		// Auth, timeout, API, and cancellation failures are final.
		return Decision{Reason: "failure kind is not retriable"}
	}
}
