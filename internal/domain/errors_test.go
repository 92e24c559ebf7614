package domain

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestProbeErrorMessage(t *testing.T) {
	err := ErrNetwork("connection reset")
	if got := err.Error(); got != "network: connection reset" {
		t.Errorf("Error() = %q", got)
	}

	err = err.WithInteraction("int_abc")
	if got := err.Error(); got != "network: connection reset (interaction_id: int_abc)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestProbeErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := ErrNetwork("wrapped").WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}

	var perr *ProbeError
	if !errors.As(error(err), &perr) || perr.Kind != ErrorKindNetwork {
		t.Error("errors.As should recover the *ProbeError")
	}
}

func TestRetriable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrorKindNetwork, true},
		{ErrorKindRateLimit, true},
		{ErrorKindServer, true},
		{ErrorKindAuth, false},
		{ErrorKindTimeout, false},
		{ErrorKindAPI, false},
		{ErrorKindCancelled, false},
	}
	for _, tt := range tests {
		if got := NewProbeError(tt.kind, "x").Retriable(); got != tt.want {
			t.Errorf("%s.Retriable() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestErrFromStatusCode(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, ErrorKindAuth},
		{http.StatusForbidden, ErrorKindAuth},
		{http.StatusTooManyRequests, ErrorKindRateLimit},
		{http.StatusInternalServerError, ErrorKindServer},
		{http.StatusBadGateway, ErrorKindServer},
		{http.StatusServiceUnavailable, ErrorKindServer},
		{http.StatusRequestTimeout, ErrorKindNetwork},
		{http.StatusBadRequest, ErrorKindAPI},
		{http.StatusNotFound, ErrorKindAPI},
	}
	for _, tt := range tests {
		err := ErrFromStatusCode(tt.status, "msg")
		if err.Kind != tt.want {
			t.Errorf("ErrFromStatusCode(%d) kind = %s, want %s", tt.status, err.Kind, tt.want)
		}
		if err.StatusCode != tt.status {
			t.Errorf("ErrFromStatusCode(%d) status = %d", tt.status, err.StatusCode)
		}
	}
}

func TestFluentBuilders(t *testing.T) {
	partial := &Result{Report: "partial"}
	err := ErrRateLimit("throttled").
		WithInteraction("int_1").
		WithRetryAfter(30 * time.Second).
		WithStatusCode(429).
		WithPartial(partial)

	if err.InteractionID != "int_1" || err.RetryAfter != 30*time.Second ||
		err.StatusCode != 429 || err.Partial != partial {
		t.Errorf("built error = %+v", err)
	}
}
