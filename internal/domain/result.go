package domain

import "time"

// Status represents the lifecycle state of a research session.
type Status string

const (
	StatusPending      Status = "pending"
	StatusStreaming    Status = "streaming"
	StatusReconnecting Status = "reconnecting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Result is the outcome of one research session. It is constructed exactly
// once, when the session reaches a terminal status, and never mutated.
type Result struct {
	// Report is the final research report in markdown.
	Report string `json:"report"`

	// Sources lists cited references, deduplicated by URL, in receipt order.
	Sources []Citation `json:"sources"`

	// Thoughts lists reasoning-summary steps in receipt order.
	Thoughts []Thought `json:"thoughts"`

	// Usage is the final token accounting snapshot.
	Usage TokenUsage `json:"usage"`

	// InteractionID names the server-side session, usable for resume.
	InteractionID string `json:"interaction_id"`

	// Status is the terminal status the session reached.
	Status Status `json:"status"`

	// CreatedAt is when the session started.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the session reached its terminal status.
	CompletedAt time.Time `json:"completed_at,omitzero"`
}
