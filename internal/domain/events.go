package domain

import "time"

// EventType identifies one variant of the research stream.
type EventType string

const (
	// EventInteractionAssigned carries the server-issued interaction ID.
	EventInteractionAssigned EventType = "INTERACTION_ASSIGNED"

	// EventTextDelta carries a chunk of report text.
	EventTextDelta EventType = "TEXT_DELTA"

	// EventThoughtDelta carries a chunk of reasoning summary.
	EventThoughtDelta EventType = "THOUGHT_DELTA"

	// EventCitation carries a source reference.
	EventCitation EventType = "CITATION"

	// EventUsageUpdate carries updated token counters.
	EventUsageUpdate EventType = "USAGE_UPDATE"

	// EventCompleted marks a clean end of the research task.
	EventCompleted EventType = "COMPLETED"

	// EventError carries a failure reported in-band by the stream.
	EventError EventType = "ERROR"

	// EventPing is a keep-alive. It counts toward liveness and nothing else.
	EventPing EventType = "PING"

	// EventUnknown is an event the client does not recognize. Dropped with
	// a warning so server-side additions never break an active session.
	EventUnknown EventType = "UNKNOWN"
)

// Event is one parsed unit from the research stream. Exactly the fields
// relevant to Type are populated.
type Event struct {
	Type EventType

	// ID is the server-issued event sequence identifier, used as the
	// Last-Event-ID cursor on resume.
	ID string

	// InteractionID is set on EventInteractionAssigned.
	InteractionID string

	// Text is set on EventTextDelta.
	Text string

	// Thought is set on EventThoughtDelta.
	Thought string

	// Citation is set on EventCitation.
	Citation *Citation

	// Usage is set on EventUsageUpdate.
	Usage *TokenUsage

	// Err is set on EventError.
	Err *ProbeError
}

// Citation is a source reference from the research.
type Citation struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Thought is one reasoning-summary step in the research process.
type Thought struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Phase     string    `json:"phase,omitempty"`
}

// TokenUsage tracks token accounting for a session. Counters only ever
// move forward; a later update never decrements an earlier one.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	// Estimated indicates the counts were derived locally rather than
	// reported by the server.
	Estimated bool `json:"estimated,omitempty"`
}

// Merge folds a newer usage snapshot into u without ever decrementing.
func (u *TokenUsage) Merge(update TokenUsage) {
	if update.InputTokens > u.InputTokens {
		u.InputTokens = update.InputTokens
	}
	if update.OutputTokens > u.OutputTokens {
		u.OutputTokens = update.OutputTokens
	}
	if update.TotalTokens > u.TotalTokens {
		u.TotalTokens = update.TotalTokens
	}
	if u.TotalTokens < u.InputTokens+u.OutputTokens {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
}
