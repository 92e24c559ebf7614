package research

import (
	"encoding/json"
	"fmt"
)

// CreateInteractionRequest starts a background research interaction.
type CreateInteractionRequest struct {
	Input       string      `json:"input"`
	Agent       string      `json:"agent"`
	Background  bool        `json:"background"`
	Stream      bool        `json:"stream,omitempty"`
	AgentConfig AgentConfig `json:"agent_config"`
}

// AgentConfig configures the research agent.
type AgentConfig struct {
	Type string `json:"type"`

	// ThinkingSummaries is "auto" to stream reasoning summaries, "none"
	// to suppress them.
	ThinkingSummaries string `json:"thinking_summaries"`
}

// Interaction is the non-streaming snapshot of a research interaction.
type Interaction struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Outputs   []Output       `json:"outputs,omitempty"`
	Citations []WireCitation `json:"citations,omitempty"`
	Usage     *WireUsage     `json:"usage_metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Interaction status values reported by the service.
const (
	InteractionStatusPending    = "pending"
	InteractionStatusInProgress = "in_progress"
	InteractionStatusCompleted  = "completed"
	InteractionStatusFailed     = "failed"
	InteractionStatusCancelled  = "cancelled"
)

// Output is one output block of an interaction snapshot.
type Output struct {
	Text           string `json:"text,omitempty"`
	ThoughtSummary string `json:"thought_summary,omitempty"`
}

// WireCitation is a source reference as emitted by the service.
type WireCitation struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// WireUsage is token accounting as emitted by the service.
type WireUsage struct {
	PromptTokens   int `json:"prompt_token_count"`
	ResponseTokens int `json:"candidates_token_count"`
	TotalTokens    int `json:"total_token_count"`
}

// Streaming event types

// Stream event names carried on the SSE "event:" field.
const (
	StreamEventInteractionStart    = "interaction.start"
	StreamEventContentDelta        = "content.delta"
	StreamEventCitation            = "citation"
	StreamEventUsage               = "usage"
	StreamEventInteractionComplete = "interaction.complete"
	StreamEventError               = "error"
	StreamEventPing                = "ping"
)

// InteractionStartEvent announces the interaction and its identifier.
type InteractionStartEvent struct {
	Interaction struct {
		ID string `json:"id"`
	} `json:"interaction"`
}

// ContentDeltaEvent carries one chunk of report text or reasoning summary.
type ContentDeltaEvent struct {
	Delta struct {
		Type    string `json:"type"` // "text" or "thought_summary"
		Text    string `json:"text,omitempty"`
		Content struct {
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"delta"`
}

// CitationEvent carries one source reference.
type CitationEvent struct {
	Citation WireCitation `json:"citation"`
}

// UsageEvent carries a token accounting update.
type UsageEvent struct {
	Usage WireUsage `json:"usage"`
}

// StreamErrorEvent carries an in-band failure.
type StreamErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ErrorResponse is the body of a non-2xx HTTP response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError contains error details from a non-2xx response.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ParseErrorResponse attempts to parse an error response body from JSON.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}

// StreamEventResult wraps a raw streaming event or a transport-level error.
type StreamEventResult struct {
	EventType string
	EventID   string
	Data      json.RawMessage
	Err       error
}

// ParseInteractionStart parses an interaction.start event.
func (r *StreamEventResult) ParseInteractionStart() (*InteractionStartEvent, error) {
	var event InteractionStartEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseContentDelta parses a content.delta event.
func (r *StreamEventResult) ParseContentDelta() (*ContentDeltaEvent, error) {
	var event ContentDeltaEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseCitation parses a citation event.
func (r *StreamEventResult) ParseCitation() (*CitationEvent, error) {
	var event CitationEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseUsage parses a usage event.
func (r *StreamEventResult) ParseUsage() (*UsageEvent, error) {
	var event UsageEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseStreamError parses an error event.
func (r *StreamEventResult) ParseStreamError() (*StreamErrorEvent, error) {
	var event StreamErrorEvent
	if err := json.Unmarshal(r.Data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
