package research

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/deep-probe/internal/domain"
)

func (c *Client) errorFromResponse(resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if apiErr, err := ParseErrorResponse(body); err == nil && apiErr != nil {
		msg = apiErr.Message
	}
	probeErr := domain.ErrFromStatusCode(resp.StatusCode, msg)
	if probeErr.Kind == domain.ErrorKindRateLimit {
		if hint := retryAfterHint(resp); hint > 0 {
			probeErr = probeErr.WithRetryAfter(hint)
		}
	}
	return probeErr
}

// Adapter converts the client's raw stream into domain events, implementing
// the session layer's Transport contract. Unrecognized or malformed events
// are dropped with a warning rather than failing the stream.
type Adapter struct {
	client *Client
	log    *slog.Logger
}

// NewAdapter creates an Adapter over the given client.
func NewAdapter(client *Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, log: logger}
}

// Open opens a fresh research stream for topic, or resumes interactionID
// when it is non-empty. The returned channel closes when the underlying
// stream ends.
func (a *Adapter) Open(ctx context.Context, topic, interactionID, lastEventID string) (<-chan domain.Event, error) {
	var (
		raw <-chan StreamEventResult
		err error
	)
	if interactionID != "" {
		raw, err = a.client.ResumeStream(ctx, interactionID, lastEventID)
	} else {
		raw, err = a.client.StreamResearch(ctx, topic)
	}
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Event)
	go a.convert(raw, out)
	return out, nil
}

// Snapshot retrieves the current non-streaming state of an interaction as
// an aggregated result.
func (a *Adapter) Snapshot(ctx context.Context, interactionID string) (*domain.Result, error) {
	interaction, err := a.client.GetInteraction(ctx, interactionID)
	if err != nil {
		return nil, err
	}
	return snapshotResult(interaction), nil
}

// snapshotResult aggregates an interaction snapshot the same way the
// session aggregates a stream: last text output wins as the report,
// citations deduplicate by URL.
func snapshotResult(in *Interaction) *domain.Result {
	res := &domain.Result{
		InteractionID: in.ID,
		Status:        mapInteractionStatus(in.Status),
		CompletedAt:   time.Now(),
	}

	for _, output := range in.Outputs {
		if output.Text != "" {
			res.Report = output.Text
		}
		if output.ThoughtSummary != "" {
			res.Thoughts = append(res.Thoughts, domain.Thought{
				Timestamp: time.Now(),
				Content:   output.ThoughtSummary,
				Phase:     "thinking",
			})
		}
	}

	seen := make(map[string]struct{}, len(in.Citations))
	for _, cite := range in.Citations {
		if _, dup := seen[cite.URL]; dup {
			continue
		}
		seen[cite.URL] = struct{}{}
		res.Sources = append(res.Sources, domain.Citation{
			URL:     cite.URL,
			Title:   cite.Title,
			Snippet: cite.Snippet,
		})
	}

	if in.Usage != nil {
		res.Usage = domain.TokenUsage{
			InputTokens:  in.Usage.PromptTokens,
			OutputTokens: in.Usage.ResponseTokens,
			TotalTokens:  in.Usage.TotalTokens,
		}
	}

	return res
}

func mapInteractionStatus(status string) domain.Status {
	switch status {
	case InteractionStatusCompleted:
		return domain.StatusCompleted
	case InteractionStatusFailed:
		return domain.StatusFailed
	case InteractionStatusCancelled:
		return domain.StatusCancelled
	case InteractionStatusPending:
		return domain.StatusPending
	default:
		return domain.StatusStreaming
	}
}

func (a *Adapter) convert(raw <-chan StreamEventResult, out chan<- domain.Event) {
	defer close(out)

	for res := range raw {
		if res.Err != nil {
			out <- domain.Event{
				Type: domain.EventError,
				Err:  domain.ErrNetwork(res.Err.Error()).WithCause(res.Err),
			}
			return
		}

		ev, ok := a.convertOne(res)
		if !ok {
			continue
		}
		out <- ev
	}
}

func (a *Adapter) convertOne(res StreamEventResult) (domain.Event, bool) {
	switch res.EventType {
	case StreamEventInteractionStart:
		start, err := res.ParseInteractionStart()
		if err != nil {
			return a.drop(res, err)
		}
		return domain.Event{
			Type:          domain.EventInteractionAssigned,
			ID:            res.EventID,
			InteractionID: start.Interaction.ID,
		}, true

	case StreamEventContentDelta:
		delta, err := res.ParseContentDelta()
		if err != nil {
			return a.drop(res, err)
		}
		switch delta.Delta.Type {
		case "text":
			return domain.Event{Type: domain.EventTextDelta, ID: res.EventID, Text: delta.Delta.Text}, true
		case "thought_summary":
			return domain.Event{Type: domain.EventThoughtDelta, ID: res.EventID, Thought: delta.Delta.Content.Text}, true
		default:
			return a.drop(res, fmt.Errorf("unknown delta type %q", delta.Delta.Type))
		}

	case StreamEventCitation:
		cite, err := res.ParseCitation()
		if err != nil {
			return a.drop(res, err)
		}
		return domain.Event{
			Type: domain.EventCitation,
			ID:   res.EventID,
			Citation: &domain.Citation{
				URL:     cite.Citation.URL,
				Title:   cite.Citation.Title,
				Snippet: cite.Citation.Snippet,
			},
		}, true

	case StreamEventUsage:
		usage, err := res.ParseUsage()
		if err != nil {
			return a.drop(res, err)
		}
		return domain.Event{
			Type: domain.EventUsageUpdate,
			ID:   res.EventID,
			Usage: &domain.TokenUsage{
				InputTokens:  usage.Usage.PromptTokens,
				OutputTokens: usage.Usage.ResponseTokens,
				TotalTokens:  usage.Usage.TotalTokens,
			},
		}, true

	case StreamEventInteractionComplete:
		return domain.Event{Type: domain.EventCompleted, ID: res.EventID}, true

	case StreamEventError:
		streamErr, err := res.ParseStreamError()
		if err != nil {
			return a.drop(res, err)
		}
		return domain.Event{
			Type: domain.EventError,
			ID:   res.EventID,
			Err:  classifyStreamError(streamErr.Error.Type, streamErr.Error.Message),
		}, true

	case StreamEventPing:
		return domain.Event{Type: domain.EventPing, ID: res.EventID}, true

	default:
		a.log.Warn("dropping unrecognized stream event", slog.String("event_type", res.EventType))
		return domain.Event{}, false
	}
}

func (a *Adapter) drop(res StreamEventResult, err error) (domain.Event, bool) {
	a.log.Warn("dropping malformed stream event",
		slog.String("event_type", res.EventType),
		slog.String("error", err.Error()))
	return domain.Event{}, false
}

// classifyStreamError maps in-band error types to the canonical taxonomy.
func classifyStreamError(errType, message string) *domain.ProbeError {
	switch errType {
	case "authentication_error", "permission_error":
		return domain.ErrAuth(message)
	case "rate_limit_error", "too_many_requests":
		return domain.ErrRateLimit(message)
	case "overloaded_error", "server_error", "internal_error":
		return domain.ErrServer(message)
	case "connection_error":
		return domain.ErrNetwork(message)
	default:
		return domain.ErrAPI(message)
	}
}
