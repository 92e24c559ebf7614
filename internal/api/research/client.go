// Package research provides the HTTP/SSE client for the remote deep-research
// interactions API, plus the adapter that converts its wire events into the
// domain event model.
package research

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://api.deepresearch.example.com"
	defaultVersion = "2025-12-01"

	// DefaultAgent is the deep-research agent used when none is configured.
	DefaultAgent = "deep-research-pro-preview-12-2025"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithVersion sets the API version header value.
func WithVersion(version string) ClientOption {
	return func(c *Client) {
		c.version = version
	}
}

// WithAgent sets the research agent identifier.
func WithAgent(agent string) ClientOption {
	return func(c *Client) {
		c.agent = agent
	}
}

// WithThinkingSummaries controls whether reasoning summaries are requested.
func WithThinkingSummaries(enabled bool) ClientOption {
	return func(c *Client) {
		c.thinking = enabled
	}
}

// Client is an HTTP client for the deep-research interactions API.
type Client struct {
	apiKey     string
	baseURL    string
	version    string
	agent      string
	thinking   bool
	httpClient *http.Client
}

// NewClient creates a new interactions API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		version:    defaultVersion,
		agent:      DefaultAgent,
		thinking:   true,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) agentConfig() AgentConfig {
	summaries := "auto"
	if !c.thinking {
		summaries = "none"
	}
	return AgentConfig{Type: "deep-research", ThinkingSummaries: summaries}
}

// GetInteraction retrieves the current snapshot of an interaction.
func (c *Client) GetInteraction(ctx context.Context, id string) (*Interaction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/interactions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp, respBody)
	}

	var result Interaction
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// StreamResearch starts a new background research interaction and returns a
// channel of raw stream events. The channel is closed when the stream ends;
// a close without a terminal event means the connection dropped.
func (c *Client) StreamResearch(ctx context.Context, topic string) (<-chan StreamEventResult, error) {
	req := &CreateInteractionRequest{
		Input:       topic,
		Agent:       c.agent,
		Background:  true,
		Stream:      true,
		AgentConfig: c.agentConfig(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/interactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	return c.openStream(httpReq)
}

// ResumeStream reopens the event stream of an existing interaction.
// lastEventID, when non-empty, asks the server to replay only events after
// that cursor.
func (c *Client) ResumeStream(ctx context.Context, id, lastEventID string) (<-chan StreamEventResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/interactions/"+id+"?stream=true", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	if lastEventID != "" {
		httpReq.Header.Set("Last-Event-ID", lastEventID)
	}

	return c.openStream(httpReq)
}

func (c *Client) openStream(httpReq *http.Request) (<-chan StreamEventResult, error) {
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, c.errorFromResponse(resp, respBody)
	}

	out := make(chan StreamEventResult)
	go c.streamReader(resp.Body, out)
	return out, nil
}

func (c *Client) streamReader(body io.ReadCloser, out chan<- StreamEventResult) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Increase buffer size for potentially large chunks
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var currentEvent, currentID string

	for scanner.Scan() {
		line := scanner.Text()

		// Skip empty lines
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}

		if strings.HasPrefix(line, "id: ") {
			currentID = strings.TrimPrefix(line, "id: ")
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")

			out <- StreamEventResult{
				EventType: currentEvent,
				EventID:   currentID,
				Data:      json.RawMessage(data),
			}

			// Stop on terminal events
			if currentEvent == StreamEventInteractionComplete || currentEvent == StreamEventError {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamEventResult{Err: fmt.Errorf("stream read error: %w", err)}
	}
}

// RetryAfter extracts a Retry-After hint from a response, or zero.
func retryAfterHint(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("research-version", c.version)
	req.Header.Set("User-Agent", "deep-probe/1.0")
}
