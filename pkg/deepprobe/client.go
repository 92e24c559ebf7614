// Package deepprobe is the public client for long-running deep research:
// submit a topic, survive disconnects, rate limits, and stalls, and get back
// a complete report with citations and token accounting.
//
// Example:
//
//	probe, err := deepprobe.New(deepprobe.WithAPIKey(key))
//	if err != nil {
//	    return err
//	}
//	result, err := probe.Research(ctx, "What is quantum computing?")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Report)
package deepprobe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/deep-probe/internal/api/research"
	"github.com/tjfontaine/deep-probe/internal/config"
	"github.com/tjfontaine/deep-probe/internal/domain"
	"github.com/tjfontaine/deep-probe/internal/session"
	"github.com/tjfontaine/deep-probe/internal/storage/sqlite"
	"github.com/tjfontaine/deep-probe/internal/tokens"
)

// Re-exported domain types. These are the stable public names.
type (
	Result        = domain.Result
	Citation      = domain.Citation
	Thought       = domain.Thought
	TokenUsage    = domain.TokenUsage
	Status        = domain.Status
	ProbeError    = domain.ProbeError
	ErrorKind     = domain.ErrorKind
	Handlers      = session.Handlers
	SessionConfig = session.Config
	BackoffPolicy = session.BackoffPolicy
)

// Failure kinds callers can branch on.
const (
	ErrorKindAuth      = domain.ErrorKindAuth
	ErrorKindNetwork   = domain.ErrorKindNetwork
	ErrorKindRateLimit = domain.ErrorKindRateLimit
	ErrorKindServer    = domain.ErrorKindServer
	ErrorKindTimeout   = domain.ErrorKindTimeout
	ErrorKindAPI       = domain.ErrorKindAPI
	ErrorKindCancelled = domain.ErrorKindCancelled
)

// Terminal statuses.
const (
	StatusCompleted = domain.StatusCompleted
	StatusFailed    = domain.StatusFailed
	StatusCancelled = domain.StatusCancelled
)

// Journal records research sessions so they can be listed and resumed
// after the process exits.
type Journal interface {
	RecordStart(ctx context.Context, topic string) (string, error)
	RecordResult(ctx context.Context, journalID string, result *Result) error
	RecordFailure(ctx context.Context, journalID string, perr *ProbeError) error
	Close() error
}

// Outcome is the result of an asynchronous research call. Exactly one of
// Result and Err is non-nil.
type Outcome struct {
	Result *Result
	Err    error
}

// Client runs deep research sessions. It is safe for concurrent use; each
// call owns an independent session.
type Client struct {
	transport  session.Transport
	sessionCfg session.Config
	log        *slog.Logger
	journal    Journal
	estimator  session.TokenEstimator
}

// New creates a Client. Configuration is read from config.yaml and
// PROBE_-prefixed environment variables, then overridden by options.
// Without an API key (and no custom transport), New fails with an auth
// error.
func New(opts ...Option) (*Client, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, err
	}

	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}
	if s.sessionCfg != nil {
		sessionCfg = *s.sessionCfg
	}

	c := &Client{
		transport:  s.transport,
		sessionCfg: sessionCfg,
		log:        logger,
		journal:    s.journal,
	}

	if c.transport == nil {
		apiKey := s.apiKey
		if apiKey == "" {
			apiKey = cfg.API.Key
		}
		if apiKey == "" {
			return nil, domain.ErrAuth(
				"no API key provided: set DEEP_RESEARCH_API_KEY or pass deepprobe.WithAPIKey")
		}

		baseURL := s.baseURL
		if baseURL == "" {
			baseURL = cfg.API.BaseURL
		}
		agent := s.agent
		if agent == "" {
			agent = cfg.API.Agent
		}
		thinking := cfg.Thinking
		if s.thinking != nil {
			thinking = *s.thinking
		}
		httpClient := s.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
		}

		apiClient := research.NewClient(apiKey,
			research.WithBaseURL(baseURL),
			research.WithAgent(agent),
			research.WithThinkingSummaries(thinking),
			research.WithHTTPClient(httpClient),
		)
		c.transport = research.NewAdapter(apiClient, logger)
	}

	if c.journal == nil && !s.noJournal && cfg.Journal.Path != "" {
		store, err := sqlite.New(cfg.Journal.Path)
		if err != nil {
			logger.Warn("research journal unavailable",
				slog.String("path", cfg.Journal.Path),
				slog.String("error", err.Error()))
		} else {
			c.journal = store
		}
	}

	if !s.noEstimator {
		estimator, err := tokens.NewEstimator()
		if err != nil {
			logger.Warn("token estimator unavailable", slog.String("error", err.Error()))
		} else {
			c.estimator = estimator
		}
	}

	return c, nil
}

// Research runs deep research to completion, blocking until the session
// reaches a terminal state. It returns either a complete Result or exactly
// one typed *ProbeError carrying the interaction ID and partial state.
func (c *Client) Research(ctx context.Context, topic string) (*Result, error) {
	return c.run(ctx, topic, "", Handlers{})
}

// ResearchWithHandlers runs deep research like Research, additionally
// invoking the given callbacks as progress arrives. Retry, backoff, and
// resume behavior is identical to Research.
func (c *Client) ResearchWithHandlers(ctx context.Context, topic string, h Handlers) (*Result, error) {
	return c.run(ctx, topic, "", h)
}

// ResearchAsync runs deep research on its own goroutine and delivers the
// terminal outcome on the returned channel.
func (c *Client) ResearchAsync(ctx context.Context, topic string) <-chan Outcome {
	return c.async(ctx, topic, "", Handlers{})
}

// Resume drives a previously started interaction to completion.
func (c *Client) Resume(ctx context.Context, interactionID string) (*Result, error) {
	return c.run(ctx, "", interactionID, Handlers{})
}

// ResumeWithHandlers resumes like Resume with progress callbacks.
func (c *Client) ResumeWithHandlers(ctx context.Context, interactionID string, h Handlers) (*Result, error) {
	return c.run(ctx, "", interactionID, h)
}

// ResumeAsync resumes on its own goroutine and delivers the terminal
// outcome on the returned channel.
func (c *Client) ResumeAsync(ctx context.Context, interactionID string) <-chan Outcome {
	return c.async(ctx, "", interactionID, Handlers{})
}

// Close releases client resources.
func (c *Client) Close() error {
	if c.journal != nil {
		return c.journal.Close()
	}
	return nil
}

func (c *Client) async(ctx context.Context, topic, resumeID string, h Handlers) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		res, err := c.run(ctx, topic, resumeID, h)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

func (c *Client) run(ctx context.Context, topic, resumeID string, h Handlers) (*Result, error) {
	var journalID string
	if c.journal != nil && resumeID == "" {
		id, err := c.journal.RecordStart(ctx, topic)
		if err != nil {
			c.log.Warn("failed to journal research start", slog.String("error", err.Error()))
		} else {
			journalID = id
		}
	}

	sess := session.New(c.transport, c.sessionCfg,
		session.WithLogger(c.log),
		session.WithHandlers(h),
		session.WithEstimator(c.estimator),
	)

	result, err := sess.Run(ctx, topic, resumeID)

	if journalID != "" {
		// The caller's context may already be done; journaling the terminal
		// state still has to happen.
		jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err != nil {
			var perr *ProbeError
			if errors.As(err, &perr) {
				if jerr := c.journal.RecordFailure(jctx, journalID, perr); jerr != nil {
					c.log.Warn("failed to journal research failure", slog.String("error", jerr.Error()))
				}
			}
		} else if jerr := c.journal.RecordResult(jctx, journalID, result); jerr != nil {
			c.log.Warn("failed to journal research result", slog.String("error", jerr.Error()))
		}
	}

	return result, err
}
