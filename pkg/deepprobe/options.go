package deepprobe

import (
	"log/slog"
	"net/http"

	"github.com/tjfontaine/deep-probe/internal/session"
)

// Option is a functional option for configuring a Client.
type Option func(*settings)

type settings struct {
	configPath  string
	apiKey      string
	baseURL     string
	agent       string
	thinking    *bool
	logger      *slog.Logger
	httpClient  *http.Client
	transport   session.Transport
	journal     Journal
	noJournal   bool
	sessionCfg  *session.Config
	estimator   session.TokenEstimator
	noEstimator bool
}

// WithConfigFile loads configuration from the given path instead of the
// default config.yaml.
func WithConfigFile(path string) Option {
	return func(s *settings) {
		s.configPath = path
	}
}

// WithAPIKey sets the API credential, overriding configuration.
func WithAPIKey(key string) Option {
	return func(s *settings) {
		s.apiKey = key
	}
}

// WithBaseURL sets the research service endpoint.
func WithBaseURL(baseURL string) Option {
	return func(s *settings) {
		s.baseURL = baseURL
	}
}

// WithAgent sets the research agent identifier.
func WithAgent(agent string) Option {
	return func(s *settings) {
		s.agent = agent
	}
}

// WithThinkingSummaries controls whether reasoning summaries are requested
// and aggregated.
func WithThinkingSummaries(enabled bool) Option {
	return func(s *settings) {
		s.thinking = &enabled
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client for the transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *settings) {
		s.httpClient = httpClient
	}
}

// WithTransport replaces the whole transport layer. Intended for tests and
// alternative backends; when set, no API key is required.
func WithTransport(t session.Transport) Option {
	return func(s *settings) {
		s.transport = t
	}
}

// WithJournal sets a custom research journal.
func WithJournal(j Journal) Option {
	return func(s *settings) {
		s.journal = j
	}
}

// WithoutJournal disables the local research journal.
func WithoutJournal() Option {
	return func(s *settings) {
		s.noJournal = true
	}
}

// WithSessionConfig overrides the resilience settings (retry schedules,
// liveness window, total timeout) derived from configuration.
func WithSessionConfig(cfg SessionConfig) Option {
	return func(s *settings) {
		s.sessionCfg = &cfg
	}
}

// WithoutTokenEstimation disables the local token-count fallback.
func WithoutTokenEstimation() Option {
	return func(s *settings) {
		s.noEstimator = true
	}
}
