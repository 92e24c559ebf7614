// Package config loads client configuration from an optional config.yaml
// plus PROBE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/deep-probe/internal/session"
)

// Config is the full client configuration.
type Config struct {
	API        APIConfig        `koanf:"api"`
	Thinking   bool             `koanf:"thinking"`
	Journal    JournalConfig    `koanf:"journal"`
	Connection ConnectionConfig `koanf:"connection"`
}

// APIConfig configures the upstream research service.
type APIConfig struct {
	Key     string `koanf:"key"`
	BaseURL string `koanf:"base_url"`
	Agent   string `koanf:"agent"`
}

// JournalConfig configures the local research journal.
type JournalConfig struct {
	// Path is the SQLite database location. Empty disables the journal.
	Path string `koanf:"path"`
}

// ConnectionConfig configures retry, liveness, and timeout behavior.
// Durations are strings like "2s" or "60m".
type ConnectionConfig struct {
	MaxRetries         int    `koanf:"max_retries"`
	RateLimitRetries   int    `koanf:"rate_limit_retries"`
	BaseRetryDelay     string `koanf:"base_retry_delay"`
	RateLimitBaseDelay string `koanf:"rate_limit_base_delay"`
	MaxRateLimitDelay  string `koanf:"max_rate_limit_delay"`
	LivenessWindow     string `koanf:"liveness_window"`
	TotalTimeout       string `koanf:"total_timeout"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from path (or config.yaml when path is empty)
// and the environment. Environment variables override the file; PROBE_API__KEY
// maps to api.key, and DEEP_RESEARCH_API_KEY is accepted as a bare fallback
// for the credential.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("PROBE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PROBE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.API.Key = substituteEnvVars(cfg.API.Key)
	if cfg.API.Key == "" {
		cfg.API.Key = os.Getenv("DEEP_RESEARCH_API_KEY")
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"api.base_url":                     "https://api.deepresearch.example.com",
		"api.agent":                        "deep-research-pro-preview-12-2025",
		"thinking":                         true,
		"journal.path":                     defaultJournalPath(),
		"connection.max_retries":           3,
		"connection.rate_limit_retries":    5,
		"connection.base_retry_delay":      "2s",
		"connection.rate_limit_base_delay": "60s",
		"connection.max_rate_limit_delay":  "300s",
		"connection.liveness_window":       "120s",
		"connection.total_timeout":         "60m",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".deep-probe", "journal.db")
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// SessionConfig converts the connection settings into a session.Config,
// validating the duration strings.
func (c *Config) SessionConfig() (session.Config, error) {
	sc := session.DefaultConfig()
	sc.Backoff.MaxNetworkRetries = c.Connection.MaxRetries
	sc.Backoff.MaxRateLimitRetries = c.Connection.RateLimitRetries

	for _, d := range []struct {
		value  string
		target *time.Duration
		name   string
	}{
		{c.Connection.BaseRetryDelay, &sc.Backoff.BaseDelay, "base_retry_delay"},
		{c.Connection.RateLimitBaseDelay, &sc.Backoff.RateLimitBaseDelay, "rate_limit_base_delay"},
		{c.Connection.MaxRateLimitDelay, &sc.Backoff.MaxRateLimitDelay, "max_rate_limit_delay"},
		{c.Connection.LivenessWindow, &sc.LivenessWindow, "liveness_window"},
		{c.Connection.TotalTimeout, &sc.TotalTimeout, "total_timeout"},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return session.Config{}, fmt.Errorf("invalid connection.%s %q: %w", d.name, d.value, err)
		}
		*d.target = parsed
	}

	return sc, nil
}
