// Package config loads animus's process-level configuration (durable store
// connection, observability endpoint, log level, provider credentials) and
// its faculty directory (one TOML file per configured faculty). Process
// config is a YAML decode with an environment variable overlay.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration for a running animus instance.
// It is distinct from FacultyConfig (pkg/model), which is per-faculty and
// loaded separately from a TOML directory.
type Config struct {
	// Version is the config file schema version; omitted means current.
	Version int `yaml:"version"`

	// DatabaseURL is the durable store connection string (Postgres).
	DatabaseURL string `yaml:"database_url"`

	// OTELEndpoint is the optional OpenTelemetry collector address. Empty
	// disables trace export.
	OTELEndpoint string `yaml:"otel_endpoint"`

	// LogLevel is one of debug|info|warn|error. Defaults to "info".
	LogLevel string `yaml:"log_level"`

	// LogFormat is "json" or "text". Defaults to "json".
	LogFormat string `yaml:"log_format"`

	// AnthropicAPIKey authenticates the LLM client.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	// FacultiesDir is the directory of per-faculty TOML files.
	FacultiesDir string `yaml:"faculties_dir"`

	// ScratchRoot is the root directory under which each focus gets an
	// ephemeral scratch directory for hook subprocess I/O.
	ScratchRoot string `yaml:"scratch_root"`

	// MaxConcurrentFoci is the control plane's global concurrency cap.
	MaxConcurrentFoci int `yaml:"max_concurrent_foci"`

	// VisibilityTimeoutSeconds bounds how long a claimed queue message
	// stays hidden before it would become visible again if never archived.
	VisibilityTimeoutSeconds int `yaml:"visibility_timeout_seconds"`
}

// Default returns a Config with every field at its documented default.
func Default() Config {
	return Config{
		LogLevel:                 "info",
		LogFormat:                "json",
		FacultiesDir:             "faculties",
		ScratchRoot:              "/tmp/animus/focus",
		MaxConcurrentFoci:        8,
		VisibilityTimeoutSeconds: 300,
	}
}

// Load reads a YAML config file (if path is non-empty and exists), then
// overlays process environment variables (DATABASE_URL, OTEL_ENDPOINT,
// LOG_LEVEL, ANTHROPIC_API_KEY).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("OTEL_ENDPOINT"); v != "" {
		c.OTELEndpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.AnthropicAPIKey = v
	}
	if v := os.Getenv("ANIMUS_FACULTIES_DIR"); v != "" {
		c.FacultiesDir = v
	}
	if v := os.Getenv("ANIMUS_SCRATCH_ROOT"); v != "" {
		c.ScratchRoot = v
	}
}

// Validate checks the fields Load cannot sanity-check via zero values
// alone. An empty DatabaseURL is valid; it selects the in-memory store,
// used for local runs and tests rather than production deployments.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}
