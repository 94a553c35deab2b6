// Package config provides configuration types and defaults for observ.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/observ/internal/history"
	"github.com/zjrosen/observ/internal/log"
	"github.com/zjrosen/observ/internal/metrics"
	"github.com/zjrosen/observ/internal/pubsub"
	"github.com/zjrosen/observ/internal/tracing"
)

// Config holds all configuration options for observ.
type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	Emit    EmitConfig     `mapstructure:"emit"`
	Stream  StreamConfig   `mapstructure:"stream"`
	History HistoryConfig  `mapstructure:"history"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Tracing tracing.Config `mapstructure:"tracing"`
	Probes  []string       `mapstructure:"probes"`
}

// LogConfig controls the category logger.
type LogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Level   string `mapstructure:"level"` // debug, info, warn or error
}

// EmitConfig controls how Observables report callback failures.
type EmitConfig struct {
	ErrorPolicy string `mapstructure:"error_policy"` // fail_fast (default) or collect_all
}

// StreamConfig controls channel bridges created by pubsub.Stream.
type StreamConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// HistoryConfig controls the "history" probe.
type HistoryConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// MetricsConfig controls the "metrics" probe and its scrape endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Addr      string `mapstructure:"addr"` // empty disables the HTTP endpoint
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Enabled: false,
			Path:    "observ.log",
			Level:   "info",
		},
		Emit: EmitConfig{
			ErrorPolicy: pubsub.FailFast.String(),
		},
		Stream: StreamConfig{
			BufferSize: pubsub.DefaultStreamBuffer,
		},
		History: HistoryConfig{
			TTL:             history.DefaultTTL,
			CleanupInterval: history.DefaultCleanupInterval,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: metrics.DefaultNamespace,
		},
		Tracing: tracing.DefaultConfig(),
		Probes:  []string{"log"},
	}
}

// ErrorPolicy converts Emit.ErrorPolicy.
func (c Config) ErrorPolicy() (pubsub.ErrorPolicy, error) {
	return pubsub.ParseErrorPolicy(c.Emit.ErrorPolicy)
}

// LogLevel converts Log.Level. An empty level means info.
func (c Config) LogLevel() (log.Level, error) {
	if c.Log.Level == "" {
		return log.LevelInfo, nil
	}
	return log.ParseLevel(c.Log.Level)
}

// Validate checks the whole config and returns the first problem found.
func (c Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := c.ErrorPolicy(); err != nil {
		return fmt.Errorf("emit.error_policy: %w", err)
	}
	if c.Stream.BufferSize < 0 {
		return fmt.Errorf("stream.buffer_size must not be negative, got %d", c.Stream.BufferSize)
	}
	if c.History.TTL < 0 || c.History.CleanupInterval < 0 {
		return fmt.Errorf("history durations must not be negative")
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}
	return ValidateProbes(c.Probes)
}

// ValidateProbes checks that probe names are unique and non-empty. Whether a
// name is registered is only known once the binary has registered its probes.
func ValidateProbes(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if name == "" {
			return fmt.Errorf("probes[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("probes[%d]: duplicate probe %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// DefaultTracesFilePath returns the JSONL trace file under configDir.
func DefaultTracesFilePath(configDir string) string {
	return filepath.Join(configDir, "traces", "traces.jsonl")
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# observ configuration

# Debug log (also enabled by --debug or OBSERV_DEBUG)
log:
  enabled: false
  path: observ.log  # "-" logs to stderr
  level: info            # debug, info, warn, error

# How Emit reports callback failures
#   fail_fast   - first failure, after every callback has finished (default)
#   collect_all - every failure, aggregated
emit:
  error_policy: fail_fast

# Channel bridges (pubsub.Stream); events are dropped when the buffer is full
stream:
  buffer_size: 64

# "history" probe: last emit per observable and event
history:
  ttl: 10m
  cleanup_interval: 30m

# "metrics" probe: Prometheus counters and histograms
metrics:
  enabled: false
  namespace: observ
  # addr: localhost:9464  # serve /metrics while the playground runs

# Distributed tracing: one span per emit, one child span per callback
tracing:
  enabled: false
  exporter: file                 # none, file, stdout, otlp
  # file_path: ~/.config/observ/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
  service_name: observ

# Activity probes attached to every observable: log, history, metrics, noop
probes:
  - log
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
