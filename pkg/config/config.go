package config

import (
	"time"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// Config is the umbrella configuration object returned by Initialize and
// passed to every component at startup.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Reducer   *ReducerConfig
	Monitor   *MonitorConfig
	Server    *ServerConfig
	Ingest    *IngestConfig
	Retention *RetentionConfig
	Masking   *MaskingConfig
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ReducerConfig bounds the in-memory timeline model.
type ReducerConfig struct {
	// MaxSections is the ceiling that triggers eviction.
	MaxSections int `yaml:"max_sections"`

	// RetainSections is how many sections survive an eviction pass.
	RetainSections int `yaml:"retain_sections"`

	// EvictionPolicy is "last_touched" or "insertion".
	EvictionPolicy string `yaml:"eviction_policy"`

	// DiagnosticsLimit caps the per-session diagnostic ring.
	DiagnosticsLimit int `yaml:"diagnostics_limit"`

	// Markers are stripped verbatim from streamed text.
	Markers []string `yaml:"markers"`
}

// DefaultReducerConfig returns the built-in reducer defaults.
func DefaultReducerConfig() *ReducerConfig {
	def := timeline.DefaultConfig()
	return &ReducerConfig{
		MaxSections:      def.MaxSections,
		RetainSections:   def.RetainSections,
		EvictionPolicy:   string(def.Eviction),
		DiagnosticsLimit: def.DiagnosticsLimit,
		Markers:          append([]string(nil), def.Markers...),
	}
}

// Timeline converts the YAML settings into reducer options for the given mode.
func (c *ReducerConfig) Timeline(mode timeline.Mode) timeline.Config {
	return timeline.Config{
		MaxSections:      c.MaxSections,
		RetainSections:   c.RetainSections,
		Eviction:         timeline.EvictionPolicy(c.EvictionPolicy),
		DiagnosticsLimit: c.DiagnosticsLimit,
		Markers:          c.Markers,
		Mode:             mode,
	}
}

// MonitorConfig controls the per-workflow live sessions.
type MonitorConfig struct {
	// MaxEvents is the raw event window kept per workflow. When exceeded the
	// newest half is kept and the session is rebuilt from it.
	MaxEvents int `yaml:"max_events"`

	// IdleTimeout retires workflows that received no event or query.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// QueueSize is the per-workflow command buffer.
	QueueSize int `yaml:"queue_size"`

	// FetchLimit is the page size used when pulling new rows from the store.
	FetchLimit int `yaml:"fetch_limit"`
}

// DefaultMonitorConfig returns the built-in monitor defaults.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		MaxEvents:   10000,
		IdleTimeout: 30 * time.Minute,
		QueueSize:   256,
		FetchLimit:  1000,
	}
}

// ServerConfig holds HTTP and WebSocket settings.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// AllowedWSOrigins are host patterns accepted for WebSocket upgrades.
	// Empty means same-origin only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`

	// CatchupLimit caps the events replayed to a reconnecting client.
	CatchupLimit int `yaml:"catchup_limit"`

	// HistoryLimit is the default page size of history and replay queries.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		HTTPAddr:       ":8080",
		WSWriteTimeout: 10 * time.Second,
		CatchupLimit:   200,
		HistoryLimit:   1000,
	}
}

// IngestConfig holds the gRPC ingestion settings.
type IngestConfig struct {
	// GRPCAddr is the listen address; empty disables gRPC ingestion.
	GRPCAddr string `yaml:"grpc_addr"`

	// MaxBatch caps events accepted by one request.
	MaxBatch int `yaml:"max_batch"`
}

// DefaultIngestConfig returns the built-in ingestion defaults.
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		GRPCAddr: ":9090",
		MaxBatch: 500,
	}
}
