// Package config defines service configuration and its layered loading.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Dispatch modes.
const (
	ModeInline      = "inline"
	ModeDistributed = "distributed"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// CORSAllowedOrigins lists the browser origins the API answers.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Mode selects inline or queue-backed import execution.
	Mode string `koanf:"mode"`

	// QueueSize bounds pending jobs in distributed mode.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of concurrent import jobs.
	WorkerCount int `koanf:"worker_count"`

	JobMaxAttempts     int           `koanf:"job_max_attempts"`
	JobResultRetention time.Duration `koanf:"job_result_retention"`

	// AwaitTimeoutMS caps how long a request waits on a queued import.
	AwaitTimeoutMS int `koanf:"await_timeout_ms"`

	Store  string `koanf:"store"`
	DBPath string `koanf:"db_path"`

	// CatalogPath is an optional YAML seed loaded at startup.
	CatalogPath string `koanf:"catalog_path"`

	// ScoreIDCacheSize bounds the persisted-ScoreID cache.
	ScoreIDCacheSize int `koanf:"score_id_cache_size"`

	// OrphanIntervalMS schedules orphan passes; zero disables them.
	OrphanIntervalMS int `koanf:"orphan_interval_ms"`

	StreamStallTimeoutMS int `koanf:"stream_stall_timeout_ms"`
	StreamBufferSize     int `koanf:"stream_buffer_size"`

	ScoreHostURL       string  `koanf:"score_host_url"`
	ScoreHostRPS       float64 `koanf:"score_host_rps"`
	ScoreHostTimeoutMS int     `koanf:"score_host_timeout_ms"`

	ArcadeFeedURL string `koanf:"arcade_feed_url"`

	// PBConcurrency bounds parallel chart recomputes within one PB pass.
	PBConcurrency int `koanf:"pb_concurrency"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		CORSAllowedOrigins:   []string{"*"},
		Mode:                 ModeInline,
		QueueSize:            10_000,
		WorkerCount:          runtime.NumCPU() * 4,
		JobMaxAttempts:       3,
		JobResultRetention:   10 * time.Minute,
		AwaitTimeoutMS:       120_000,
		Store:                StoreMemory,
		DBPath:               "scoreingest.db",
		ScoreIDCacheSize:     100_000,
		OrphanIntervalMS:     15 * 60 * 1000,
		StreamStallTimeoutMS: 5000,
		StreamBufferSize:     64,
		ScoreHostURL:         "http://localhost:9181",
		ScoreHostRPS:         5,
		ScoreHostTimeoutMS:   10_000,
		ArcadeFeedURL:        "http://localhost:9182",
		PBConcurrency:        4,
	}
}

// Validate checks values the service cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Mode != ModeInline && c.Mode != ModeDistributed:
		return fmt.Errorf("%w: mode %q is not inline or distributed", ErrInvalidConfig, c.Mode)
	case c.Store != StoreMemory && c.Store != StoreSQLite:
		return fmt.Errorf("%w: store %q is not memory or sqlite", ErrInvalidConfig, c.Store)
	case c.Store == StoreSQLite && c.DBPath == "":
		return fmt.Errorf("%w: db_path is required for the sqlite store", ErrInvalidConfig)
	case c.QueueSize <= 0, c.WorkerCount <= 0, c.JobMaxAttempts <= 0:
		return fmt.Errorf("%w: queue_size, worker_count and job_max_attempts must be positive", ErrInvalidConfig)
	case c.AwaitTimeoutMS <= 0:
		return fmt.Errorf("%w: await_timeout_ms must be positive", ErrInvalidConfig)
	case c.ScoreIDCacheSize <= 0:
		return fmt.Errorf("%w: score_id_cache_size must be positive", ErrInvalidConfig)
	case c.OrphanIntervalMS < 0:
		return fmt.Errorf("%w: orphan_interval_ms must not be negative", ErrInvalidConfig)
	case c.StreamStallTimeoutMS <= 0 || c.StreamBufferSize <= 0:
		return fmt.Errorf("%w: stream settings must be positive", ErrInvalidConfig)
	case c.ScoreHostRPS <= 0:
		return fmt.Errorf("%w: score_host_rps must be positive", ErrInvalidConfig)
	case c.PBConcurrency <= 0:
		return fmt.Errorf("%w: pb_concurrency must be positive", ErrInvalidConfig)
	}
	return nil
}

// AwaitTimeout is AwaitTimeoutMS as a duration.
func (c *Config) AwaitTimeout() time.Duration { return ms(c.AwaitTimeoutMS) }

// OrphanInterval is OrphanIntervalMS as a duration.
func (c *Config) OrphanInterval() time.Duration { return ms(c.OrphanIntervalMS) }

// StreamStallTimeout is StreamStallTimeoutMS as a duration.
func (c *Config) StreamStallTimeout() time.Duration { return ms(c.StreamStallTimeoutMS) }

// ScoreHostTimeout is ScoreHostTimeoutMS as a duration.
func (c *Config) ScoreHostTimeout() time.Duration { return ms(c.ScoreHostTimeoutMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
