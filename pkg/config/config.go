// Package config provides the configuration for a plexload conversion run.
// A single Config structure carries every setting, organized into sections:
//   - Input: archive location and model name
//   - Target: output location, engine and overwrite policy
//   - Performance: batch size, decode workers, queue depth
//   - Timeouts: archive read and target write deadlines
//   - Reliability: retry attempts and backoff
//   - Decode: spill directory for memory-mapped decoding
//   - Observability: logging, metrics, tracing and progress
//
// Example usage:
//
//	cfg := config.NewConfig()
//	cfg.Input.Path = "Model Base Solution.zip"
//	cfg.Target.Location = "base.duckdb"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ajitpratap0/plexload/pkg/logger"
)

// Config is the configuration of one conversion run.
type Config struct {
	// Input describes the solution archive
	Input InputConfig `yaml:"input" json:"input"`

	// Target describes where the database is written
	Target TargetConfig `yaml:"target" json:"target"`

	// Performance settings control memory bounds and parallelism
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Timeouts bound blocking reads and writes
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability controls retries of timed out operations
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Decode tunes the binary series decoder
	Decode DecodeConfig `yaml:"decode" json:"decode"`

	// Observability settings for logging, metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// InputConfig describes the solution archive.
type InputConfig struct {
	// Path is a .zip file or a directory holding exactly one .zip
	Path string `yaml:"path" json:"path"`
	// ModelName overrides the model name derived from the archive name
	ModelName string `yaml:"model_name" json:"model_name"`
	// Sidecars loads the simulation log and runstats.json next to the archive
	Sidecars bool `yaml:"sidecars" json:"sidecars"`
}

// TargetConfig describes the output database.
type TargetConfig struct {
	// Location is a file path, directory or connection URL
	Location string `yaml:"location" json:"location"`
	// Engine selects the driver; empty means inferred from Location
	Engine string `yaml:"engine" json:"engine"`
	// Overwrite replaces an existing target instead of failing
	Overwrite bool `yaml:"overwrite" json:"overwrite"`
}

// PerformanceConfig bounds memory and parallelism.
type PerformanceConfig struct {
	// BatchSize is the number of fact rows committed per transaction
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Workers is the maximum number of concurrent decode workers
	Workers int `yaml:"workers" json:"workers"`
	// QueueDepth is the capacity, in chunks, of each worker's queue
	QueueDepth int `yaml:"queue_depth" json:"queue_depth"`
	// ChunkSize is the number of values a worker decodes per chunk
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
}

// TimeoutConfig bounds blocking operations.
type TimeoutConfig struct {
	// ReadTimeout bounds each archive read
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	// WriteTimeout bounds each target commit attempt
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// ReliabilityConfig controls retries of IoTimeout conditions.
type ReliabilityConfig struct {
	// RetryAttempts is the total number of attempts per operation
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between attempts
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
}

// DecodeConfig tunes the decoder.
type DecodeConfig struct {
	// SpillDir, when set, extracts binary entries there and memory maps them
	SpillDir string `yaml:"spill_dir" json:"spill_dir"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// Logging configures the global zap logger
	Logging logger.Config `yaml:"logging" json:"logging"`
	// MetricsAddr serves Prometheus metrics when non-empty (e.g. ":9102")
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing exports OpenTelemetry spans to stdout
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	// ProgressInterval is how often progress is logged; zero disables it
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`
}

// NewConfig creates a Config with defaults suitable for multi-gigabyte
// archives on a workstation.
func NewConfig() *Config {
	return &Config{
		Input: InputConfig{
			Sidecars: true,
		},
		Performance: PerformanceConfig{
			BatchSize:  50000,
			Workers:    min(runtime.NumCPU(), 8),
			QueueDepth: 4,
			ChunkSize:  4096,
		},
		Timeouts: TimeoutConfig{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   30 * time.Second,
		},
		Observability: ObservabilityConfig{
			Logging: logger.Config{
				Level:    "info",
				Encoding: "console",
			},
			TracingSampleRate: 1.0,
			ProgressInterval:  10 * time.Second,
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Input.Path == "" {
		return fmt.Errorf("input path is required")
	}
	if c.Performance.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.Performance.QueueDepth <= 0 {
		return fmt.Errorf("queue_depth must be positive")
	}
	if c.Performance.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.Reliability.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1")
	}
	if c.Reliability.RetryMultiplier < 1 {
		return fmt.Errorf("retry_multiplier must be at least 1")
	}
	if c.Timeouts.ReadTimeout < 0 || c.Timeouts.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("tracing_sample_rate must be within [0, 1]")
	}
	return nil
}

// DefaultTargetLocation is the DuckDB file written when no output is given:
// the input path with its .zip or .xml extension replaced by .duckdb. A
// directory input gets a sibling file named after the directory.
func DefaultTargetLocation(input string) string {
	input = filepath.Clean(input)
	switch strings.ToLower(filepath.Ext(input)) {
	case ".zip", ".xml":
		input = strings.TrimSuffix(input, filepath.Ext(input))
	}
	return input + ".duckdb"
}

// GetWorkers returns the number of decode workers, at least 1.
func (p *PerformanceConfig) GetWorkers() int {
	if p.Workers <= 0 {
		return runtime.NumCPU()
	}
	return p.Workers
}
