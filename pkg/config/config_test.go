package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing input", mutate: func(c *Config) { c.Input.Path = "" }, wantErr: "input path is required"},
		{name: "zero batch", mutate: func(c *Config) { c.Performance.BatchSize = 0 }, wantErr: "batch_size must be positive"},
		{name: "zero queue", mutate: func(c *Config) { c.Performance.QueueDepth = 0 }, wantErr: "queue_depth must be positive"},
		{name: "zero chunk", mutate: func(c *Config) { c.Performance.ChunkSize = -1 }, wantErr: "chunk_size must be positive"},
		{name: "no attempts", mutate: func(c *Config) { c.Reliability.RetryAttempts = 0 }, wantErr: "retry_attempts"},
		{name: "shrinking backoff", mutate: func(c *Config) { c.Reliability.RetryMultiplier = 0.5 }, wantErr: "retry_multiplier"},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeouts.ReadTimeout = -time.Second }, wantErr: "timeouts cannot be negative"},
		{name: "sample rate", mutate: func(c *Config) { c.Observability.TracingSampleRate = 2 }, wantErr: "tracing_sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Input.Path = "solution.zip"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetWorkers(t *testing.T) {
	p := PerformanceConfig{Workers: 3}
	assert.Equal(t, 3, p.GetWorkers())

	p.Workers = 0
	assert.GreaterOrEqual(t, p.GetWorkers(), 1)
}

func TestDefaultTargetLocation(t *testing.T) {
	tests := map[string]string{
		"Model Base Solution.zip":      "Model Base Solution.duckdb",
		"runs/Model Base Solution.ZIP": "runs/Model Base Solution.duckdb",
		"runs/Model Base Solution.xml": "runs/Model Base Solution.duckdb",
		"runs/base/":                   "runs/base.duckdb",
		"runs/solution.v2":             "runs/solution.v2.duckdb",
	}
	for in, want := range tests {
		assert.Equal(t, filepath.FromSlash(want), DefaultTargetLocation(filepath.FromSlash(in)), in)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target:\n  overwrite: true\ntimeouts:\n  read_timeout: 5s\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Target.Overwrite)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.ReadTimeout)
	assert.Equal(t, 50000, cfg.Performance.BatchSize)
	assert.True(t, cfg.Input.Sidecars)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input: [unclosed"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("PLEX_TEST_DIR", "/tmp/x")
	assert.Equal(t, "path: /tmp/x/a.zip", substituteEnvVars("path: ${PLEX_TEST_DIR}/a.zip"))
	assert.Equal(t, "path: /a.zip", substituteEnvVars("path: ${PLEX_TEST_UNSET_VAR}/a.zip"))
	assert.Equal(t, "path: ${unterminated", substituteEnvVars("path: ${unterminated"))
	assert.Equal(t, "dir: /spill", substituteEnvVars("dir: ${PLEX_TEST_UNSET_VAR:-/spill}"))

	t.Setenv("PLEX_TEST_NESTED", "${PLEX_TEST_DIR}")
	assert.Equal(t, "v: ${PLEX_TEST_DIR}", substituteEnvVars("v: ${PLEX_TEST_NESTED}"))
}

func TestLoadExpandsDefaults(t *testing.T) {
	t.Setenv("PLEX_TEST_WORKERS", "")
	path := filepath.Join(t.TempDir(), "plexload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
input:
  path: ${PLEX_TEST_ARCHIVE:-base.zip}
performance:
  workers: ${PLEX_TEST_WORKERS:-3}
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "base.zip", cfg.Input.Path)
	assert.Equal(t, 3, cfg.Performance.Workers)
	assert.Equal(t, NewConfig().Performance.BatchSize, cfg.Performance.BatchSize)
}
