package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
	"github.com/ajitpratap0/plexload/pkg/testutil"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{plexerrors.New(plexerrors.ErrorTypeArchiveCorrupt, "x"), 10},
		{plexerrors.New(plexerrors.ErrorTypeMetadataMalformed, "x"), 20},
		{plexerrors.New(plexerrors.ErrorTypeUnresolvedSeriesKey, "x"), 31},
		{plexerrors.BatchWriteFailed(errors.New("x"), 3), 41},
		{plexerrors.New(plexerrors.ErrorTypeTargetAlreadyExists, "x"), 42},
		{plexerrors.New(plexerrors.ErrorTypeIoTimeout, "x"), 50},
		{plexerrors.New(plexerrors.ErrorTypeCancelled, "x"), 130},
		{plexerrors.New(plexerrors.ErrorTypeConfig, "x"), 2},
		{plexerrors.New(plexerrors.ErrorTypeInternal, "x"), 1},
		{errors.New("plain"), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestConvertToSQLite(t *testing.T) {
	dir := t.TempDir()
	archive := testutil.GeneratorSolution(10.5, 12.0, 9.75).Write(t, dir)
	target := filepath.Join(dir, "out.sqlite")
	report := filepath.Join(dir, "report.json")

	code, stdout, stderr := run(t, "convert", "-i", archive, "-o", target, "--report-json", report)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "state: done")

	b, err := os.ReadFile(report)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "sqlite", decoded["engine"])
	assert.EqualValues(t, 3, decoded["fact_rows"])

	code, _, stderr = run(t, "convert", "-i", archive, "-o", target)
	assert.Equal(t, 42, code)
	assert.Contains(t, stderr, "target already exists")

	code, _, stderr = run(t, "convert", "-i", archive, "-o", target, "--overwrite", "--batch-size", "2")
	assert.Equal(t, 0, code, stderr)
}

func TestConvertUnresolvedKeyExitCode(t *testing.T) {
	dir := t.TempDir()
	sol := testutil.GeneratorSolution(1, 2, 3)
	sol.Add("t_key_index", "key_id", "99", "period_type_id", "0", "position", "0", "length", "1",
		"period_offset", "0")
	archive := sol.Write(t, dir)
	target := filepath.Join(dir, "out.sqlite")

	code, _, _ := run(t, "convert", "-i", archive, "-o", target)
	assert.Equal(t, 31, code)
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestConvertDryRun(t *testing.T) {
	archive := testutil.GeneratorSolution(1, 2, 3).Write(t, t.TempDir())
	code, stdout, stderr := run(t, "convert", "-i", archive, "--dry-run")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "(dry run)")
	assert.Contains(t, stdout, "[discard]")
	assert.Contains(t, stdout, "fact rows: 3")
}

func TestConvertDefaultOutput(t *testing.T) {
	archive := testutil.GeneratorSolution(1, 2, 3).Write(t, t.TempDir())
	code, stdout, stderr := run(t, "convert", "-i", archive)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "[duckdb]")

	want := strings.TrimSuffix(archive, ".zip") + ".duckdb"
	_, err := os.Stat(want)
	assert.NoError(t, err)
}

func TestConvertMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	xml := testutil.GeneratorSolution(1, 2, 3).WriteXML(t, dir)
	code, stdout, stderr := run(t, "convert", "-i", xml, "-o", filepath.Join(dir, "out.sqlite"))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "state: done")
	assert.Contains(t, stdout, "fact rows: 0")
}

func TestConvertConfigErrors(t *testing.T) {
	code, _, _ := run(t, "convert", "-o", "out.sqlite")
	assert.Equal(t, 2, code)

	code, _, _ = run(t, "convert", "--no-such-flag")
	assert.Equal(t, 2, code)

	code, _, _ = run(t, "convert", "-i", "x.zip", "-o", "out.sqlite", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 2, code)
}

func TestBuildConfigLayers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plexload.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
input:
  path: from-file.zip
target:
  location: from-file.duckdb
performance:
  batch_size: 100
  workers: 2
`), 0o600))
	t.Setenv("PLEXLOAD_PERFORMANCE_WORKERS", "6")

	v := viper.New()
	cmd := convertCommand(v)
	require.NoError(t, cmd.ParseFlags([]string{"--config", file, "-o", "flag.sqlite"}))
	cfg, err := buildConfig(v, convertFlags{configFile: file})
	require.NoError(t, err)

	assert.Equal(t, "from-file.zip", cfg.Input.Path)
	assert.Equal(t, "flag.sqlite", cfg.Target.Location)
	assert.Equal(t, 100, cfg.Performance.BatchSize)
	assert.Equal(t, 6, cfg.Performance.Workers)
}

func TestInspect(t *testing.T) {
	archive := testutil.GeneratorSolution(10.5, 12.0, 9.75).Write(t, t.TempDir())

	code, stdout, stderr := run(t, "inspect", "-i", archive)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "t_data_0.BIN")
	assert.Contains(t, stdout, "ST__Interval__Generators__Generation")

	code, stdout, stderr = run(t, "inspect", "-i", archive, "--json")
	require.Equal(t, 0, code, stderr)
	var in Inspection
	require.NoError(t, json.Unmarshal([]byte(stdout), &in))
	assert.EqualValues(t, 3, in.TotalPoints)
	require.Len(t, in.FactTables, 1)
	assert.Equal(t, "MW", in.FactTables[0].Unit)
}

func TestVersion(t *testing.T) {
	code, stdout, _ := run(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "plexload v"+version)
	assert.Contains(t, stdout, "sqlite")
}
