package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/internal/pipeline"
	"github.com/ajitpratap0/plexload/pkg/config"
	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/logger"
	"github.com/ajitpratap0/plexload/pkg/metrics"
	"github.com/ajitpratap0/plexload/pkg/observability"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"

	// Register every target engine
	_ "github.com/ajitpratap0/plexload/pkg/engine/columnar"
	_ "github.com/ajitpratap0/plexload/pkg/engine/discard"
	_ "github.com/ajitpratap0/plexload/pkg/engine/duckdb"
	_ "github.com/ajitpratap0/plexload/pkg/engine/memory"
	_ "github.com/ajitpratap0/plexload/pkg/engine/postgres"
	_ "github.com/ajitpratap0/plexload/pkg/engine/sqldb"
)

var version = "0.1.0"

const (
	envPrefix     = "PLEXLOAD"
	dryRunTarget  = "discard://dry-run"
	exitConfig    = 2
	exitUnhandled = 1
)

var exitCodes = map[plexerrors.ErrorType]int{
	plexerrors.ErrorTypeArchiveCorrupt:             10,
	plexerrors.ErrorTypeEntryNotFound:              11,
	plexerrors.ErrorTypeUnsupportedCompression:     12,
	plexerrors.ErrorTypeMetadataMalformed:          20,
	plexerrors.ErrorTypeMetadataVersionUnsupported: 21,
	plexerrors.ErrorTypeDirectoryCorrupt:           30,
	plexerrors.ErrorTypeUnresolvedSeriesKey:        31,
	plexerrors.ErrorTypePayloadTruncated:           32,
	plexerrors.ErrorTypeSchemaCreateFailed:         40,
	plexerrors.ErrorTypeBatchWriteFailed:           41,
	plexerrors.ErrorTypeTargetAlreadyExists:        42,
	plexerrors.ErrorTypeIoTimeout:                  50,
	plexerrors.ErrorTypeCancelled:                  130,
	plexerrors.ErrorTypeConfig:                     exitConfig,
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[plexerrors.TypeOf(err)]; ok {
		return code
	}
	return exitUnhandled
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "plexload",
		Short: "plexload - convert PLEXOS solution archives into queryable databases",
		Long: `plexload reads a PLEXOS solution archive (a zip holding the XML metadata and the
t_data_<n>.BIN series files) and loads it into DuckDB, SQLite, PostgreSQL, MySQL,
Parquet or Avro, with one fact table per phase, period type, collection and property.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeConfig, "invalid arguments")
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plexload v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "Engines: %s\n", strings.Join(engine.Default().Names(), ", "))
		},
	})
	root.AddCommand(newConvertCommand(), newInspectCommand())
	return root
}

// convertFlags are the flags that have no configuration file counterpart.
type convertFlags struct {
	configFile string
	reportJSON string
	dryRun     bool
	verbose    int
}

func newConvertCommand() *cobra.Command {
	return convertCommand(viper.New())
}

func convertCommand(v *viper.Viper) *cobra.Command {
	var flags convertFlags

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a solution archive into a target database",
		Long: `Convert a solution archive into a target database.

The target engine is inferred from the output location (.duckdb, .sqlite, .db,
a directory ending in .parquet or .avro, postgres:// or mysql:// URLs) unless
--engine is given. Without --output the target is a DuckDB file next to the
input, named after it. An existing target is only replaced with --overwrite.
The input may also be a bare metadata XML document, which loads the
dimensions and leaves the fact tables empty.

Every flag can also be set through the environment, e.g. PLEXLOAD_TARGET_LOCATION
or PLEXLOAD_PERFORMANCE_BATCH_SIZE, and through a YAML file given with --config.

Example:
  plexload convert -i "Model Base Solution.zip" -o base.duckdb --overwrite`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(v, flags)
			if err != nil {
				return err
			}
			return runConvert(cmd.Context(), cmd.OutOrStdout(), cfg, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configFile, "config", "c", "", "Path to a YAML configuration file")
	f.StringP("input", "i", "", "Solution archive, or a directory holding exactly one .zip (required)")
	f.StringP("output", "o", "", "Target file, directory or connection URL (default: the input path with a .duckdb extension)")
	f.Bool("overwrite", false, "Replace an existing target")
	f.String("engine", "", "Target engine: "+strings.Join(engine.Default().Names(), ", ")+" (default: inferred from --output)")
	f.String("model", "", "Model name used to select the metadata entry (default: derived from the archive name)")
	f.Int("batch-size", 0, "Fact rows per committed transaction. Bounds peak memory")
	f.Int("workers", 0, "Maximum number of BIN entries decoded concurrently")
	f.String("spill-dir", "", "Extract BIN entries under this directory and memory map them while decoding")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	f.Bool("trace", false, "Export OpenTelemetry spans to stderr")
	f.BoolVar(&flags.dryRun, "dry-run", false, "Decode and validate every row, counting instead of writing")
	f.StringVar(&flags.reportJSON, "report-json", "", "Write the run report as JSON to this file")
	f.CountVarP(&flags.verbose, "verbose", "v", "Increase log verbosity (-v debug, -vv development logging)")

	bindings := map[string]string{
		"input.path":                   "input",
		"input.model_name":             "model",
		"target.location":              "output",
		"target.overwrite":             "overwrite",
		"target.engine":                "engine",
		"performance.batch_size":       "batch-size",
		"performance.workers":          "workers",
		"decode.spill_dir":             "spill-dir",
		"observability.metrics_addr":   "metrics-addr",
		"observability.enable_tracing": "trace",
	}
	for key, name := range bindings {
		_ = v.BindPFlag(key, f.Lookup(name))
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return cmd
}

// buildConfig layers defaults, the YAML file, environment variables and
// flags, in increasing precedence.
func buildConfig(v *viper.Viper, flags convertFlags) (*config.Config, error) {
	cfg := config.NewConfig()
	if flags.configFile != "" {
		if err := config.LoadInto(flags.configFile, cfg); err != nil {
			return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeConfig, "cannot load configuration")
		}
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) && v.GetInt(key) != 0 {
			*dst = v.GetInt(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	setString("input.path", &cfg.Input.Path)
	setString("input.model_name", &cfg.Input.ModelName)
	setString("target.location", &cfg.Target.Location)
	setString("target.engine", &cfg.Target.Engine)
	setBool("target.overwrite", &cfg.Target.Overwrite)
	setInt("performance.batch_size", &cfg.Performance.BatchSize)
	setInt("performance.workers", &cfg.Performance.Workers)
	setString("decode.spill_dir", &cfg.Decode.SpillDir)
	setString("observability.metrics_addr", &cfg.Observability.MetricsAddr)
	setBool("observability.enable_tracing", &cfg.Observability.EnableTracing)

	switch {
	case flags.verbose >= 2:
		cfg.Observability.Logging.Level = "debug"
		cfg.Observability.Logging.Development = true
	case flags.verbose == 1:
		cfg.Observability.Logging.Level = "debug"
	}

	if flags.dryRun {
		cfg.Target.Engine = "discard"
		cfg.Target.Location = dryRunTarget
		cfg.Target.Overwrite = true
	}
	if cfg.Input.Path == "" {
		return nil, errNoInput
	}
	if cfg.Target.Location == "" {
		cfg.Target.Location = config.DefaultTargetLocation(cfg.Input.Path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, plexerrors.Wrap(err, plexerrors.ErrorTypeConfig, "invalid configuration")
	}
	return cfg, nil
}

func runConvert(ctx context.Context, out io.Writer, cfg *config.Config, flags convertFlags) (err error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logger.New(cfg.Observability.Logging)
	if err != nil {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeConfig, "cannot build logger")
	}
	logger.Set(log)
	defer func() { _ = log.Sync() }()

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srv := metrics.Serve(addr)
		log.Info("serving metrics", zap.String("addr", addr))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(sctx); serr != nil {
				log.Warn("metrics listener stopped with error", zap.Error(serr))
			}
		}()
	}
	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig(version)
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		if terr := observability.Initialize(tc); terr != nil {
			return plexerrors.Wrap(terr, plexerrors.ErrorTypeConfig, "cannot initialize tracing")
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = observability.Shutdown(sctx)
		}()
	}

	report, err := pipeline.Run(ctx, pipeline.Options{
		Config:  cfg,
		Logger:  log,
		Version: version,
	})
	if flags.reportJSON != "" {
		if werr := report.WriteFile(flags.reportJSON); werr != nil {
			log.Error("cannot write report", zap.String("path", flags.reportJSON), zap.Error(werr))
		}
	}
	printReport(out, report, flags.dryRun)
	return err
}

func printReport(out io.Writer, r *pipeline.Report, dryRun bool) {
	target := r.Target
	if dryRun {
		target = "(dry run)"
	}
	fmt.Fprintf(out, "%s -> %s [%s]\n", r.Archive, target, r.Engine)
	fmt.Fprintf(out, "state: %s  tables: %d  fact tables: %d  points: %d/%d  batches: %d  fact rows: %d  %.1fs\n",
		r.State, r.Tables, r.FactTables, r.DecodedPoints, r.TotalPoints, r.Batches, r.FactRows, r.DurationSeconds)
	if r.ErrorKind == "" {
		return
	}
	fmt.Fprintf(out, "failed: %s\n", r.ErrorKind)
	if r.Batches > 0 {
		fmt.Fprintf(out, "target holds %d committed batches; load_completed_at is absent\n", r.Batches)
	}
}
