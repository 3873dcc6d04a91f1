// Package pipeline runs one conversion of a solution archive into a target
// database.
//
// A run moves through a fixed sequence of states:
//
//	idle → reading_metadata → building_schema → decoding_and_loading → finalizing → done
//
// and ends in failed from any of the non-terminal ones. Nothing is written
// to the target before the metadata model and the series directory have
// been validated. During decoding_and_loading one decode worker per BIN
// entry (at most Performance.Workers at a time) fills its own bounded queue;
// the queues are fanned into the loader, which is the only writer of the
// target.
//
// # Basic Usage
//
//	cfg := config.NewConfig()
//	cfg.Input.Path = "Model Base Solution.zip"
//	cfg.Target.Location = "base.duckdb"
//
//	report, err := pipeline.Run(ctx, pipeline.Options{Config: cfg})
//
// When a run fails before any transaction was committed the target is
// removed. Otherwise it is left holding the dimensions and a prefix of
// whole fact batches; meta then has no load_completed_at row and the report
// lists the committed row counts per table.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/plexload/pkg/archive"
	"github.com/ajitpratap0/plexload/pkg/config"
	"github.com/ajitpratap0/plexload/pkg/decoder"
	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/loader"
	"github.com/ajitpratap0/plexload/pkg/logger"
	"github.com/ajitpratap0/plexload/pkg/metadata"
	"github.com/ajitpratap0/plexload/pkg/metrics"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"
	"github.com/ajitpratap0/plexload/pkg/progress"
	"github.com/ajitpratap0/plexload/pkg/retry"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

// Options configure a run.
type Options struct {
	Config *config.Config
	// Drivers resolves the target engine; nil means engine.Default().
	Drivers *engine.Registry
	Logger  *zap.Logger
	// OnTransition is called after every state change.
	OnTransition TransitionFunc
	// RunID identifies the run in logs and in meta; generated when empty.
	RunID string
	// Version is recorded in meta as plexload_version.
	Version string
}

type run struct {
	cfg     *config.Config
	opts    Options
	logger  *zap.Logger
	machine *machine
	report  *Report

	driver       engine.Driver
	targetExists bool

	archive  *archive.Archive
	metaName string
	model    *metadata.Model
	dir      *decoder.Directory
	schema   *schema.Schema

	eng      engine.Engine
	opened   bool
	loader   *loader.Loader
	progress *progress.Reporter
}

// Run converts the archive named by opts.Config into its target. The
// returned report is never nil; on failure it describes what was committed.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Config == nil {
		opts.Config = config.NewConfig()
	}
	if opts.Drivers == nil {
		opts.Drivers = engine.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	cfg := opts.Config

	ctx = logger.NewContext(ctx, opts.RunID, cfg.Input.Path, cfg.Target.Location)
	log := logger.FromContext(ctx, opts.Logger).With(zap.String("component", "pipeline"))
	r := &run{
		cfg:      cfg,
		opts:     opts,
		logger:   log,
		machine:  newMachine(log, opts.OnTransition),
		report:   newReport(opts.RunID, cfg),
		progress: progress.NewReporter(log, cfg.Observability.ProgressInterval),
	}

	err := r.execute(ctx)
	if err != nil {
		err = r.fail(ctx, err)
	}
	r.report.complete(r.machine.current(), r.loaderStats(), r.progress.Snapshot(), err)
	return r.report, err
}

type step struct {
	state State
	fn    func(ctx context.Context) error
}

func (r *run) execute(ctx context.Context) error {
	if err := r.cfg.Validate(); err != nil {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeConfig, "invalid configuration")
	}
	if err := r.checkTarget(ctx); err != nil {
		return err
	}

	r.logger.Info("starting conversion",
		zap.String("engine", r.driver.Name()),
		zap.Bool("overwrite", r.cfg.Target.Overwrite),
		zap.Int("batch_size", r.cfg.Performance.BatchSize),
		zap.Int("workers", r.cfg.Performance.GetWorkers()))

	steps := []step{
		{StateReadingMetadata, r.readMetadata},
		{StateBuildingSchema, r.buildSchema},
		{StateDecodingAndLoading, r.decodeAndLoad},
		{StateFinalizing, r.finalize},
	}
	for _, s := range steps {
		sctx, err := r.machine.enter(ctx, s.state)
		if err != nil {
			return err
		}
		if err := s.fn(sctx); err != nil {
			return err
		}
	}
	if _, err := r.machine.enter(ctx, StateDone); err != nil {
		return err
	}

	r.logger.Info("conversion completed",
		zap.Int("batches", r.loader.Stats().Batches),
		zap.Int64("fact_rows", r.loader.Stats().FactRows),
		zap.Duration("duration", time.Since(r.report.StartedAt)))
	return nil
}

// checkTarget resolves the driver and refuses an existing target unless
// overwrite was requested. It never modifies the target.
func (r *run) checkTarget(ctx context.Context) error {
	d, err := r.opts.Drivers.Resolve(r.cfg.Target.Location, r.cfg.Target.Engine)
	if err != nil {
		return err
	}
	r.driver = d
	r.report.Engine = d.Name()

	exists, err := d.Exists(ctx, r.cfg.Target.Location)
	if err != nil {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeInternal, "cannot inspect target").
			WithDetail("target", r.cfg.Target.Location)
	}
	r.targetExists = exists
	if exists && !r.cfg.Target.Overwrite {
		return plexerrors.New(plexerrors.ErrorTypeTargetAlreadyExists, "target already exists").
			WithDetail("target", r.cfg.Target.Location)
	}
	return nil
}

func (r *run) retryPolicy() *retry.Policy {
	rel := r.cfg.Reliability
	return retry.NewPolicy(rel.RetryAttempts, rel.RetryDelay, rel.MaxRetryDelay, rel.RetryMultiplier)
}

func (r *run) readMetadata(ctx context.Context) error {
	a, err := archive.Open(r.cfg.Input.Path, archive.Options{
		ReadTimeout: r.cfg.Timeouts.ReadTimeout,
		Retry:       r.retryPolicy(),
		Logger:      r.logger,
	})
	if err != nil {
		return err
	}
	r.archive = a
	r.report.Archive = a.Path()

	entry, err := a.MetadataEntry(r.cfg.Input.ModelName)
	if err != nil {
		return err
	}
	r.metaName = entry
	data, err := a.ReadAll(ctx, entry)
	if err != nil {
		return err
	}
	m, err := metadata.Build(ctx, bytes.NewReader(data), metadata.Options{Logger: r.logger})
	if err != nil {
		return err
	}
	r.model = m

	fields := []zap.Field{zap.String("entry", entry)}
	for _, tc := range m.Summary() {
		fields = append(fields, zap.Int(tc.Table, tc.Rows))
	}
	r.logger.Info("metadata model built", fields...)
	return nil
}

func (r *run) buildSchema(_ context.Context) error {
	if r.archive.MetadataOnly() {
		r.logger.Info("metadata-only input, fact tables stay empty")
	}
	d, err := decoder.PlanArchive(r.model, r.archive)
	if err != nil {
		return err
	}
	s, err := schema.Map(r.model, d)
	if err != nil {
		return err
	}
	r.dir, r.schema = d, s
	r.report.Tables = len(s.Tables)
	r.report.FactTables = len(s.Facts())
	r.report.TotalPoints = d.TotalPoints()

	r.logger.Info("schema mapped",
		zap.Int("segments", len(d.Segments)),
		zap.Int("tables", len(s.Tables)),
		zap.Int("fact_tables", len(s.Facts())),
		zap.Int64("points", d.TotalPoints()))
	return nil
}

func (r *run) decodeAndLoad(ctx context.Context) error {
	location := r.cfg.Target.Location
	if r.targetExists {
		r.logger.Warn("removing existing target")
		if err := r.driver.Remove(ctx, location); err != nil {
			return plexerrors.Wrap(err, plexerrors.ErrorTypeSchemaCreateFailed, "cannot remove existing target").
				WithDetail("target", location)
		}
	}

	eng, err := r.driver.Open(ctx, location, r.logger)
	if err != nil {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeSchemaCreateFailed, "cannot open target").
			WithDetail("target", location)
	}
	r.eng, r.opened = eng, true
	r.loader = loader.New(eng, r.schema, loader.Config{
		BatchSize:    r.cfg.Performance.BatchSize,
		WriteTimeout: r.cfg.Timeouts.WriteTimeout,
		Retry:        r.retryPolicy(),
		Logger:       r.logger,
		Progress:     r.progress,
	})

	if err := r.loader.CreateSchema(ctx); err != nil {
		return err
	}
	if err := r.loader.LoadDimensions(ctx, r.model, r.dir, r.runInfo()); err != nil {
		return err
	}

	r.progress.SetTotal(r.dir.TotalPoints())
	r.progress.Start()
	defer r.progress.Stop()
	return r.stream(ctx)
}

func (r *run) runInfo() map[string]string {
	model := r.cfg.Input.ModelName
	if model == "" {
		model = archive.ModelName(r.archive.Path())
	}
	info := map[string]string{
		"run_id":           r.opts.RunID,
		"archive":          filepath.Base(r.archive.Path()),
		"metadata_entry":   r.metaName,
		"model":            model,
		"engine":           r.driver.Name(),
		"plexload_version": r.opts.Version,
	}
	if v := r.model.Version; v != "" {
		info["solution_version"] = v
	}
	if r.cfg.Input.Sidecars {
		sc := archive.ReadSidecars(r.archive.Path(), model, r.logger)
		if sc.SimulationLog != "" {
			info["simulation_log"] = sc.SimulationLog
		}
		if sc.RunStats != "" {
			info["run_stats"] = sc.RunStats
		}
	}
	return info
}

// stream runs the decode workers and the loader until every segment is
// committed or one of them fails; the first failure stops the others.
func (r *run) stream(ctx context.Context) error {
	in := make(chan decoder.Chunk)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.loader.LoadFacts(gctx, in)
	})
	g.Go(func() error {
		defer close(in)
		return r.decodeAll(gctx, in)
	})
	return g.Wait()
}

func (r *run) decodeAll(ctx context.Context, in chan<- decoder.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Performance.GetWorkers())
	for _, seg := range r.dir.Segments {
		g.Go(func() error {
			return r.decodeSegment(gctx, seg, in)
		})
	}
	return g.Wait()
}

// decodeSegment decodes seg into its own bounded queue, which a forwarder
// drains into in.
func (r *run) decodeSegment(ctx context.Context, seg decoder.Segment, in chan<- decoder.Chunk) (err error) {
	log := r.logger.With(zap.String("entry", seg.Entry))
	rd, err := decoder.OpenSeries(ctx, r.archive, seg, decoder.Options{
		Retry:     r.retryPolicy(),
		SpillDir:  r.cfg.Decode.SpillDir,
		ChunkSize: r.cfg.Performance.ChunkSize,
		Logger:    r.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rd.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	depth := metrics.QueueDepth.WithLabelValues(seg.Entry)
	queue := make(chan decoder.Chunk, r.cfg.Performance.QueueDepth)
	fctx, stop := context.WithCancel(ctx)
	defer stop()
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		forward(fctx, queue, in, depth)
	}()

	err = r.produce(ctx, rd, queue, depth)
	if err != nil {
		stop()
	}
	close(queue)
	<-forwarded
	if err != nil {
		return err
	}

	if rd.Decoded() != seg.Points() {
		return plexerrors.Newf(plexerrors.ErrorTypeInternal, "decoded %d of %d points", rd.Decoded(), seg.Points()).
			WithDetail("entry", seg.Entry)
	}
	log.Debug("segment decoded", zap.Int64("points", rd.Decoded()), zap.Int("series", len(seg.Series)))
	return nil
}

func (r *run) produce(ctx context.Context, rd *decoder.Reader, queue chan<- decoder.Chunk, depth prometheus.Gauge) error {
	for {
		c, err := rd.NextChunk(ctx, 0)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		r.progress.AddDecoded(int64(c.Len()))
		select {
		case queue <- c:
			depth.Set(float64(len(queue)))
		case <-ctx.Done():
			return plexerrors.Wrap(ctx.Err(), plexerrors.ErrorTypeCancelled, "decode cancelled").
				WithDetail("entry", rd.Segment().Entry)
		}
	}
}

// forward moves chunks from a worker queue to the loader until the queue is
// closed or ctx is done.
func forward(ctx context.Context, queue <-chan decoder.Chunk, in chan<- decoder.Chunk, depth prometheus.Gauge) {
	defer depth.Set(0)
	for c := range queue {
		depth.Set(float64(len(queue)))
		select {
		case in <- c:
		case <-ctx.Done():
			return
		}
	}
}

func (r *run) finalize(ctx context.Context) error {
	if err := r.loader.Finalize(ctx); err != nil {
		return err
	}
	eng := r.eng
	r.eng = nil
	if err := eng.Close(); err != nil {
		return plexerrors.BatchWriteFailed(err, r.loader.Stats().Batches+1)
	}
	if err := r.closeArchive(); err != nil {
		r.logger.Warn("cannot close archive", zap.Error(err))
	}
	return nil
}

func (r *run) closeArchive() error {
	if r.archive == nil {
		return nil
	}
	a := r.archive
	r.archive = nil
	return a.Close()
}

// fail releases the archive and the target and moves to StateFailed. A
// target that received no commit is removed.
func (r *run) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil && !plexerrors.IsType(err, plexerrors.ErrorTypeCancelled) {
		err = plexerrors.Wrap(err, plexerrors.ErrorTypeCancelled, "conversion cancelled")
	}
	cleanupCtx := context.WithoutCancel(ctx)

	var cleanup error
	if r.eng != nil {
		cleanup = multierr.Append(cleanup, r.eng.Close())
		r.eng = nil
	}
	cleanup = multierr.Append(cleanup, r.closeArchive())
	if r.opened && r.loaderStats().Commits == 0 {
		r.logger.Info("removing target with no committed data")
		cleanup = multierr.Append(cleanup, r.driver.Remove(cleanupCtx, r.cfg.Target.Location))
	}
	if cleanup != nil {
		r.logger.Warn("cleanup after failure incomplete", zap.Error(cleanup))
	}

	r.machine.fail(ctx, err)
	fields := []zap.Field{
		zap.String("error_kind", string(plexerrors.TypeOf(err))),
		zap.Error(err),
	}
	if idx, ok := plexerrors.BatchIndex(err); ok {
		fields = append(fields, zap.Int("batch_index", idx))
	}
	if r.opened && r.loaderStats().Commits > 0 {
		fields = append(fields, zap.Int("committed_batches", r.loaderStats().Batches))
	}
	r.logger.Error("conversion failed", fields...)
	return err
}

func (r *run) loaderStats() loader.Stats {
	if r.loader == nil {
		return loader.Stats{Rows: map[string]int64{}}
	}
	return r.loader.Stats()
}
