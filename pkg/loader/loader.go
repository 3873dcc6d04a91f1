// Package loader writes a mapped schema into an engine. It is the only
// writer of a target: dimension rows go in one transaction, then fact
// points arrive over a channel and are committed in fixed-size batches,
// each batch in its own transaction together with its load_batches rows.
//
// A failed or cancelled load therefore leaves the target holding the
// dimensions and an exact prefix of batches, and load_batches says which.
package loader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/decoder"
	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/metadata"
	"github.com/ajitpratap0/plexload/pkg/metrics"
	"github.com/ajitpratap0/plexload/pkg/observability"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"
	"github.com/ajitpratap0/plexload/pkg/progress"
	"github.com/ajitpratap0/plexload/pkg/retry"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

// DefaultBatchSize is the number of fact rows per transaction.
const DefaultBatchSize = 50000

// Run metadata keys written to the meta table.
const (
	MetaLoadStarted   = "load_started_at"
	MetaLoadCompleted = "load_completed_at"
)

// Config tunes a Loader.
type Config struct {
	BatchSize int
	// WriteTimeout bounds each commit attempt; zero disables the bound.
	WriteTimeout time.Duration
	// Retry governs commit retries after timeouts.
	Retry    *retry.Policy
	Logger   *zap.Logger
	Progress *progress.Reporter
	// Now stamps meta and load_batches rows.
	Now func() time.Time
}

// Stats describes what has been committed so far.
type Stats struct {
	// Batches counts committed fact batches.
	Batches int `json:"batches"`
	// Rows counts committed rows per qualified table name.
	Rows map[string]int64 `json:"rows"`
	// FactRows is the sum of committed fact rows.
	FactRows int64 `json:"fact_rows"`
	// Commits counts every committed transaction, dimensions included.
	Commits int `json:"commits"`
}

// Loader is a single writer; its methods must not be called concurrently.
type Loader struct {
	eng    engine.Engine
	schema *schema.Schema
	cfg    Config
	logger *zap.Logger
	policy *retry.Policy

	batchTable *schema.Table
	metaTable  *schema.Table

	mu    sync.Mutex
	stats Stats
}

// New creates a loader for s on eng.
func New(eng engine.Engine, s *schema.Schema, cfg Config) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger.With(zap.String("component", "loader"))

	policy := retry.DefaultPolicy()
	if cfg.Retry != nil {
		c := *cfg.Retry
		policy = &c
	}
	policy.OnRetry = func(attempt int, err error) {
		metrics.Retries.WithLabelValues("commit").Inc()
		logger.Warn("retrying commit", zap.Int("attempt", attempt), zap.Error(err))
	}

	l := &Loader{
		eng:    eng,
		schema: s,
		cfg:    cfg,
		logger: logger,
		policy: policy,
		stats:  Stats{Rows: make(map[string]int64)},
	}
	l.batchTable, _ = s.Table(schema.Qualify(schema.NamespaceRaw, schema.LoadBatchesTable))
	l.metaTable, _ = s.Table(schema.Qualify(schema.NamespaceRaw, schema.MetaTable))
	return l
}

// CreateSchema creates every table in schema order.
func (l *Loader) CreateSchema(ctx context.Context) error {
	for _, t := range l.schema.Tables {
		if err := l.eng.CreateTable(ctx, t); err != nil {
			if ctx.Err() != nil {
				return plexerrors.Wrap(ctx.Err(), plexerrors.ErrorTypeCancelled, "schema creation cancelled")
			}
			return plexerrors.Wrap(err, plexerrors.ErrorTypeSchemaCreateFailed, "cannot create table "+t.QualifiedName()).
				WithDetail("table", t.QualifiedName())
		}
	}
	l.logger.Info("schema created", zap.Int("tables", len(l.schema.Tables)))
	return nil
}

type write struct {
	table *schema.Table
	rows  [][]interface{}
}

// LoadDimensions commits every dimension row and the run metadata in one
// transaction. runInfo entries are stored in meta next to load_started_at.
func (l *Loader) LoadDimensions(ctx context.Context, m *metadata.Model, d *decoder.Directory, runInfo map[string]string) error {
	if err := ctx.Err(); err != nil {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeCancelled, "load cancelled")
	}

	var writes []write
	for _, tr := range l.schema.DimensionRows(m, d) {
		if len(tr.Rows) > 0 {
			writes = append(writes, write{table: tr.Table, rows: tr.Rows})
		}
	}

	names := make([]string, 0, len(runInfo)+1)
	for k := range runInfo {
		if k != MetaLoadStarted && k != MetaLoadCompleted {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	meta := make([][]interface{}, 0, len(names)+1)
	for _, k := range names {
		meta = append(meta, []interface{}{k, runInfo[k]})
	}
	meta = append(meta, []interface{}{MetaLoadStarted, l.cfg.Now().Format(time.RFC3339Nano)})
	writes = append(writes, write{table: l.metaTable, rows: meta})

	if err := l.commit(ctx, writes); err != nil {
		return l.commitError(err, 0)
	}
	l.record(writes, false)
	l.logger.Info("dimensions loaded", zap.Int("tables", len(writes)))
	return nil
}

// batch accumulates fact rows per table in arrival order.
type batch struct {
	index int
	order []*schema.Table
	rows  map[*schema.Table][][]interface{}
	n     int
}

func newBatch(index int) *batch {
	return &batch{index: index, rows: make(map[*schema.Table][][]interface{})}
}

func (b *batch) add(t *schema.Table, row []interface{}) {
	if _, ok := b.rows[t]; !ok {
		b.order = append(b.order, t)
	}
	b.rows[t] = append(b.rows[t], row)
	b.n++
}

// LoadFacts consumes chunks until in is closed, committing a batch every
// BatchSize rows and once more for the remainder. On cancellation the
// partially assembled batch is discarded; a commit already in flight
// completes first.
func (l *Loader) LoadFacts(ctx context.Context, in <-chan decoder.Chunk) error {
	l.mu.Lock()
	next := l.stats.Batches + 1
	l.mu.Unlock()

	cur := newBatch(next)
	tables := make(map[string]*schema.Table)
	for {
		if ctx.Err() != nil {
			return l.cancelled(ctx, cur)
		}
		var (
			chunk decoder.Chunk
			ok    bool
		)
		select {
		case <-ctx.Done():
			return l.cancelled(ctx, cur)
		case chunk, ok = <-in:
		}
		if !ok {
			if cur.n > 0 {
				return l.flush(ctx, cur)
			}
			return nil
		}

		t, found := tables[chunk.Key.Table]
		if !found {
			t, found = l.schema.Table(schema.Qualify(schema.NamespaceData, chunk.Key.Table))
			if !found {
				return plexerrors.Newf(plexerrors.ErrorTypeInternal, "no fact table %s for key %d",
					chunk.Key.Table, chunk.Key.KeyID).WithDetail("key_id", chunk.Key.KeyID)
			}
			tables[chunk.Key.Table] = t
		}
		for i := 0; i < chunk.Len(); i++ {
			cur.add(t, schema.FactRow(chunk.Point(i)))
			if cur.n == l.cfg.BatchSize {
				if err := l.flush(ctx, cur); err != nil {
					return err
				}
				cur = newBatch(cur.index + 1)
			}
		}
	}
}

func (l *Loader) cancelled(ctx context.Context, cur *batch) error {
	l.logger.Warn("load cancelled, discarding partial batch",
		zap.Int("batch_index", cur.index), zap.Int("rows", cur.n))
	return plexerrors.Wrap(ctx.Err(), plexerrors.ErrorTypeCancelled, "load cancelled").
		WithDetail("batch_index", cur.index)
}

func (l *Loader) flush(ctx context.Context, b *batch) error {
	now := l.cfg.Now()
	writes := make([]write, 0, len(b.order)+1)
	bookkeeping := make([][]interface{}, 0, len(b.order))
	for _, t := range b.order {
		writes = append(writes, write{table: t, rows: b.rows[t]})
		bookkeeping = append(bookkeeping, []interface{}{int64(b.index), t.QualifiedName(), int64(len(b.rows[t])), now})
	}
	writes = append(writes, write{table: l.batchTable, rows: bookkeeping})

	timer := metrics.NewTimer("commit")
	err := observability.TraceBatch(ctx, b.index, b.n, func(ctx context.Context) error {
		return l.commit(ctx, writes)
	})
	if err != nil {
		return l.commitError(err, b.index)
	}
	metrics.BatchCommitSeconds.Observe(timer.Stop().Seconds())
	metrics.BatchesCommitted.Inc()
	l.record(writes, true)
	if l.cfg.Progress != nil {
		l.cfg.Progress.AddCommitted(int64(b.n))
	}
	l.logger.Debug("batch committed", zap.Int("batch_index", b.index), zap.Int("rows", b.n),
		zap.Int("tables", len(b.order)))
	return nil
}

// commit writes one transaction. It runs detached from ctx cancellation so
// that a started commit finishes; each attempt is still bounded by the write
// timeout and timed-out attempts are retried.
func (l *Loader) commit(ctx context.Context, writes []write) error {
	ctx = context.WithoutCancel(ctx)
	return l.policy.Do(ctx, func(ctx context.Context) error {
		return retry.Timeout(ctx, l.cfg.WriteTimeout, "commit", func(ctx context.Context) error {
			tx, err := l.eng.Begin(ctx)
			if err != nil {
				return err
			}
			for _, w := range writes {
				if err := tx.InsertBatch(ctx, w.table, w.rows); err != nil {
					_ = tx.Rollback()
					return err
				}
			}
			if err := tx.Commit(ctx); err != nil {
				_ = tx.Rollback()
				return err
			}
			return nil
		})
	})
}

func (l *Loader) commitError(err error, batchIndex int) error {
	l.logger.Error("commit failed", zap.Int("batch_index", batchIndex), zap.Error(err))
	if plexerrors.IsType(err, plexerrors.ErrorTypeIoTimeout) {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeIoTimeout, fmt.Sprintf("batch %d commit timed out", batchIndex)).
			WithDetail("batch_index", batchIndex)
	}
	return plexerrors.BatchWriteFailed(err, batchIndex)
}

func (l *Loader) record(writes []write, fact bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Commits++
	if fact {
		l.stats.Batches++
	}
	for _, w := range writes {
		n := int64(len(w.rows))
		l.stats.Rows[w.table.QualifiedName()] += n
		kind := "dimension"
		switch w.table.Kind {
		case schema.KindFact:
			kind = "fact"
			l.stats.FactRows += n
		case schema.KindBookkeeping:
			kind = "bookkeeping"
		}
		metrics.RowsCommitted.WithLabelValues(kind).Add(float64(n))
	}
}

// Finalize creates the report views when the engine supports them and then
// marks the load complete.
func (l *Loader) Finalize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeCancelled, "finalize cancelled")
	}
	if vc, ok := l.eng.(engine.ViewCreator); ok {
		for _, v := range l.schema.Views {
			if err := vc.CreateView(ctx, v); err != nil {
				return plexerrors.Wrap(err, plexerrors.ErrorTypeSchemaCreateFailed, "cannot create view "+v.QualifiedName()).
					WithDetail("view", v.QualifiedName())
			}
		}
		l.logger.Debug("report views created", zap.Int("views", len(l.schema.Views)))
	}

	writes := []write{{table: l.metaTable, rows: [][]interface{}{
		{MetaLoadCompleted, l.cfg.Now().Format(time.RFC3339Nano)},
	}}}
	if err := l.commit(ctx, writes); err != nil {
		return l.commitError(err, l.Stats().Batches+1)
	}
	l.record(writes, false)
	return nil
}

// Stats returns a copy of the committed counts.
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Rows = make(map[string]int64, len(l.stats.Rows))
	for k, v := range l.stats.Rows {
		s.Rows[k] = v
	}
	return s
}
