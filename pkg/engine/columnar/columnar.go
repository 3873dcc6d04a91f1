// Package columnar writes each table as a directory of columnar part files
// under a target directory: <dir>/<namespace>/<table>/part-<n>.parquet or
// .avro. CreateTable writes an empty part holding the schema; every commit
// stages one part per written table and renames them into place only when
// all of them were written, so a failed commit leaves no rows behind.
package columnar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

// Format is a columnar file format.
type Format string

const (
	Parquet Format = "parquet"
	Avro    Format = "avro"
)

// Extension returns the file extension of f.
func (f Format) Extension() string {
	return "." + string(f)
}

// tableWriter encodes the rows of one part file.
type tableWriter interface {
	Append(rows [][]interface{}) error
	Close() error
}

func newTableWriter(f Format, file io.Writer, t *schema.Table) (tableWriter, error) {
	switch f {
	case Parquet:
		return newParquetWriter(file, t)
	case Avro:
		return newAvroWriter(file, t)
	default:
		return nil, fmt.Errorf("unsupported columnar format: %s", f)
	}
}

func init() {
	engine.Register(&Driver{Format: Parquet})
	engine.Register(&Driver{Format: Avro})
}

// Driver targets a directory of files in one format. A location is accepted
// when its base name ends with the format extension, e.g. out.parquet/.
type Driver struct {
	Format Format
}

// Name returns the format name.
func (d *Driver) Name() string {
	return string(d.Format)
}

// Accepts matches directories named with the format extension.
func (d *Driver) Accepts(location string) bool {
	return strings.EqualFold(filepath.Ext(filepath.Clean(location)), d.Format.Extension())
}

func (d *Driver) metaPath(location string) string {
	return TableDir(location, schema.NamespaceRaw, schema.MetaTable)
}

// TableDir is the directory holding the part files of a table.
func TableDir(location, namespace, name string) string {
	return filepath.Join(location, namespace, name)
}

// Parts lists the part files of a table in commit order.
func Parts(location string, f Format, namespace, name string) ([]string, error) {
	parts, err := filepath.Glob(filepath.Join(TableDir(location, namespace, name), "part-*"+f.Extension()))
	if err != nil {
		return nil, err
	}
	sort.Strings(parts)
	return parts, nil
}

func partName(seq int) string {
	return fmt.Sprintf("part-%06d", seq)
}

// Exists reports whether the directory already holds a run.
func (d *Driver) Exists(_ context.Context, location string) (bool, error) {
	_, err := os.Stat(d.metaPath(location))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Remove deletes the target directory.
func (d *Driver) Remove(_ context.Context, location string) error {
	return os.RemoveAll(location)
}

// Open creates the target directory.
func (d *Driver) Open(_ context.Context, location string, logger *zap.Logger) (engine.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(location, 0o755); err != nil {
		return nil, fmt.Errorf("create target directory: %w", err)
	}
	return &Engine{
		dir:    location,
		format: d.Format,
		logger: logger.With(zap.String("component", "engine"), zap.String("engine", d.Name())),
		tables: make(map[string]*tableState),
	}, nil
}

type tableState struct {
	table *schema.Table
	rows  int64
	parts int
}

// Engine tracks the tables of one target directory.
type Engine struct {
	dir    string
	format Format
	logger *zap.Logger

	mu     sync.Mutex
	tables map[string]*tableState
	seq    int
	closed bool
}

// Path returns the part directory of a table.
func (e *Engine) Path(namespace, name string) string {
	return TableDir(e.dir, namespace, name)
}

// CreateTable creates the table's directory and its empty first part.
func (e *Engine) CreateTable(_ context.Context, t *schema.Table) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	q := t.QualifiedName()
	if _, ok := e.tables[q]; ok {
		return fmt.Errorf("table %s already exists", q)
	}
	dir := e.Path(t.Namespace, t.Name)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := e.writePart(t, filepath.Join(dir, partName(0)+e.format.Extension()), nil); err != nil {
		return fmt.Errorf("table %s: %w", q, err)
	}
	e.tables[q] = &tableState{table: t, parts: 1}
	return nil
}

// writePart writes rows as one complete file at path. A failed write
// removes the file.
func (e *Engine) writePart(t *schema.Table, path string, rows [][]interface{}) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	w, err := newTableWriter(e.format, f, t)
	if err != nil {
		return multierr.Append(err, f.Close())
	}
	if err := w.Append(rows); err != nil {
		return multierr.Combine(err, w.Close(), f.Close())
	}
	return multierr.Combine(w.Close(), f.Sync(), f.Close())
}

// Begin starts a buffering transaction.
func (e *Engine) Begin(context.Context) (engine.Tx, error) {
	return &tx{engine: e, pending: make(map[string][][]interface{})}, nil
}

type staged struct {
	state      *tableState
	tmp, final string
	rows       int64
	renamed    bool
}

// commit stages one part per table and renames them into place once every
// part is written. On failure the staged and renamed parts are removed.
func (e *Engine) commit(order []string, pending map[string][][]interface{}) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine closed")
	}
	e.seq++
	name := partName(e.seq) + e.format.Extension()

	parts := make([]*staged, 0, len(order))
	defer func() {
		if err == nil {
			return
		}
		for _, p := range parts {
			if p.renamed {
				_ = os.Remove(p.final)
			} else {
				_ = os.Remove(p.tmp)
			}
		}
	}()

	for _, q := range order {
		st := e.tables[q]
		dir := e.Path(st.table.Namespace, st.table.Name)
		p := &staged{
			state: st,
			tmp:   filepath.Join(dir, "."+name+".tmp"),
			final: filepath.Join(dir, name),
			rows:  int64(len(pending[q])),
		}
		if err := e.writePart(st.table, p.tmp, pending[q]); err != nil {
			return fmt.Errorf("write %s: %w", q, err)
		}
		parts = append(parts, p)
	}
	for _, p := range parts {
		if err := os.Rename(p.tmp, p.final); err != nil {
			return fmt.Errorf("publish %s: %w", p.state.table.QualifiedName(), err)
		}
		p.renamed = true
	}
	for _, p := range parts {
		p.state.rows += p.rows
		p.state.parts++
	}
	return nil
}

// Close marks the engine closed; every committed part is already complete.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for q, st := range e.tables {
		e.logger.Debug("table closed", zap.String("table", q), zap.Int64("rows", st.rows), zap.Int("parts", st.parts))
	}
	return nil
}

type tx struct {
	engine  *Engine
	order   []string
	pending map[string][][]interface{}
	done    bool
}

// InsertBatch buffers rows until Commit.
func (t *tx) InsertBatch(_ context.Context, table *schema.Table, rows [][]interface{}) error {
	if t.done {
		return errors.New("transaction finished")
	}
	q := table.QualifiedName()
	t.engine.mu.Lock()
	_, ok := t.engine.tables[q]
	t.engine.mu.Unlock()
	if !ok {
		return fmt.Errorf("insert into %s: no such table", q)
	}
	for _, row := range rows {
		if len(row) != len(table.Columns) {
			return fmt.Errorf("insert into %s: row has %d values, table has %d columns", q, len(row), len(table.Columns))
		}
	}
	if _, seen := t.pending[q]; !seen {
		t.order = append(t.order, q)
	}
	t.pending[q] = append(t.pending[q], rows...)
	return nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return errors.New("transaction finished")
	}
	t.done = true
	return t.engine.commit(t.order, t.pending)
}

func (t *tx) Rollback() error {
	t.done = true
	t.pending = nil
	return nil
}
