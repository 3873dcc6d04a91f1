// Package discard is an engine that validates and counts rows without
// keeping them. Dry runs load into it so that decoding a large archive
// needs no more memory than a real conversion.
package discard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

// Scheme prefixes discard locations.
const Scheme = "discard://"

func init() {
	engine.Register(Driver{})
}

// Driver opens discard engines. A location never exists.
type Driver struct{}

// Name returns "discard".
func (Driver) Name() string {
	return "discard"
}

// Accepts matches discard:// locations.
func (Driver) Accepts(location string) bool {
	return strings.HasPrefix(location, Scheme)
}

// Exists is always false.
func (Driver) Exists(context.Context, string) (bool, error) {
	return false, nil
}

// Remove does nothing.
func (Driver) Remove(context.Context, string) error {
	return nil
}

// Open returns an empty engine.
func (Driver) Open(_ context.Context, location string, logger *zap.Logger) (engine.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return New(logger.With(zap.String("component", "engine"), zap.String("engine", "discard"),
		zap.String("location", location))), nil
}

// Engine tracks table definitions and committed row counts.
type Engine struct {
	mu      sync.Mutex
	tables  map[string]*schema.Table
	views   map[string]struct{}
	counts  map[string]int64
	commits int
	closed  bool
	logger  *zap.Logger
}

var _ engine.ViewCreator = (*Engine)(nil)

// New returns an engine with no tables.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		tables: make(map[string]*schema.Table),
		views:  make(map[string]struct{}),
		counts: make(map[string]int64),
		logger: logger,
	}
}

// CreateTable registers t; referenced tables must exist.
func (e *Engine) CreateTable(_ context.Context, t *schema.Table) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := t.QualifiedName()
	if e.hasRelation(q) {
		return fmt.Errorf("table %s already exists", q)
	}
	for _, fk := range t.ForeignKeys {
		if _, ok := e.tables[fk.RefTable]; !ok && fk.RefTable != q {
			return fmt.Errorf("table %s: foreign key references missing table %s", q, fk.RefTable)
		}
	}
	e.tables[q] = t
	return nil
}

// CreateView registers a view whose sources are existing tables or views.
func (e *Engine) CreateView(_ context.Context, v schema.View) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sources := v.Sources
	if v.Fact != nil {
		sources = append([]string{v.Fact.QualifiedName()}, sources...)
	}
	for _, src := range sources {
		if !e.hasRelation(src) {
			return fmt.Errorf("view %s: no table or view %s", v.QualifiedName(), src)
		}
	}
	if e.hasRelation(v.QualifiedName()) {
		return fmt.Errorf("view %s already exists", v.QualifiedName())
	}
	e.views[v.QualifiedName()] = struct{}{}
	return nil
}

// hasRelation reports whether a table or view has the qualified name. The
// caller holds e.mu.
func (e *Engine) hasRelation(qualified string) bool {
	if _, ok := e.tables[qualified]; ok {
		return true
	}
	_, ok := e.views[qualified]
	return ok
}

// Count returns the committed row count of a table.
func (e *Engine) Count(qualified string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[qualified]
}

// Commits returns the number of successful commits.
func (e *Engine) Commits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commits
}

// Begin starts a transaction whose counts apply on Commit.
func (e *Engine) Begin(context.Context) (engine.Tx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("engine closed")
	}
	return &tx{e: e, counts: make(map[string]int64)}, nil
}

// Close logs the totals.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var total int64
	for _, n := range e.counts {
		total += n
	}
	e.logger.Debug("discarded rows", zap.Int("tables", len(e.tables)), zap.Int("commits", e.commits),
		zap.Int64("rows", total))
	return nil
}

type tx struct {
	e      *Engine
	counts map[string]int64
	done   bool
}

// InsertBatch checks row width and nullability, then counts the rows.
func (t *tx) InsertBatch(_ context.Context, table *schema.Table, rows [][]interface{}) error {
	if t.done {
		return errors.New("transaction finished")
	}
	q := table.QualifiedName()
	t.e.mu.Lock()
	_, ok := t.e.tables[q]
	t.e.mu.Unlock()
	if !ok {
		return fmt.Errorf("insert into %s: no such table", q)
	}
	for _, row := range rows {
		if len(row) != len(table.Columns) {
			return fmt.Errorf("insert into %s: row has %d values, table has %d columns", q, len(row), len(table.Columns))
		}
		for i, c := range table.Columns {
			if row[i] == nil && !c.Nullable {
				return fmt.Errorf("insert into %s: column %s is not nullable", q, c.Name)
			}
		}
	}
	t.counts[q] += int64(len(rows))
	return nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return errors.New("transaction finished")
	}
	t.done = true
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	for q, n := range t.counts {
		t.e.counts[q] += n
	}
	t.e.commits++
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	t.counts = nil
	return nil
}
