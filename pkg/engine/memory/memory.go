// Package memory is an in-process engine. Databases live in the driver's
// store, keyed by location, and outlive the engines that write them so that
// callers can inspect a finished or failed load. It enforces primary and
// foreign keys like a SQL target would.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

// Scheme prefixes memory locations.
const Scheme = "memory://"

func init() {
	engine.Register(NewDriver())
}

// CommitHook runs before a commit is applied; a non-nil error fails the
// commit. n counts commits on the database starting at 1 and tables lists
// the tables the transaction wrote, in write order.
type CommitHook func(n int, tables []string) error

// Driver holds the databases.
type Driver struct {
	mu  sync.Mutex
	dbs map[string]*Database

	// BeforeCommit, when set, is installed on every database the driver opens.
	BeforeCommit CommitHook
}

// NewDriver returns a driver with an empty store.
func NewDriver() *Driver {
	return &Driver{dbs: make(map[string]*Database)}
}

// Name returns "memory".
func (*Driver) Name() string {
	return "memory"
}

// Accepts matches memory:// locations.
func (*Driver) Accepts(location string) bool {
	return strings.HasPrefix(location, Scheme)
}

// Exists reports whether the location holds a database.
func (d *Driver) Exists(_ context.Context, location string) (bool, error) {
	return d.Database(location) != nil, nil
}

// Remove drops the database.
func (d *Driver) Remove(_ context.Context, location string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dbs, location)
	return nil
}

// Open creates the database if needed.
func (d *Driver) Open(_ context.Context, location string, logger *zap.Logger) (engine.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	db, ok := d.dbs[location]
	if !ok {
		db = &Database{tables: make(map[string]*Table)}
		d.dbs[location] = db
	}
	db.mu.Lock()
	db.hook = d.BeforeCommit
	db.mu.Unlock()
	return &Engine{
		db:     db,
		logger: logger.With(zap.String("component", "engine"), zap.String("engine", "memory")),
	}, nil
}

// Database returns the database at location, or nil.
func (d *Driver) Database(location string) *Database {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dbs[location]
}

// Table is a committed table.
type Table struct {
	Def  *schema.Table
	Rows [][]interface{}
	keys map[string]struct{}
}

// Database is one memory target.
type Database struct {
	mu      sync.Mutex
	tables  map[string]*Table
	order   []string
	views   []schema.View
	commits int
	hook    CommitHook
}

// Tables returns the qualified table names in creation order.
func (db *Database) Tables() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.order...)
}

// Rows returns a copy of a table's committed rows, or nil if absent.
func (db *Database) Rows(qualified string) [][]interface{} {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[qualified]
	if !ok {
		return nil
	}
	out := make([][]interface{}, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = append([]interface{}(nil), r...)
	}
	return out
}

// Count returns the number of committed rows of a table.
func (db *Database) Count(qualified string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tables[qualified]; ok {
		return len(t.Rows)
	}
	return 0
}

// Views returns the created view names, sorted.
func (db *Database) Views() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, len(db.views))
	for i, v := range db.views {
		out[i] = v.QualifiedName()
	}
	sort.Strings(out)
	return out
}

// Commits returns the number of successful commits.
func (db *Database) Commits() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commits
}

// Engine writes to one Database.
type Engine struct {
	db     *Database
	logger *zap.Logger
	closed bool
}

var _ engine.ViewCreator = (*Engine)(nil)

// CreateTable adds an empty table; referenced tables must exist.
func (e *Engine) CreateTable(_ context.Context, t *schema.Table) error {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	q := t.QualifiedName()
	if _, ok := e.db.tables[q]; ok {
		return fmt.Errorf("table %s already exists", q)
	}
	for _, fk := range t.ForeignKeys {
		if _, ok := e.db.tables[fk.RefTable]; !ok && fk.RefTable != q {
			return fmt.Errorf("table %s: foreign key references missing table %s", q, fk.RefTable)
		}
	}
	e.db.tables[q] = &Table{Def: t, keys: make(map[string]struct{})}
	e.db.order = append(e.db.order, q)
	return nil
}

// CreateView records a view whose sources are existing tables or views.
func (e *Engine) CreateView(_ context.Context, v schema.View) error {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	sources := v.Sources
	if v.Fact != nil {
		sources = append([]string{v.Fact.QualifiedName()}, sources...)
	}
	for _, src := range sources {
		if !e.db.hasRelation(src) {
			return fmt.Errorf("view %s: no table or view %s", v.QualifiedName(), src)
		}
	}
	if e.db.hasRelation(v.QualifiedName()) {
		return fmt.Errorf("view %s already exists", v.QualifiedName())
	}
	e.db.views = append(e.db.views, v)
	return nil
}

// hasRelation reports whether a table or view has the qualified name.
// The caller holds db.mu.
func (db *Database) hasRelation(qualified string) bool {
	if _, ok := db.tables[qualified]; ok {
		return true
	}
	for _, v := range db.views {
		if v.QualifiedName() == qualified {
			return true
		}
	}
	return false
}

// Begin starts a transaction. Rows become visible on Commit.
func (e *Engine) Begin(context.Context) (engine.Tx, error) {
	if e.closed {
		return nil, errors.New("engine closed")
	}
	return &tx{db: e.db, rows: make(map[string][][]interface{}), keys: make(map[string]map[string]struct{})}, nil
}

// Close detaches the engine; the database stays in the store.
func (e *Engine) Close() error {
	e.closed = true
	return nil
}

type tx struct {
	db    *Database
	order []string
	rows  map[string][][]interface{}
	keys  map[string]map[string]struct{}
	done  bool
}

func rowKey(values []interface{}) string {
	return fmt.Sprintf("%#v", values)
}

func project(t *schema.Table, row []interface{}, cols []string) []interface{} {
	out := make([]interface{}, len(cols))
	for i, c := range cols {
		for j, col := range t.Columns {
			if col.Name == c {
				out[i] = row[j]
				break
			}
		}
	}
	return out
}

func (t *tx) hasKey(table string, key string) bool {
	if committed, ok := t.db.tables[table]; ok {
		if _, ok := committed.keys[key]; ok {
			return true
		}
	}
	_, ok := t.keys[table][key]
	return ok
}

// InsertBatch checks keys against committed rows and this transaction's
// own rows.
func (t *tx) InsertBatch(_ context.Context, table *schema.Table, rows [][]interface{}) error {
	if t.done {
		return errors.New("transaction finished")
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	q := table.QualifiedName()
	if _, ok := t.db.tables[q]; !ok {
		return fmt.Errorf("insert into %s: no such table", q)
	}
	if t.keys[q] == nil {
		t.keys[q] = make(map[string]struct{})
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
		for _, fk := range table.ForeignKeys {
			v := project(table, row, []string{fk.Column})
			if v[0] == nil {
				continue
			}
			if !t.hasKey(fk.RefTable, rowKey(v)) {
				return fmt.Errorf("insert into %s: %s=%v violates foreign key to %s", q, fk.Column, v[0], fk.RefTable)
			}
		}
		if len(table.PrimaryKey) > 0 {
			k := rowKey(project(table, row, table.PrimaryKey))
			if t.hasKey(q, k) {
				return fmt.Errorf("insert into %s: duplicate primary key %s", q, k)
			}
			t.keys[q][k] = struct{}{}
		}
	}
	if _, seen := t.rows[q]; !seen {
		t.order = append(t.order, q)
	}
	t.rows[q] = append(t.rows[q], rows...)
	return nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return errors.New("transaction finished")
	}
	t.done = true

	t.db.mu.Lock()
	hook, n := t.db.hook, t.db.commits+1
	t.db.mu.Unlock()
	if hook != nil {
		if err := hook(n, append([]string(nil), t.order...)); err != nil {
			return err
		}
	}

	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for _, q := range t.order {
		table := t.db.tables[q]
		table.Rows = append(table.Rows, t.rows[q]...)
		for k := range t.keys[q] {
			table.keys[k] = struct{}{}
		}
	}
	t.db.commits++
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	t.rows = nil
	t.keys = nil
	return nil
}
