package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

// Engine is an engine.Engine over a database/sql pool.
type Engine struct {
	db         *sql.DB
	dialect    *Dialect
	logger     *zap.Logger
	namespaces map[string]bool
}

var (
	_ engine.Engine      = (*Engine)(nil)
	_ engine.ViewCreator = (*Engine)(nil)
)

// Open connects to dsn with the dialect's database/sql driver.
func Open(ctx context.Context, dialect *Dialect, dsn string, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}
	if dialect.MaxOpenConns > 0 {
		db.SetMaxOpenConns(dialect.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect.Name, err)
	}
	for _, stmt := range dialect.Init {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt, err)
		}
	}

	return &Engine{
		db:         db,
		dialect:    dialect,
		logger:     logger.With(zap.String("component", "engine"), zap.String("engine", dialect.Name)),
		namespaces: make(map[string]bool),
	}, nil
}

// DB exposes the pool for queries.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Dialect returns the engine's dialect.
func (e *Engine) Dialect() *Dialect {
	return e.dialect
}

func (e *Engine) ensureNamespace(ctx context.Context, ns string) error {
	if !(e.dialect.Namespaces || e.dialect.NamespaceViews) || e.namespaces[ns] {
		return nil
	}
	if _, err := e.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+e.dialect.Quote(ns)); err != nil {
		return fmt.Errorf("create schema %s: %w", ns, err)
	}
	e.namespaces[ns] = true
	return nil
}

// CreateTable creates t.
func (e *Engine) CreateTable(ctx context.Context, t *schema.Table) error {
	if err := e.ensureNamespace(ctx, t.Namespace); err != nil {
		return err
	}
	ddl := e.dialect.createTableSQL(t)
	e.logger.Debug("creating table", zap.String("table", t.QualifiedName()))
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.QualifiedName(), err)
	}
	return e.createAlias(ctx, t.Namespace, t.Name)
}

// createAlias exposes a flattened table or view as ns.name.
func (e *Engine) createAlias(ctx context.Context, ns, name string) error {
	if !e.dialect.NamespaceViews {
		return nil
	}
	stmt := fmt.Sprintf("CREATE VIEW %s.%s AS SELECT * FROM %s",
		e.dialect.Quote(ns), e.dialect.Quote(name), e.dialect.TableName(ns, name))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create alias %s: %w", schema.Qualify(ns, name), err)
	}
	return nil
}

// CreateView creates a report or processed view.
func (e *Engine) CreateView(ctx context.Context, v schema.View) error {
	if err := e.ensureNamespace(ctx, v.Namespace); err != nil {
		return err
	}
	stmt := fmt.Sprintf("CREATE VIEW %s AS %s",
		e.dialect.TableName(v.Namespace, v.Name), schema.ViewSQL(v, e.dialect))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create view %s: %w", v.QualifiedName(), err)
	}
	return e.createAlias(ctx, v.Namespace, v.Name)
}

// Begin starts a transaction bound to ctx; database/sql rolls it back if
// ctx ends before Commit.
func (e *Engine) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqlTx{tx: tx, dialect: e.dialect}, nil
}

// Close closes the pool.
func (e *Engine) Close() error {
	return e.db.Close()
}

type sqlTx struct {
	tx      *sql.Tx
	dialect *Dialect
	stmts   map[string]*sql.Stmt
}

// InsertBatch writes rows with multi-row INSERT statements sized to the
// dialect's placeholder limit.
func (t *sqlTx) InsertBatch(ctx context.Context, table *schema.Table, rows [][]interface{}) error {
	per := t.dialect.rowsPerStatement(table)
	args := make([]interface{}, 0, per*len(table.Columns))
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		args = args[:0]
		for _, row := range rows[start:end] {
			if len(row) != len(table.Columns) {
				return fmt.Errorf("insert into %s: row has %d values, table has %d columns",
					table.QualifiedName(), len(row), len(table.Columns))
			}
			args = append(args, row...)
		}
		stmt, err := t.prepare(ctx, table, end-start)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table.QualifiedName(), err)
		}
	}
	return nil
}

func (t *sqlTx) prepare(ctx context.Context, table *schema.Table, rows int) (*sql.Stmt, error) {
	key := fmt.Sprintf("%s/%d", table.QualifiedName(), rows)
	if stmt, ok := t.stmts[key]; ok {
		return stmt, nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.dialect.insertSQL(table, rows))
	if err != nil {
		return nil, fmt.Errorf("prepare insert into %s: %w", table.QualifiedName(), err)
	}
	if t.stmts == nil {
		t.stmts = make(map[string]*sql.Stmt)
	}
	t.stmts[key] = stmt
	return stmt, nil
}

func (t *sqlTx) Commit(context.Context) error {
	t.closeStmts()
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	t.closeStmts()
	return t.tx.Rollback()
}

func (t *sqlTx) closeStmts() {
	for _, s := range t.stmts {
		_ = s.Close()
	}
	t.stmts = nil
}
