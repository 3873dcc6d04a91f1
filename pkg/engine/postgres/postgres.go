// Package postgres implements the PostgreSQL engine on pgx. Rows are
// written with the COPY protocol inside a transaction.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

// maxIdentifier is NAMEDATALEN-1; longer names are silently truncated by
// the server.
const maxIdentifier = 63

var types = map[schema.ColumnType]string{
	schema.TypeInt64:     "BIGINT",
	schema.TypeFloat64:   "DOUBLE PRECISION",
	schema.TypeText:      "TEXT",
	schema.TypeBool:      "BOOLEAN",
	schema.TypeTimestamp: "TIMESTAMPTZ",
}

func init() {
	engine.Register(&Driver{})
}

// Driver targets postgres:// and postgresql:// URLs.
type Driver struct{}

// Name returns "postgres".
func (*Driver) Name() string {
	return "postgres"
}

// Accepts matches the postgres URL schemes.
func (*Driver) Accepts(location string) bool {
	return strings.HasPrefix(location, "postgres://") || strings.HasPrefix(location, "postgresql://")
}

// Exists reports whether the run metadata table is present.
func (*Driver) Exists(ctx context.Context, location string) (bool, error) {
	conn, err := pgx.Connect(ctx, location)
	if err != nil {
		return false, err
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)",
		schema.NamespaceRaw, schema.MetaTable).Scan(&exists)
	return exists, err
}

// Remove drops the plexload schemas.
func (*Driver) Remove(ctx context.Context, location string) error {
	conn, err := pgx.Connect(ctx, location)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	for _, ns := range []string{schema.NamespaceReport, schema.NamespaceData, schema.NamespaceRaw} {
		if _, err := conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+quote(ns)+" CASCADE"); err != nil {
			return fmt.Errorf("drop schema %s: %w", ns, err)
		}
	}
	return nil
}

// Open connects to the database.
func (*Driver) Open(ctx context.Context, location string, logger *zap.Logger) (engine.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := pgx.Connect(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Engine{
		conn:       conn,
		logger:     logger.With(zap.String("component", "engine"), zap.String("engine", "postgres")),
		namespaces: make(map[string]bool),
	}, nil
}

// Engine writes through one connection.
type Engine struct {
	conn       *pgx.Conn
	logger     *zap.Logger
	namespaces map[string]bool
}

var _ engine.ViewCreator = (*Engine)(nil)

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func identifier(namespace, name string) pgx.Identifier {
	return pgx.Identifier{namespace, schema.ShortenIdentifier(name, maxIdentifier)}
}

type dialect struct{}

func (dialect) TableName(namespace, name string) string {
	return identifier(namespace, name).Sanitize()
}

func (dialect) Quote(ident string) string {
	return quote(ident)
}

func (e *Engine) ensureNamespace(ctx context.Context, ns string) error {
	if e.namespaces[ns] {
		return nil
	}
	if _, err := e.conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(ns)); err != nil {
		return fmt.Errorf("create schema %s: %w", ns, err)
	}
	e.namespaces[ns] = true
	return nil
}

// CreateTable creates t with its keys.
func (e *Engine) CreateTable(ctx context.Context, t *schema.Table) error {
	if err := e.ensureNamespace(ctx, t.Namespace); err != nil {
		return err
	}
	var parts []string
	for _, c := range t.Columns {
		def := quote(c.Name) + " " + types[c.Type]
		if !c.Nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, "PRIMARY KEY ("+quoteAll(t.PrimaryKey)+")")
	}
	for _, fk := range t.ForeignKeys {
		ns, name, _ := strings.Cut(fk.RefTable, ".")
		parts = append(parts, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			quote(fk.Column), identifier(ns, name).Sanitize(), quote(fk.RefColumn)))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", identifier(t.Namespace, t.Name).Sanitize(), strings.Join(parts, ", "))
	if _, err := e.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.QualifiedName(), err)
	}
	return nil
}

func quoteAll(idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = quote(id)
	}
	return strings.Join(q, ", ")
}

// CreateView creates a report view.
func (e *Engine) CreateView(ctx context.Context, v schema.View) error {
	if err := e.ensureNamespace(ctx, v.Namespace); err != nil {
		return err
	}
	stmt := fmt.Sprintf("CREATE VIEW %s AS %s", identifier(v.Namespace, v.Name).Sanitize(), schema.ViewSQL(v, dialect{}))
	if _, err := e.conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create view %s: %w", v.QualifiedName(), err)
	}
	return nil
}

// Begin starts a transaction.
func (e *Engine) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := e.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// Close closes the connection.
func (e *Engine) Close() error {
	return e.conn.Close(context.Background())
}

type pgTx struct {
	tx pgx.Tx
}

// InsertBatch streams rows with COPY FROM.
func (t *pgTx) InsertBatch(ctx context.Context, table *schema.Table, rows [][]interface{}) error {
	n, err := t.tx.CopyFrom(ctx, identifier(table.Namespace, table.Name), table.ColumnNames(), pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", table.QualifiedName(), err)
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", table.QualifiedName(), n, len(rows))
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}
