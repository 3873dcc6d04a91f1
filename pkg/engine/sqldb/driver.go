package sqldb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql" // registers the mysql database/sql driver
	"go.uber.org/multierr"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the sqlite database/sql driver

	"github.com/ajitpratap0/plexload/pkg/engine"
	"github.com/ajitpratap0/plexload/pkg/schema"
)

func init() {
	engine.Register(NewFileDriver(SQLite, []string{".sqlite", ".sqlite3", ".db"}, []string{"-wal", "-shm", "-journal"},
		func(path string) string { return path + "?_pragma=foreign_keys(1)" }))
	engine.Register(&MySQLDriver{})
}

// FileDriver opens single-file databases.
type FileDriver struct {
	dialect    *Dialect
	extensions []string
	companions []string
	dsn        func(path string) string
}

// NewFileDriver returns a driver for files with one of extensions.
// companions are suffixes of files the database keeps beside the main file.
func NewFileDriver(d *Dialect, extensions, companions []string, dsn func(string) string) *FileDriver {
	return &FileDriver{dialect: d, extensions: extensions, companions: companions, dsn: dsn}
}

// Name returns the dialect name.
func (f *FileDriver) Name() string {
	return f.dialect.Name
}

// Accepts matches on the file extension.
func (f *FileDriver) Accepts(location string) bool {
	ext := strings.ToLower(filepath.Ext(location))
	for _, e := range f.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Exists reports whether the database file exists.
func (f *FileDriver) Exists(_ context.Context, location string) (bool, error) {
	_, err := os.Stat(location)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Remove deletes the database file and its companions.
func (f *FileDriver) Remove(_ context.Context, location string) error {
	var err error
	for _, path := range append([]string{location}, f.companionPaths(location)...) {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, rmErr)
		}
	}
	return err
}

func (f *FileDriver) companionPaths(location string) []string {
	out := make([]string, len(f.companions))
	for i, c := range f.companions {
		out[i] = location + c
	}
	return out
}

// Open creates or opens the database file.
func (f *FileDriver) Open(ctx context.Context, location string, logger *zap.Logger) (engine.Engine, error) {
	if dir := filepath.Dir(location); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create target directory: %w", err)
		}
	}
	e, err := Open(ctx, f.dialect, f.dsn(location), logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}

const mysqlScheme = "mysql://"

// MySQLDriver targets a MySQL database given as mysql://<go-sql-driver DSN>.
// Namespaces are table name prefixes, so the database itself is never
// dropped.
type MySQLDriver struct{}

// Name returns "mysql".
func (*MySQLDriver) Name() string {
	return MySQL.Name
}

// Accepts matches the mysql:// scheme.
func (*MySQLDriver) Accepts(location string) bool {
	return strings.HasPrefix(location, mysqlScheme)
}

func mysqlDSN(location string) string {
	return strings.TrimPrefix(location, mysqlScheme)
}

// Exists reports whether the run metadata table is present.
func (d *MySQLDriver) Exists(ctx context.Context, location string) (bool, error) {
	e, err := Open(ctx, MySQL, mysqlDSN(location), nil)
	if err != nil {
		return false, err
	}
	defer e.Close()

	var n int
	err = e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
		schema.NamespaceRaw+"__"+schema.MetaTable).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remove drops every table and view in the plexload namespaces.
func (d *MySQLDriver) Remove(ctx context.Context, location string) error {
	e, err := Open(ctx, MySQL, mysqlDSN(location), nil)
	if err != nil {
		return err
	}
	defer e.Close()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx,
		"SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = DATABASE()")
	if err != nil {
		return err
	}
	var views, tables []string
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			rows.Close()
			return err
		}
		if !ownedTable(name) {
			continue
		}
		if typ == "VIEW" {
			views = append(views, name)
		} else {
			tables = append(tables, name)
		}
	}
	if err := multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return err
	}
	defer conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1") //nolint:errcheck
	for _, v := range views {
		if _, err := conn.ExecContext(ctx, "DROP VIEW IF EXISTS "+MySQL.Quote(v)); err != nil {
			return err
		}
	}
	for _, t := range tables {
		if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+MySQL.Quote(t)); err != nil {
			return err
		}
	}
	return nil
}

func ownedTable(name string) bool {
	for _, ns := range []string{schema.NamespaceRaw, schema.NamespaceData, schema.NamespaceReport} {
		if strings.HasPrefix(name, ns+"__") {
			return true
		}
	}
	return false
}

// Open connects to the database.
func (*MySQLDriver) Open(ctx context.Context, location string, logger *zap.Logger) (engine.Engine, error) {
	e, err := Open(ctx, MySQL, mysqlDSN(location), logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}
