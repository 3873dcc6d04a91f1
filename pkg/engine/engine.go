// Package engine defines the target database contract used by the loader
// and a registry of drivers that open targets by kind or by location.
//
// Drivers live in subpackages and register themselves from init:
//
//	import _ "github.com/ajitpratap0/plexload/pkg/engine/sqldb"
//
//	d, err := engine.Resolve("out.sqlite", "")
//	eng, err := d.Open(ctx, "out.sqlite", logger)
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/schema"
)

// Engine is an open target.
type Engine interface {
	// CreateTable creates t and, on first use, its namespace.
	CreateTable(ctx context.Context, t *schema.Table) error
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one atomic unit of writes. Nothing written through a Tx is visible
// in the target until Commit returns nil.
type Tx interface {
	InsertBatch(ctx context.Context, t *schema.Table, rows [][]interface{}) error
	Commit(ctx context.Context) error
	Rollback() error
}

// ViewCreator is implemented by engines that support views.
type ViewCreator interface {
	CreateView(ctx context.Context, v schema.View) error
}

// Driver opens targets of one kind.
type Driver interface {
	Name() string
	// Accepts reports whether location looks like a target of this kind.
	Accepts(location string) bool
	Exists(ctx context.Context, location string) (bool, error)
	Remove(ctx context.Context, location string) error
	Open(ctx context.Context, location string, logger *zap.Logger) (Engine, error)
}
