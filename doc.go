// Package plexload converts PLEXOS solution archives into relational and
// columnar databases.
//
// A solution archive is a zip holding an XML metadata document and one
// t_data_<period>.BIN file per period type. The metadata describes the
// model (classes, objects, memberships, properties, periods) and a key
// index that locates every series inside the BIN files. plexload builds
// a validated model from the metadata, maps it to a deterministic schema
// and streams the decoded float64 series into the target in bounded,
// transactional batches.
//
// # Architecture
//
// A conversion is split into small packages, each owning one concern:
//
//   - pkg/archive reads zip entries, with zstd and deflate support
//   - pkg/metadata parses the XML into an immutable, cross-referenced model
//   - pkg/decoder plans the series directory and decodes BIN payloads
//   - pkg/schema maps the model to raw, data and report tables
//   - pkg/loader writes dimensions and then fact batches, one transaction each
//   - pkg/engine and its subpackages adapt DuckDB, SQLite, PostgreSQL,
//     MySQL, Parquet, Avro and an in-memory store
//   - internal/pipeline drives the run as a state machine
//
// Errors carry one of the kinds in pkg/plexerrors, and the CLI maps each
// kind to a distinct exit code.
//
// # Quick Start
//
//	plexload convert -i "Model Base Solution.zip" -o base.duckdb
//
// or from Go:
//
//	cfg := config.NewConfig()
//	cfg.Input.Path = "Model Base Solution.zip"
//	cfg.Target.Location = "base.duckdb"
//	report, err := pipeline.Run(ctx, pipeline.Options{Config: cfg})
//
// # Failure Semantics
//
// Nothing touches the target until the metadata and the directory have
// been validated. A run that fails after its first commit leaves the
// dimensions plus a strict prefix of fact batches; a fresh run that fails
// earlier leaves no target at all.
//
// # Configuration
//
// Settings come from a YAML file, PLEXLOAD_* environment variables and
// command line flags, in increasing precedence. See pkg/config.
package plexload
