// Package db defines the abstract database interface the execution core
// consumes. Concrete drivers (pgx, database/sql) live in
// internal/sqladapter and implement this interface. internal/datasource
// and internal/dbexec import no concrete driver; internal/resilience
// imports only pgx's pgconn package, for its PgError type.
package db

import (
	"context"
)

// Row represents a single row returned by a query expected to have at
// most one result.
type Row interface {
	Scan(dest ...any) error
}

// Rows represents a forward-only cursor over a result set.
type Rows interface {
	// Next advances to the next row, returning false when exhausted or
	// on error (check Err after Next returns false).
	Next() bool
	// Scan reads column values from the current row.
	Scan(dest ...any) error
	// Columns returns the column names of the result set.
	Columns() ([]string, error)
	// Err returns any error encountered during iteration.
	Err() error
	// Close releases the rows. Safe to call multiple times.
	Close() error
}

// Result describes the outcome of an executed statement that does not
// return rows.
type Result interface {
	RowsAffected() (int64, error)
}

// Executor can execute queries and statements. Both Connection and Tx
// satisfy this interface, so the same command-building code runs
// whether or not a transaction is active.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// TxOptions configures transaction behavior.
type TxOptions struct {
	// ReadOnly hints that the transaction will only perform reads.
	ReadOnly bool
	// IsolationLevel names the isolation level; the empty string means
	// "driver default". Implementations are expected to support at
	// least "read_uncommitted", "read_committed", "repeatable_read",
	// "serializable", and may support "snapshot"/"chaos".
	IsolationLevel string
}

// Tx represents a database transaction. Implementations must ensure
// that Commit or Rollback is called exactly once per transaction.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection is a single, exclusively-owned logical connection obtained
// from a DataSource. Callers must call Close exactly once.
type Connection interface {
	Executor
	BeginTx(ctx context.Context, opts TxOptions) (Tx, error)
	Close() error
}

// DataSource abstracts a driver-provided factory for opened connections
// sharing pooling and configuration. Implementations should handle
// connection pooling, health checks, and reconnection internally; the
// executor treats every connection it opens as exclusively its own for
// the duration of one attempt.
type DataSource interface {
	// Open acquires a fresh connection. The returned Connection must be
	// closed by the caller.
	Open(ctx context.Context) (Connection, error)
	// Ping verifies connectivity without acquiring a caller-visible
	// connection.
	Ping(ctx context.Context) error
	// Close releases all resources held by the data source (e.g. the
	// underlying pool). Close does not interrupt connections already
	// opened and held by in-flight callers.
	Close() error
	// DriverName returns the name of the underlying driver, e.g.
	// "postgres", "mysql", "sqlite".
	DriverName() string
}

// Factory creates a DataSource from a connection string. Supplied by a
// concrete adapter (internal/sqladapter) and consumed by
// internal/datasource's cache.
type Factory func(ctx context.Context, driverName, connectionString string) (DataSource, error)
