// Package sqladapter provides concrete db.DataSource implementations:
// a native pgx/v5 adapter and a database/sql-based adapter for any
// registered driver. This is the only package in the module that opens
// connections through a concrete SQL driver (spec §4.7);
// internal/resilience imports pgx's pgconn package only for its error
// type.
package sqladapter

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/dbexec/internal/db"
)

// pgxDataSource wraps a pgxpool.Pool behind db.DataSource. Grounded on
// oriys/nova/internal/store.PostgresStore's pgxpool.New/Ping/Close
// usage.
type pgxDataSource struct {
	pool *pgxpool.Pool
}

// NewPgx opens a pgx/v5 connection pool for connectionString and
// verifies connectivity before returning, matching
// oriys/nova/internal/store.NewPostgresStore's fail-fast Ping-after-open
// behavior.
func NewPgx(ctx context.Context, connectionString string) (db.DataSource, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("sqladapter: pgx connection string is required")
	}
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("sqladapter: create pgx pool: %w", err)
	}
	ds := &pgxDataSource{pool: pool}
	if err := ds.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return ds, nil
}

func (d *pgxDataSource) Open(ctx context.Context) (db.Connection, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqladapter: acquire pgx connection: %w", err)
	}
	return &pgxConnection{conn: conn}, nil
}

func (d *pgxDataSource) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

func (d *pgxDataSource) Close() error {
	d.pool.Close()
	return nil
}

func (d *pgxDataSource) DriverName() string { return "postgres" }

// pgxConnection wraps a single acquired pgxpool.Conn.
type pgxConnection struct {
	conn *pgxpool.Conn
}

func (c *pgxConnection) Exec(ctx context.Context, query string, args ...any) (db.Result, error) {
	tag, err := c.conn.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag}, nil
}

func (c *pgxConnection) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return pgxRow{row: c.conn.QueryRow(ctx, query, args...)}
}

func (c *pgxConnection) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

// isolationToPgx maps the driver-agnostic isolation level string (spec
// §3.1) to pgx's native pgx.TxIsoLevel.
func isolationToPgx(level string) pgx.TxIsoLevel {
	switch level {
	case "read_uncommitted":
		return pgx.ReadUncommitted
	case "read_committed":
		return pgx.ReadCommitted
	case "repeatable_read":
		return pgx.RepeatableRead
	case "serializable":
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}

func (c *pgxConnection) BeginTx(ctx context.Context, opts db.TxOptions) (db.Tx, error) {
	accessMode := pgx.ReadWrite
	if opts.ReadOnly {
		accessMode = pgx.ReadOnly
	}
	tx, err := c.conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   isolationToPgx(opts.IsolationLevel),
		AccessMode: accessMode,
	})
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

func (c *pgxConnection) Close() error {
	c.conn.Release()
	return nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, query string, args ...any) (db.Result, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag}, nil
}

func (t *pgxTx) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return pgxRow{row: t.tx.QueryRow(ctx, query, args...)}
}

func (t *pgxTx) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

type pgxRow struct {
	row pgx.Row
}

func (r pgxRow) Scan(dest ...any) error { return r.row.Scan(dest...) }

type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool                   { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error        { return r.rows.Scan(dest...) }
func (r *pgxRows) Err() error                   { return r.rows.Err() }
func (r *pgxRows) Close() error                 { r.rows.Close(); return nil }
func (r *pgxRows) Columns() ([]string, error) {
	fields := r.rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f.Name)
	}
	return names, nil
}

type pgxResult struct {
	tag pgconn.CommandTag
}

func (r pgxResult) RowsAffected() (int64, error) { return r.tag.RowsAffected(), nil }
