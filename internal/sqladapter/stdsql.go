package sqladapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oriys/dbexec/internal/db"
)

// stdDataSource wraps a database/sql.DB behind db.DataSource for any
// driver registered with database/sql: go-sql-driver/mysql, lib/pq, or
// modernc.org/sqlite. Pool sizing is grounded on
// gandarfh-notes/internal/dbclient.newSQLConnector's
// SetMaxOpenConns/SetMaxIdleConns/SetConnMaxLifetime convention.
type stdDataSource struct {
	driverName string
	db         *sql.DB
}

// StdSQLOptions configures the pool sizing of a std adapter. Zero
// values fall back to the same defaults gandarfh-notes uses for a
// desktop-scale client, scaled up for a long-running service.
type StdSQLOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (o StdSQLOptions) withDefaults() StdSQLOptions {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 25
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 10 * time.Minute
	}
	return o
}

// NewStdSQL opens a database/sql pool for the given driver ("mysql",
// "postgres", "sqlite") and connection string, and verifies
// connectivity before returning.
func NewStdSQL(ctx context.Context, driverName, connectionString string, opts StdSQLOptions) (db.DataSource, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("sqladapter: %s connection string is required", driverName)
	}
	sqlDB, err := sql.Open(driverName, connectionString)
	if err != nil {
		return nil, fmt.Errorf("sqladapter: open %s: %w", driverName, err)
	}
	opts = opts.withDefaults()
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ds := &stdDataSource{driverName: driverName, db: sqlDB}
	if err := ds.Ping(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return ds, nil
}

func (d *stdDataSource) Open(ctx context.Context) (db.Connection, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqladapter: acquire %s connection: %w", d.driverName, err)
	}
	return &stdConnection{driverName: d.driverName, conn: conn}, nil
}

func (d *stdDataSource) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *stdDataSource) Close() error {
	return d.db.Close()
}

func (d *stdDataSource) DriverName() string { return d.driverName }

// isolationToSQL maps the driver-agnostic isolation level string (spec
// §3.1) to database/sql's sql.IsolationLevel.
func isolationToSQL(level string) sql.IsolationLevel {
	switch level {
	case "read_uncommitted":
		return sql.LevelReadUncommitted
	case "read_committed":
		return sql.LevelReadCommitted
	case "repeatable_read":
		return sql.LevelRepeatableRead
	case "serializable":
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

type stdConnection struct {
	driverName string
	conn       *sql.Conn
}

func (c *stdConnection) Exec(ctx context.Context, query string, args ...any) (db.Result, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return stdResult{res}, nil
}

func (c *stdConnection) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return stdRow{row: c.conn.QueryRowContext(ctx, query, args...)}
}

func (c *stdConnection) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &stdRows{rows: rows}, nil
}

func (c *stdConnection) BeginTx(ctx context.Context, opts db.TxOptions) (db.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: isolationToSQL(opts.IsolationLevel),
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return nil, err
	}
	return &stdTx{tx: tx}, nil
}

func (c *stdConnection) Close() error {
	return c.conn.Close()
}

type stdTx struct {
	tx *sql.Tx
}

func (t *stdTx) Exec(ctx context.Context, query string, args ...any) (db.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return stdResult{res}, nil
}

func (t *stdTx) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return stdRow{row: t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *stdTx) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &stdRows{rows: rows}, nil
}

func (t *stdTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *stdTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

type stdRow struct {
	row *sql.Row
}

func (r stdRow) Scan(dest ...any) error { return r.row.Scan(dest...) }

type stdRows struct {
	rows *sql.Rows
}

func (r *stdRows) Next() bool              { return r.rows.Next() }
func (r *stdRows) Scan(dest ...any) error  { return r.rows.Scan(dest...) }
func (r *stdRows) Err() error              { return r.rows.Err() }
func (r *stdRows) Close() error            { return r.rows.Close() }
func (r *stdRows) Columns() ([]string, error) {
	return r.rows.Columns()
}

type stdResult struct {
	res sql.Result
}

func (r stdResult) RowsAffected() (int64, error) { return r.res.RowsAffected() }
