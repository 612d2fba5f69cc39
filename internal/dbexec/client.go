package dbexec

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/dbexec/internal/datasource"
	"github.com/oriys/dbexec/internal/db"
	"github.com/oriys/dbexec/internal/dbconfig"
	"github.com/oriys/dbexec/internal/logging"
	"github.com/oriys/dbexec/internal/queryspec"
	"github.com/oriys/dbexec/internal/resilience"
	"github.com/oriys/dbexec/internal/scalar"
)

// DbClient is the Command Executor (C6): it exposes the three public
// operations of spec §4.5 over a cached data source and the
// connection name's resilience pipeline. One DbClient instance is safe for concurrent
// callers; per-execution resources (connection, transaction) are
// confined to a single logical flow and never shared across callers.
// Grounded on oriys/nova/internal/executor.Executor's Option
// construction, inflight/closing shutdown pair, and breaker-before-work
// check, generalized here to the resilience pipeline as a whole rather
// than a single circuit breaker.
type DbClient struct {
	cache    *datasource.Cache
	provider *resilience.Provider

	mu   sync.RWMutex
	opts dbconfig.DbOptions

	inflight sync.WaitGroup
	closing  atomic.Bool
}

// Option configures a DbClient at construction time.
type Option func(*DbClient)

// New builds a DbClient over an already-constructed data-source cache
// and resilience provider (spec §9's "model container-managed
// singletons as explicit constructor parameters" guidance).
func New(cache *datasource.Cache, provider *resilience.Provider, opts dbconfig.DbOptions, opt ...Option) *DbClient {
	c := &DbClient{cache: cache, provider: provider, opts: opts}
	for _, o := range opt {
		o(c)
	}
	return c
}

// Reload swaps the DbOptions snapshot used by subsequent executions.
// Matches dbconfig.ChangeFunc[dbconfig.DbOptions] for direct use as a
// Monitor callback.
func (c *DbClient) Reload(next dbconfig.DbOptions) {
	c.mu.Lock()
	c.opts = next
	c.mu.Unlock()
}

func (c *DbClient) snapshot() dbconfig.DbOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// Close disposes the data-source cache and rejects every call made
// after it returns with ErrDisposed. In-flight executions that already
// hold an opened connection run to completion (spec §4.5 "Shutdown").
func (c *DbClient) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.inflight.Wait()
	c.cache.EvictAll()
	return nil
}

func (c *DbClient) enter() error {
	if c.closing.Load() {
		return newError(KindDisposed, "", "", fmt.Errorf("dbexec: client is disposed"))
	}
	c.inflight.Add(1)
	return nil
}

// resolveConnectionName applies spec §4.3's "blank → default" rule.
func resolveConnectionName(def queryspec.Definition, opts dbconfig.DbOptions) string {
	name := def.ConnectionName()
	if strings.TrimSpace(name) == "" {
		name = opts.DefaultConnectionName
	}
	return name
}

// openDataSource implements C4's get(name) contract: cached lookup,
// ConfigurationError when name has no non-blank connection string.
func (c *DbClient) openDataSource(ctx context.Context, connectionName string, opts dbconfig.DbOptions) (db.DataSource, error) {
	connStr, ok := opts.ConnectionString(connectionName)
	if !ok {
		return nil, newError(KindConfiguration, connectionName, "", fmt.Errorf("dbexec: no connection string configured for %q", connectionName))
	}
	driverName, connStr := splitDriverName(connStr)
	ds, err := c.cache.Get(ctx, connectionName, driverName, connStr)
	if err != nil {
		return nil, newError(KindConfiguration, connectionName, "", err)
	}
	return ds, nil
}

// splitDriverName parses the "driver://rest" convention used in the
// connection-string map: the scheme names the driver
// ("postgres"/"mysql"/"sqlite"). For mysql and sqlite only the remainder
// after "://" is passed to the driver; postgres URLs and unrecognized
// schemes are passed whole. A string with no "://" is assumed to already
// be a bare postgres DSN (the common case), matching pgx's accepted DSN
// forms.
func splitDriverName(connStr string) (driverName, rest string) {
	scheme, rest, ok := strings.Cut(connStr, "://")
	if !ok {
		return "postgres", connStr
	}
	switch scheme {
	case "postgres", "postgresql":
		return "postgres", connStr
	case "mysql":
		return "mysql", rest
	case "sqlite", "sqlite3":
		return "sqlite", rest
	default:
		return scheme, connStr
	}
}

// effectiveIsolation applies spec §4.5 step 3: query.isolation ??
// options.default_isolation.
func effectiveIsolation(def queryspec.Definition, opts dbconfig.DbOptions) queryspec.IsolationLevel {
	if def.Isolation() != queryspec.IsolationUnspecified {
		return def.Isolation()
	}
	return queryspec.IsolationLevel(opts.DefaultIsolation)
}

// effectiveTimeout applies spec §3's command_timeout override rule: a
// non-zero per-command timeout wins, zero falls back to the options'
// CommandTimeout. withCommandTimeout then rounds the result up to whole
// seconds, and a negative result leaves the context unbounded.
func effectiveTimeout(def queryspec.Definition, opts dbconfig.DbOptions) time.Duration {
	if d := def.CommandTimeout(); d != 0 {
		return d
	}
	return opts.CommandTimeout
}

func withCommandTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	// Round up to the nearest whole second, matching spec §4.5 step 4's
	// "ceil of seconds" driver-timeout convention; context.Context
	// itself takes a Duration, so the rounding only affects the value
	// actually handed to WithTimeout.
	seconds := math.Ceil(d.Seconds())
	return context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
}

// attempt runs one pass of spec §4.5's execution body (steps 2-7) using
// connExec to run the caller's command-shaped work once a connection
// (and, if applicable, a transaction) is ready. connExec receives a
// db.Executor that is either the bare connection or an open
// transaction, matching the Connection/Tx Executor interface shared by
// db.go.
func attempt[T any](ctx context.Context, ds db.DataSource, def queryspec.Definition, opts dbconfig.DbOptions, connExec func(ctx context.Context, exec db.Executor) (T, error)) (result T, err error) {
	// Step 2: acquire a fresh connection, scoped to this attempt.
	conn, err := ds.Open(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("dbexec: open connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logging.Op().Warn("dbexec: close connection failed", "error", cerr)
		}
	}()

	// Step 3: resolve effective isolation and optionally begin a
	// transaction.
	isolation := effectiveIsolation(def, opts)
	var tx db.Tx
	var exec db.Executor = conn
	if isolation != queryspec.IsolationUnspecified {
		tx, err = conn.BeginTx(ctx, db.TxOptions{IsolationLevel: isolation.String()})
		if err != nil {
			var zero T
			return zero, fmt.Errorf("dbexec: begin transaction: %w", err)
		}
		exec = tx
	}

	// Steps 4-5: build the command and invoke the per-operation body.
	// connExec is responsible for materializing driver parameters from
	// def.Parameters() at the call site, since the exact signature
	// (Exec/QueryRow/Query) differs per operation.
	result, execErr := connExec(ctx, exec)

	if tx == nil {
		return result, execErr
	}

	// Step 6/7: commit on success, else roll back (logging and
	// suppressing a rollback failure so the original error surfaces),
	// then the transaction/command/connection are disposed by the
	// deferred conn.Close above and Go's GC of tx/exec.
	if execErr == nil {
		if cerr := tx.Commit(ctx); cerr != nil {
			var zero T
			return zero, fmt.Errorf("dbexec: commit: %w", cerr)
		}
		return result, nil
	}

	if rerr := tx.Rollback(ctx); rerr != nil {
		logging.Op().Warn("dbexec: rollback failed, original error takes precedence", "error", rerr)
	}
	var zero T
	return zero, execErr
}

// validateParameterDirections rejects any parameter whose Direction is
// not DirectionInput. db.Executor's Exec/QueryRow/Query (and every
// driver adapter behind it — pgx, database/sql's mysql and sqlite
// drivers) only accept positional input arguments; none exposes a
// common output-parameter-binding mechanism, so Output/InputOutput/
// ReturnValue parameters cannot be round-tripped through this
// abstraction (recorded as a resolved Open Question in SPEC_FULL.md).
// Rejecting them here, before the data source is opened, matches spec
// §8 scenario 5's "fails with ConfigurationError before any connection
// attempt" pattern rather than silently dropping the requested output.
func validateParameterDirections(def queryspec.Definition) error {
	for _, p := range def.Parameters() {
		if p.Direction != queryspec.DirectionInput {
			return newError(KindConfiguration, def.ConnectionName(), def.CommandText(),
				fmt.Errorf("dbexec: parameter %q has direction %s, but only input parameters are supported", p.Name, p.Direction))
		}
	}
	return nil
}

// paramArgs flattens def.Parameters() into positional driver arguments,
// substituting nil for an absent value (spec §4.5 step 4 "NULL for
// absent value").
func paramArgs(def queryspec.Definition) []any {
	params := def.Parameters()
	args := make([]any, len(params))
	for i, p := range params {
		if !p.HasValue {
			args[i] = nil
			continue
		}
		args[i] = p.Value
	}
	return args
}

// runPipeline wires the common steps shared by all three public
// operations: snapshot options exactly once (spec §5 "Options
// snapshots: read once per execution and thereafter treated as
// frozen"), resolve connection name, open the cached data source, stamp
// the Resilience Context once, then build and run the per-attempt body
// (via makeBody, which closes over the now-resolved data source and
// snapshot) through the connection name's pipeline.
func runPipeline[T any](c *DbClient, ctx context.Context, def queryspec.Definition, makeBody func(ds db.DataSource, opts dbconfig.DbOptions) resilience.Func[T]) (T, error) {
	var zero T
	if err := c.enter(); err != nil {
		return zero, err
	}
	defer c.inflight.Done()

	if err := validateParameterDirections(def); err != nil {
		return zero, err
	}

	opts := c.snapshot()
	connectionName := resolveConnectionName(def, opts)
	ec := newExecContext(def, connectionName)
	ctx = withExecContext(ctx, ec)

	ds, err := c.openDataSource(ctx, connectionName, opts)
	if err != nil {
		return zero, err
	}

	pipeline := resilience.GetPipeline[T](c.provider, connectionName)
	result, err := pipeline.Run(ctx, makeBody(ds, opts))
	if err != nil {
		return zero, classifyPublicError(err, connectionName, def.CommandText(), c.provider.Classifier())
	}
	return result, nil
}

// classifyPublicError wraps a pipeline failure into the public *Error
// taxonomy (spec §7), preserving the original error via Unwrap/Is. A
// failure that the resilience stages themselves didn't already tag
// (circuit/overload/timeout/cancellation) only becomes KindTransient
// when classifier says it matches the transient predicate; anything
// else — an unrecognized driver failure the classifier doesn't
// recognize — surfaces as KindUnknown (spec §8 testable scenario 3),
// rather than being silently treated as retryable.
func classifyPublicError(err error, connectionName, commandText string, classifier resilience.Classifier) error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return newError(KindCircuitOpen, connectionName, commandText, err)
	case errors.Is(err, resilience.ErrBulkheadOverloaded), errors.Is(err, resilience.ErrRateLimited):
		return newError(KindOverloaded, connectionName, commandText, err)
	case errors.Is(err, resilience.ErrAttemptTimeout):
		return newError(KindTimeout, connectionName, commandText, err)
	case errors.Is(err, context.Canceled):
		return newError(KindCancelled, connectionName, commandText, err)
	case classifier != nil && classifier.IsTransient(err):
		return newError(KindTransient, connectionName, commandText, err)
	default:
		return newError(KindUnknown, connectionName, commandText, err)
	}
}

// ExecuteNonQuery runs def and returns the number of affected rows
// (spec §4.5's first public operation).
func (c *DbClient) ExecuteNonQuery(ctx context.Context, def queryspec.Definition) (int64, error) {
	return runPipeline[int64](c, ctx, def, func(ds db.DataSource, opts dbconfig.DbOptions) resilience.Func[int64] {
		return func(ctx context.Context) (int64, error) {
			timeoutCtx, cancel := withCommandTimeout(ctx, effectiveTimeout(def, opts))
			defer cancel()
			return attempt[int64](timeoutCtx, ds, def, opts, func(ctx context.Context, exec db.Executor) (int64, error) {
				res, err := exec.Exec(ctx, def.CommandText(), paramArgs(def)...)
				if err != nil {
					return 0, err
				}
				return res.RowsAffected()
			})
		}
	})
}

// ExecuteScalar runs def and coerces the first column of the first row
// to T via internal/scalar, returning the zero value of T when the
// result set is empty (spec §4.5's second public operation, "absent row
// yields None").
func ExecuteScalar[T any](ctx context.Context, c *DbClient, def queryspec.Definition) (T, error) {
	return runPipeline[T](c, ctx, def, func(ds db.DataSource, opts dbconfig.DbOptions) resilience.Func[T] {
		return func(ctx context.Context) (T, error) {
			timeoutCtx, cancel := withCommandTimeout(ctx, effectiveTimeout(def, opts))
			defer cancel()
			return attempt[T](timeoutCtx, ds, def, opts, func(ctx context.Context, exec db.Executor) (T, error) {
				var raw any
				row := exec.QueryRow(ctx, def.CommandText(), paramArgs(def)...)
				if err := row.Scan(&raw); err != nil {
					var zero T
					if isNoRows(err) {
						return zero, nil
					}
					return zero, err
				}
				return scalar.Coerce[T](raw)
			})
		}
	})
}

// Query runs def and projects every returned row through project,
// returning a lazily-consumed sequence (spec §4.5's third public
// operation). Rows are fully materialized inside the resilience
// pipeline (spec §4.5 step 5: "the reader buffers every row in memory
// before the pipeline returns") so a retried attempt never leaks a
// partially-consumed result set to the caller. The returned iterator
// guards its one pass over that already-materialized slice with an
// atomic flag: the first range consumes it (fully or via an early
// break), and every subsequent range over the same iter.Seq2 value
// yields nothing, matching spec §4.5's "finite, single-pass, not
// restartable" requirement exactly — a caller who wants the rows again
// must call Query again, which is a fresh execution.
func Query[T any](ctx context.Context, c *DbClient, def queryspec.Definition, project func(db.Rows) (T, error)) (iter.Seq2[T, error], error) {
	rows, err := runPipeline[[]T](c, ctx, def, func(ds db.DataSource, opts dbconfig.DbOptions) resilience.Func[[]T] {
		return func(ctx context.Context) ([]T, error) {
			timeoutCtx, cancel := withCommandTimeout(ctx, effectiveTimeout(def, opts))
			defer cancel()
			return attempt[[]T](timeoutCtx, ds, def, opts, func(ctx context.Context, exec db.Executor) ([]T, error) {
				cursor, err := exec.Query(ctx, def.CommandText(), paramArgs(def)...)
				if err != nil {
					return nil, err
				}
				defer cursor.Close()

				var out []T
				for cursor.Next() {
					v, perr := project(cursor)
					if perr != nil {
						return nil, perr
					}
					out = append(out, v)
				}
				if err := cursor.Err(); err != nil {
					return nil, err
				}
				return out, nil
			})
		}
	})
	if err != nil {
		return nil, err
	}
	var consumed atomic.Bool
	return func(yield func(T, error) bool) {
		if consumed.Swap(true) {
			return
		}
		for _, v := range rows {
			if !yield(v, nil) {
				return
			}
		}
	}, nil
}

func isNoRows(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no rows")
}
