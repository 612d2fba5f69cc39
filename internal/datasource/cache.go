// Package datasource implements the Cached Data Source (C4): a cache of
// opened db.DataSource handles keyed by logical connection name, with
// singleflight-collapsed creation and invalidation on configuration
// change. Modeled on oriys/nova/internal/pool.Pool's
// Acquire/singleflight/cleanup shape and
// oriys/nova/internal/dbaccess.Gateway's getOrCreatePool
// double-checked-locking cache.
package datasource

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/dbexec/internal/db"
	"github.com/oriys/dbexec/internal/dbconfig"
	"github.com/oriys/dbexec/internal/logging"
)

// Cache lazily opens and caches one db.DataSource per logical connection
// name. At most one live entry exists per name at any instant (spec §3
// invariant), modulo the narrow window during reconfiguration where the
// old entry is being closed.
type Cache struct {
	factory db.Factory

	mu      sync.RWMutex
	entries map[string]db.DataSource
	group   singleflight.Group
}

// New creates a Cache that opens data sources with factory.
func New(factory db.Factory) *Cache {
	return &Cache{
		factory: factory,
		entries: make(map[string]db.DataSource),
	}
}

// Get returns the cached data source for name, opening one via the
// factory on first use. Concurrent first-use calls for the same name are
// collapsed into a single factory invocation (singleflight), so a burst
// of callers racing to open the same connection name never creates more
// than one underlying pool.
func (c *Cache) Get(ctx context.Context, name, driverName, connectionString string) (db.DataSource, error) {
	c.mu.RLock()
	ds, ok := c.entries[name]
	c.mu.RUnlock()
	if ok {
		return ds, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		c.mu.RLock()
		if ds, ok := c.entries[name]; ok {
			c.mu.RUnlock()
			return ds, nil
		}
		c.mu.RUnlock()

		ds, err := c.factory(ctx, driverName, connectionString)
		if err != nil {
			return nil, fmt.Errorf("datasource: open %q: %w", name, err)
		}

		c.mu.Lock()
		c.entries[name] = ds
		c.mu.Unlock()
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(db.DataSource), nil
}

// Evict closes and removes the cached entry for name, if any. Safe to
// call when no entry exists. Used for ReloadBroadcaster-driven
// cross-instance invalidation of a single named connection; a local
// options reload instead goes through EvictAll via ReloadOnChange.
func (c *Cache) Evict(name string) {
	c.mu.Lock()
	ds, ok := c.entries[name]
	if ok {
		delete(c.entries, name)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := ds.Close(); err != nil {
		logging.Op().Warn("datasource: close on evict failed", "connection_name", name, "error", err)
	}
}

// EvictAll closes and removes every cached entry. Used on executor
// shutdown and on a full options reload where the caller cannot tell
// which names changed.
func (c *Cache) EvictAll() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]db.DataSource)
	c.mu.Unlock()

	for name, ds := range entries {
		if err := ds.Close(); err != nil {
			logging.Op().Warn("datasource: close on evict-all failed", "connection_name", name, "error", err)
		}
	}
}

// ReloadOnChange wires cache as a dbconfig Monitor callback: spec
// §4.3's reconfiguration invariant is unconditional — "on any
// options-change event, every entry is evicted and disposed," not just
// the entries whose own connection string happened to change. A change
// to an unrelated option (pool sizing, resilience settings, a
// different connection name's string) still invalidates every cached
// data source, so the next Get for any name reopens it against the
// current options rather than silently keeping a pooled connection
// alive under settings it was never opened with.
func ReloadOnChange(c *Cache, _ dbconfig.DbOptions) dbconfig.ChangeFunc[dbconfig.DbOptions] {
	return func(next dbconfig.DbOptions) {
		c.EvictAll()
	}
}
