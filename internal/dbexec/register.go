package dbexec

import (
	"context"
	"fmt"

	"github.com/oriys/dbexec/internal/datasource"
	"github.com/oriys/dbexec/internal/db"
	"github.com/oriys/dbexec/internal/dbconfig"
	"github.com/oriys/dbexec/internal/resilience"
)

// Registration is the bundle of explicit constructor parameters spec
// §9's "model container-managed singletons as explicit constructor
// parameters" design note returns in place of a DI-container
// registration call. Options and Resilience are the hot-reload monitors
// (spec §6's "hot-reloadable options monitor" consumed interface) that
// Register has already wired to the cache, provider, and client: a
// caller reloads configuration by calling ReloadOptions/
// ReloadResilienceOptions, and every cached data source or resilience
// pipeline affected by the change invalidates itself before the next
// execution observes it (spec §8 testable property 4).
type Registration struct {
	Client   *DbClient
	Cache    *datasource.Cache
	Provider *resilience.Provider

	Options    *dbconfig.Monitor[dbconfig.DbOptions]
	Resilience *dbconfig.Monitor[dbconfig.DbResilienceOptions]

	broadcaster *dbconfig.ReloadBroadcaster
}

// ReloadOptions validates next and hot-swaps the DbOptions snapshot.
// Every component wired in Register (the DbClient's own snapshot, and
// the data-source cache) observes the change: every cached data source
// is evicted and disposed unconditionally (spec §4.3), so the very next
// execution for any connection name opens a fresh data source against
// the current connection string (spec §8 testable property 4, "next
// execution uses 'B' and the previous data source has been disposed").
func (r *Registration) ReloadOptions(next dbconfig.DbOptions) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("dbexec: invalid DbOptions: %w", err)
	}
	r.Options.Reload(next)
	return nil
}

// ReloadResilienceOptions validates next and hot-swaps the
// DbResilienceOptions snapshot consulted by the resilience provider.
func (r *Registration) ReloadResilienceOptions(next dbconfig.DbResilienceOptions) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("dbexec: invalid DbResilienceOptions: %w", err)
	}
	r.Resilience.Reload(next)
	return nil
}

// ListenForReload blocks, evicting the named connection's cached data
// source whenever another instance sharing this connection-string
// source publishes a reload signal (spec §6's distributed complement to
// the in-process Monitor). It returns immediately if no
// ReloadBroadcaster was attached via WithReloadBroadcaster. Intended to
// run in its own goroutine for the lifetime of a long-running host.
func (r *Registration) ListenForReload(ctx context.Context) {
	if r.broadcaster == nil {
		return
	}
	r.broadcaster.Listen(ctx, r.Cache.Evict)
}

// RegisterOption configures Register beyond its required arguments.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	factory           db.Factory
	resilienceOptions []resilience.Option
	clientOptions     []Option
	broadcaster       *dbconfig.ReloadBroadcaster
}

// WithFactory sets the db.Factory used to open data sources. It is
// required: Register has no default factory and fails without one.
// Tests substitute a fake db.Factory here.
func WithFactory(factory db.Factory) RegisterOption {
	return func(c *registerConfig) { c.factory = factory }
}

// WithResilienceOptions forwards functional options to
// resilience.NewProvider, e.g. WithDistributedRateLimiter or
// WithClassifier.
func WithResilienceOptions(opts ...resilience.Option) RegisterOption {
	return func(c *registerConfig) { c.resilienceOptions = opts }
}

// WithClientOptions forwards functional options to dbexec.New.
func WithClientOptions(opts ...Option) RegisterOption {
	return func(c *registerConfig) { c.clientOptions = opts }
}

// WithReloadBroadcaster attaches a ReloadBroadcaster so a reload signal
// published by another instance sharing this connection-string source
// evicts the matching cache entry here too. The caller must still start
// Registration.ListenForReload in a goroutine; Register itself never
// spawns background goroutines.
func WithReloadBroadcaster(b *dbconfig.ReloadBroadcaster) RegisterOption {
	return func(c *registerConfig) { c.broadcaster = b }
}

// Register validates dbOpts and resilienceOpts (spec §6's "assert
// validation at startup" registration contract), constructs the
// data-source cache, resilience provider, and DbClient over them, and
// wires a Monitor per options type so that a subsequent ReloadOptions/
// ReloadResilienceOptions call propagates to every dependent component:
//   - Options: DbClient.Reload (so the next execution reads the new
//     snapshot) and datasource.ReloadOnChange (every cached data source
//     is evicted and disposed unconditionally on any change, per spec
//     §4.3, and reopened lazily on the next Get for its name).
//   - Resilience: resilience.ReloadOnChange (so the provider's next
//     GetPipeline call builds against the new resilience snapshot).
//
// factory must be supplied via WithFactory — internal/dbexec must never
// import internal/sqladapter directly, since sqladapter is the layer
// above the driver boundary and dbexec sits below it (spec §4.7's
// strictly bottom-up layering); the caller (cmd/dbctl, or any service
// wiring this module) supplies sqladapter.Factory explicitly.
func Register(dbOpts dbconfig.DbOptions, resilienceOpts dbconfig.DbResilienceOptions, opt ...RegisterOption) (*Registration, error) {
	if err := dbOpts.Validate(); err != nil {
		return nil, fmt.Errorf("dbexec: invalid DbOptions: %w", err)
	}
	if err := resilienceOpts.Validate(); err != nil {
		return nil, fmt.Errorf("dbexec: invalid DbResilienceOptions: %w", err)
	}

	cfg := &registerConfig{}
	for _, o := range opt {
		o(cfg)
	}
	if cfg.factory == nil {
		return nil, fmt.Errorf("dbexec: Register requires WithFactory (no default driver factory — internal/dbexec does not import internal/sqladapter)")
	}

	cache := datasource.New(cfg.factory)
	provider := resilience.NewProvider(resilienceOpts, cfg.resilienceOptions...)
	client := New(cache, provider, dbOpts, cfg.clientOptions...)

	optionsMonitor := dbconfig.NewMonitor(dbOpts)
	optionsMonitor.OnChange(client.Reload)
	optionsMonitor.OnChange(datasource.ReloadOnChange(cache, dbOpts))

	resilienceMonitor := dbconfig.NewMonitor(resilienceOpts)
	resilienceMonitor.OnChange(resilience.ReloadOnChange(provider))

	return &Registration{
		Client:      client,
		Cache:       cache,
		Provider:    provider,
		Options:     optionsMonitor,
		Resilience:  resilienceMonitor,
		broadcaster: cfg.broadcaster,
	}, nil
}
