package resilience

import (
	"sync"

	"github.com/oriys/dbexec/internal/dbconfig"
)

// Provider is the Resilience Pipeline Provider (C5): it builds a
// Pipeline for a connection name from the current DbResilienceOptions
// snapshot on every GetPipeline call. No Pipeline value is cached; what
// persists per connection name is the breaker/bulkhead/limiter state in
// the shared registries, and an options-change notification only swaps
// the snapshot (spec §4.4).
//
// Pipeline is generic per result type, but a Provider is used for every
// operation's result type (int64, a scalar, a row slice) against the
// same connection name. Rather than make Provider itself generic —
// which would force one Provider per result type, defeating the
// point of a shared per-connection-name cache — GetPipeline is generic
// and the untyped entry underneath simply stores opts; Build is cheap
// enough (a handful of closures) to run on every GetPipeline call. The
// expensive, stateful parts — breaker/bulkhead/limiter state — live in
// the shared registries below, not in the per-type Pipeline value.
type Provider struct {
	breakers  *breakerRegistry
	bulkheads *bulkheadRegistry
	limiters  *limiterRegistry
	classify  Classifier

	mu   sync.RWMutex
	opts dbconfig.DbResilienceOptions
}

// Option configures a Provider at construction time.
type Option func(*Provider)

// WithClassifier overrides the default transient-failure classifier
// (spec §9 "Transient predicate... pluggable classifier").
func WithClassifier(c Classifier) Option {
	return func(p *Provider) { p.classify = c }
}

// WithDistributedRateLimiter attaches a shared token-bucket backend
// (spec §6) consulted by the rate-limiter stage in addition to the
// in-process limiter.
func WithDistributedRateLimiter(backend DistributedBackend) Option {
	return func(p *Provider) { p.limiters.backend = backend }
}

// NewProvider creates a Provider seeded with the given options snapshot.
func NewProvider(opts dbconfig.DbResilienceOptions, opt ...Option) *Provider {
	p := &Provider{
		breakers:  NewBreakerRegistry(),
		bulkheads: NewBulkheadRegistry(),
		limiters:  NewLimiterRegistry(nil),
		classify:  DefaultClassifier,
		opts:      opts,
	}
	for _, o := range opt {
		o(p)
	}
	return p
}

// GetPipeline returns the pipeline for connectionName built from the
// current options snapshot. Each call builds a fresh Pipeline[T] value
// (cheap: a slice of closures) over the shared, stateful per-connection
// registries, so callers requesting different result types for the
// same connection name still share breaker/bulkhead/limiter state.
func GetPipeline[T any](p *Provider, connectionName string) *Pipeline[T] {
	p.mu.RLock()
	opts := p.opts
	p.mu.RUnlock()
	return Build[T](connectionName, opts, p.breakers, p.bulkheads, p.limiters, p.classify)
}

// Reload swaps the options snapshot used by subsequent GetPipeline
// calls. Breaker state for a connection name already seen survives the
// swap: a configuration change that only adjusts timeouts or retry
// counts should not discard an open breaker's memory of recent
// failures. A breaker/bulkhead/limiter whose shape actually changed
// (FailureThreshold, MaxConcurrent, PermitLimit) is picked up only the
// next time that connection name is evicted and recreated elsewhere
// (e.g. by an explicit ForgetConnection call); Reload alone does not
// force that.
func (p *Provider) Reload(next dbconfig.DbResilienceOptions) {
	p.mu.Lock()
	p.opts = next
	p.mu.Unlock()
}

// ForgetConnection drops breaker/bulkhead/limiter state for
// connectionName so the next GetPipeline call rebuilds them from
// scratch against the current options. Use after a configuration
// change that altered FailureThreshold, MaxConcurrent, or PermitLimit
// for that name.
func (p *Provider) ForgetConnection(connectionName string) {
	p.breakers.Remove(connectionName)
	p.bulkheads.mu.Lock()
	delete(p.bulkheads.byKey, connectionName)
	p.bulkheads.mu.Unlock()
	p.limiters.mu.Lock()
	delete(p.limiters.byKey, connectionName)
	p.limiters.mu.Unlock()
}

// ReloadOnChange adapts Provider.Reload to the dbconfig.Monitor
// callback signature (spec §6 hot-reloadable options monitor).
func ReloadOnChange(p *Provider) dbconfig.ChangeFunc[dbconfig.DbResilienceOptions] {
	return p.Reload
}

// Classifier exposes the provider's transient-failure predicate so a
// caller outside this package (internal/dbexec's public error mapping,
// spec §7) can distinguish a genuinely unrecognized failure from one
// the pipeline already knows how to retry.
func (p *Provider) Classifier() Classifier {
	return p.classify
}
