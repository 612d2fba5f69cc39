package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/oriys/dbexec/internal/dbconfig"
)

// ErrBulkheadOverloaded is returned when both the bulkhead's concurrency
// permits and its queue slots are exhausted (spec §7 Overloaded:
// "bulkhead or rate limiter rejection").
var ErrBulkheadOverloaded = errors.New("resilience: bulkhead overloaded")

// bulkhead gates concurrent attempts for one connection name to
// max_concurrent permits, with a bounded queue of max_queued waiters;
// a call that cannot get a permit or a queue slot immediately is
// rejected. Modeled on oriys/nova/internal/dbaccess.Gateway.ConnPool's
// counted-acquire/release, reworked here as a semaphore channel plus a
// queue-slot channel rather than a bare mutex-guarded counter, since a
// bulkhead additionally needs to distinguish "no permit but queue has
// room" (wait) from "queue also full" (reject immediately).
type bulkhead struct {
	permits chan struct{}
	queue   chan struct{}
}

func newBulkhead(maxConcurrent, maxQueued int) *bulkhead {
	b := &bulkhead{
		permits: make(chan struct{}, maxConcurrent),
		queue:   make(chan struct{}, maxQueued),
	}
	for i := 0; i < maxConcurrent; i++ {
		b.permits <- struct{}{}
	}
	return b
}

// acquire takes a permit, waiting in the bounded queue if none is
// immediately available. Returns false if the queue itself is full.
func (b *bulkhead) acquire(ctx context.Context) bool {
	select {
	case <-b.permits:
		return true
	default:
	}

	select {
	case b.queue <- struct{}{}:
	default:
		return false
	}
	defer func() { <-b.queue }()

	select {
	case <-b.permits:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *bulkhead) release() {
	b.permits <- struct{}{}
}

// bulkheadRegistry is the shared, provider-owned set of per-connection
// bulkheads.
type bulkheadRegistry struct {
	mu    sync.Mutex
	byKey map[string]*bulkhead
}

// NewBulkheadRegistry creates the shared bulkhead registry passed into
// Build/NewProvider.
func NewBulkheadRegistry() *bulkheadRegistry {
	return &bulkheadRegistry{byKey: make(map[string]*bulkhead)}
}

func (r *bulkheadRegistry) get(connectionName string, maxConcurrent, maxQueued int) *bulkhead {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byKey[connectionName]
	if !ok {
		b = newBulkhead(maxConcurrent, maxQueued)
		r.byKey[connectionName] = b
	}
	return b
}

// bulkheadStage implements spec §4.4 step 4.
func bulkheadStage[T any](connectionName string, cfg dbconfig.BulkheadOptions, registry *bulkheadRegistry) Middleware[T] {
	return func(next Func[T]) Func[T] {
		if !cfg.Enabled || cfg.MaxConcurrent <= 0 {
			return next
		}
		b := registry.get(connectionName, cfg.MaxConcurrent, cfg.MaxQueued)
		return func(ctx context.Context) (T, error) {
			var zero T
			if !b.acquire(ctx) {
				if ctx.Err() != nil {
					return zero, ctx.Err()
				}
				return zero, ErrBulkheadOverloaded
			}
			defer b.release()
			return next(ctx)
		}
	}
}
