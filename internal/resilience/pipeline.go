// Package resilience builds the composable resilience pipeline (spec
// §4.4): retry, timeout, circuit breaker, bulkhead, and rate limiter,
// composed outermost-to-innermost in that order around each execution
// attempt. Grounded on oriys/nova's internal/circuitbreaker and
// internal/ratelimit packages, generalized here into a single ordered
// middleware chain rather than ad hoc call sites.
package resilience

import (
	"context"

	"github.com/oriys/dbexec/internal/dbconfig"
)

// Func is one attempt body: open a connection, run a command, return
// its result. T is the attempt's result type (int64 for a non-query,
// a coerced scalar, or a materialized row slice for a query).
type Func[T any] func(ctx context.Context) (T, error)

// Middleware wraps a Func with one resilience stage.
type Middleware[T any] func(next Func[T]) Func[T]

// Pipeline is the fully composed, immutable resilience stack for one
// connection name. Provider builds a new Pipeline on every GetPipeline
// call from the options snapshot current at that moment; the stateful
// stages it wraps are shared across those builds.
type Pipeline[T any] struct {
	run Middleware[T]
}

// Run executes body through the pipeline.
func (p *Pipeline[T]) Run(ctx context.Context, body Func[T]) (T, error) {
	return p.run(body)(ctx)
}

// Build composes a Pipeline from opts for one connection name. An empty
// (disabled) opts produces a pipeline that calls body directly, per
// spec §4.4's "empty pipeline when enabled=false".
func Build[T any](connectionName string, opts dbconfig.DbResilienceOptions, breakers *breakerRegistry, bulkheads *bulkheadRegistry, limiters *limiterRegistry, classify Classifier) *Pipeline[T] {
	// run is rebuilt per-call since body differs per execution; what's
	// fixed per connection name is the chain of middlewares, captured
	// here as a slice applied outermost-first.
	var chain []Middleware[T]
	if opts.Enabled {
		chain = append(chain,
			retryStage[T](opts.Retry, classify),
			timeoutStage[T](opts.Timeout),
			circuitBreakerStage[T](connectionName, opts.CircuitBreaker, breakers, classify),
			bulkheadStage[T](connectionName, opts.Bulkhead, bulkheads),
			rateLimiterStage[T](connectionName, opts.RateLimiter, limiters),
		)
	}
	return &Pipeline[T]{
		run: func(body Func[T]) Func[T] {
			wrapped := body
			// Apply middlewares in reverse so the first entry in chain
			// (Retry) ends up as the outermost wrapper.
			for i := len(chain) - 1; i >= 0; i-- {
				wrapped = chain[i](wrapped)
			}
			return wrapped
		},
	}
}
