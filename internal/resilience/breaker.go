package resilience

import (
	"context"
	"errors"

	"github.com/oriys/dbexec/internal/circuitbreaker"
	"github.com/oriys/dbexec/internal/dbconfig"
)

// breakerRegistry is the shared, provider-owned set of per-connection
// circuit breakers; every Pipeline built for the same connection name
// looks up the same *circuitbreaker.Breaker here so breaker state
// survives across pipeline rebuilds triggered by unrelated option
// changes.
type breakerRegistry = circuitbreaker.Registry

// NewBreakerRegistry creates the shared breaker registry passed into
// Build/NewProvider.
func NewBreakerRegistry() *breakerRegistry { return circuitbreaker.NewRegistry() }

// ErrCircuitOpen is returned while the breaker for a connection name is
// open (spec §7 CircuitOpen: "fail-fast rejection while breaker is
// open").
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// circuitBreakerStage implements spec §4.4 step 3.
func circuitBreakerStage[T any](connectionName string, cfg dbconfig.CircuitBreakerOptions, registry *breakerRegistry, classify Classifier) Middleware[T] {
	return func(next Func[T]) Func[T] {
		if !cfg.Enabled {
			return next
		}
		breaker := registry.Get(connectionName, circuitbreaker.Config{
			FailureThreshold: cfg.FailureThreshold,
			SamplingWindow:   cfg.SamplingWindow,
			BreakDuration:    cfg.BreakDuration,
		})
		if breaker == nil {
			return next
		}
		return func(ctx context.Context) (T, error) {
			var zero T
			if !breaker.Allow() {
				return zero, ErrCircuitOpen
			}
			v, err := next(ctx)
			if err != nil {
				// Cancellation and other non-transient outcomes do not
				// count against the breaker: the call never reached a
				// state that indicates the backend itself is failing.
				if classify.IsTransient(err) {
					breaker.RecordFailure()
				}
				return v, err
			}
			breaker.RecordSuccess()
			return v, nil
		}
	}
}
