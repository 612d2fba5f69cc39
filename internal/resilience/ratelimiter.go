package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/oriys/dbexec/internal/dbconfig"
	dbratelimit "github.com/oriys/dbexec/internal/ratelimit"
)

// ErrRateLimited is returned when the token bucket for a connection
// name has no tokens available (spec §7 Overloaded).
var ErrRateLimited = errors.New("resilience: rate limit exceeded")

// DistributedBackend, when set on a Provider, makes the rate limiter
// stage consult a shared token bucket (internal/ratelimit.Backend)
// before the in-process limiter, for deployments that must share a rate
// budget across processes (spec §6). The in-process limiter is always
// consulted as well; on a backend error it alone decides.
type DistributedBackend = dbratelimit.Backend

// limiterRegistry is the shared, provider-owned set of per-connection
// in-process limiters, grounded on
// Yacobolo-ducklake-dataplatform/internal/middleware/ratelimit.go's
// per-client golang.org/x/time/rate.Limiter map.
type limiterRegistry struct {
	mu      sync.Mutex
	byKey   map[string]*rate.Limiter
	backend DistributedBackend
}

// NewLimiterRegistry creates the shared rate-limiter registry passed
// into Build/NewProvider. backend may be nil, in which case every
// connection name is limited purely in-process.
func NewLimiterRegistry(backend DistributedBackend) *limiterRegistry {
	return &limiterRegistry{byKey: make(map[string]*rate.Limiter), backend: backend}
}

func (r *limiterRegistry) get(connectionName string, permitLimit int, every rate.Limit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byKey[connectionName]
	if !ok {
		l = rate.NewLimiter(every, permitLimit)
		r.byKey[connectionName] = l
	}
	return l
}

// rateLimiterStage implements spec §4.4 step 5: a token bucket of
// permit_limit tokens replenished every replenishment_period.
func rateLimiterStage[T any](connectionName string, cfg dbconfig.RateLimiterOptions, registry *limiterRegistry) Middleware[T] {
	return func(next Func[T]) Func[T] {
		if !cfg.Enabled || cfg.PermitLimit <= 0 {
			return next
		}
		every := rate.Every(cfg.ReplenishmentPeriod / time.Duration(cfg.PermitLimit))
		limiter := registry.get(connectionName, cfg.PermitLimit, every)

		return func(ctx context.Context) (T, error) {
			var zero T
			if registry.backend != nil {
				allowed, _, err := registry.backend.CheckRateLimit(ctx, connectionName, cfg.PermitLimit, float64(cfg.PermitLimit)/cfg.ReplenishmentPeriod.Seconds(), 1)
				if err == nil && !allowed {
					return zero, ErrRateLimited
				}
				// On backend error, fall through to the in-process
				// limiter rather than fail the call outright.
			}
			if !limiter.Allow() {
				return zero, ErrRateLimited
			}
			return next(ctx)
		}
	}
}
