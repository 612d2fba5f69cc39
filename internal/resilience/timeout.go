package resilience

import (
	"context"
	"errors"

	"github.com/oriys/dbexec/internal/dbconfig"
)

// ErrAttemptTimeout is produced when an attempt exceeds its per-attempt
// wall-clock cap (spec §4.4 step 2). It is treated as transient by the
// retry stage, matching spec §7 ("Timeout: ... Treated as transient by
// Retry").
var ErrAttemptTimeout = errors.New("resilience: attempt timed out")

// timeoutStage implements spec §4.4 step 2: on expiry the attempt's
// cancellation token is signaled and the attempt is aborted. A
// zero/disabled cfg returns next unchanged.
func timeoutStage[T any](cfg dbconfig.TimeoutOptions) Middleware[T] {
	return func(next Func[T]) Func[T] {
		if !cfg.Enabled || cfg.PerAttempt <= 0 {
			return next
		}
		return func(ctx context.Context) (T, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, cfg.PerAttempt)
			defer cancel()

			v, err := next(attemptCtx)
			if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return v, ErrAttemptTimeout
			}
			return v, err
		}
	}
}
