package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oriys/dbexec/internal/dbconfig"
)

// exponentialBackoff implements backoff.BackOff directly from the
// configured BaseDelay/BackoffExponent/UseJitter (spec §4.4:
// delay(n) = base_delay * backoff_exponent^(n-1)), rather than the
// library's own ExponentialBackOff curve, so attempt spacing matches
// the configuration exactly.
type exponentialBackoff struct {
	cfg     dbconfig.RetryOptions
	attempt int
}

func (b *exponentialBackoff) Reset() {
	b.attempt = 0
}

func (b *exponentialBackoff) NextBackOff() time.Duration {
	b.attempt++
	delay := float64(b.cfg.BaseDelay) * math.Pow(b.cfg.BackoffExponent, float64(b.attempt-1))
	if b.cfg.UseJitter {
		// Full jitter: uniform in [0, delay).
		delay = rand.Float64() * delay
	}
	return time.Duration(delay)
}

// retryStage implements spec §4.4 step 1. A disabled retry config
// (MaxAttempts <= 0) returns next unchanged — the "empty pipeline"
// case applies per-stage, not just when the whole pipeline is
// disabled.
func retryStage[T any](cfg dbconfig.RetryOptions, classify Classifier) Middleware[T] {
	return func(next Func[T]) Func[T] {
		if cfg.MaxAttempts <= 0 {
			return next
		}
		return func(ctx context.Context) (T, error) {
			return backoff.Retry(ctx, func() (T, error) {
				v, err := next(ctx)
				if err == nil {
					return v, nil
				}
				// Cancellation and non-transient failures are never
				// retried — stop immediately with the original error.
				if ctx.Err() != nil || !classify.IsTransient(err) {
					return v, backoff.Permanent(err)
				}
				return v, err
			}, backoff.WithBackOff(&exponentialBackoff{cfg: cfg}), backoff.WithMaxTries(uint(cfg.MaxAttempts)))
		}
	}
}
