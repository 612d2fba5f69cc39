package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/dbexec/internal/dbconfig"
)

var errFlaky = errors.New("flaky: transient failure")

func flakyClassifier() Classifier {
	return ClassifierFunc(func(err error) bool { return errors.Is(err, errFlaky) })
}

func TestRetryStageSucceedsAfterTransientFailures(t *testing.T) {
	opts := dbconfig.DbResilienceOptions{
		Enabled: true,
		Retry: dbconfig.RetryOptions{
			MaxAttempts:     3,
			BaseDelay:       time.Millisecond,
			BackoffExponent: 1,
		},
	}
	p := NewProvider(opts, WithClassifier(flakyClassifier()))
	pipeline := GetPipeline[int](p, "primary")

	var calls int32
	result, err := pipeline.Run(context.Background(), func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryStageExhaustsAttempts(t *testing.T) {
	opts := dbconfig.DbResilienceOptions{
		Enabled: true,
		Retry: dbconfig.RetryOptions{
			MaxAttempts:     2,
			BaseDelay:       time.Millisecond,
			BackoffExponent: 1,
		},
	}
	p := NewProvider(opts, WithClassifier(flakyClassifier()))
	pipeline := GetPipeline[int](p, "primary")

	var calls int32
	_, err := pipeline.Run(context.Background(), func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errFlaky
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 2 {
		t.Fatalf("expected exactly max_attempts=2 calls, got %d", calls)
	}
}

func TestRetryStageDoesNotRetryNonTransient(t *testing.T) {
	opts := dbconfig.DbResilienceOptions{
		Enabled: true,
		Retry: dbconfig.RetryOptions{
			MaxAttempts:     5,
			BaseDelay:       time.Millisecond,
			BackoffExponent: 1,
		},
	}
	p := NewProvider(opts, WithClassifier(flakyClassifier()))
	pipeline := GetPipeline[int](p, "primary")

	errNonTransient := errors.New("permanent")
	var calls int32
	_, err := pipeline.Run(context.Background(), func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errNonTransient
	})
	if !errors.Is(err, errNonTransient) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-transient failure, got %d", calls)
	}
}

func TestTimeoutStageAbortsSlowAttempt(t *testing.T) {
	cfg := dbconfig.TimeoutOptions{Enabled: true, PerAttempt: 10 * time.Millisecond}
	stage := timeoutStage[int](cfg)
	f := stage(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	_, err := f(context.Background())
	if !errors.Is(err, ErrAttemptTimeout) {
		t.Fatalf("expected ErrAttemptTimeout, got %v", err)
	}
}

func TestCircuitBreakerStageTripsAndRejects(t *testing.T) {
	cfg := dbconfig.CircuitBreakerOptions{
		Enabled:          true,
		FailureThreshold: 2,
		SamplingWindow:   time.Second,
		BreakDuration:    time.Hour,
	}
	registry := NewBreakerRegistry()
	stage := circuitBreakerStage[int]("primary", cfg, registry, flakyClassifier())
	f := stage(func(ctx context.Context) (int, error) { return 0, errFlaky })

	for i := 0; i < 2; i++ {
		if _, err := f(context.Background()); !errors.Is(err, errFlaky) {
			t.Fatalf("expected flaky error, got %v", err)
		}
	}

	_, err := f(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after threshold reached, got %v", err)
	}
}

func TestBulkheadStageRejectsWhenFull(t *testing.T) {
	cfg := dbconfig.BulkheadOptions{Enabled: true, MaxConcurrent: 1, MaxQueued: 0}
	registry := NewBulkheadRegistry()

	release := make(chan struct{})
	blocked := make(chan struct{})
	stage := circuitBreakerPassthroughBulkhead(cfg, registry)

	go func() {
		_, _ = stage(func(ctx context.Context) (int, error) {
			close(blocked)
			<-release
			return 1, nil
		})(context.Background())
	}()
	<-blocked

	_, err := stage(func(ctx context.Context) (int, error) { return 0, nil })(context.Background())
	close(release)
	if !errors.Is(err, ErrBulkheadOverloaded) {
		t.Fatalf("expected ErrBulkheadOverloaded, got %v", err)
	}
}

// circuitBreakerPassthroughBulkhead is a small test helper binding
// bulkheadStage to a fixed connection name.
func circuitBreakerPassthroughBulkhead(cfg dbconfig.BulkheadOptions, registry *bulkheadRegistry) Middleware[int] {
	return bulkheadStage[int]("primary", cfg, registry)
}

func TestRateLimiterStageRejectsOverBudget(t *testing.T) {
	cfg := dbconfig.RateLimiterOptions{Enabled: true, PermitLimit: 1, ReplenishmentPeriod: time.Hour}
	registry := NewLimiterRegistry(nil)
	stage := rateLimiterStage[int]("primary", cfg, registry)
	f := stage(func(ctx context.Context) (int, error) { return 1, nil })

	if _, err := f(context.Background()); err != nil {
		t.Fatalf("first call should be allowed: %v", err)
	}
	if _, err := f(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on second call, got %v", err)
	}
}

func TestPipelineDisabledCallsBodyDirectly(t *testing.T) {
	p := NewProvider(dbconfig.DefaultDbResilienceOptions())
	pipeline := GetPipeline[int](p, "primary")

	var calls int32
	v, err := pipeline.Run(context.Background(), func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 7, nil
	})
	if err != nil || v != 7 || calls != 1 {
		t.Fatalf("expected single direct call returning 7, got v=%d err=%v calls=%d", v, err, calls)
	}
}
