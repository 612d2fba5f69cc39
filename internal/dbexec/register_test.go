package dbexec

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/oriys/dbexec/internal/db"
	"github.com/oriys/dbexec/internal/dbconfig"
)

// TestRegisterWiresOptionsMonitorToConfigurationHotSwap exercises spec
// §8 testable property 4 end-to-end: the initial connection string "A"
// is used, options are reloaded to "B", and the next execution opens a
// fresh data source against "B" while the one opened for "A" is
// disposed.
func TestRegisterWiresOptionsMonitorToConfigurationHotSwap(t *testing.T) {
	var mu sync.Mutex
	created := map[string]*fakeDataSource{}

	factory := func(ctx context.Context, driverName, connectionString string) (db.DataSource, error) {
		mu.Lock()
		defer mu.Unlock()
		ds := &fakeDataSource{exec: &fakeExecutor{queryRowValue: int64(1)}}
		created[connectionString] = ds
		return ds, nil
	}

	dbOpts := dbconfig.DefaultDbOptions()
	dbOpts.ConnectionStrings["defaultDatabase"] = "fake://A"

	reg, err := Register(dbOpts, dbconfig.DefaultDbResilienceOptions(), WithFactory(factory))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := ExecuteScalar[int64](context.Background(), reg.Client, mustDef(t, "select 1")); err != nil {
		t.Fatalf("ExecuteScalar against A: %v", err)
	}

	mu.Lock()
	dsA := created["fake://A"]
	mu.Unlock()
	if dsA == nil {
		t.Fatal("expected a data source opened for connection string A")
	}
	if atomic.LoadInt32(&dsA.closes) != 0 {
		t.Fatalf("expected A's data source still open, got %d closes", dsA.closes)
	}

	next := dbOpts
	next.ConnectionStrings = map[string]string{"defaultDatabase": "fake://B"}
	if err := reg.ReloadOptions(next); err != nil {
		t.Fatalf("ReloadOptions: %v", err)
	}

	if atomic.LoadInt32(&dsA.closes) != 1 {
		t.Fatalf("expected A's data source disposed immediately on reload, got %d closes", dsA.closes)
	}

	if _, err := ExecuteScalar[int64](context.Background(), reg.Client, mustDef(t, "select 1")); err != nil {
		t.Fatalf("ExecuteScalar against B: %v", err)
	}

	mu.Lock()
	dsB := created["fake://B"]
	mu.Unlock()
	if dsB == nil {
		t.Fatal("expected a fresh data source opened for connection string B")
	}
	if dsB == dsA {
		t.Fatal("expected B's data source to be a distinct instance from A's")
	}
}

// TestReloadResilienceOptionsPropagatesToProvider exercises the
// resilience-side half of the Monitor wiring: an operation that fails
// its first attempt is not retried under the default (disabled)
// resilience snapshot, but succeeds after a retry once
// ReloadResilienceOptions enables retry — proving the provider's next
// GetPipeline call actually observes the reloaded snapshot.
func TestReloadResilienceOptionsPropagatesToProvider(t *testing.T) {
	exec := &fakeExecutor{
		execErr:      fmt.Errorf("transient: %w", syscall.ECONNRESET),
		successAfter: 1,
		execAffected: 1,
	}
	factory := func(ctx context.Context, driverName, connectionString string) (db.DataSource, error) {
		return &fakeDataSource{exec: exec}, nil
	}

	dbOpts := dbconfig.DefaultDbOptions()
	dbOpts.ConnectionStrings["defaultDatabase"] = "fake://A"

	reg, err := Register(dbOpts, dbconfig.DefaultDbResilienceOptions(), WithFactory(factory))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := reg.Client.ExecuteNonQuery(context.Background(), mustDef(t, "update widgets")); err == nil {
		t.Fatal("expected the first call to fail with retry disabled")
	}

	enabled := dbconfig.DefaultDbResilienceOptions()
	enabled.Enabled = true
	enabled.Retry = dbconfig.RetryOptions{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffExponent: 2}
	if err := reg.ReloadResilienceOptions(enabled); err != nil {
		t.Fatalf("ReloadResilienceOptions: %v", err)
	}

	exec.execCalls = 0
	affected, err := reg.Client.ExecuteNonQuery(context.Background(), mustDef(t, "update widgets"))
	if err != nil {
		t.Fatalf("expected the reloaded pipeline to retry past the transient failure, got: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 affected row, got %d", affected)
	}
	if exec.execCalls != 2 {
		t.Fatalf("expected exactly 2 Exec calls (1 failure + 1 success), got %d", exec.execCalls)
	}
}

// TestReloadResilienceOptionsRejectsInvalidSnapshot ensures a bad
// resilience reload never reaches the provider.
func TestReloadResilienceOptionsRejectsInvalidSnapshot(t *testing.T) {
	factory := func(ctx context.Context, driverName, connectionString string) (db.DataSource, error) {
		return &fakeDataSource{exec: &fakeExecutor{execAffected: 1}}, nil
	}

	dbOpts := dbconfig.DefaultDbOptions()
	dbOpts.ConnectionStrings["defaultDatabase"] = "fake://A"

	reg, err := Register(dbOpts, dbconfig.DefaultDbResilienceOptions(), WithFactory(factory))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	enabled := dbconfig.DefaultDbResilienceOptions()
	enabled.Enabled = true
	enabled.Timeout = dbconfig.TimeoutOptions{Enabled: true, PerAttempt: 0}
	if err := reg.ReloadResilienceOptions(enabled); err == nil {
		// A zero PerAttempt with Timeout enabled is invalid per
		// DbResilienceOptions.Validate; this reload must be rejected
		// and must not reach the provider.
		t.Fatal("expected ReloadResilienceOptions to reject an invalid snapshot")
	}
}

// TestReloadOptionsRejectsInvalidSnapshot ensures a bad reload never
// reaches the Monitor (and therefore never propagates to dependents).
func TestReloadOptionsRejectsInvalidSnapshot(t *testing.T) {
	factory := func(ctx context.Context, driverName, connectionString string) (db.DataSource, error) {
		return &fakeDataSource{exec: &fakeExecutor{}}, nil
	}
	dbOpts := dbconfig.DefaultDbOptions()
	dbOpts.ConnectionStrings["defaultDatabase"] = "fake://A"

	reg, err := Register(dbOpts, dbconfig.DefaultDbResilienceOptions(), WithFactory(factory))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	invalid := dbOpts
	invalid.DefaultConnectionName = ""
	if err := reg.ReloadOptions(invalid); err == nil {
		t.Fatal("expected ReloadOptions to reject an invalid snapshot")
	}
	if got := reg.Options.Current().DefaultConnectionName; got != dbOpts.DefaultConnectionName {
		t.Fatalf("expected rejected reload to leave the snapshot unchanged, got %q", got)
	}
}
