package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/dbexec/internal/dbconfig"
	"github.com/oriys/dbexec/internal/dbexec"
	"github.com/oriys/dbexec/internal/sqladapter"
)

// loadRegistration builds a dbexec.Registration from the YAML
// connection-strings file named by --config, applying the default
// command timeout/isolation and whatever resilience stages the
// command's flags turned on.
func loadRegistration(connectionName string, resilienceFlags resilienceFlags) (*dbexec.Registration, error) {
	opts := dbconfig.DefaultDbOptions()
	if connectionName != "" {
		opts.DefaultConnectionName = connectionName
	}

	source, err := dbconfig.NewFileSource(configPath)
	if err != nil {
		return nil, fmt.Errorf("load connection strings: %w", err)
	}
	if err := dbconfig.LoadConnectionStrings(&opts, source); err != nil {
		return nil, fmt.Errorf("apply connection strings: %w", err)
	}

	reg, err := dbexec.Register(opts, resilienceFlags.toOptions(),
		dbexec.WithFactory(sqladapter.Factory))
	if err != nil {
		return nil, fmt.Errorf("register execution engine: %w", err)
	}
	return reg, nil
}

// resilienceFlags binds the handful of resilience knobs worth exposing
// on the command line without replicating the whole
// DbResilienceOptions shape as flags.
type resilienceFlags struct {
	enabled       bool
	maxAttempts   int
	timeoutSecond int
}

func (f resilienceFlags) toOptions() dbconfig.DbResilienceOptions {
	opts := dbconfig.DefaultDbResilienceOptions()
	if !f.enabled {
		return opts
	}
	opts.Enabled = true
	if f.maxAttempts > 0 {
		opts.Retry = dbconfig.RetryOptions{
			MaxAttempts:     f.maxAttempts,
			BaseDelay:       100 * time.Millisecond,
			BackoffExponent: 2,
			UseJitter:       true,
		}
	}
	if f.timeoutSecond > 0 {
		opts.Timeout = dbconfig.TimeoutOptions{Enabled: true, PerAttempt: time.Duration(f.timeoutSecond) * time.Second}
	}
	return opts
}

// addResilienceFlags registers the shared resilience flags on cmd.
func addResilienceFlags(cmd *cobra.Command, f *resilienceFlags) {
	cmd.Flags().BoolVar(&f.enabled, "resilient", false, "enable the retry/timeout resilience stages")
	cmd.Flags().IntVar(&f.maxAttempts, "max-attempts", 3, "retry max attempts when --resilient is set")
	cmd.Flags().IntVar(&f.timeoutSecond, "attempt-timeout", 0, "per-attempt timeout in seconds when --resilient is set (0 disables)")
}
