package dbexec

import (
	"context"

	"github.com/oriys/dbexec/internal/queryspec"
)

// execContext is the Resilience Context (spec §3): the per-execution
// ambient value created once for a top-level call and reused unchanged
// across every retry attempt against it. It never carries parameter
// values, only identifying metadata, so classifiers and log sites can
// read it without risking a leaked secret.
type execContext struct {
	OperationKey   string
	ConnectionName string
	CommandText    string
	CommandKind    queryspec.CommandKind
	Tag            any
}

// newExecContext builds the Resilience Context for one top-level
// execution of def, defaulting OperationKey to CommandText when blank
// (spec §4.5 step 1).
func newExecContext(def queryspec.Definition, connectionName string) execContext {
	return execContext{
		OperationKey:   def.CommandText(),
		ConnectionName: connectionName,
		CommandText:    def.CommandText(),
		CommandKind:    def.CommandKind(),
		Tag:            def.Tag(),
	}
}

type execContextKey struct{}

// withExecContext attaches ec to ctx so downstream classifiers and log
// sites can recover connection_name/command_text without threading
// extra parameters through every call.
func withExecContext(ctx context.Context, ec execContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// execContextFrom recovers the Resilience Context stamped by
// withExecContext, if any.
func execContextFrom(ctx context.Context) (execContext, bool) {
	ec, ok := ctx.Value(execContextKey{}).(execContext)
	return ec, ok
}
