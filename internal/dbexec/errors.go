package dbexec

import (
	"errors"
	"fmt"
)

// Kind classifies a failure surfaced by the execution engine, matching
// spec §7's taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration: unknown connection name, blank connection
	// string, invalid options. Surfaced immediately; never retried.
	KindConfiguration
	// KindTransient: a wrapped driver error matching the transient
	// classifier. Retried by the resilience pipeline up to max_attempts.
	KindTransient
	// KindTimeout: per-attempt timeout from the resilience pipeline.
	// Treated as transient by Retry.
	KindTimeout
	// KindOverloaded: bulkhead or rate limiter rejection. Not retried.
	KindOverloaded
	// KindCircuitOpen: fail-fast rejection while the breaker is open.
	KindCircuitOpen
	// KindInvalidConversion: scalar coercion failure. Never retried.
	KindInvalidConversion
	// KindCancelled: top-level or per-attempt cancellation. Never
	// retried; propagated to the caller.
	KindCancelled
	// KindDisposed: call made after executor shutdown.
	KindDisposed
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration_error"
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindOverloaded:
		return "overloaded"
	case KindCircuitOpen:
		return "circuit_open"
	case KindInvalidConversion:
		return "invalid_conversion"
	case KindCancelled:
		return "cancelled"
	case KindDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Error is the typed failure surfaced by every public DbClient
// operation. ConnectionName and CommandText are included per spec §7
// ("failure messages include connection_name and a redacted
// command_text"); parameter values are never attached.
type Error struct {
	Kind           Kind
	ConnectionName string
	CommandText    string
	Err            error
}

func (e *Error) Error() string {
	text := redactCommandText(e.CommandText)
	if e.ConnectionName == "" {
		return fmt.Sprintf("dbexec: %s: %s: %v", e.Kind, text, e.Err)
	}
	return fmt.Sprintf("dbexec: %s: connection=%q %s: %v", e.Kind, e.ConnectionName, text, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, dbexec.ErrCircuitOpen) against the sentinel
// values below.
func (e *Error) Is(target error) bool {
	var k *kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

// kindSentinel lets callers match on a Kind alone via errors.Is without
// caring about ConnectionName/CommandText/Err.
type kindSentinel struct{ kind Kind }

func (k *kindSentinel) Error() string { return "dbexec: " + k.kind.String() }

var (
	ErrConfiguration     error = &kindSentinel{KindConfiguration}
	ErrTransient         error = &kindSentinel{KindTransient}
	ErrTimeout           error = &kindSentinel{KindTimeout}
	ErrOverloaded        error = &kindSentinel{KindOverloaded}
	ErrCircuitOpen       error = &kindSentinel{KindCircuitOpen}
	ErrInvalidConversion error = &kindSentinel{KindInvalidConversion}
	ErrCancelled         error = &kindSentinel{KindCancelled}
	ErrDisposed          error = &kindSentinel{KindDisposed}
)

// newError wraps err as a typed *Error of the given kind.
func newError(kind Kind, connectionName, commandText string, err error) *Error {
	return &Error{Kind: kind, ConnectionName: connectionName, CommandText: commandText, Err: err}
}

// redactCommandText returns a bounded preview of command text for error
// messages, never the full text of arbitrarily large statements and
// never any parameter value.
func redactCommandText(text string) string {
	const maxLen = 80
	if len(text) <= maxLen {
		return fmt.Sprintf("command=%q", text)
	}
	return fmt.Sprintf("command=%q...", text[:maxLen])
}
