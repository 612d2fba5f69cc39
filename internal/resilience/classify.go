package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Classifier decides whether an attempt's failure is transient (spec
// §7: "wrapped driver errors matching a transient predicate"). The
// resilience provider uses a pluggable classifier so callers can
// replace the default via a functional option without touching the
// pipeline construction itself.
type Classifier interface {
	IsTransient(err error) bool
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(err error) bool

func (f ClassifierFunc) IsTransient(err error) bool { return f(err) }

// DefaultClassifier implements spec §7/§9's default transient predicate:
// context deadline exceeded (surfaced by the timeout stage as
// ErrAttemptTimeout), connection refused/reset at the network layer,
// and driver-reported deadlock — pgx's pgconn.PgError with SQLSTATE
// class 40001 (serialization_failure) or 40P01 (deadlock_detected), and
// MySQL driver error 1213 (ER_LOCK_DEADLOCK).
var DefaultClassifier Classifier = ClassifierFunc(defaultIsTransient)

func defaultIsTransient(err error) bool {
	if err == nil {
		return false
	}
	// Cancellation is never transient; it is a distinct, non-retried
	// failure kind per spec §5/§7.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrAttemptTimeout) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}

	if isMySQLDeadlock(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	return false
}

// isMySQLDeadlock matches the go-sql-driver/mysql *mysql.MySQLError
// Number field (1213, ER_LOCK_DEADLOCK) by string inspection rather
// than importing the mysql driver package into the resilience layer,
// so it does not type-assert *mysql.MySQLError.
func isMySQLDeadlock(err error) bool {
	return strings.Contains(err.Error(), "Error 1213") || strings.Contains(err.Error(), "Deadlock found")
}
