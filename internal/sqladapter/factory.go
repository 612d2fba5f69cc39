package sqladapter

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/oriys/dbexec/internal/db"
)

// Factory dispatches "postgres"/"pgx" to the native pgx adapter and
// "mysql"/"sqlite"/"sqlite3" to the database/sql adapter, per
// SPEC_FULL.md §4.7; any other driver name is rejected. It satisfies
// db.Factory; cmd/dbctl passes it to internal/dbexec.Register via
// WithFactory.
func Factory(ctx context.Context, driverName, connectionString string) (db.DataSource, error) {
	switch driverName {
	case "postgres", "pgx":
		return NewPgx(ctx, connectionString)
	case "mysql", "sqlite", "sqlite3":
		return NewStdSQL(ctx, normalizeDriverName(driverName), connectionString, StdSQLOptions{})
	default:
		return nil, fmt.Errorf("sqladapter: unsupported driver %q", driverName)
	}
}

// normalizeDriverName maps the configuration-facing driver name to the
// name registered with database/sql by the imported driver package.
func normalizeDriverName(driverName string) string {
	if driverName == "sqlite3" {
		return "sqlite"
	}
	return driverName
}
