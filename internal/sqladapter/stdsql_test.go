package sqladapter

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestIsolationToSQL(t *testing.T) {
	cases := map[string]sql.IsolationLevel{
		"read_uncommitted": sql.LevelReadUncommitted,
		"read_committed":   sql.LevelReadCommitted,
		"repeatable_read":  sql.LevelRepeatableRead,
		"serializable":     sql.LevelSerializable,
		"":                 sql.LevelDefault,
		"chaos":            sql.LevelDefault,
	}
	for level, want := range cases {
		if got := isolationToSQL(level); got != want {
			t.Errorf("isolationToSQL(%q) = %v, want %v", level, got, want)
		}
	}
}

func TestStdSQLOptionsWithDefaults(t *testing.T) {
	got := StdSQLOptions{}.withDefaults()
	if got.MaxOpenConns != 25 {
		t.Errorf("expected default MaxOpenConns 25, got %d", got.MaxOpenConns)
	}
	if got.MaxIdleConns != 5 {
		t.Errorf("expected default MaxIdleConns 5, got %d", got.MaxIdleConns)
	}
	if got.ConnMaxLifetime != 10*time.Minute {
		t.Errorf("expected default ConnMaxLifetime 10m, got %s", got.ConnMaxLifetime)
	}

	explicit := StdSQLOptions{MaxOpenConns: 4, MaxIdleConns: 1, ConnMaxLifetime: time.Minute}.withDefaults()
	if explicit.MaxOpenConns != 4 || explicit.MaxIdleConns != 1 || explicit.ConnMaxLifetime != time.Minute {
		t.Errorf("expected explicit values preserved, got %+v", explicit)
	}
}

func TestNewStdSQLRejectsEmptyConnectionString(t *testing.T) {
	if _, err := NewStdSQL(context.Background(), "sqlite", "", StdSQLOptions{}); err == nil {
		t.Fatal("expected an error for an empty connection string")
	}
}
