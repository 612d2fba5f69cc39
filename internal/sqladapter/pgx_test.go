package sqladapter

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestIsolationToPgx(t *testing.T) {
	cases := map[string]pgx.TxIsoLevel{
		"read_uncommitted": pgx.ReadUncommitted,
		"read_committed":   pgx.ReadCommitted,
		"repeatable_read":  pgx.RepeatableRead,
		"serializable":     pgx.Serializable,
		"":                 pgx.ReadCommitted,
		"snapshot":         pgx.ReadCommitted,
	}
	for level, want := range cases {
		if got := isolationToPgx(level); got != want {
			t.Errorf("isolationToPgx(%q) = %v, want %v", level, got, want)
		}
	}
}

func TestNewPgxRejectsEmptyConnectionString(t *testing.T) {
	if _, err := NewPgx(context.Background(), ""); err == nil {
		t.Fatal("expected an error for an empty connection string")
	}
}
