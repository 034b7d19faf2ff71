package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDSNAddsForeignKeyPragma(t *testing.T) {
	require.Equal(t, ":memory:?_pragma=foreign_keys(1)", dsn(":memory:"))
	require.Equal(t, "file:habits.db?cache=shared&_pragma=foreign_keys(1)", dsn("file:habits.db?cache=shared"))
}

func TestForeignKeysSurviveConnectionTurnover(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "habits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Every query below runs on a freshly opened connection.
	store.db.SetMaxIdleConns(0)

	for i := 0; i < 3; i++ {
		var enabled int
		require.NoError(t, store.db.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&enabled))
		require.Equal(t, 1, enabled)
	}
}
