package db

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		mode       Mode
		wantTxLock bool
	}{
		{ModeWrite, true},
		{ModeRead, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.mode), func(t *testing.T) {
			dsn := buildDSN("/tmp/state.sqlite", tc.mode)
			assert.True(t, strings.HasPrefix(dsn, "/tmp/state.sqlite?"))
			assert.Contains(t, dsn, "_journal_mode=WAL")
			assert.Contains(t, dsn, "_busy_timeout=5000")
			assert.Contains(t, dsn, "_synchronous=NORMAL")
			assert.Contains(t, dsn, "_foreign_keys=on")
			if tc.wantTxLock {
				assert.Contains(t, dsn, "_txlock=immediate")
			} else {
				assert.NotContains(t, dsn, "_txlock")
			}
		})
	}
}

func TestOpenSQLite_InvalidMode(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"), Mode("append"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpen_PoolShapes(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var mode string
	require.NoError(t, store.Write.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	assert.Equal(t, 1, store.Write.Stats().MaxOpenConnections)
	assert.Equal(t, 3, store.Read.Stats().MaxOpenConnections)
}

func TestRunMigrations_CreatesStateTables(t *testing.T) {
	store := OpenTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"pipeline_runs", "pipeline_transitions"} {
		var name string
		err := store.Read.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	v, err := SchemaVersion(ctx, store.Write)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestWritePool_SerializesConcurrentWriters(t *testing.T) {
	store := OpenTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Write.ExecContext(ctx,
				`INSERT INTO pipeline_runs (run_id, current_step, state_json, started_at, updated_at)
				 VALUES (?, 'profiling', '{}', '', '')`, "run-"+string(rune('a'+i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, store.Read.QueryRowContext(ctx, "SELECT COUNT(*) FROM pipeline_runs").Scan(&n))
	assert.Equal(t, 20, n)
}
