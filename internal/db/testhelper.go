package db

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
)

// OpenTestStore opens a migrated state store in t.TempDir() and registers
// cleanup.
func OpenTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "state.sqlite"), 2)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := RunMigrations(context.Background(), store.Write, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return store
}
