package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/termdeck/termdeck/internal/journal"
)

func NewJournal(t *testing.T) (*journal.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := journal.Open(ctx, filepath.Join(t.TempDir(), "termdeck-test.db"))
	if err != nil {
		t.Fatalf("open test journal: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := journal.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}
