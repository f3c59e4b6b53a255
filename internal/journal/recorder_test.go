package journal_test

import (
	"testing"

	"github.com/termdeck/termdeck/internal/journal"
	"github.com/termdeck/termdeck/internal/testutil"
)

func TestRecorderWritesEventsAsync(t *testing.T) {
	store, ctx := testutil.NewJournal(t)
	rec := journal.NewRecorder(store, nil)

	for i := 0; i < 10; i++ {
		rec.Record(journal.NewEvent("deck", "output"))
	}
	rec.Close()

	count, err := store.CountEvents(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 10 {
		t.Fatalf("count = %d, want 10", count)
	}
	if rec.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", rec.Dropped())
	}
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	store, _ := testutil.NewJournal(t)
	rec := journal.NewRecorder(store, nil)
	rec.Record(journal.NewEvent("deck", "exit"))
	rec.Close()
	rec.Close()
}
