package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultRecorderBuffer = 512

// Recorder decouples journal writes from the notification read path.
// Record never blocks: when the buffer is full the event is dropped
// and counted. The write loop owns the store until Close.
type Recorder struct {
	store   *Store
	logger  *slog.Logger
	events  chan Event
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		events: make(chan Event, defaultRecorderBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an event for the write loop.
func (r *Recorder) Record(ev Event) {
	select {
	case r.events <- ev:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("journal buffer full, dropping events")
		}
	}
}

// Dropped returns how many events were discarded on a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events, drains the buffer, and returns once
// the write loop exits.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.events)
	})
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.store.InsertEvent(ctx, ev)
		cancel()
		if err != nil && err != ErrDuplicate {
			r.logger.Warn("journal insert failed", "kind", ev.Kind, "error", err)
		}
	}
}
