package analytics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-arkiosk/pkg/stand"
)

// Writer stores stand events.
type Writer interface {
	Record(ctx context.Context, session string, e stand.Event) (Entry, error)
}

type pendingEvent struct {
	session string
	event   stand.Event
}

// Recorder moves stand events off the controller's path. Observe never
// blocks; Run writes queued events until its context ends.
type Recorder struct {
	w      Writer
	logger *slog.Logger
	queue  chan pendingEvent

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder creates a recorder with room for buffer queued events.
func NewRecorder(w Writer, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		w:      w,
		logger: logger.With("component", "analytics"),
		queue:  make(chan pendingEvent, buffer),
	}
}

// Observe queues an event. It drops the event when the queue is full.
func (r *Recorder) Observe(session string, e stand.Event) {
	select {
	case r.queue <- pendingEvent{session: session, event: e}:
	default:
		r.dropped.Add(1)
		r.logger.Warn("analytics queue full, event dropped", "stand", e.Identity, "kind", e.Kind)
	}
}

// Run writes queued events. When ctx ends it flushes what is already queued
// and returns.
func (r *Recorder) Run(ctx context.Context) {
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case p := <-r.queue:
			r.write(writeCtx, p)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case p := <-r.queue:
			r.write(ctx, p)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, p pendingEvent) {
	if _, err := r.w.Record(ctx, p.session, p.event); err != nil {
		r.logger.Error("record stand event", "stand", p.event.Identity, "error", err)
		return
	}
	r.written.Add(1)
}

// Written returns how many events were stored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Dropped returns how many events were discarded.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
