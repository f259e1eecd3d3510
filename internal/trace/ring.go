package trace

import (
	"io"
	"sync"
)

// RingTracer is the flight recorder: a fixed window of the most recent
// events kept in memory. Emitting never blocks on I/O; the window is
// written out only on request, typically after a run fails.
type RingTracer struct {
	mu      sync.RWMutex
	buf     []Event
	next    int
	wrapped bool
	level   Level
}

// NewRingTracer allocates a recorder holding the last capacity events.
// Non-positive capacities fall back to 4096.
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingTracer{
		buf:   make([]Event, capacity),
		level: level,
	}
}

// Emit stores the event, overwriting the oldest slot once the window
// is full. Faults and heartbeats are kept at any enabled level.
func (r *RingTracer) Emit(ev *Event) {
	if !r.level.ShouldEmit(ev.Scope) && ev.Kind != KindFault && ev.Kind != KindHeartbeat {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = *ev
	r.buf[r.next].Seq = NextSeq()
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.wrapped = true
	}
}

// Snapshot copies the retained events out in oldest-first order.
func (r *RingTracer) Snapshot() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.wrapped {
		return append([]Event(nil), r.buf[:r.next]...)
	}
	out := make([]Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Dump writes the retained window to w, oldest first.
func (r *RingTracer) Dump(w io.Writer, format Format) error {
	events := r.Snapshot()
	for i := range events {
		if _, err := w.Write(FormatEvent(&events[i], format)); err != nil {
			return err
		}
	}
	return nil
}

// Flush is a no-op; the window lives in memory.
func (r *RingTracer) Flush() error { return nil }

// Close is a no-op.
func (r *RingTracer) Close() error { return nil }

// Level returns the configured verbosity ceiling.
func (r *RingTracer) Level() Level { return r.level }

// Enabled reports whether the recorder accepts events.
func (r *RingTracer) Enabled() bool { return r.level > LevelOff }
