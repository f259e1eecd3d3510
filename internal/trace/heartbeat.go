package trace

import (
	"fmt"
	"sync"
	"time"
)

// Heartbeat emits a liveness event at a fixed interval. When the
// heartbeats keep arriving but span ends stop, some task is stuck on
// a lock or an empty mailbox; the trace shows which.
type Heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartHeartbeat spawns the heartbeat goroutine. It returns nil when
// tracing is off or the interval is not positive; Stop on a nil
// heartbeat is a no-op.
func StartHeartbeat(t Tracer, interval time.Duration) *Heartbeat {
	if t == nil || !t.Enabled() || interval <= 0 {
		return nil
	}

	h := &Heartbeat{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		tick := time.NewTicker(interval)
		defer tick.Stop()

		var beat uint64
		for {
			select {
			case <-tick.C:
				beat++
				t.Emit(&Event{
					Time:   time.Now(),
					Kind:   KindHeartbeat,
					Scope:  ScopeCore,
					CPU:    -1,
					Name:   "heartbeat",
					Detail: fmt.Sprintf("#%d", beat),
				})
			case <-h.stop:
				return
			}
		}
	}()
	return h
}

// Stop ends the heartbeat and waits for the goroutine to exit. It is
// idempotent.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
