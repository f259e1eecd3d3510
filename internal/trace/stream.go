package trace

import (
	"io"
	"sync"
)

// StreamTracer renders each event as soon as it is emitted. The write
// is best-effort: tracing must never turn an otherwise healthy run
// into a failed one, so write errors are swallowed.
type StreamTracer struct {
	mu     sync.Mutex
	w      io.Writer
	level  Level
	format Format
}

// NewStreamTracer writes events to w in the given format.
func NewStreamTracer(w io.Writer, level Level, format Format) *StreamTracer {
	return &StreamTracer{w: w, level: level, format: format}
}

// Emit stamps the event's sequence number in place and writes it out.
// MultiTracer hands each child its own copy for exactly this reason.
func (s *StreamTracer) Emit(ev *Event) {
	if !s.level.ShouldEmit(ev.Scope) && ev.Kind != KindFault && ev.Kind != KindHeartbeat {
		return
	}

	ev.Seq = NextSeq()
	line := FormatEvent(ev, s.format)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		_ = err
	}
}

// Flush forwards to the writer when it buffers, otherwise does nothing.
func (s *StreamTracer) Flush() error {
	if f, ok := s.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close flushes and closes the writer if it owns a close method.
func (s *StreamTracer) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Level returns the configured verbosity ceiling.
func (s *StreamTracer) Level() Level { return s.level }

// Enabled reports whether the tracer accepts events.
func (s *StreamTracer) Enabled() bool { return s.level > LevelOff }
