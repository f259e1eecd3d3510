package trace

import (
	"sync/atomic"
	"time"
)

var (
	seqCounter  atomic.Uint64
	spanCounter atomic.Uint64
)

// NextSeq stamps events with a process-wide monotonic sequence number.
// Tracers call it under their own lock, so ties cannot occur within one
// tracer's output.
func NextSeq() uint64 { return seqCounter.Add(1) }

// NextSpanID allocates a span identifier. Zero is reserved for "no span".
func NextSpanID() uint64 { return spanCounter.Add(1) }

// Span pairs a begin event with its end event. A span returned from a
// disabled tracer is inert; every method on it is safe to call.
type Span struct {
	tracer   Tracer
	id       uint64
	parentID uint64
	cpu      int32
	task     uint64
	scope    Scope
	name     string
	started  time.Time
	extra    map[string]string
}

// Begin opens a span and emits its begin event. parent links nested
// spans; pass 0 for a root span.
func Begin(t Tracer, scope Scope, name string, parent uint64) *Span {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return &Span{tracer: Nop, cpu: -1}
	}

	id := NextSpanID()
	now := time.Now()
	t.Emit(&Event{
		Time:     now,
		Kind:     KindSpanBegin,
		Scope:    scope,
		SpanID:   id,
		ParentID: parent,
		CPU:      -1,
		Name:     name,
	})

	return &Span{
		tracer:   t,
		id:       id,
		parentID: parent,
		cpu:      -1,
		scope:    scope,
		name:     name,
		started:  now,
	}
}

// End emits the end event and reports how long the span was open.
func (s *Span) End(detail string) time.Duration {
	if s == nil || s.tracer == nil || !s.tracer.Enabled() {
		return 0
	}

	elapsed := time.Since(s.started)
	s.tracer.Emit(&Event{
		Time:     time.Now(),
		Kind:     KindSpanEnd,
		Scope:    s.scope,
		SpanID:   s.id,
		ParentID: s.parentID,
		CPU:      s.cpu,
		Task:     s.task,
		Name:     s.name,
		Detail:   detail,
		Extra:    s.extra,
	})
	return elapsed
}

// OnCPU attributes the end event to a CPU.
func (s *Span) OnCPU(cpu int32) *Span {
	if s != nil {
		s.cpu = cpu
	}
	return s
}

// ForTask attributes the end event to a task.
func (s *Span) ForTask(task uint64) *Span {
	if s != nil {
		s.task = task
	}
	return s
}

// WithExtra attaches a key-value pair to the end event.
func (s *Span) WithExtra(key, value string) *Span {
	if s == nil || s.tracer == nil || !s.tracer.Enabled() {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string)
	}
	s.extra[key] = value
	return s
}

// ID returns the span identifier, 0 for an inert span.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}
