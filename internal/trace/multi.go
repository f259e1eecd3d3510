package trace

// MultiTracer duplicates every event to a set of child tracers, which
// is how "both" mode pairs a live stream with the flight recorder.
type MultiTracer struct {
	children []Tracer
	level    Level
}

// NewMultiTracer fans events out to each child in order.
func NewMultiTracer(level Level, children ...Tracer) *MultiTracer {
	return &MultiTracer{children: children, level: level}
}

// Emit hands each child its own copy; children stamp sequence numbers
// into the event they receive.
func (m *MultiTracer) Emit(ev *Event) {
	for _, c := range m.children {
		own := *ev
		c.Emit(&own)
	}
}

// Flush flushes every child and reports the first failure.
func (m *MultiTracer) Flush() error {
	var first error
	for _, c := range m.children {
		if err := c.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every child and reports the first failure.
func (m *MultiTracer) Close() error {
	var first error
	for _, c := range m.children {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Level returns the configured verbosity ceiling.
func (m *MultiTracer) Level() Level { return m.level }

// Enabled reports whether the tracer accepts events.
func (m *MultiTracer) Enabled() bool { return m.level > LevelOff }
