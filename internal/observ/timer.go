// Package observ carries the host-side observability helpers: wall
// clock timing of run phases for reports. Event-level instrumentation
// lives in internal/trace; this package only measures phases.
package observ

import "time"

type phase struct {
	name  string
	start time.Time
	dur   time.Duration
	note  string
}

// Timer measures named phases of a run. Begin returns a handle that
// End closes; phases may overlap.
type Timer struct {
	phases []phase
}

// NewTimer returns an empty timer.
func NewTimer() *Timer { return &Timer{} }

// Begin opens a phase and returns its handle.
func (t *Timer) Begin(name string) int {
	t.phases = append(t.phases, phase{name: name, start: time.Now()})
	return len(t.phases) - 1
}

// End closes the phase behind a handle. The note lands in the report
// next to the duration; out-of-range handles are ignored.
func (t *Timer) End(idx int, note string) {
	if idx < 0 || idx >= len(t.phases) {
		return
	}
	p := &t.phases[idx]
	p.dur = time.Since(p.start)
	p.note = note
}

// PhaseReport is one timed phase in report form.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Note       string  `json:"note,omitempty"`
}

// Report is the serializable view of a timer.
type Report struct {
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

// Report converts the recorded phases to milliseconds and totals them.
func (t *Timer) Report() Report {
	if len(t.phases) == 0 {
		return Report{}
	}
	out := Report{Phases: make([]PhaseReport, 0, len(t.phases))}
	var total time.Duration
	for _, p := range t.phases {
		total += p.dur
		out.Phases = append(out.Phases, PhaseReport{
			Name:       p.name,
			DurationMS: millis(p.dur),
			Note:       p.note,
		})
	}
	out.TotalMS = millis(total)
	return out
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
