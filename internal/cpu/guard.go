package cpu

// IRQGuard represents one masked-interrupts window on one CPU. Obtain it
// from MaskInterrupts and release it with Restore, normally via defer so
// every exit path restores the previous mask state. Restore is
// idempotent; a second call is a no-op.
//
// Masking nests: the mask is lifted only when the outermost guard
// restores.
type IRQGuard struct {
	cpu  *State
	done bool
}

// MaskInterrupts raises the interrupt mask on this CPU and returns the
// guard that lowers it.
func (s *State) MaskInterrupts() IRQGuard {
	if s == nil {
		return IRQGuard{done: true}
	}
	s.irqDepth.Add(1)
	return IRQGuard{cpu: s}
}

// Restore lowers the mask raised by the matching MaskInterrupts.
func (g *IRQGuard) Restore() {
	if g == nil || g.done || g.cpu == nil {
		return
	}
	g.done = true
	g.cpu.irqDepth.Add(-1)
}

// InterruptsMasked reports whether any guard is active on this CPU.
func (s *State) InterruptsMasked() bool {
	if s == nil {
		return false
	}
	return s.irqDepth.Load() > 0
}
