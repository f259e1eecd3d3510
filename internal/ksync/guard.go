package ksync

import "nucleus/internal/cpu"

// Guard is the short non-blocking critical section that serializes one
// object's wait queue and bookkeeping. Entering masks interrupts on the
// caller's CPU and then takes the object's spinlock, mirroring how queue
// links are protected under a raised IRQ level. Code inside a guard must
// never suspend.
//
// The zero value is ready to use.
type Guard struct {
	spin Spinlock
}

// GuardToken is one entered guard section. Leave it on every exit path;
// Leave is idempotent so deferred and explicit releases can coexist.
type GuardToken struct {
	guard *Guard
	irq   cpu.IRQGuard
}

// Enter masks interrupts on c (nil c means no CPU context, mask skipped)
// and takes the guard.
func (g *Guard) Enter(c *cpu.State) GuardToken {
	irq := c.MaskInterrupts()
	g.spin.Acquire()
	return GuardToken{guard: g, irq: irq}
}

// Leave releases the guard and restores the interrupt mask.
func (t *GuardToken) Leave() {
	if t.guard == nil {
		return
	}
	t.guard.spin.Release()
	t.irq.Restore()
	t.guard = nil
}
