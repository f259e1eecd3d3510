// Package ksync implements the blocking synchronization primitives of the
// core: the spin-then-queue Lock, the fixed-arena WaitQueue its waiters
// live in, and the Guard that protects queue manipulation.
package ksync

import (
	"runtime"
	"sync/atomic"
)

// spinAttemptsBeforeYield bounds how long a spinlock probes before
// yielding the processor to let the holder make progress.
const spinAttemptsBeforeYield = 64

// Spinlock is a test-and-set busy-wait lock. Holders never suspend while
// holding it, so it cannot take part in ordering cycles with the blocking
// Lock whose queue it protects. The zero value is unlocked.
type Spinlock struct {
	state atomic.Uint32
}

// TryAcquire attempts to take the lock without spinning.
func (s *Spinlock) TryAcquire() bool {
	return s.state.CompareAndSwap(0, 1)
}

// Acquire spins until the lock is taken, yielding periodically.
func (s *Spinlock) Acquire() {
	attempts := 0
	for !s.TryAcquire() {
		attempts++
		if attempts >= spinAttemptsBeforeYield {
			attempts = 0
			runtime.Gosched()
		}
	}
}

// Release unlocks. Only the holder may call it.
func (s *Spinlock) Release() {
	s.state.Store(0)
}
