package ksync

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"nucleus/internal/cpu"
	"nucleus/internal/ktime"
	"nucleus/internal/sched"
	"nucleus/internal/task"
	"nucleus/internal/trace"
)

// DefaultSpinBudget is the number of acquisition probes a contended
// caller makes before it queues and suspends.
const DefaultSpinBudget = 128

// Config assembles a Lock. Zero-value fields fall back to defaults:
// monotonic clock, in-process parker hook, nop tracer, no CPU table.
type Config struct {
	Name string

	// Reentrant lets the holder re-acquire; each nested acquire must be
	// matched by a release before ownership transfers.
	Reentrant bool

	// SpinBudget bounds the busy-wait phase, in probes.
	SpinBudget int

	// WaitSlots sizes the fixed arena queued waiters live in.
	WaitSlots int

	Clock  ktime.Clock
	Hook   sched.Hook
	Tracer trace.Tracer
	CPUs   *cpu.Table
}

// Lock is a mutual-exclusion lock with a two-phase acquisition path:
// a bounded spin while exactly one task busy-waits, then a FIFO wait
// queue. Release hands ownership directly to the queue head, so a lock
// with waiters never passes through the unheld state and late spinners
// cannot barge past the queue.
type Lock struct {
	name       string
	reentrant  bool
	spinBudget int

	clock  ktime.Clock
	hook   sched.Hook
	tracer trace.Tracer
	cpus   *cpu.Table

	// holder is the owning task ID, 0 when free. It leaves 0 through a
	// CAS (fast path, spin path, queued re-check) and returns to 0 only
	// in Release with no waiters; a hand-off writes the winner's ID
	// while the releaser still owns the lock.
	holder atomic.Uint64

	// spinner is the ID of the single task allowed to busy-wait, 0 when
	// the spin slot is free.
	spinner atomic.Uint64

	// depth counts nested acquisitions on a reentrant lock. Only the
	// holder touches it.
	depth int32

	guard  Guard
	q      *WaitQueue[struct{}]
	closed atomic.Bool
}

// New builds a Lock from cfg.
func New(cfg Config) *Lock {
	l := &Lock{
		name:       cfg.Name,
		reentrant:  cfg.Reentrant,
		spinBudget: cfg.SpinBudget,
		clock:      cfg.Clock,
		hook:       cfg.Hook,
		tracer:     cfg.Tracer,
		cpus:       cfg.CPUs,
	}
	if l.name == "" {
		l.name = "lock"
	}
	if l.spinBudget <= 0 {
		l.spinBudget = DefaultSpinBudget
	}
	if l.clock == nil {
		l.clock = ktime.NewRealClock()
	}
	if l.hook == nil {
		l.hook = sched.Parker{}
	}
	if l.tracer == nil {
		l.tracer = trace.Nop
	}
	l.q = NewWaitQueue[struct{}](cfg.WaitSlots)
	return l
}

// Name returns the lock's name.
func (l *Lock) Name() string { return l.name }

// Holder returns the ID of the owning task, 0 when free.
func (l *Lock) Holder() task.ID { return task.ID(l.holder.Load()) }

// Waiters returns the number of queued tasks.
func (l *Lock) Waiters() int {
	tok := l.guard.Enter(nil)
	n := l.q.Len()
	tok.Leave()
	return n
}

// Acquire takes the lock for t, suspending until ownership is granted.
func (l *Lock) Acquire(t *task.Task) error {
	return l.acquire(t, 0, false)
}

// AcquireTimeout is Acquire with an absolute deadline. It returns
// ErrTimedOut no earlier than the deadline unless the lock was granted
// first.
func (l *Lock) AcquireTimeout(t *task.Task, deadline ktime.Ticks) error {
	return l.acquire(t, deadline, true)
}

// TryAcquire takes the lock if it is immediately free. It never spins
// and never queues. Calling it on a lock the task already holds is the
// same misuse as a blocking re-acquire.
func (l *Lock) TryAcquire(t *task.Task) (bool, error) {
	if t == nil {
		return false, l.misuse(nil, "lock.try_acquire", "nil task", ErrNotOwner)
	}
	if t.Killed() {
		return false, ErrKilled
	}
	if l.closed.Load() {
		return false, fmt.Errorf("lock %q: %w", l.name, ErrClosed)
	}
	id := uint64(t.ID())
	if l.holder.CompareAndSwap(0, id) {
		l.granted(t, "fast")
		return true, nil
	}
	if l.holder.Load() == id {
		if l.reentrant {
			l.depth++
			return true, nil
		}
		return false, l.misuse(t, "lock.try_acquire", "already held by caller", ErrDeadlock)
	}
	return false, nil
}

func (l *Lock) acquire(t *task.Task, deadline ktime.Ticks, timed bool) error {
	if t == nil {
		return l.misuse(nil, "lock.acquire", "nil task", ErrNotOwner)
	}
	if t.Killed() {
		return ErrKilled
	}
	if l.closed.Load() {
		return fmt.Errorf("lock %q: %w", l.name, ErrClosed)
	}
	id := uint64(t.ID())

	// Fast path: uncontended CAS.
	if l.holder.CompareAndSwap(0, id) {
		l.granted(t, "fast")
		return nil
	}
	if l.holder.Load() == id {
		if l.reentrant {
			l.depth++
			return nil
		}
		return l.misuse(t, "lock.acquire", "already held by caller", ErrDeadlock)
	}

	// Spin phase: one task at a time busy-waits for a bounded budget.
	// Everyone else skips straight to the queue.
	if l.spinner.CompareAndSwap(0, id) {
		t.SetState(task.StateSpinning)
		if c := l.counters(t); c != nil {
			c.Spins.Add(1)
		}
		for i := 0; i < l.spinBudget; i++ {
			if l.holder.CompareAndSwap(0, id) {
				l.spinner.Store(0)
				t.SetState(task.StateRunning)
				l.granted(t, "spin")
				return nil
			}
			runtime.Gosched()
		}
		l.spinner.Store(0)
		t.SetState(task.StateRunning)
	}

	// Queue phase.
	for {
		tok := l.guard.Enter(l.cpuOf(t))
		if l.closed.Load() {
			tok.Leave()
			return fmt.Errorf("lock %q: %w", l.name, ErrClosed)
		}
		// The holder may have released between the spin phase and the
		// guard. Re-checking under the guard closes the window: a
		// release observes either a free lock or our queued entry.
		if l.holder.CompareAndSwap(0, id) {
			tok.Leave()
			l.granted(t, "queue-recheck")
			return nil
		}
		idx, gen, ok := l.q.Enqueue(t, l.clock.Now(), struct{}{})
		if !ok {
			tok.Leave()
			trace.Fault(l.tracer, int32(t.CPU()), id, "lock.enqueue", fmt.Sprintf("lock %q wait pool exhausted", l.name))
			return fmt.Errorf("lock %q: %w", l.name, ErrNoWaitSlots)
		}
		tok.Leave()

		if c := l.counters(t); c != nil {
			c.Waits.Add(1)
		}
		trace.Point(l.tracer, trace.ScopeSync, int32(t.CPU()), id, "lock.wait", l.name)

		t.BeginWait(l, idx, gen)
		var timer ktime.Timer
		if timed {
			timer = l.clock.Arm(deadline, func() { l.expire(t, idx, gen) })
		}
		if t.Killed() {
			// A kill can slip in between the killed check above and the
			// registration; claim our own entry back so the slot is not
			// leaked and no wake token is owed.
			if l.CancelWait(t, idx, gen) {
				if timer != nil {
					timer.Stop()
				}
				t.EndWait()
				return ErrKilled
			}
		}
		l.hook.SuspendCurrent(t, sched.ReasonLockWait)
		if timer != nil {
			timer.Stop()
		}
		t.EndWait()

		switch t.TakeWakeOutcome() {
		case task.OutcomeGranted:
			t.SetState(task.StateRunning)
			if t.Killed() {
				// The grant raced a kill. Pass ownership on so the queue
				// keeps draining and report the kill to the caller.
				_ = l.Release(t)
				return ErrKilled
			}
			l.granted(t, "handoff")
			return nil
		case task.OutcomeTimedOut:
			t.SetState(task.StateRunning)
			return ErrTimedOut
		case task.OutcomeKilled:
			t.SetState(task.StateRunning)
			return ErrKilled
		case task.OutcomeClosed:
			t.SetState(task.StateRunning)
			return fmt.Errorf("lock %q: %w", l.name, ErrClosed)
		default:
			// Spurious wake: loop and retry the whole acquisition.
			t.SetState(task.StateRunning)
		}
	}
}

// Release transfers ownership to the oldest queued waiter, or frees the
// lock when nobody waits. Only the holder may release; anyone else gets
// ErrNotOwner and the lock is untouched.
func (l *Lock) Release(t *task.Task) error {
	if t == nil {
		return l.misuse(nil, "lock.release", "nil task", ErrNotOwner)
	}
	id := uint64(t.ID())
	if l.holder.Load() != id {
		detail := fmt.Sprintf("lock %q held by task %d", l.name, l.holder.Load())
		return l.misuse(t, "lock.release", detail, ErrNotOwner)
	}
	if l.reentrant && l.depth > 0 {
		l.depth--
		return nil
	}

	tok := l.guard.Enter(l.cpuOf(t))
	g, ok := l.q.ClaimHead()
	if !ok {
		// No waiters: the lock becomes free inside the guard, so a task
		// enqueueing concurrently has either linked in (and was claimed
		// above) or will re-check the holder under the guard and win it.
		l.holder.Store(0)
		tok.Leave()
		trace.Point(l.tracer, trace.ScopeSync, int32(t.CPU()), id, "lock.release", l.name)
		return nil
	}
	winner := g.Task
	// Hand off inside the guard: the lock never appears free, so spinners
	// and fresh arrivals cannot barge ahead of the queue head.
	l.holder.Store(uint64(winner.ID()))
	tok.Leave()

	winner.SetWakeOutcome(task.OutcomeGranted)
	winner.SetState(task.StateSpinning)
	if c := l.counters(t); c != nil {
		c.Handoffs.Add(1)
	}
	trace.Point(l.tracer, trace.ScopeSync, int32(t.CPU()), id, "lock.handoff",
		fmt.Sprintf("%s -> task %d", l.name, winner.ID()))
	l.hook.Resume(winner)
	return nil
}

// CancelWait removes t's queue entry if the ticket is still current. The
// caller owns waking t afterwards. It implements task.Waitable for the
// kill path and is also the timeout claim.
func (l *Lock) CancelWait(t *task.Task, index, gen uint32) bool {
	tok := l.guard.Enter(l.cpuOf(t))
	_, ok := l.q.Claim(t, index, gen)
	tok.Leave()
	return ok
}

// Close destroys the lock. The lock must be free: closing a held lock
// fails with ErrHeld and changes nothing. Any waiter that slipped in is
// resumed with a closed outcome.
func (l *Lock) Close() error {
	tok := l.guard.Enter(nil)
	if h := l.holder.Load(); h != 0 {
		tok.Leave()
		return fmt.Errorf("lock %q held by task %d: %w", l.name, h, ErrHeld)
	}
	l.closed.Store(true)
	var orphans []*task.Task
	for {
		g, ok := l.q.ClaimHead()
		if !ok {
			break
		}
		orphans = append(orphans, g.Task)
	}
	tok.Leave()
	for _, w := range orphans {
		w.SetWakeOutcome(task.OutcomeClosed)
		l.hook.Resume(w)
	}
	return nil
}

// expire is the timer callback for AcquireTimeout. It runs on the timer
// goroutine; the gen pre-check keeps the common granted-before-deadline
// case away from the guard.
func (l *Lock) expire(t *task.Task, index, gen uint32) {
	if !l.q.StillQueued(index, gen) {
		return
	}
	if !l.CancelWait(t, index, gen) {
		return
	}
	if c := l.counters(t); c != nil {
		c.Timeouts.Add(1)
	}
	trace.Point(l.tracer, trace.ScopeSync, int32(t.CPU()), uint64(t.ID()), "lock.timeout", l.name)
	t.SetWakeOutcome(task.OutcomeTimedOut)
	l.hook.Resume(t)
}

func (l *Lock) granted(t *task.Task, how string) {
	if c := l.counters(t); c != nil {
		c.Acquires.Add(1)
	}
	trace.Point(l.tracer, trace.ScopeSync, int32(t.CPU()), uint64(t.ID()), "lock.acquire",
		fmt.Sprintf("%s via %s", l.name, how))
}

func (l *Lock) misuse(t *task.Task, op, detail string, sentinel error) error {
	if t == nil {
		trace.Fault(l.tracer, -1, 0, op, detail)
		return fmt.Errorf("lock %q: %s: %w", l.name, detail, sentinel)
	}
	trace.Fault(l.tracer, int32(t.CPU()), uint64(t.ID()), op, detail)
	return fmt.Errorf("lock %q: task %d: %s: %w", l.name, t.ID(), detail, sentinel)
}

func (l *Lock) cpuOf(t *task.Task) *cpu.State {
	if l.cpus == nil || t == nil {
		return nil
	}
	return l.cpus.ByIndex(t.CPU())
}

func (l *Lock) counters(t *task.Task) *cpu.Counters {
	s := l.cpuOf(t)
	if s == nil {
		return nil
	}
	return &s.Counters
}
