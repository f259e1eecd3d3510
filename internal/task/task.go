// Package task defines the schedulable unit the synchronization core acts
// on. Tasks are created through the kernel registry on behalf of the
// scheduler that owns dispatch; the core only flips their state, parks
// them and wakes them.
package task

import (
	"sync"
	"sync/atomic"

	"nucleus/internal/cpu"
)

// ID identifies a task. IDs start at one and are never reused within a
// kernel lifetime; zero means "no task".
type ID uint64

// State is the scheduling state of a task as the core observes it.
type State uint32

const (
	// StateRunning marks a task currently executing on its CPU.
	StateRunning State = iota + 1
	// StateReady marks a task eligible to run and waiting for dispatch.
	StateReady
	// StateBlocked marks a task suspended on a wait queue.
	StateBlocked
	// StateSpinning marks a task busy-waiting on a lock, or one that has
	// been granted a lock and has not resumed yet.
	StateSpinning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateBlocked:
		return "blocked"
	case StateSpinning:
		return "spinning"
	default:
		return "unknown"
	}
}

// WakeOutcome tells a woken task why it was woken. Exactly one claimer
// writes the outcome before delivering the wake token, so the waiter
// always observes the reason for its own wake-up.
type WakeOutcome uint32

const (
	// OutcomeNone is the resting value between waits.
	OutcomeNone WakeOutcome = iota
	// OutcomeGranted reports that lock ownership was handed to the task.
	OutcomeGranted
	// OutcomeSent reports that the task's queued message was accepted.
	OutcomeSent
	// OutcomeRetry reports that the waited-on condition may now hold and
	// the task must re-evaluate it.
	OutcomeRetry
	// OutcomeTimedOut reports that the wait deadline expired first.
	OutcomeTimedOut
	// OutcomeKilled reports that the task was killed while waiting.
	OutcomeKilled
	// OutcomeClosed reports that the waited-on object was destroyed.
	OutcomeClosed
)

func (o WakeOutcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeGranted:
		return "granted"
	case OutcomeSent:
		return "sent"
	case OutcomeRetry:
		return "retry"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeKilled:
		return "killed"
	case OutcomeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Waitable is a wait-queue owner that can cancel one pending entry.
// CancelWait reports whether the entry was still queued and has now been
// claimed by the caller; the caller then owns waking the task.
type Waitable interface {
	CancelWait(t *Task, index, gen uint32) bool
}

// Task is one schedulable unit. The identity fields are immutable after
// creation; everything else is written through atomics or under waitMu so
// lock, mailbox and signal paths can touch a task concurrently.
type Task struct {
	id   ID
	prio int8

	state  atomic.Uint32
	cpu    atomic.Int32
	killed atomic.Bool

	// wake carries at most one pending wake token. A token delivered
	// before the matching Park is buffered, never lost.
	wake    chan struct{}
	outcome atomic.Uint32

	waitMu   sync.Mutex
	waitSite Waitable
	waitIdx  uint32
	waitGen  uint32
}

// New creates a task in the ready state, pinned to the given CPU.
func New(id ID, prio int8, on cpu.Index) *Task {
	t := &Task{
		id:   id,
		prio: prio,
		wake: make(chan struct{}, 1),
	}
	t.state.Store(uint32(StateReady))
	t.cpu.Store(int32(on))
	return t
}

// ID returns the task identifier.
func (t *Task) ID() ID {
	if t == nil {
		return 0
	}
	return t.id
}

// Priority returns the task's static priority.
func (t *Task) Priority() int8 {
	if t == nil {
		return 0
	}
	return t.prio
}

// State returns the current scheduling state.
func (t *Task) State() State {
	if t == nil {
		return 0
	}
	return State(t.state.Load())
}

// SetState unconditionally moves the task to the given state.
func (t *Task) SetState(s State) {
	t.state.Store(uint32(s))
}

// CompareAndSwapState moves old to new and reports whether it did.
func (t *Task) CompareAndSwapState(old, new State) bool {
	return t.state.CompareAndSwap(uint32(old), uint32(new))
}

// CPU returns the index of the CPU the task is pinned to.
func (t *Task) CPU() cpu.Index {
	if t == nil {
		return -1
	}
	return cpu.Index(t.cpu.Load())
}

// SetCPU re-pins the task.
func (t *Task) SetCPU(on cpu.Index) {
	t.cpu.Store(int32(on))
}

// Kill marks the task killed. The flag is permanent: blocking operations
// refuse killed tasks and in-flight waits are cancelled by the killer.
func (t *Task) Kill() {
	t.killed.Store(true)
}

// Killed reports whether the task has been killed.
func (t *Task) Killed() bool {
	if t == nil {
		return false
	}
	return t.killed.Load()
}

// Park blocks until the next wake token arrives. A token buffered by an
// Unpark that raced ahead is consumed immediately.
func (t *Task) Park() {
	<-t.wake
}

// Unpark delivers one wake token without blocking. While a token is
// already pending, further deliveries are no-ops, so a task never
// accumulates stale wake-ups.
func (t *Task) Unpark() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// SetWakeOutcome records why the task is about to be woken. Claimers call
// this before Unpark so the ordering guarantees of the wake channel make
// the outcome visible to the waiter.
func (t *Task) SetWakeOutcome(o WakeOutcome) {
	t.outcome.Store(uint32(o))
}

// TakeWakeOutcome consumes the pending outcome, resetting it to
// OutcomeNone.
func (t *Task) TakeWakeOutcome() WakeOutcome {
	return WakeOutcome(t.outcome.Swap(uint32(OutcomeNone)))
}

// BeginWait publishes the wait-queue entry the task is about to suspend
// on. Killers snapshot it through PendingWait to cancel the entry; the
// ordering contract is store-registration-then-check-kill on the waiter
// side against set-kill-then-read-registration on the killer side.
func (t *Task) BeginWait(site Waitable, index, gen uint32) {
	t.waitMu.Lock()
	t.waitSite = site
	t.waitIdx = index
	t.waitGen = gen
	t.waitMu.Unlock()
}

// EndWait clears the published wait entry after the wait resolves.
func (t *Task) EndWait() {
	t.waitMu.Lock()
	t.waitSite = nil
	t.waitIdx = 0
	t.waitGen = 0
	t.waitMu.Unlock()
}

// PendingWait snapshots the currently published wait entry, if any.
func (t *Task) PendingWait() (site Waitable, index, gen uint32, ok bool) {
	if t == nil {
		return nil, 0, 0, false
	}
	t.waitMu.Lock()
	site, index, gen = t.waitSite, t.waitIdx, t.waitGen
	t.waitMu.Unlock()
	return site, index, gen, site != nil
}
