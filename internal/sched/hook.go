// Package sched carries the narrow contract between the synchronization
// core and the scheduler that owns dispatch. The core never walks ready
// queues or picks the next task; it only asks for the current task to be
// suspended or for a specific task to be made runnable again.
package sched

import "nucleus/internal/task"

// Reason says why the core is suspending a task. Reasons are advisory:
// the default hook ignores them, tracing and accounting do not.
type Reason uint8

const (
	// ReasonLockWait marks a task queued behind a held lock.
	ReasonLockWait Reason = iota + 1
	// ReasonMailboxRecv marks a task waiting for a message to arrive.
	ReasonMailboxRecv
	// ReasonMailboxSend marks a task waiting for inbox space.
	ReasonMailboxSend
)

func (r Reason) String() string {
	switch r {
	case ReasonLockWait:
		return "lock-wait"
	case ReasonMailboxRecv:
		return "mailbox-recv"
	case ReasonMailboxSend:
		return "mailbox-send"
	default:
		return "unknown"
	}
}

// Hook is the suspend/resume surface the core calls into.
//
// SuspendCurrent blocks the calling task until a claimer wakes it; the
// caller has already published its wait-queue entry. Resume makes a
// previously suspended task runnable and must be safe to call from any
// task, from timer callbacks, and with interrupts masked. A Resume that
// races ahead of its SuspendCurrent must not be lost. Task priority is at
// most a dispatch hint to the implementation; the core never assumes
// priority ordering of resumed tasks.
type Hook interface {
	SuspendCurrent(t *task.Task, why Reason)
	Resume(t *task.Task)
}

// Parker is the default Hook. It parks the calling goroutine on the
// task's single-slot wake channel, so a wake token delivered early is
// buffered rather than dropped.
type Parker struct{}

// SuspendCurrent marks the task blocked and parks it. Once the wake
// token arrives the task is runnable again, so the blocked mark is
// lifted unless a claimer already retargeted the state.
func (Parker) SuspendCurrent(t *task.Task, _ Reason) {
	if t == nil {
		return
	}
	t.SetState(task.StateBlocked)
	t.Park()
	t.CompareAndSwapState(task.StateBlocked, task.StateReady)
}

// Resume moves a blocked task back to ready and delivers its wake token.
// The state swap is conditional: claimers that already retargeted the
// state (a lock hand-off marks the winner spinning) keep their value.
func (Parker) Resume(t *task.Task) {
	if t == nil {
		return
	}
	t.CompareAndSwapState(task.StateBlocked, task.StateReady)
	t.Unpark()
}
