package ksync

import "errors"

// Misuse errors report programming mistakes by the caller. They are
// traced as faults with full context; callers are not expected to
// recover from them.
var (
	// ErrNotOwner reports a release or an owner-only operation attempted
	// by a task that does not hold the object.
	ErrNotOwner = errors.New("caller does not own the object")
	// ErrDeadlock reports a task re-acquiring a lock it already holds
	// without having declared the lock reentrant.
	ErrDeadlock = errors.New("lock already held by the calling task")
	// ErrHeld reports an attempt to destroy a lock that is still held.
	ErrHeld = errors.New("lock is still held")
)

// Ordinary errors report conditions a correct caller handles as part of
// normal control flow.
var (
	// ErrTimedOut reports that a wait deadline expired before the
	// condition was satisfied.
	ErrTimedOut = errors.New("wait timed out")
	// ErrNoWaitSlots reports that the fixed wait-slot pool backing the
	// object is exhausted.
	ErrNoWaitSlots = errors.New("wait slot pool exhausted")
	// ErrKilled reports that the task was killed before or during the
	// operation.
	ErrKilled = errors.New("task killed")
	// ErrClosed reports an operation on a destroyed lock.
	ErrClosed = errors.New("lock closed")
)
