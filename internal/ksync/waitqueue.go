package ksync

import (
	"sync/atomic"

	"nucleus/internal/ktime"
	"nucleus/internal/task"
)

// noSlot terminates slot links.
const noSlot = ^uint32(0)

// DefaultWaitSlots sizes a wait pool when the owner does not say.
const DefaultWaitSlots = 64

// waitSlot is one arena entry. Slots are recycled through a free list;
// gen increments on every recycle so a stale (index, gen) ticket can
// never claim a successor occupant. claimed resolves races between the
// grant, timeout and kill paths: whoever flips it owns the wake-up.
type waitSlot[P any] struct {
	task    *task.Task
	since   ktime.Ticks
	payload P
	claimed atomic.Bool
	gen     atomic.Uint32
	next    uint32
	prev    uint32
}

// WaitGrant is a claimed queue entry handed to the waker.
type WaitGrant[P any] struct {
	Task    *task.Task
	Since   ktime.Ticks
	Payload P
}

// WaitQueue is a FIFO of suspended tasks backed by a fixed arena of
// index-linked slots. Capacity is set at construction; when the arena is
// exhausted, Enqueue refuses rather than allocating, keeping the wait
// path allocation-free and the failure mode explicit.
//
// The queue is not internally synchronized: the owning object serializes
// every call through its Guard. Only gen is read outside the guard, as a
// racy staleness pre-check.
type WaitQueue[P any] struct {
	slots []waitSlot[P]
	free  uint32
	head  uint32
	tail  uint32
	count int
}

// NewWaitQueue builds an arena of the given capacity.
func NewWaitQueue[P any](capacity int) *WaitQueue[P] {
	if capacity < 1 {
		capacity = DefaultWaitSlots
	}
	q := &WaitQueue[P]{
		slots: make([]waitSlot[P], capacity),
		head:  noSlot,
		tail:  noSlot,
	}
	for i := range q.slots {
		if i == len(q.slots)-1 {
			q.slots[i].next = noSlot
		} else {
			q.slots[i].next = uint32(i + 1)
		}
		q.slots[i].prev = noSlot
	}
	q.free = 0
	return q
}

// Enqueue appends t to the queue tail and returns the slot's
// generational ticket. ok is false when the arena is exhausted.
func (q *WaitQueue[P]) Enqueue(t *task.Task, since ktime.Ticks, payload P) (index, gen uint32, ok bool) {
	idx := q.free
	if idx == noSlot {
		return 0, 0, false
	}
	s := &q.slots[idx]
	q.free = s.next

	s.task = t
	s.since = since
	s.payload = payload
	s.claimed.Store(false)
	s.next = noSlot
	s.prev = q.tail
	if q.tail != noSlot {
		q.slots[q.tail].next = idx
	} else {
		q.head = idx
	}
	q.tail = idx
	q.count++
	return idx, s.gen.Load(), true
}

// ClaimHead removes and claims the oldest entry.
func (q *WaitQueue[P]) ClaimHead() (WaitGrant[P], bool) {
	for q.head != noSlot {
		idx := q.head
		s := &q.slots[idx]
		if !s.claimed.CompareAndSwap(false, true) {
			// Cannot happen while every mutation goes through the guard;
			// skip the slot rather than double-wake.
			q.unlink(idx)
			q.recycle(idx)
			continue
		}
		g := WaitGrant[P]{Task: s.task, Since: s.since, Payload: s.payload}
		q.unlink(idx)
		q.recycle(idx)
		return g, true
	}
	return WaitGrant[P]{}, false
}

// Claim removes the entry at the ticket if it still belongs to t and has
// not been claimed by anyone else. Timeout, kill and teardown paths use
// it; the gen check makes stale tickets inert.
func (q *WaitQueue[P]) Claim(t *task.Task, index, gen uint32) (P, bool) {
	var zero P
	if int(index) >= len(q.slots) {
		return zero, false
	}
	s := &q.slots[index]
	if s.gen.Load() != gen || s.task != t {
		return zero, false
	}
	if !s.claimed.CompareAndSwap(false, true) {
		return zero, false
	}
	payload := s.payload
	q.unlink(index)
	q.recycle(index)
	return payload, true
}

// StillQueued is the racy pre-check used before taking the guard on the
// timeout path. A false result is definitive; a true result must be
// confirmed with Claim under the guard.
func (q *WaitQueue[P]) StillQueued(index, gen uint32) bool {
	if int(index) >= len(q.slots) {
		return false
	}
	return q.slots[index].gen.Load() == gen
}

// Len returns the number of queued entries.
func (q *WaitQueue[P]) Len() int { return q.count }

// Cap returns the arena capacity.
func (q *WaitQueue[P]) Cap() int { return len(q.slots) }

func (q *WaitQueue[P]) unlink(idx uint32) {
	s := &q.slots[idx]
	if s.prev != noSlot {
		q.slots[s.prev].next = s.next
	} else {
		q.head = s.next
	}
	if s.next != noSlot {
		q.slots[s.next].prev = s.prev
	} else {
		q.tail = s.prev
	}
	q.count--
}

func (q *WaitQueue[P]) recycle(idx uint32) {
	var zero P
	s := &q.slots[idx]
	s.gen.Add(1)
	s.task = nil
	s.payload = zero
	s.prev = noSlot
	s.next = q.free
	q.free = idx
}
