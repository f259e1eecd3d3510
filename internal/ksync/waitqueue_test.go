package ksync

import (
	"testing"

	"nucleus/internal/task"
)

func TestWaitQueueClaimsInArrivalOrder(t *testing.T) {
	q := NewWaitQueue[int](4)
	tasks := []*task.Task{task.New(1, 0, 0), task.New(2, 0, 0), task.New(3, 0, 0)}
	for i, tk := range tasks {
		if _, _, ok := q.Enqueue(tk, 0, i*10); !ok {
			t.Fatalf("Enqueue(%d) refused with free slots", tk.ID())
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	for i, want := range tasks {
		g, ok := q.ClaimHead()
		if !ok {
			t.Fatalf("ClaimHead() empty at position %d", i)
		}
		if g.Task != want {
			t.Fatalf("ClaimHead() #%d = task %d, want %d", i, g.Task.ID(), want.ID())
		}
		if g.Payload != i*10 {
			t.Fatalf("ClaimHead() #%d payload = %d, want %d", i, g.Payload, i*10)
		}
	}
	if _, ok := q.ClaimHead(); ok {
		t.Fatalf("ClaimHead() returned an entry from an empty queue")
	}
}

func TestWaitQueueClaimRemovesMiddleEntry(t *testing.T) {
	q := NewWaitQueue[struct{}](4)
	a, b, c := task.New(1, 0, 0), task.New(2, 0, 0), task.New(3, 0, 0)
	q.Enqueue(a, 0, struct{}{})
	idx, gen, _ := q.Enqueue(b, 0, struct{}{})
	q.Enqueue(c, 0, struct{}{})

	if _, ok := q.Claim(b, idx, gen); !ok {
		t.Fatalf("Claim refused a live ticket")
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d after claim, want 2", q.Len())
	}
	g1, _ := q.ClaimHead()
	g2, _ := q.ClaimHead()
	if g1.Task != a || g2.Task != c {
		t.Fatalf("drain order = (%d, %d), want (1, 3)", g1.Task.ID(), g2.Task.ID())
	}
}

func TestWaitQueueStaleTicketIsInert(t *testing.T) {
	q := NewWaitQueue[struct{}](1)
	a := task.New(1, 0, 0)
	idx, gen, _ := q.Enqueue(a, 0, struct{}{})
	if _, ok := q.ClaimHead(); !ok {
		t.Fatalf("ClaimHead failed")
	}

	// The slot is recycled to a new occupant; the old ticket must not
	// touch it.
	b := task.New(2, 0, 0)
	idx2, gen2, ok := q.Enqueue(b, 0, struct{}{})
	if !ok || idx2 != idx {
		t.Fatalf("expected slot %d to be recycled, got idx=%d ok=%v", idx, idx2, ok)
	}
	if gen2 == gen {
		t.Fatalf("generation did not advance on recycle")
	}
	if q.StillQueued(idx, gen) {
		t.Fatalf("StillQueued true for a stale generation")
	}
	if _, ok := q.Claim(a, idx, gen); ok {
		t.Fatalf("stale ticket claimed a recycled slot")
	}
	if _, ok := q.Claim(b, idx2, gen2); !ok {
		t.Fatalf("live ticket refused after stale claim attempt")
	}
}

func TestWaitQueueExhaustionAndRecycle(t *testing.T) {
	q := NewWaitQueue[struct{}](2)
	a, b, c := task.New(1, 0, 0), task.New(2, 0, 0), task.New(3, 0, 0)
	q.Enqueue(a, 0, struct{}{})
	q.Enqueue(b, 0, struct{}{})
	if _, _, ok := q.Enqueue(c, 0, struct{}{}); ok {
		t.Fatalf("Enqueue succeeded past capacity")
	}
	if _, ok := q.ClaimHead(); !ok {
		t.Fatalf("ClaimHead failed")
	}
	if _, _, ok := q.Enqueue(c, 0, struct{}{}); !ok {
		t.Fatalf("Enqueue refused after a slot was recycled")
	}
	if q.Len() != 2 || q.Cap() != 2 {
		t.Fatalf("Len,Cap = %d,%d, want 2,2", q.Len(), q.Cap())
	}
}

func TestWaitQueueDefaultCapacity(t *testing.T) {
	q := NewWaitQueue[struct{}](0)
	if q.Cap() != DefaultWaitSlots {
		t.Fatalf("Cap() = %d, want %d", q.Cap(), DefaultWaitSlots)
	}
}
