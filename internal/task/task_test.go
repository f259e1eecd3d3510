package task

import (
	"sync"
	"testing"
)

func TestNewTaskStartsReady(t *testing.T) {
	tk := New(7, 3, 1)
	if tk.ID() != 7 {
		t.Fatalf("ID() = %d, want 7", tk.ID())
	}
	if tk.Priority() != 3 {
		t.Fatalf("Priority() = %d, want 3", tk.Priority())
	}
	if tk.State() != StateReady {
		t.Fatalf("State() = %v, want %v", tk.State(), StateReady)
	}
	if tk.CPU() != 1 {
		t.Fatalf("CPU() = %d, want 1", tk.CPU())
	}
	if tk.Killed() {
		t.Fatalf("new task reports killed")
	}
}

func TestCompareAndSwapStateRejectsStaleOld(t *testing.T) {
	tk := New(1, 0, 0)
	if !tk.CompareAndSwapState(StateReady, StateRunning) {
		t.Fatalf("CAS ready->running failed on a ready task")
	}
	if tk.CompareAndSwapState(StateReady, StateBlocked) {
		t.Fatalf("CAS ready->blocked succeeded on a running task")
	}
	if tk.State() != StateRunning {
		t.Fatalf("State() = %v, want %v", tk.State(), StateRunning)
	}
}

func TestUnparkBeforeParkIsNotLost(t *testing.T) {
	tk := New(1, 0, 0)
	tk.SetWakeOutcome(OutcomeGranted)
	tk.Unpark()
	tk.Unpark() // extra tokens collapse into the pending one
	tk.Park()
	if got := tk.TakeWakeOutcome(); got != OutcomeGranted {
		t.Fatalf("TakeWakeOutcome() = %v, want %v", got, OutcomeGranted)
	}
	if got := tk.TakeWakeOutcome(); got != OutcomeNone {
		t.Fatalf("second TakeWakeOutcome() = %v, want %v", got, OutcomeNone)
	}
}

func TestParkWaitsForConcurrentUnpark(t *testing.T) {
	tk := New(1, 0, 0)
	done := make(chan struct{})
	go func() {
		tk.Park()
		close(done)
	}()
	tk.SetWakeOutcome(OutcomeRetry)
	tk.Unpark()
	<-done
	if got := tk.TakeWakeOutcome(); got != OutcomeRetry {
		t.Fatalf("TakeWakeOutcome() = %v, want %v", got, OutcomeRetry)
	}
}

type recordingSite struct {
	mu    sync.Mutex
	calls int
	index uint32
	gen   uint32
}

func (s *recordingSite) CancelWait(t *Task, index, gen uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.index = index
	s.gen = gen
	return true
}

func TestPendingWaitTracksRegistration(t *testing.T) {
	tk := New(1, 0, 0)
	if _, _, _, ok := tk.PendingWait(); ok {
		t.Fatalf("fresh task reports a pending wait")
	}

	site := &recordingSite{}
	tk.BeginWait(site, 4, 9)
	got, index, gen, ok := tk.PendingWait()
	if !ok {
		t.Fatalf("PendingWait() not ok after BeginWait")
	}
	if got != site || index != 4 || gen != 9 {
		t.Fatalf("PendingWait() = (%v, %d, %d), want (site, 4, 9)", got, index, gen)
	}
	if !got.CancelWait(tk, index, gen) {
		t.Fatalf("CancelWait refused")
	}
	if site.calls != 1 || site.index != 4 || site.gen != 9 {
		t.Fatalf("cancel saw (%d calls, idx %d, gen %d), want (1, 4, 9)", site.calls, site.index, site.gen)
	}

	tk.EndWait()
	if _, _, _, ok := tk.PendingWait(); ok {
		t.Fatalf("PendingWait() still ok after EndWait")
	}
}

func TestKillIsSticky(t *testing.T) {
	tk := New(1, 0, 0)
	tk.Kill()
	if !tk.Killed() {
		t.Fatalf("Killed() = false after Kill")
	}
	tk.Kill()
	if !tk.Killed() {
		t.Fatalf("Killed() flipped back")
	}
}

func TestNilTaskAccessorsAreSafe(t *testing.T) {
	var tk *Task
	if tk.ID() != 0 {
		t.Fatalf("nil ID() = %d, want 0", tk.ID())
	}
	if tk.Killed() {
		t.Fatalf("nil Killed() = true")
	}
	if tk.CPU() != -1 {
		t.Fatalf("nil CPU() = %d, want -1", tk.CPU())
	}
	if _, _, _, ok := tk.PendingWait(); ok {
		t.Fatalf("nil PendingWait() reports an entry")
	}
}
