package sched

import (
	"testing"

	"nucleus/internal/task"
)

func TestParkerResumeBeforeSuspendIsNotLost(t *testing.T) {
	var p Parker
	tk := task.New(1, 0, 0)
	tk.SetWakeOutcome(task.OutcomeGranted)
	p.Resume(tk)
	p.SuspendCurrent(tk, ReasonLockWait) // must return immediately
	if got := tk.TakeWakeOutcome(); got != task.OutcomeGranted {
		t.Fatalf("TakeWakeOutcome() = %v, want %v", got, task.OutcomeGranted)
	}
	if tk.State() != task.StateReady {
		t.Fatalf("State() = %v, want %v", tk.State(), task.StateReady)
	}
}

func TestParkerRoundTripsUnderContention(t *testing.T) {
	var p Parker
	tk := task.New(1, 0, 0)
	const rounds = 200

	woken := make(chan struct{})
	go func() {
		for i := 0; i < rounds; i++ {
			p.SuspendCurrent(tk, ReasonMailboxRecv)
			woken <- struct{}{}
		}
	}()

	for i := 0; i < rounds; i++ {
		p.Resume(tk)
		<-woken
	}
}

func TestParkerResumePreservesRetargetedState(t *testing.T) {
	var p Parker
	tk := task.New(1, 0, 0)
	tk.SetState(task.StateSpinning) // claimer already handed the task a lock
	p.Resume(tk)
	if tk.State() != task.StateSpinning {
		t.Fatalf("State() = %v, want %v", tk.State(), task.StateSpinning)
	}
	tk.Park() // token from Resume must be pending
}

func TestParkerNilTaskIsNoop(t *testing.T) {
	var p Parker
	p.Resume(nil)
	p.SuspendCurrent(nil, ReasonLockWait)
}

func TestReasonStrings(t *testing.T) {
	cases := []struct {
		r    Reason
		want string
	}{
		{ReasonLockWait, "lock-wait"},
		{ReasonMailboxRecv, "mailbox-recv"},
		{ReasonMailboxSend, "mailbox-send"},
		{Reason(0), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.r.String(); got != tc.want {
			t.Fatalf("Reason(%d).String() = %q, want %q", tc.r, got, tc.want)
		}
	}
}

var _ Hook = Parker{}
