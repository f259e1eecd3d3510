package signals

import (
	"errors"
	"testing"
	"time"

	"nucleus/internal/ksync"
	"nucleus/internal/mailbox"
	"nucleus/internal/task"
)

func handlerBox(t *testing.T, owner *task.Task, cfg mailbox.Config) *mailbox.Mailbox {
	t.Helper()
	cfg.Owner = owner
	mb, err := mailbox.New(cfg)
	if err != nil {
		t.Fatalf("mailbox.New: %v", err)
	}
	return mb
}

func TestRaiseDeliversToRegisteredHandler(t *testing.T) {
	a := NewAdapter(Config{})
	faulty := task.New(1, 0, 0)
	handler := task.New(2, 0, 0)
	inbox := handlerBox(t, handler, mailbox.Config{})

	if err := a.Register(faulty, CodePageFault, inbox); err != nil {
		t.Fatalf("Register: %v", err)
	}
	out := a.Raise(faulty, CodePageFault, Context{Addr: 0xdead, Note: "store to unmapped page"})
	if out != OutcomeDelivered {
		t.Fatalf("Raise = %v, want %v", out, OutcomeDelivered)
	}
	if faulty.Killed() {
		t.Fatalf("handled signal killed the task")
	}

	msg, err := inbox.TryRecv(handler)
	if err != nil {
		t.Fatalf("TryRecv: %v", err)
	}
	if msg.Kind != mailbox.KindSignal {
		t.Fatalf("Kind = %v, want signal", msg.Kind)
	}
	if msg.Priority != mailbox.MaxPriority {
		t.Fatalf("Priority = %d, want %d", msg.Priority, mailbox.MaxPriority)
	}
	if Code(msg.Code) != CodePageFault {
		t.Fatalf("Code = %d, want page-fault", msg.Code)
	}
	if msg.Sender != faulty.ID() {
		t.Fatalf("Sender = %d, want %d", msg.Sender, faulty.ID())
	}
	fc, err := DecodeContext(msg.Payload)
	if err != nil {
		t.Fatalf("DecodeContext: %v", err)
	}
	if fc.Task != faulty.ID() || fc.Addr != 0xdead || fc.Note != "store to unmapped page" {
		t.Fatalf("context = %+v, want task 1, addr 0xdead", fc)
	}
}

func TestUnhandledCodeRunsDefaultActionOnce(t *testing.T) {
	a := NewAdapter(Config{})

	quota := task.New(1, 0, 0)
	if out := a.Raise(quota, CodeQuotaExceeded, Context{}); out != OutcomeIgnored {
		t.Fatalf("quota Raise = %v, want %v", out, OutcomeIgnored)
	}
	if quota.Killed() {
		t.Fatalf("ignored signal killed the task")
	}

	doomed := task.New(2, 0, 0)
	if out := a.Raise(doomed, CodeTerminate, Context{}); out != OutcomeTerminated {
		t.Fatalf("terminate Raise = %v, want %v", out, OutcomeTerminated)
	}
	if !doomed.Killed() {
		t.Fatalf("terminate default did not kill the task")
	}

	crasher := task.New(3, 0, 0)
	if out := a.Raise(crasher, CodeIllegalInstruction, Context{}); out != OutcomeTerminated {
		t.Fatalf("illegal-instruction Raise = %v, want %v", out, OutcomeTerminated)
	}
	if !crasher.Killed() {
		t.Fatalf("log-terminate default did not kill the task")
	}
}

func TestDefaultActionMapping(t *testing.T) {
	cases := []struct {
		code Code
		want DefaultAction
	}{
		{CodePageFault, ActionLogTerminate},
		{CodeIllegalInstruction, ActionLogTerminate},
		{CodeTerminate, ActionTerminate},
		{CodeLockMisuse, ActionLogTerminate},
		{CodeQuotaExceeded, ActionIgnore},
		{Code(200), ActionLogTerminate},
	}
	for _, tc := range cases {
		if got := tc.code.Default(); got != tc.want {
			t.Fatalf("%s.Default() = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestRaiseDegradesToDefaultWhenHandlerGone(t *testing.T) {
	a := NewAdapter(Config{})
	faulty := task.New(1, 0, 0)
	handler := task.New(2, 0, 0)
	inbox := handlerBox(t, handler, mailbox.Config{})

	if err := a.Register(faulty, CodePageFault, inbox); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := inbox.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out := a.Raise(faulty, CodePageFault, Context{}); out != OutcomeTerminated {
		t.Fatalf("Raise with closed handler inbox = %v, want %v", out, OutcomeTerminated)
	}
	if !faulty.Killed() {
		t.Fatalf("degraded delivery did not apply the default action")
	}
}

func TestSignalDeliveryBypassesFullHandlerInbox(t *testing.T) {
	a := NewAdapter(Config{})
	faulty := task.New(1, 0, 0)
	handler := task.New(2, 0, 0)
	inbox := handlerBox(t, handler, mailbox.Config{Depth: 1, Policy: mailbox.PolicyDrop})

	if err := inbox.Send(nil, mailbox.Message{Priority: 1}); err != nil {
		t.Fatalf("fill Send: %v", err)
	}
	if err := a.Register(faulty, CodeQuotaExceeded, inbox); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if out := a.Raise(faulty, CodeQuotaExceeded, Context{}); out != OutcomeDelivered {
		t.Fatalf("Raise into full inbox = %v, want %v", out, OutcomeDelivered)
	}
	msg, err := inbox.TryRecv(handler)
	if err != nil {
		t.Fatalf("TryRecv: %v", err)
	}
	if msg.Kind != mailbox.KindSignal {
		t.Fatalf("first drain kind = %v, want the signal", msg.Kind)
	}
}

func TestKillCancelsPendingLockWait(t *testing.T) {
	a := NewAdapter(Config{})
	l := ksync.New(ksync.Config{Name: "victim", SpinBudget: 1})
	holder := task.New(1, 0, 0)
	waiter := task.New(2, 0, 0)

	if err := l.Acquire(holder); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- l.Acquire(waiter) }()

	deadline := time.Now().Add(5 * time.Second)
	for waiter.State() != task.StateBlocked {
		if time.Now().After(deadline) {
			t.Fatalf("waiter never blocked")
		}
		time.Sleep(100 * time.Microsecond)
	}

	a.Kill(waiter)
	if err := <-done; !errors.Is(err, ksync.ErrKilled) {
		t.Fatalf("Acquire after kill = %v, want ErrKilled", err)
	}
	if err := l.Release(holder); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if l.Holder() != 0 {
		t.Fatalf("Holder() = %d, want 0", l.Holder())
	}
}

func TestRegisterValidation(t *testing.T) {
	a := NewAdapter(Config{})
	tk := task.New(1, 0, 0)
	handler := task.New(2, 0, 0)
	inbox := handlerBox(t, handler, mailbox.Config{})

	if err := a.Register(nil, CodePageFault, inbox); err == nil {
		t.Fatalf("Register(nil task) succeeded")
	}
	if err := a.Register(tk, Code(99), inbox); err == nil {
		t.Fatalf("Register(bad code) succeeded")
	}
	if err := a.Register(tk, CodePageFault, nil); err == nil {
		t.Fatalf("Register(nil target) succeeded")
	}

	if err := a.Register(tk, CodePageFault, inbox); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a.Handler(tk, CodePageFault) != inbox {
		t.Fatalf("Handler lookup missed the registration")
	}
	a.Unregister(tk, CodePageFault)
	if a.Handler(tk, CodePageFault) != nil {
		t.Fatalf("Unregister left the binding in place")
	}
}

func TestDropClearsAllBindings(t *testing.T) {
	a := NewAdapter(Config{})
	tk := task.New(1, 0, 0)
	handler := task.New(2, 0, 0)
	inbox := handlerBox(t, handler, mailbox.Config{})

	if err := a.Register(tk, CodePageFault, inbox); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := a.Register(tk, CodeQuotaExceeded, inbox); err != nil {
		t.Fatalf("Register: %v", err)
	}
	a.Drop(tk)
	if a.Handler(tk, CodePageFault) != nil || a.Handler(tk, CodeQuotaExceeded) != nil {
		t.Fatalf("Drop left bindings behind")
	}
}
