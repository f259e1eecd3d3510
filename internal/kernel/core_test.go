package kernel

import (
	"errors"
	"testing"
	"time"

	"nucleus/internal/ksync"
	"nucleus/internal/mailbox"
	"nucleus/internal/signals"
	"nucleus/internal/task"
)

func TestBootAppliesDefaults(t *testing.T) {
	c, err := Boot(Config{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if c.CPUs().Count() != 1 {
		t.Fatalf("CPUs().Count() = %d, want 1", c.CPUs().Count())
	}
	if c.Clock() == nil || c.Tracer() == nil || c.Hook() == nil || c.Signals() == nil {
		t.Fatalf("boot left a subsystem nil")
	}
}

func TestNewTaskAssignsDenseIDsAndRoundRobinCPUs(t *testing.T) {
	c, err := Boot(Config{CPUs: 2})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	wantCPU := []int32{0, 1, 0, 1}
	for i := 0; i < 4; i++ {
		tk, err := c.NewTask(0)
		if err != nil {
			t.Fatalf("NewTask #%d: %v", i, err)
		}
		if tk.ID() != task.ID(i+1) {
			t.Fatalf("task #%d ID = %d, want %d", i, tk.ID(), i+1)
		}
		if int32(tk.CPU()) != wantCPU[i] {
			t.Fatalf("task #%d CPU = %d, want %d", i, tk.CPU(), wantCPU[i])
		}
	}
	if got := len(c.Tasks()); got != 4 {
		t.Fatalf("Tasks() = %d entries, want 4", got)
	}
}

func TestEveryTaskGetsAnInbox(t *testing.T) {
	c, err := Boot(Config{MailboxDepth: 4, MailboxPolicy: mailbox.PolicyDrop})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	a, err := c.NewTask(0)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	b, err := c.NewTask(0)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	inbox := c.Inbox(b)
	if inbox == nil {
		t.Fatalf("Inbox(b) = nil")
	}
	if inbox.Depth() != 4 || inbox.BackpressurePolicy() != mailbox.PolicyDrop {
		t.Fatalf("inbox config = (%d, %v), want (4, drop)", inbox.Depth(), inbox.BackpressurePolicy())
	}
	if err := inbox.Send(a, mailbox.Message{Priority: 1, Payload: []byte("hey")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := inbox.TryRecv(b)
	if err != nil {
		t.Fatalf("TryRecv: %v", err)
	}
	if msg.Sender != a.ID() {
		t.Fatalf("Sender = %d, want %d", msg.Sender, a.ID())
	}
}

func TestDestroyTaskCancelsWaitAndClosesInbox(t *testing.T) {
	c, err := Boot(Config{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	victim, err := c.NewTask(0)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	sender, err := c.NewTask(0)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	inbox := c.Inbox(victim)

	recvErr := make(chan error, 1)
	go func() {
		_, err := inbox.Recv(victim)
		recvErr <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for victim.State() != task.StateBlocked {
		if time.Now().After(deadline) {
			t.Fatalf("victim never blocked on its inbox")
		}
		time.Sleep(100 * time.Microsecond)
	}

	if err := c.DestroyTask(victim); err != nil {
		t.Fatalf("DestroyTask: %v", err)
	}
	if err := <-recvErr; !errors.Is(err, ksync.ErrKilled) {
		t.Fatalf("blocked Recv after destroy = %v, want ErrKilled", err)
	}
	if err := inbox.Send(sender, mailbox.Message{Priority: 1}); !errors.Is(err, mailbox.ErrClosed) {
		t.Fatalf("Send to destroyed inbox = %v, want ErrClosed", err)
	}
	if c.Inbox(victim) != nil {
		t.Fatalf("Inbox still registered after destroy")
	}
	if c.Task(victim.ID()) != nil {
		t.Fatalf("Task still registered after destroy")
	}
	if err := c.DestroyTask(victim); err == nil {
		t.Fatalf("second DestroyTask succeeded")
	}
}

func TestGroupRoutesToMemberInboxes(t *testing.T) {
	c, err := Boot(Config{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	w1, _ := c.NewTask(1)
	w2, _ := c.NewTask(2)
	g, err := c.NewGroup("workers", w1, w2)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	target, err := g.Deliver(nil, mailbox.Message{Priority: 1})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	// Both empty: higher owner priority wins the tie.
	if target != c.Inbox(w2) {
		t.Fatalf("Deliver picked %s, want w2's inbox", target.Name())
	}

	stray := task.New(99, 0, 0)
	if _, err := c.NewGroup("bad", stray); err == nil {
		t.Fatalf("NewGroup with unregistered member succeeded")
	}
}

func TestRaiseRoutesThroughAdapter(t *testing.T) {
	c, err := Boot(Config{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	faulty, _ := c.NewTask(0)
	handler, _ := c.NewTask(0)
	if err := c.Signals().Register(faulty, signals.CodePageFault, c.Inbox(handler)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if out := c.Raise(faulty, signals.CodePageFault, signals.Context{Addr: 0x40}); out != signals.OutcomeDelivered {
		t.Fatalf("Raise = %v, want delivered", out)
	}
	msg, err := c.Inbox(handler).TryRecv(handler)
	if err != nil {
		t.Fatalf("TryRecv: %v", err)
	}
	if signals.Code(msg.Code) != signals.CodePageFault {
		t.Fatalf("Code = %d, want page-fault", msg.Code)
	}
}

func TestNewLockIsWiredToCoreCounters(t *testing.T) {
	c, err := Boot(Config{CPUs: 1})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	tk, _ := c.NewTask(0)
	l := c.NewLock("wired")
	if err := l.Acquire(tk); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(tk); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := c.CPUs().ByIndex(0).Counters.Acquires.Load(); got != 1 {
		t.Fatalf("Acquires counter = %d, want 1", got)
	}
}
