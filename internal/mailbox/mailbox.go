package mailbox

import (
	"container/heap"
	"fmt"
	"strings"
	"sync/atomic"

	"nucleus/internal/cpu"
	"nucleus/internal/ksync"
	"nucleus/internal/ktime"
	"nucleus/internal/sched"
	"nucleus/internal/task"
	"nucleus/internal/trace"
)

// Policy says what happens to a normal send that hits the high-water
// mark.
type Policy uint8

const (
	// PolicyBlock suspends the sender until space frees.
	PolicyBlock Policy = iota + 1
	// PolicyDrop rejects the message and counts the rejection.
	PolicyDrop
)

func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// ParsePolicy reads a policy name as it appears in manifests.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block":
		return PolicyBlock, nil
	case "drop":
		return PolicyDrop, nil
	default:
		return 0, fmt.Errorf("unknown mailbox policy %q (want block or drop)", s)
	}
}

// DefaultDepth is the high-water mark used when the owner does not set
// one.
const DefaultDepth = 16

// Config assembles a Mailbox. Owner is required; everything else has a
// default.
type Config struct {
	Owner *task.Task
	Name  string

	// Depth is the high-water mark for normal traffic.
	Depth int

	// Policy applies to normal sends at the mark.
	Policy Policy

	// WaitSlots sizes each of the sender and receiver wait arenas.
	WaitSlots int

	Clock  ktime.Clock
	Hook   sched.Hook
	Tracer trace.Tracer
	CPUs   *cpu.Table
}

// Mailbox is one task's inbox: a priority-ordered queue with a fixed
// high-water mark, a wait queue of senders stalled by backpressure and a
// wait queue for the owner when the inbox is empty.
//
// Ordering and bookkeeping are serialized by the guard; qlen and dropped
// are atomic mirrors readable without it.
type Mailbox struct {
	owner  *task.Task
	name   string
	depth  int
	policy Policy

	clock  ktime.Clock
	hook   sched.Hook
	tracer trace.Tracer
	cpus   *cpu.Table

	guard  ksync.Guard
	heap   msgHeap
	seq    uint64
	closed bool

	qlen    atomic.Int32
	dropped atomic.Uint64

	recvq    *ksync.WaitQueue[struct{}]
	sendq    *ksync.WaitQueue[Message]
	recvSite recvSite
	sendSite sendSite
}

// New builds a Mailbox for cfg.Owner.
func New(cfg Config) (*Mailbox, error) {
	if cfg.Owner == nil {
		return nil, fmt.Errorf("mailbox: owner task required")
	}
	mb := &Mailbox{
		owner:  cfg.Owner,
		name:   cfg.Name,
		depth:  cfg.Depth,
		policy: cfg.Policy,
		clock:  cfg.Clock,
		hook:   cfg.Hook,
		tracer: cfg.Tracer,
		cpus:   cfg.CPUs,
	}
	if mb.name == "" {
		mb.name = fmt.Sprintf("inbox-%d", cfg.Owner.ID())
	}
	if mb.depth <= 0 {
		mb.depth = DefaultDepth
	}
	if mb.policy == 0 {
		mb.policy = PolicyBlock
	}
	if mb.clock == nil {
		mb.clock = ktime.NewRealClock()
	}
	if mb.hook == nil {
		mb.hook = sched.Parker{}
	}
	if mb.tracer == nil {
		mb.tracer = trace.Nop
	}
	mb.recvq = ksync.NewWaitQueue[struct{}](cfg.WaitSlots)
	mb.sendq = ksync.NewWaitQueue[Message](cfg.WaitSlots)
	mb.recvSite.mb = mb
	mb.sendSite.mb = mb
	return mb, nil
}

// Owner returns the receiving task.
func (mb *Mailbox) Owner() *task.Task { return mb.owner }

// Name returns the inbox name.
func (mb *Mailbox) Name() string { return mb.name }

// Depth returns the high-water mark.
func (mb *Mailbox) Depth() int { return mb.depth }

// Policy returns the backpressure policy for normal traffic.
func (mb *Mailbox) BackpressurePolicy() Policy { return mb.policy }

// Len returns the number of queued messages. It reads an atomic mirror,
// so it is safe anywhere but only advisory under concurrency.
func (mb *Mailbox) Len() int { return int(mb.qlen.Load()) }

// Dropped returns how many normal messages the drop policy rejected.
func (mb *Mailbox) Dropped() uint64 { return mb.dropped.Load() }

// Send enqueues msg. Signal-kind messages are always admitted; normal
// messages at the high-water mark follow the inbox policy, suspending
// the sender under PolicyBlock. A non-nil from overwrites msg.Sender.
func (mb *Mailbox) Send(from *task.Task, msg Message) error {
	return mb.send(from, msg, 0, false)
}

// SendTimeout is Send with an absolute deadline on the blocked phase.
func (mb *Mailbox) SendTimeout(from *task.Task, msg Message, deadline ktime.Ticks) error {
	return mb.send(from, msg, deadline, true)
}

func (mb *Mailbox) send(from *task.Task, msg Message, deadline ktime.Ticks, timed bool) error {
	if from != nil && from.Killed() {
		return ksync.ErrKilled
	}
	if msg.Kind == 0 {
		msg.Kind = KindNormal
	}
	if from != nil {
		msg.Sender = from.ID()
	}
	for {
		tok := mb.guard.Enter(mb.cpuOf(from))
		if mb.closed {
			tok.Leave()
			return fmt.Errorf("mailbox %q: %w", mb.name, ErrClosed)
		}
		if msg.Kind == KindSignal || len(mb.heap) < mb.depth {
			mb.push(msg)
			g, woke := mb.recvq.ClaimHead()
			tok.Leave()
			if c := mb.counters(from); c != nil {
				c.Sends.Add(1)
			}
			trace.Point(mb.tracer, trace.ScopeIPC, int32(from.CPU()), uint64(from.ID()), "mailbox.send",
				fmt.Sprintf("%s prio=%d kind=%s", mb.name, msg.Priority, msg.Kind))
			if woke {
				g.Task.SetWakeOutcome(task.OutcomeRetry)
				mb.hook.Resume(g.Task)
			}
			return nil
		}

		// At the high-water mark.
		if mb.policy == PolicyDrop {
			mb.dropped.Add(1)
			tok.Leave()
			if c := mb.counters(from); c != nil {
				c.Drops.Add(1)
			}
			trace.Point(mb.tracer, trace.ScopeIPC, int32(from.CPU()), uint64(from.ID()), "mailbox.drop", mb.name)
			return ErrDropped
		}
		if from == nil {
			tok.Leave()
			return mb.misuse(nil, "mailbox.send", "blocking send requires a sending task", ErrNoSender)
		}
		idx, gen, ok := mb.sendq.Enqueue(from, mb.clock.Now(), msg)
		if !ok {
			tok.Leave()
			trace.Fault(mb.tracer, int32(from.CPU()), uint64(from.ID()), "mailbox.send",
				fmt.Sprintf("mailbox %q sender pool exhausted", mb.name))
			return fmt.Errorf("mailbox %q: %w", mb.name, ksync.ErrNoWaitSlots)
		}
		tok.Leave()

		if c := mb.counters(from); c != nil {
			c.Waits.Add(1)
		}
		trace.Point(mb.tracer, trace.ScopeIPC, int32(from.CPU()), uint64(from.ID()), "mailbox.send_wait", mb.name)

		from.BeginWait(&mb.sendSite, idx, gen)
		var timer ktime.Timer
		if timed {
			timer = mb.clock.Arm(deadline, func() { mb.expireSend(from, idx, gen) })
		}
		if from.Killed() {
			if mb.sendSite.CancelWait(from, idx, gen) {
				if timer != nil {
					timer.Stop()
				}
				from.EndWait()
				return ksync.ErrKilled
			}
		}
		mb.hook.SuspendCurrent(from, sched.ReasonMailboxSend)
		if timer != nil {
			timer.Stop()
		}
		from.EndWait()

		switch from.TakeWakeOutcome() {
		case task.OutcomeSent:
			// A receiver admitted our queued message while draining.
			from.SetState(task.StateRunning)
			if c := mb.counters(from); c != nil {
				c.Sends.Add(1)
			}
			return nil
		case task.OutcomeTimedOut:
			from.SetState(task.StateRunning)
			if c := mb.counters(from); c != nil {
				c.Timeouts.Add(1)
			}
			return ksync.ErrTimedOut
		case task.OutcomeKilled:
			from.SetState(task.StateRunning)
			return ksync.ErrKilled
		case task.OutcomeClosed:
			from.SetState(task.StateRunning)
			return fmt.Errorf("mailbox %q: %w", mb.name, ErrClosed)
		default:
			from.SetState(task.StateRunning)
			if from.Killed() {
				return ksync.ErrKilled
			}
		}
	}
}

// Recv removes the highest-priority message, suspending the owner until
// one arrives.
func (mb *Mailbox) Recv(t *task.Task) (Message, error) {
	return mb.recv(t, true, 0, false)
}

// TryRecv removes the highest-priority message without blocking,
// reporting ErrEmpty when there is none.
func (mb *Mailbox) TryRecv(t *task.Task) (Message, error) {
	return mb.recv(t, false, 0, false)
}

// RecvTimeout is Recv with an absolute deadline. It returns ErrTimedOut
// no earlier than the deadline unless a message arrived first.
func (mb *Mailbox) RecvTimeout(t *task.Task, deadline ktime.Ticks) (Message, error) {
	return mb.recv(t, true, deadline, true)
}

func (mb *Mailbox) recv(t *task.Task, block bool, deadline ktime.Ticks, timed bool) (Message, error) {
	if t == nil || t != mb.owner {
		return Message{}, mb.misuse(t, "mailbox.recv", "receive by non-owner", ksync.ErrNotOwner)
	}
	if t.Killed() {
		return Message{}, ksync.ErrKilled
	}
	for {
		tok := mb.guard.Enter(mb.cpuOf(t))
		if mb.closed {
			tok.Leave()
			return Message{}, fmt.Errorf("mailbox %q: %w", mb.name, ErrClosed)
		}
		if len(mb.heap) > 0 {
			msg := mb.pop()
			// Freed space admits stalled senders in arrival order, each
			// woken exactly once with a sent outcome.
			var admitted []*task.Task
			for len(mb.heap) < mb.depth {
				g, ok := mb.sendq.ClaimHead()
				if !ok {
					break
				}
				mb.push(g.Payload)
				admitted = append(admitted, g.Task)
			}
			tok.Leave()
			for _, s := range admitted {
				s.SetWakeOutcome(task.OutcomeSent)
				mb.hook.Resume(s)
			}
			if c := mb.counters(t); c != nil {
				c.Recvs.Add(1)
			}
			trace.Point(mb.tracer, trace.ScopeIPC, int32(t.CPU()), uint64(t.ID()), "mailbox.recv",
				fmt.Sprintf("%s seq=%d prio=%d", mb.name, msg.seq, msg.Priority))
			return msg, nil
		}
		if !block {
			tok.Leave()
			return Message{}, ErrEmpty
		}
		idx, gen, ok := mb.recvq.Enqueue(t, mb.clock.Now(), struct{}{})
		if !ok {
			tok.Leave()
			return Message{}, fmt.Errorf("mailbox %q: %w", mb.name, ksync.ErrNoWaitSlots)
		}
		tok.Leave()

		if c := mb.counters(t); c != nil {
			c.Waits.Add(1)
		}
		trace.Point(mb.tracer, trace.ScopeIPC, int32(t.CPU()), uint64(t.ID()), "mailbox.recv_wait", mb.name)

		t.BeginWait(&mb.recvSite, idx, gen)
		var timer ktime.Timer
		if timed {
			timer = mb.clock.Arm(deadline, func() { mb.expireRecv(t, idx, gen) })
		}
		if t.Killed() {
			if mb.recvSite.CancelWait(t, idx, gen) {
				if timer != nil {
					timer.Stop()
				}
				t.EndWait()
				return Message{}, ksync.ErrKilled
			}
		}
		mb.hook.SuspendCurrent(t, sched.ReasonMailboxRecv)
		if timer != nil {
			timer.Stop()
		}
		t.EndWait()

		switch t.TakeWakeOutcome() {
		case task.OutcomeRetry:
			t.SetState(task.StateRunning)
			if t.Killed() {
				return Message{}, ksync.ErrKilled
			}
		case task.OutcomeTimedOut:
			t.SetState(task.StateRunning)
			if c := mb.counters(t); c != nil {
				c.Timeouts.Add(1)
			}
			return Message{}, ksync.ErrTimedOut
		case task.OutcomeKilled:
			t.SetState(task.StateRunning)
			return Message{}, ksync.ErrKilled
		case task.OutcomeClosed:
			t.SetState(task.StateRunning)
			return Message{}, fmt.Errorf("mailbox %q: %w", mb.name, ErrClosed)
		default:
			t.SetState(task.StateRunning)
		}
	}
}

// Close destroys the inbox: queued messages are discarded and every
// waiting sender and receiver is resumed with a closed outcome. Close is
// idempotent.
func (mb *Mailbox) Close() error {
	tok := mb.guard.Enter(mb.cpuOf(mb.owner))
	if mb.closed {
		tok.Leave()
		return nil
	}
	mb.closed = true
	discarded := len(mb.heap)
	mb.heap = nil
	mb.qlen.Store(0)
	var orphans []*task.Task
	for {
		g, ok := mb.recvq.ClaimHead()
		if !ok {
			break
		}
		orphans = append(orphans, g.Task)
	}
	for {
		g, ok := mb.sendq.ClaimHead()
		if !ok {
			break
		}
		orphans = append(orphans, g.Task)
	}
	tok.Leave()
	for _, w := range orphans {
		w.SetWakeOutcome(task.OutcomeClosed)
		mb.hook.Resume(w)
	}
	trace.Point(mb.tracer, trace.ScopeIPC, -1, uint64(mb.owner.ID()), "mailbox.close",
		fmt.Sprintf("%s discarded=%d woken=%d", mb.name, discarded, len(orphans)))
	return nil
}

// expireRecv is the deadline callback for RecvTimeout.
func (mb *Mailbox) expireRecv(t *task.Task, index, gen uint32) {
	if !mb.recvq.StillQueued(index, gen) {
		return
	}
	if !mb.recvSite.CancelWait(t, index, gen) {
		return
	}
	trace.Point(mb.tracer, trace.ScopeIPC, int32(t.CPU()), uint64(t.ID()), "mailbox.recv_timeout", mb.name)
	t.SetWakeOutcome(task.OutcomeTimedOut)
	mb.hook.Resume(t)
}

// expireSend is the deadline callback for SendTimeout.
func (mb *Mailbox) expireSend(t *task.Task, index, gen uint32) {
	if !mb.sendq.StillQueued(index, gen) {
		return
	}
	if !mb.sendSite.CancelWait(t, index, gen) {
		return
	}
	trace.Point(mb.tracer, trace.ScopeIPC, int32(t.CPU()), uint64(t.ID()), "mailbox.send_timeout", mb.name)
	t.SetWakeOutcome(task.OutcomeTimedOut)
	mb.hook.Resume(t)
}

// push stamps and admits one message. Caller holds the guard.
func (mb *Mailbox) push(msg Message) {
	msg.seq = mb.seq
	mb.seq++
	heap.Push(&mb.heap, msg)
	mb.qlen.Store(int32(len(mb.heap)))
}

// pop removes the drain-order head. Caller holds the guard.
func (mb *Mailbox) pop() Message {
	msg := heap.Pop(&mb.heap).(Message)
	mb.qlen.Store(int32(len(mb.heap)))
	return msg
}

func (mb *Mailbox) misuse(t *task.Task, op, detail string, sentinel error) error {
	trace.Fault(mb.tracer, int32(t.CPU()), uint64(t.ID()), op, fmt.Sprintf("mailbox %q: %s", mb.name, detail))
	if t == nil {
		return fmt.Errorf("mailbox %q: %s: %w", mb.name, detail, sentinel)
	}
	return fmt.Errorf("mailbox %q: task %d: %s: %w", mb.name, t.ID(), detail, sentinel)
}

func (mb *Mailbox) cpuOf(t *task.Task) *cpu.State {
	if mb.cpus == nil || t == nil {
		return nil
	}
	return mb.cpus.ByIndex(t.CPU())
}

func (mb *Mailbox) counters(t *task.Task) *cpu.Counters {
	s := mb.cpuOf(t)
	if s == nil {
		return nil
	}
	return &s.Counters
}

// recvSite cancels entries in the receiver wait queue on behalf of
// timeout and kill claimers.
type recvSite struct {
	mb *Mailbox
}

func (s *recvSite) CancelWait(t *task.Task, index, gen uint32) bool {
	tok := s.mb.guard.Enter(s.mb.cpuOf(t))
	_, ok := s.mb.recvq.Claim(t, index, gen)
	tok.Leave()
	return ok
}

// sendSite cancels entries in the sender wait queue. The claimed payload
// is the undelivered message; cancelling discards it.
type sendSite struct {
	mb *Mailbox
}

func (s *sendSite) CancelWait(t *task.Task, index, gen uint32) bool {
	tok := s.mb.guard.Enter(s.mb.cpuOf(t))
	_, ok := s.mb.sendq.Claim(t, index, gen)
	tok.Leave()
	return ok
}
