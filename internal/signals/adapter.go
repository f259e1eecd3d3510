package signals

import (
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"nucleus/internal/cpu"
	"nucleus/internal/mailbox"
	"nucleus/internal/sched"
	"nucleus/internal/task"
	"nucleus/internal/trace"
)

// Context is the fault context delivered with a signal message. It rides
// in the message payload msgpack-encoded, the same envelope the journal
// uses.
type Context struct {
	Task task.ID `msgpack:"task"`
	CPU  int32   `msgpack:"cpu"`
	Addr uint64  `msgpack:"addr,omitempty"`
	Note string  `msgpack:"note,omitempty"`
}

// DecodeContext unpacks a signal message payload.
func DecodeContext(payload []byte) (Context, error) {
	var c Context
	if err := msgpack.Unmarshal(payload, &c); err != nil {
		return Context{}, fmt.Errorf("signals: decode context: %w", err)
	}
	return c, nil
}

// Outcome says how a raised signal was resolved.
type Outcome uint8

const (
	// OutcomeDelivered means a handler inbox accepted the signal message.
	OutcomeDelivered Outcome = iota + 1
	// OutcomeIgnored means the default action dropped the signal.
	OutcomeIgnored
	// OutcomeTerminated means the target task was killed.
	OutcomeTerminated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// table maps each reserved code to its handler target for one task.
// Lookup is a fixed array index, total per construction.
type table struct {
	targets [codeLimit]*mailbox.Mailbox
}

// Config assembles an Adapter.
type Config struct {
	Hook   sched.Hook
	Tracer trace.Tracer
	CPUs   *cpu.Table
}

// Adapter owns per-task signal tables and turns raised codes into either
// handler deliveries or default actions.
type Adapter struct {
	hook   sched.Hook
	tracer trace.Tracer
	cpus   *cpu.Table

	mu     sync.RWMutex
	tables map[task.ID]*table
}

// NewAdapter builds an Adapter.
func NewAdapter(cfg Config) *Adapter {
	a := &Adapter{
		hook:   cfg.Hook,
		tracer: cfg.Tracer,
		cpus:   cfg.CPUs,
		tables: make(map[task.ID]*table),
	}
	if a.hook == nil {
		a.hook = sched.Parker{}
	}
	if a.tracer == nil {
		a.tracer = trace.Nop
	}
	return a
}

// Register binds code c raised against t to a handler inbox. Re-binding
// replaces the previous target.
func (a *Adapter) Register(t *task.Task, c Code, target *mailbox.Mailbox) error {
	if t == nil {
		return fmt.Errorf("signals: register: nil task")
	}
	if !c.Valid() {
		return fmt.Errorf("signals: register: invalid code %d", c)
	}
	if target == nil {
		return fmt.Errorf("signals: register %s: nil handler target (use Unregister)", c)
	}
	a.mu.Lock()
	tb := a.tables[t.ID()]
	if tb == nil {
		tb = &table{}
		a.tables[t.ID()] = tb
	}
	tb.targets[c] = target
	a.mu.Unlock()
	trace.Point(a.tracer, trace.ScopeIPC, int32(t.CPU()), uint64(t.ID()), "signal.register",
		fmt.Sprintf("%s -> %s", c, target.Name()))
	return nil
}

// Unregister removes the handler binding for code c on t, restoring the
// default action.
func (a *Adapter) Unregister(t *task.Task, c Code) {
	if t == nil || !c.Valid() {
		return
	}
	a.mu.Lock()
	if tb := a.tables[t.ID()]; tb != nil {
		tb.targets[c] = nil
	}
	a.mu.Unlock()
}

// Drop discards every binding for t. The kernel calls it on task
// teardown.
func (a *Adapter) Drop(t *task.Task) {
	if t == nil {
		return
	}
	a.mu.Lock()
	delete(a.tables, t.ID())
	a.mu.Unlock()
}

// Handler returns the registered target for code c on t, nil when the
// default action applies.
func (a *Adapter) Handler(t *task.Task, c Code) *mailbox.Mailbox {
	if t == nil || !c.Valid() {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if tb := a.tables[t.ID()]; tb != nil {
		return tb.targets[c]
	}
	return nil
}

// Raise delivers code c against task t. With a handler registered, the
// resolution is exactly one send of a signal-kind, maximum-priority
// message carrying the encoded context; otherwise the code's default
// action runs exactly once. A handler whose inbox is gone degrades to
// the default action so the signal cannot vanish.
func (a *Adapter) Raise(t *task.Task, c Code, fc Context) Outcome {
	if t == nil {
		trace.Fault(a.tracer, fc.CPU, uint64(fc.Task), "signal.raise", "raise against nil task")
		return OutcomeIgnored
	}
	if fc.Task == 0 {
		fc.Task = t.ID()
	}
	if fc.CPU == 0 {
		fc.CPU = int32(t.CPU())
	}
	if s := a.cpuOf(t); s != nil {
		s.Counters.Signals.Add(1)
	}
	if !c.Valid() {
		trace.Fault(a.tracer, fc.CPU, uint64(t.ID()), "signal.raise", fmt.Sprintf("invalid code %d", c))
		a.terminate(t)
		return OutcomeTerminated
	}

	if target := a.Handler(t, c); target != nil {
		msg := mailbox.Message{
			Sender:   t.ID(),
			Kind:     mailbox.KindSignal,
			Priority: mailbox.MaxPriority,
			Code:     uint16(c),
			Payload:  encodeContext(fc),
		}
		if err := target.Send(nil, msg); err == nil {
			trace.Point(a.tracer, trace.ScopeIPC, fc.CPU, uint64(t.ID()), "signal.deliver",
				fmt.Sprintf("%s -> %s", c, target.Name()))
			return OutcomeDelivered
		}
		trace.Fault(a.tracer, fc.CPU, uint64(t.ID()), "signal.deliver",
			fmt.Sprintf("%s handler inbox %s unavailable, applying default", c, target.Name()))
	}

	switch c.Default() {
	case ActionIgnore:
		trace.Point(a.tracer, trace.ScopeIPC, fc.CPU, uint64(t.ID()), "signal.ignore", c.String())
		return OutcomeIgnored
	case ActionLogTerminate:
		trace.Fault(a.tracer, fc.CPU, uint64(t.ID()), "signal.fault",
			fmt.Sprintf("%s addr=%#x note=%q", c, fc.Addr, fc.Note))
		a.terminate(t)
		return OutcomeTerminated
	default:
		a.terminate(t)
		return OutcomeTerminated
	}
}

// Kill terminates t outside the signal path (task teardown). It shares
// the raise path's cancellation protocol.
func (a *Adapter) Kill(t *task.Task) {
	if t == nil {
		return
	}
	a.terminate(t)
}

// terminate marks t killed and, if t is suspended on a wait queue,
// claims the entry and wakes it with a killed outcome. The order is the
// kill flag first, registration read second; waiters do the mirror
// (register, then check the flag), so a kill never misses a concurrent
// suspension.
func (a *Adapter) terminate(t *task.Task) {
	t.Kill()
	if site, index, gen, ok := t.PendingWait(); ok {
		if site.CancelWait(t, index, gen) {
			t.SetWakeOutcome(task.OutcomeKilled)
			a.hook.Resume(t)
		}
	}
	trace.Point(a.tracer, trace.ScopeTask, int32(t.CPU()), uint64(t.ID()), "task.kill", "")
}

func (a *Adapter) cpuOf(t *task.Task) *cpu.State {
	if a.cpus == nil || t == nil {
		return nil
	}
	return a.cpus.ByIndex(t.CPU())
}

func encodeContext(fc Context) []byte {
	b, err := msgpack.Marshal(&fc)
	if err != nil {
		return nil
	}
	return b
}
