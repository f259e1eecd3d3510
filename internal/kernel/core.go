// Package kernel assembles the synchronization core: CPU descriptor
// table, clock, tracer, scheduler hook and signal adapter, booted once in
// a fixed order, plus the registry of live tasks and their inboxes.
package kernel

import (
	"fmt"
	"sort"
	"sync"

	"nucleus/internal/cpu"
	"nucleus/internal/ksync"
	"nucleus/internal/ktime"
	"nucleus/internal/mailbox"
	"nucleus/internal/sched"
	"nucleus/internal/signals"
	"nucleus/internal/task"
	"nucleus/internal/trace"
)

// Config sizes the core. Zero values take defaults: one CPU, monotonic
// clock, in-process parker, nop tracer, block-policy inboxes.
type Config struct {
	CPUs          int
	SpinBudget    int
	WaitSlots     int
	MailboxDepth  int
	MailboxPolicy mailbox.Policy

	Clock  ktime.Clock
	Hook   sched.Hook
	Tracer trace.Tracer
}

type record struct {
	t     *task.Task
	inbox *mailbox.Mailbox
}

// Core is one booted kernel instance. Boot order is fixed: descriptor
// table, clock, tracer, scheduler hook, signal adapter; subsystem
// objects are created against the booted core afterwards. There is no
// teardown: a core lives as long as the process that booted it.
type Core struct {
	cfg    Config
	cpus   *cpu.Table
	clock  ktime.Clock
	hook   sched.Hook
	tracer trace.Tracer
	sigs   *signals.Adapter

	mu      sync.Mutex
	nextID  task.ID
	nextCPU int
	tasks   map[task.ID]*record
}

// Boot builds a core from cfg.
func Boot(cfg Config) (*Core, error) {
	if cfg.CPUs <= 0 {
		cfg.CPUs = 1
	}
	table, err := cpu.NewTable(cfg.CPUs)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = ktime.NewRealClock()
	}
	if cfg.Hook == nil {
		cfg.Hook = sched.Parker{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = trace.Nop
	}
	if cfg.MailboxDepth <= 0 {
		cfg.MailboxDepth = mailbox.DefaultDepth
	}
	if cfg.MailboxPolicy == 0 {
		cfg.MailboxPolicy = mailbox.PolicyBlock
	}
	c := &Core{
		cfg:    cfg,
		cpus:   table,
		clock:  cfg.Clock,
		hook:   cfg.Hook,
		tracer: cfg.Tracer,
		tasks:  make(map[task.ID]*record),
	}
	c.sigs = signals.NewAdapter(signals.Config{
		Hook:   cfg.Hook,
		Tracer: cfg.Tracer,
		CPUs:   table,
	})
	trace.Point(c.tracer, trace.ScopeCore, -1, 0, "kernel.boot",
		fmt.Sprintf("cpus=%d depth=%d policy=%s", cfg.CPUs, cfg.MailboxDepth, cfg.MailboxPolicy))
	return c, nil
}

// CPUs returns the descriptor table.
func (c *Core) CPUs() *cpu.Table { return c.cpus }

// Clock returns the core's tick source.
func (c *Core) Clock() ktime.Clock { return c.clock }

// Tracer returns the core's tracer.
func (c *Core) Tracer() trace.Tracer { return c.tracer }

// Hook returns the scheduler hook.
func (c *Core) Hook() sched.Hook { return c.hook }

// Signals returns the signal adapter.
func (c *Core) Signals() *signals.Adapter { return c.sigs }

// NewTask registers a task with the given priority, pins it to the next
// CPU round-robin and gives it an inbox sized by the core config.
func (c *Core) NewTask(prio int8) (*task.Task, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	idx := cpu.Index(c.nextCPU)
	c.nextCPU = (c.nextCPU + 1) % c.cpus.Count()
	c.mu.Unlock()

	t := task.New(id, prio, idx)
	inbox, err := mailbox.New(mailbox.Config{
		Owner:     t,
		Depth:     c.cfg.MailboxDepth,
		Policy:    c.cfg.MailboxPolicy,
		WaitSlots: c.cfg.WaitSlots,
		Clock:     c.clock,
		Hook:      c.hook,
		Tracer:    c.tracer,
		CPUs:      c.cpus,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: task %d inbox: %w", id, err)
	}

	c.mu.Lock()
	c.tasks[id] = &record{t: t, inbox: inbox}
	c.mu.Unlock()
	trace.Point(c.tracer, trace.ScopeTask, int32(idx), uint64(id), "task.create",
		fmt.Sprintf("prio=%d", prio))
	return t, nil
}

// Task returns the live task with the given ID, nil if unknown.
func (c *Core) Task(id task.ID) *task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.tasks[id]; r != nil {
		return r.t
	}
	return nil
}

// Tasks returns the live tasks ordered by ID.
func (c *Core) Tasks() []*task.Task {
	c.mu.Lock()
	out := make([]*task.Task, 0, len(c.tasks))
	for _, r := range c.tasks {
		out = append(out, r.t)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Inbox returns t's inbox, nil when t is not (or no longer) registered.
func (c *Core) Inbox(t *task.Task) *mailbox.Mailbox {
	if t == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.tasks[t.ID()]; r != nil && r.t == t {
		return r.inbox
	}
	return nil
}

// NewLock builds a lock wired to the core.
func (c *Core) NewLock(name string) *ksync.Lock {
	return c.newLock(name, false)
}

// NewReentrantLock builds a lock that its holder may re-acquire.
func (c *Core) NewReentrantLock(name string) *ksync.Lock {
	return c.newLock(name, true)
}

func (c *Core) newLock(name string, reentrant bool) *ksync.Lock {
	return ksync.New(ksync.Config{
		Name:       name,
		Reentrant:  reentrant,
		SpinBudget: c.cfg.SpinBudget,
		WaitSlots:  c.cfg.WaitSlots,
		Clock:      c.clock,
		Hook:       c.hook,
		Tracer:     c.tracer,
		CPUs:       c.cpus,
	})
}

// NewGroup builds a delivery group over the inboxes of the given member
// tasks, in the given order.
func (c *Core) NewGroup(name string, members ...*task.Task) (*mailbox.Group, error) {
	boxes := make([]*mailbox.Mailbox, 0, len(members))
	for _, m := range members {
		mb := c.Inbox(m)
		if mb == nil {
			return nil, fmt.Errorf("kernel: group %q: task %d is not registered", name, m.ID())
		}
		boxes = append(boxes, mb)
	}
	return mailbox.NewGroup(name, boxes...)
}

// Raise routes a signal code against t through the adapter.
func (c *Core) Raise(t *task.Task, code signals.Code, fc signals.Context) signals.Outcome {
	return c.sigs.Raise(t, code, fc)
}

// DestroyTask kills t, cancels any wait it is suspended on, drops its
// signal bindings and closes its inbox, waking stalled senders with a
// closed outcome. Destroying an unknown task is an error.
func (c *Core) DestroyTask(t *task.Task) error {
	if t == nil {
		return fmt.Errorf("kernel: destroy: nil task")
	}
	c.mu.Lock()
	r := c.tasks[t.ID()]
	if r == nil || r.t != t {
		c.mu.Unlock()
		return fmt.Errorf("kernel: destroy: task %d is not registered", t.ID())
	}
	delete(c.tasks, t.ID())
	c.mu.Unlock()

	c.sigs.Kill(t)
	c.sigs.Drop(t)
	if err := r.inbox.Close(); err != nil {
		return fmt.Errorf("kernel: destroy task %d: %w", t.ID(), err)
	}
	trace.Point(c.tracer, trace.ScopeTask, int32(t.CPU()), uint64(t.ID()), "task.destroy", "")
	return nil
}
