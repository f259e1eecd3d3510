// Package cpu holds the descriptor table for simulated processors.
//
// Topology discovery happens elsewhere; this package consumes the result
// as a stable linear index per CPU and keeps the per-CPU state the
// synchronization core needs: the task currently occupying the CPU, the
// interrupt mask depth and operation counters.
package cpu

import (
	"fmt"
	"sync/atomic"
)

// Index is a stable linear CPU identifier. Indices are dense, start at
// zero and never change after boot.
type Index = int32

// State is the per-CPU descriptor. All fields are safe for concurrent
// access from other CPUs.
type State struct {
	index    Index
	current  atomic.Uint64 // task occupying this CPU, 0 when idle
	irqDepth atomic.Int32  // interrupt mask nesting depth

	Counters Counters
}

// Counters accumulate per-CPU operation totals for observability.
type Counters struct {
	Acquires atomic.Uint64 // lock grants (fast path and hand-off)
	Spins    atomic.Uint64 // spin phases entered
	Waits    atomic.Uint64 // suspensions on a wait queue
	Handoffs atomic.Uint64 // grants passed to a queued waiter
	Timeouts atomic.Uint64 // deadline expiries
	Sends    atomic.Uint64 // messages enqueued
	Recvs    atomic.Uint64 // messages dequeued
	Drops    atomic.Uint64 // messages rejected by backpressure
	Signals  atomic.Uint64 // signal codes raised
}

// Index returns the stable linear index of this CPU.
func (s *State) Index() Index { return s.index }

// Current returns the task occupying this CPU, 0 when idle.
func (s *State) Current() uint64 { return s.current.Load() }

// SetCurrent records the task occupying this CPU.
func (s *State) SetCurrent(task uint64) { s.current.Store(task) }

// Table maps linear CPU indices to descriptors. Lookup is array
// indexing; the table never grows or shrinks after construction.
type Table struct {
	cpus []State
}

// NewTable builds descriptors for count CPUs.
func NewTable(count int) (*Table, error) {
	if count < 1 {
		return nil, fmt.Errorf("cpu: table needs at least one processor, got %d", count)
	}
	t := &Table{cpus: make([]State, count)}
	for i := range t.cpus {
		t.cpus[i].index = Index(i)
	}
	return t, nil
}

// Count returns the number of descriptors.
func (t *Table) Count() int {
	if t == nil {
		return 0
	}
	return len(t.cpus)
}

// ByIndex returns the descriptor for a linear index, nil if out of range.
func (t *Table) ByIndex(i Index) *State {
	if t == nil || i < 0 || int(i) >= len(t.cpus) {
		return nil
	}
	return &t.cpus[i]
}
