package ksync

import (
	"runtime"
	"sync"
	"testing"

	"nucleus/internal/cpu"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	var (
		lock  Spinlock
		total int
		wg    sync.WaitGroup
	)
	const workers = 8
	const rounds = 500

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				lock.Acquire()
				total++ // plain increment; only safe if the lock excludes
				lock.Release()
			}
		}()
	}
	wg.Wait()
	if total != workers*rounds {
		t.Fatalf("total = %d, want %d", total, workers*rounds)
	}
}

func TestSpinlockTryAcquire(t *testing.T) {
	var lock Spinlock
	if !lock.TryAcquire() {
		t.Fatalf("TryAcquire failed on a free lock")
	}
	if lock.TryAcquire() {
		t.Fatalf("TryAcquire succeeded on a held lock")
	}
	lock.Release()
	if !lock.TryAcquire() {
		t.Fatalf("TryAcquire failed after release")
	}
}

func TestGuardMasksInterruptsForTheSection(t *testing.T) {
	table, err := cpu.NewTable(1)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	c := table.ByIndex(0)

	var g Guard
	tok := g.Enter(c)
	if !c.InterruptsMasked() {
		t.Fatalf("interrupts not masked inside the guard")
	}
	tok.Leave()
	if c.InterruptsMasked() {
		t.Fatalf("interrupts still masked after Leave")
	}
	tok.Leave() // second Leave is a no-op
	if c.InterruptsMasked() {
		t.Fatalf("idempotent Leave changed the mask")
	}
}

func TestGuardWithoutCPUContext(t *testing.T) {
	var g Guard
	tok := g.Enter(nil)
	tok.Leave()

	// The guard must still exclude even without a CPU to mask.
	tok = g.Enter(nil)
	entered := make(chan struct{})
	go func() {
		inner := g.Enter(nil)
		inner.Leave()
		close(entered)
	}()
	for i := 0; i < 100; i++ {
		runtime.Gosched()
	}
	select {
	case <-entered:
		t.Fatalf("second Enter succeeded while the guard was held")
	default:
	}
	tok.Leave()
	<-entered
}
