// Package sim drives a seeded workload against a booted kernel core:
// M tasks across P CPUs each execute a weighted random mix of lock,
// mailbox and signal operations. Every completed operation is appended
// to a total completion order, which the verify phase replays against a
// sequential model. A run that passes verification demonstrated mutual
// exclusion, FIFO hand-off, priority delivery and message conservation
// under real concurrency.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"nucleus/internal/journal"
	"nucleus/internal/kernel"
	"nucleus/internal/ksync"
	"nucleus/internal/mailbox"
	"nucleus/internal/observ"
	"nucleus/internal/signals"
	"nucleus/internal/task"
	"nucleus/internal/testkit"
	"nucleus/internal/trace"
)

// seedStride separates the per-task RNG streams of one seed.
const seedStride = 0x9E3779B9

// Patience bounds for blocking operations. A healthy run never gets
// near them; they keep a wedged workload from hanging the host.
const (
	lockPatience = 2 * time.Second
	sendPatience = 250 * time.Millisecond
	recvPatience = 50 * time.Millisecond
)

type worker struct {
	t   *task.Task
	rng *rand.Rand
}

// Runner executes one workload. Zero or more of Events and Journal may
// be set before Run; the runner never closes the event channel.
type Runner struct {
	core *kernel.Core
	cfg  Config

	// Events receives one Event per completed operation, best-effort.
	Events chan<- Event
	// Journal, when set, captures the completion order on disk.
	Journal *journal.Writer

	locks   []*ksync.Lock
	workers []*worker
	monitor *task.Task
	sigbox  *mailbox.Mailbox

	mu         sync.Mutex
	records    []journal.Record
	journalErr error
}

// New prepares a runner against an already booted core.
func New(core *kernel.Core, cfg Config) *Runner {
	return &Runner{core: core, cfg: cfg.normalized()}
}

// Config returns the normalized run configuration.
func (r *Runner) Config() Config { return r.cfg }

// Header describes the run the way the journal records it.
func (r *Runner) Header() journal.Header {
	return journal.Header{
		Schema:   journal.SchemaVersion,
		Workload: r.cfg.Workload,
		Seed:     r.cfg.Seed,
		CPUs:     r.cfg.CPUs,
		Tasks:    r.cfg.Tasks,
		Steps:    r.cfg.Steps,
		Locks:    r.cfg.Locks,
		Policy:   r.cfg.MailboxPolicy.String(),
	}
}

// Run executes the workload: setup, concurrent run, drain, verify.
// The returned report is valid even when Run also returns an error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	timer := observ.NewTimer()
	root := trace.Begin(r.core.Tracer(), trace.ScopeCore, "sim.run", 0)

	end := r.phase(timer, root.ID(), "setup")
	if err := r.setup(); err != nil {
		end("")
		root.End("setup failed")
		return nil, err
	}
	end(fmt.Sprintf("%d tasks, %d locks", len(r.workers), len(r.locks)))

	end = r.phase(timer, root.ID(), "run")
	r.runWorkers(ctx)
	end(fmt.Sprintf("%d records", len(r.records)))

	end = r.phase(timer, root.ID(), "drain")
	runErr := r.drain()
	end("")

	end = r.phase(timer, root.ID(), "verify")
	sum := r.summary()
	if err := r.finalizeJournal(sum); err != nil && runErr == nil {
		runErr = err
	}
	verr := testkit.VerifyJournal(r.Header(), r.records, sum)
	if verr != nil && runErr == nil {
		runErr = fmt.Errorf("sim: verification failed: %w", verr)
	}
	end(fmt.Sprintf("%d records checked", len(r.records)))

	report := newReport(r.cfg, r.records, sum, timer.Report(), verr == nil)
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	root.End(fmt.Sprintf("verified=%t", verr == nil))
	return report, runErr
}

// phase brackets one run phase in both the wall-clock timer and the
// trace. The returned func ends both with the same detail.
func (r *Runner) phase(timer *observ.Timer, root uint64, name string) func(detail string) {
	idx := timer.Begin(name)
	sp := trace.Begin(r.core.Tracer(), trace.ScopeCore, "sim."+name, root)
	return func(detail string) {
		timer.End(idx, detail)
		sp.End(detail)
	}
}

// setup creates the locks, the monitor task owning the fault-handler
// inbox, and the workers. Every worker routes page faults to the
// monitor so a raise in the mix exercises real delivery.
func (r *Runner) setup() error {
	for i := 0; i < r.cfg.Locks; i++ {
		r.locks = append(r.locks, r.core.NewLock(fmt.Sprintf("lock-%d", i)))
	}
	monitor, err := r.core.NewTask(mailbox.MaxPriority)
	if err != nil {
		return fmt.Errorf("sim: monitor task: %w", err)
	}
	r.monitor = monitor
	r.sigbox = r.core.Inbox(monitor)
	for i := 0; i < r.cfg.Tasks; i++ {
		t, err := r.core.NewTask(int8(i % 8))
		if err != nil {
			return fmt.Errorf("sim: worker %d: %w", i, err)
		}
		if err := r.core.Signals().Register(t, signals.CodePageFault, r.sigbox); err != nil {
			return fmt.Errorf("sim: worker %d fault handler: %w", i, err)
		}
		r.workers = append(r.workers, &worker{
			t:   t,
			rng: rand.New(rand.NewSource(int64(r.cfg.Seed) + int64(i+1)*seedStride)),
		})
	}
	return nil
}

func (r *Runner) runWorkers(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range r.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			for step := 0; step < r.cfg.Steps; step++ {
				if ctx.Err() != nil || w.t.Killed() {
					return
				}
				r.step(w, step)
			}
		}(r.workers[i])
	}
	wg.Wait()
}

func (r *Runner) step(w *worker, step int) {
	mix := r.cfg.Mix
	n := w.rng.Intn(mix.total())
	switch {
	case n < mix.Acquire:
		r.doAcquire(w, step, false)
	case n < mix.Acquire+mix.TryAcquire:
		r.doAcquire(w, step, true)
	case n < mix.Acquire+mix.TryAcquire+mix.Send:
		r.doSend(w, step)
	case n < mix.Acquire+mix.TryAcquire+mix.Send+mix.Recv:
		r.doRecv(w, step)
	default:
		r.doRaise(w, step)
	}
}

// doAcquire takes a lock, holds it for a few scheduler turns and hands
// it back within the same step, so no task ever blocks on a mailbox
// while holding a lock. The release record is appended before Release:
// hand-off happens inside Release, and the next holder's grant record
// must not precede ours in the completion order.
func (r *Runner) doAcquire(w *worker, step int, try bool) {
	l := r.locks[w.rng.Intn(len(r.locks))]
	op := journal.OpAcquire
	if try {
		op = journal.OpTryAcquire
		ok, err := l.TryAcquire(w.t)
		switch {
		case errors.Is(err, ksync.ErrKilled):
			r.record(w, step, op, l.Name(), journal.ResultKilled, 0, 0, 0)
			return
		case err != nil:
			r.fault(w, step, op, l.Name(), err)
			return
		case !ok:
			r.record(w, step, op, l.Name(), journal.ResultBusy, 0, 0, 0)
			return
		}
	} else {
		deadline := r.core.Clock().Now().Add(lockPatience)
		err := l.AcquireTimeout(w.t, deadline)
		switch {
		case errors.Is(err, ksync.ErrTimedOut):
			r.record(w, step, op, l.Name(), journal.ResultTimedOut, 0, 0, 0)
			return
		case errors.Is(err, ksync.ErrNoWaitSlots):
			r.record(w, step, op, l.Name(), journal.ResultExhausted, 0, 0, 0)
			return
		case errors.Is(err, ksync.ErrKilled):
			r.record(w, step, op, l.Name(), journal.ResultKilled, 0, 0, 0)
			return
		case err != nil:
			r.fault(w, step, op, l.Name(), err)
			return
		}
	}
	r.record(w, step, op, l.Name(), journal.ResultOK, 0, 0, 0)
	for i := w.rng.Intn(4); i > 0; i-- {
		runtime.Gosched()
	}
	r.record(w, step, journal.OpRelease, l.Name(), journal.ResultOK, 0, 0, 0)
	if err := l.Release(w.t); err != nil {
		r.fault(w, step, journal.OpRelease, l.Name(), err)
	}
}

func (r *Runner) doSend(w *worker, step int) {
	j := w.rng.Intn(len(r.workers))
	if r.workers[j] == w {
		j = (j + 1) % len(r.workers)
	}
	if r.workers[j] == w {
		return // single-task workload has nobody to talk to
	}
	inbox := r.core.Inbox(r.workers[j].t)
	prio := int8(w.rng.Intn(16))
	deadline := r.core.Clock().Now().Add(sendPatience)
	err := inbox.SendTimeout(w.t, mailbox.Message{Priority: prio}, deadline)
	switch {
	case err == nil:
		r.record(w, step, journal.OpSend, inbox.Name(), journal.ResultOK, prio, 0, 0)
	case errors.Is(err, mailbox.ErrDropped):
		r.record(w, step, journal.OpSend, inbox.Name(), journal.ResultDropped, prio, 0, 0)
	case errors.Is(err, ksync.ErrTimedOut):
		r.record(w, step, journal.OpSend, inbox.Name(), journal.ResultTimedOut, prio, 0, 0)
	case errors.Is(err, ksync.ErrNoWaitSlots):
		r.record(w, step, journal.OpSend, inbox.Name(), journal.ResultExhausted, prio, 0, 0)
	case errors.Is(err, ksync.ErrKilled):
		r.record(w, step, journal.OpSend, inbox.Name(), journal.ResultKilled, prio, 0, 0)
	case errors.Is(err, mailbox.ErrClosed):
		r.record(w, step, journal.OpSend, inbox.Name(), journal.ResultClosed, prio, 0, 0)
	default:
		r.fault(w, step, journal.OpSend, inbox.Name(), err)
	}
}

func (r *Runner) doRecv(w *worker, step int) {
	inbox := r.core.Inbox(w.t)
	var msg mailbox.Message
	var err error
	if w.rng.Intn(4) == 0 {
		deadline := r.core.Clock().Now().Add(recvPatience)
		msg, err = inbox.RecvTimeout(w.t, deadline)
	} else {
		msg, err = inbox.TryRecv(w.t)
	}
	switch {
	case err == nil:
		r.record(w, step, journal.OpRecv, inbox.Name(), journal.ResultOK, msg.Priority, msg.Seq(), 0)
	case errors.Is(err, mailbox.ErrEmpty):
		r.record(w, step, journal.OpRecv, inbox.Name(), journal.ResultEmpty, 0, 0, 0)
	case errors.Is(err, ksync.ErrTimedOut):
		r.record(w, step, journal.OpRecv, inbox.Name(), journal.ResultTimedOut, 0, 0, 0)
	case errors.Is(err, ksync.ErrNoWaitSlots):
		r.record(w, step, journal.OpRecv, inbox.Name(), journal.ResultExhausted, 0, 0, 0)
	case errors.Is(err, ksync.ErrKilled):
		r.record(w, step, journal.OpRecv, inbox.Name(), journal.ResultKilled, 0, 0, 0)
	case errors.Is(err, mailbox.ErrClosed):
		r.record(w, step, journal.OpRecv, inbox.Name(), journal.ResultClosed, 0, 0, 0)
	default:
		r.fault(w, step, journal.OpRecv, inbox.Name(), err)
	}
}

// doRaise flips between a signal with a registered handler (page fault,
// delivered to the monitor inbox) and one without (quota, default action
// ignore). Delivered raises name the handler inbox in the record: the
// verifier counts them as admissions there.
func (r *Runner) doRaise(w *worker, step int) {
	code := signals.CodeQuotaExceeded
	if w.rng.Intn(2) == 0 {
		code = signals.CodePageFault
	}
	out := r.core.Raise(w.t, code, signals.Context{Addr: uint64(step)})
	rec := journal.Record{
		Step:   uint32(step),
		Task:   uint64(w.t.ID()),
		CPU:    int32(w.t.CPU()),
		Op:     journal.OpRaise,
		Result: journal.ResultOK,
		Code:   uint8(code),
	}
	switch out {
	case signals.OutcomeDelivered:
		rec.Object = r.sigbox.Name()
		rec.Priority = mailbox.MaxPriority
	case signals.OutcomeTerminated:
		rec.Result = journal.ResultKilled
	}
	r.append(rec)
}

// fault records an operation the workload did not expect and raises the
// misuse signal against the offending task, which terminates it.
func (r *Runner) fault(w *worker, step int, op journal.Op, obj string, err error) {
	r.record(w, step, op, obj, journal.ResultFault, 0, 0, 0)
	r.core.Raise(w.t, signals.CodeLockMisuse, signals.Context{Note: err.Error()})
}

func (r *Runner) record(w *worker, step int, op journal.Op, obj string, res journal.Result, prio int8, seq uint64, code uint8) {
	r.append(journal.Record{
		Step:     uint32(step),
		Task:     uint64(w.t.ID()),
		CPU:      int32(w.t.CPU()),
		Op:       op,
		Object:   obj,
		Result:   res,
		Priority: prio,
		Seq:      seq,
		Code:     code,
	})
}

func (r *Runner) append(rec journal.Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	if r.Journal != nil && r.journalErr == nil {
		r.journalErr = r.Journal.Append(rec)
	}
	r.mu.Unlock()

	if r.Events != nil {
		select {
		case r.Events <- Event{
			Step:   int(rec.Step),
			Task:   rec.Task,
			CPU:    rec.CPU,
			Op:     rec.Op.String(),
			Object: rec.Object,
			Result: rec.Result.String(),
		}:
		default:
		}
	}
}

// drain empties every inbox with the owner's own handle and retires the
// locks. Drain receives join the recorded completion order, so message
// conservation is checked over the whole flow.
func (r *Runner) drain() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, w := range r.workers {
		keep(r.drainInbox(w.t))
	}
	keep(r.drainInbox(r.monitor))
	for _, l := range r.locks {
		if err := l.Close(); err != nil {
			keep(fmt.Errorf("sim: close %s: %w", l.Name(), err))
		}
	}
	return firstErr
}

func (r *Runner) drainInbox(t *task.Task) error {
	inbox := r.core.Inbox(t)
	for {
		msg, err := inbox.TryRecv(t)
		if errors.Is(err, mailbox.ErrEmpty) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sim: drain %s: %w", inbox.Name(), err)
		}
		r.append(journal.Record{
			Step:     uint32(r.cfg.Steps),
			Task:     uint64(t.ID()),
			CPU:      int32(t.CPU()),
			Op:       journal.OpRecv,
			Object:   inbox.Name(),
			Result:   journal.ResultOK,
			Priority: msg.Priority,
			Seq:      msg.Seq(),
		})
	}
}

// summary captures the end-of-run state the verifier checks records
// against.
func (r *Runner) summary() journal.Summary {
	sum := journal.Summary{
		Holders:  make(map[string]uint64, len(r.locks)),
		Leftover: make(map[string]int, len(r.workers)+1),
		Dropped:  make(map[string]uint64, len(r.workers)+1),
	}
	for _, l := range r.locks {
		sum.Holders[l.Name()] = uint64(l.Holder())
	}
	note := func(mb *mailbox.Mailbox) {
		sum.Leftover[mb.Name()] = mb.Len()
		sum.Dropped[mb.Name()] = mb.Dropped()
	}
	for _, w := range r.workers {
		note(r.core.Inbox(w.t))
	}
	note(r.sigbox)
	return sum
}

func (r *Runner) finalizeJournal(sum journal.Summary) error {
	if r.Journal == nil {
		return nil
	}
	if r.journalErr != nil {
		r.Journal.Abort()
		return fmt.Errorf("sim: journal: %w", r.journalErr)
	}
	return r.Journal.Finalize(sum)
}
