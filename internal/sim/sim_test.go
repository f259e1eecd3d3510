package sim

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"nucleus/internal/config"
	"nucleus/internal/journal"
	"nucleus/internal/kernel"
	"nucleus/internal/mailbox"
	"nucleus/internal/testkit"
)

func newRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	cfg = cfg.normalized()
	core, err := kernel.Boot(cfg.Kernel(nil))
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return New(core, cfg)
}

func TestRunVerifiesCleanWorkload(t *testing.T) {
	r := newRunner(t, Config{
		Workload: "clean",
		Tasks:    4,
		Steps:    200,
		Locks:    2,
		Seed:     1,
		CPUs:     2,
	})
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Verified {
		t.Fatal("report not verified")
	}
	if report.Records == 0 {
		t.Fatal("no records produced")
	}
	if n := report.Results["fault"]; n != 0 {
		t.Fatalf("%d fault results in a clean workload", n)
	}
	if n := report.Results["killed"]; n != 0 {
		t.Fatalf("%d killed results in a clean workload", n)
	}
}

func TestRunUnderDropPolicy(t *testing.T) {
	r := newRunner(t, Config{
		Workload:      "droppy",
		Tasks:         4,
		Steps:         300,
		Locks:         2,
		Seed:          7,
		CPUs:          2,
		MailboxDepth:  1,
		MailboxPolicy: mailbox.PolicyDrop,
	})
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Verified {
		t.Fatal("report not verified")
	}
	if report.Dropped != report.Results["dropped"] {
		t.Fatalf("dropped counter %d, dropped records %d", report.Dropped, report.Results["dropped"])
	}
}

func TestRunWritesJournalAndReplayVerifies(t *testing.T) {
	r := newRunner(t, Config{
		Workload: "journaled",
		Tasks:    3,
		Steps:    150,
		Locks:    2,
		Seed:     3,
		CPUs:     2,
	})
	path := filepath.Join(t.TempDir(), "run.journal")
	w, err := journal.Create(path, r.Header())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.Journal = w

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	hdr, records, sum, err := journal.ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if hdr.Workload != "journaled" || hdr.Seed != 3 {
		t.Fatalf("header = %+v", hdr)
	}
	if len(records) != report.Records {
		t.Fatalf("journal has %d records, report says %d", len(records), report.Records)
	}
	if err := testkit.VerifyJournal(hdr, records, sum); err != nil {
		t.Fatalf("VerifyJournal: %v", err)
	}
}

func TestRunEmitsEvents(t *testing.T) {
	r := newRunner(t, Config{
		Workload: "watched",
		Tasks:    2,
		Steps:    100,
		Locks:    1,
		Seed:     5,
		CPUs:     2,
	})
	events := make(chan Event, 1<<15)
	r.Events = events

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(events); got != report.Records {
		t.Fatalf("got %d events, want %d", got, report.Records)
	}
	ev := <-events
	if ev.Op == "" || ev.Result == "" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestCanceledContextStopsRun(t *testing.T) {
	r := newRunner(t, Config{Workload: "canceled", Tasks: 2, Steps: 1000, Locks: 1, CPUs: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if report == nil {
		t.Fatal("no report")
	}
	if report.Records != 0 {
		t.Fatalf("canceled run produced %d records", report.Records)
	}
}

func TestConfigNormalizedFillsDefaults(t *testing.T) {
	r := New(nil, Config{})
	cfg := r.Config()
	if cfg.Tasks != config.DefaultTasks || cfg.Steps != config.DefaultSteps || cfg.Locks != config.DefaultLocks {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Mix != DefaultMix() {
		t.Fatalf("mix = %+v", cfg.Mix)
	}
	if cfg.MailboxPolicy != mailbox.PolicyBlock {
		t.Fatalf("policy = %v", cfg.MailboxPolicy)
	}
}

func TestFromManifestMapsSections(t *testing.T) {
	f, err := config.Parse([]byte(`
[kernel]
cpus = 2
spin_budget = 64
wait_slots = 32

[mailbox]
depth = 8
policy = "drop"

[workload]
name = "mapped"
tasks = 6
steps = 400
locks = 3
seed = 99

[workload.mix]
acquire = 1
send = 1
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := FromManifest(&config.Manifest{File: *f})
	if err != nil {
		t.Fatalf("FromManifest: %v", err)
	}
	if cfg.Workload != "mapped" || cfg.Tasks != 6 || cfg.Steps != 400 || cfg.Locks != 3 || cfg.Seed != 99 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.CPUs != 2 || cfg.SpinBudget != 64 || cfg.WaitSlots != 32 || cfg.MailboxDepth != 8 {
		t.Fatalf("kernel sizing = %+v", cfg)
	}
	if cfg.MailboxPolicy != mailbox.PolicyDrop {
		t.Fatalf("policy = %v", cfg.MailboxPolicy)
	}
	if cfg.Mix.Acquire != 1 || cfg.Mix.Send != 1 || cfg.Mix.Recv != 0 {
		t.Fatalf("mix = %+v", cfg.Mix)
	}
}

func TestStressRunStaysConsistent(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run in -short mode")
	}
	r := newRunner(t, Config{
		Workload: "stress",
		Tasks:    8,
		Steps:    1500,
		Locks:    3,
		Seed:     2026,
		CPUs:     4,
	})
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Verified {
		t.Fatal("report not verified")
	}
	if report.Ops["acquire"] == 0 || report.Ops["send"] == 0 || report.Ops["recv"] == 0 || report.Ops["raise"] == 0 {
		t.Fatalf("mix not exercised: %+v", report.Ops)
	}
}
