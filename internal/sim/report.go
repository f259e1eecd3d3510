package sim

import (
	"fmt"
	"sort"
	"strings"

	"nucleus/internal/journal"
	"nucleus/internal/observ"
)

// Report sums up one run.
type Report struct {
	Workload  string            `json:"workload"`
	Seed      uint64            `json:"seed"`
	CPUs      int               `json:"cpus"`
	Tasks     int               `json:"tasks"`
	Steps     int               `json:"steps"`
	Locks     int               `json:"locks"`
	Policy    string            `json:"policy"`
	Records   int               `json:"records"`
	Delivered uint64            `json:"delivered"`
	Dropped   uint64            `json:"dropped"`
	Ops       map[string]uint64 `json:"ops"`
	Results   map[string]uint64 `json:"results"`
	Verified  bool              `json:"verified"`
	Timings   observ.Report     `json:"timings"`
}

func newReport(cfg Config, records []journal.Record, sum journal.Summary, timings observ.Report, verified bool) *Report {
	rep := &Report{
		Workload: cfg.Workload,
		Seed:     cfg.Seed,
		CPUs:     cfg.CPUs,
		Tasks:    cfg.Tasks,
		Steps:    cfg.Steps,
		Locks:    cfg.Locks,
		Policy:   cfg.MailboxPolicy.String(),
		Records:  len(records),
		Ops:      make(map[string]uint64),
		Results:  make(map[string]uint64),
		Verified: verified,
		Timings:  timings,
	}
	for _, rec := range records {
		rep.Ops[rec.Op.String()]++
		rep.Results[rec.Result.String()]++
		if rec.Op == journal.OpRecv && rec.Result == journal.ResultOK {
			rep.Delivered++
		}
	}
	for _, n := range sum.Dropped {
		rep.Dropped += n
	}
	return rep
}

// Text renders the report for a terminal.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "workload %q: seed %d, %d tasks x %d steps on %d cpus, %d locks, policy %s\n",
		r.Workload, r.Seed, r.Tasks, r.Steps, r.CPUs, r.Locks, r.Policy)
	fmt.Fprintf(&b, "  records %d, delivered %d, dropped %d\n", r.Records, r.Delivered, r.Dropped)
	fmt.Fprintf(&b, "  ops: %s\n", countLine(r.Ops))
	fmt.Fprintf(&b, "  results: %s\n", countLine(r.Results))
	if r.Verified {
		b.WriteString("  verified: completion order matches the sequential model\n")
	} else {
		b.WriteString("  verified: FAILED\n")
	}
	return b.String()
}

func countLine(counts map[string]uint64) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}
