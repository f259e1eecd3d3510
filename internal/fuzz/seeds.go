package fuzztests

import (
	"os"
	"path/filepath"
	"testing"

	"nucleus/internal/config"
	"nucleus/internal/journal"
)

const maxSeedBytes = 64 << 10 // 64 KiB cap for the seed corpus

func addManifestSeeds(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte(config.Starter("fuzz")))
	f.Add([]byte("[workload]\nname = \"w\"\n"))
	f.Add([]byte("[workload]\nname = \"w\"\ntasks = -1\n"))
	f.Add([]byte("[mailbox]\npolicy = \"drop\"\n[workload]\nname = \"w\"\n"))
	f.Add([]byte("[workload\nname = broken"))
}

// addJournalSeeds writes one real journal through the writer and feeds
// its bytes to the corpus, so mutations start from a valid stream.
func addJournalSeeds(f *testing.F) {
	f.Add([]byte{})
	path := filepath.Join(f.TempDir(), "seed.journal")
	w, err := journal.Create(path, journal.Header{Workload: "seed", Seed: 1, Tasks: 2, Steps: 4})
	if err != nil {
		return
	}
	records := []journal.Record{
		{Step: 0, Task: 1, Op: journal.OpAcquire, Object: "lock-0", Result: journal.ResultOK},
		{Step: 0, Task: 1, Op: journal.OpRelease, Object: "lock-0", Result: journal.ResultOK},
		{Step: 1, Task: 2, Op: journal.OpSend, Object: "inbox-1", Result: journal.ResultOK, Priority: 3},
		{Step: 2, Task: 1, Op: journal.OpRecv, Object: "inbox-1", Result: journal.ResultOK, Priority: 3, Seq: 0},
	}
	for _, rec := range records {
		if err := w.Append(rec); err != nil {
			w.Abort()
			return
		}
	}
	if err := w.Finalize(journal.Summary{Holders: map[string]uint64{"lock-0": 0}}); err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	f.Add(clampSeed(data))
}

func clampSeed(src []byte) []byte {
	if len(src) <= maxSeedBytes {
		return append([]byte(nil), src...)
	}
	return append([]byte(nil), src[:maxSeedBytes]...)
}
