// Package testkit checks kernel invariants over a recorded journal.
// The simulator's verify phase and the replay command run the same
// checks, so a live run and a replayed journal cannot disagree silently.
package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"nucleus/internal/journal"
)

// CheckLockAlternation replays the lock traffic of a record stream:
// 1) a lock is granted only while free
// 2) a lock is released only by its holder
// 3) the replayed final holders match the run summary
// Grants by a task that already holds the lock are violations too; the
// journal records reentrant acquisition as a single grant.
func CheckLockAlternation(records []journal.Record, holders map[string]uint64) error {
	held := make(map[string]uint64)
	for i, rec := range records {
		if rec.Result != journal.ResultOK {
			continue
		}
		switch rec.Op {
		case journal.OpAcquire, journal.OpTryAcquire:
			if cur, ok := held[rec.Object]; ok {
				return fmt.Errorf("record %d: task %d granted %s while task %d holds it", i, rec.Task, rec.Object, cur)
			}
			held[rec.Object] = rec.Task
		case journal.OpRelease:
			cur, ok := held[rec.Object]
			if !ok {
				return fmt.Errorf("record %d: task %d released %s, which is free", i, rec.Task, rec.Object)
			}
			if cur != rec.Task {
				return fmt.Errorf("record %d: task %d released %s held by task %d", i, rec.Task, rec.Object, cur)
			}
			delete(held, rec.Object)
		}
	}
	for name, want := range holders {
		if got := held[name]; got != want {
			return fmt.Errorf("lock %s: replay ends with holder %d, run reports %d", name, got, want)
		}
	}
	for name, got := range held {
		if holders[name] != got {
			return fmt.Errorf("lock %s: replay ends with holder %d, run reports a free lock", name, got)
		}
	}
	return nil
}

// CheckMessageFlow replays the mailbox traffic of a record stream:
// 1) no message is delivered twice (sequence numbers unique per inbox)
// 2) delivery order respects priority, FIFO among equal priorities
// 3) per inbox, admitted messages = delivered messages + leftover
// 4) recorded drops match the run's drop counters
// Raise records naming an object count as admissions: a delivered signal
// is a message pushed into the handler inbox.
//
// The ordering check is the pairwise one: a delivery is a violation when
// some earlier delivery from the same inbox carried a lower-or-equal
// priority and a higher sequence number. Such a pair proves the later
// message was already queued when the earlier one was taken.
func CheckMessageFlow(records []journal.Record, leftover map[string]int, dropped map[string]uint64) error {
	sends := make(map[string]uint64)
	recvs := make(map[string]uint64)
	drops := make(map[string]uint64)
	seen := make(map[string]map[uint64]bool)
	// maxSeq[inbox][prio+128] = highest sequence delivered so far at that priority
	maxSeq := make(map[string]*[256]uint64)
	delivered := make(map[string]*[256]bool)

	for i, rec := range records {
		switch rec.Op {
		case journal.OpSend:
			switch rec.Result {
			case journal.ResultOK:
				sends[rec.Object]++
			case journal.ResultDropped:
				drops[rec.Object]++
			}
		case journal.OpRaise:
			if rec.Result == journal.ResultOK && rec.Object != "" {
				sends[rec.Object]++
			}
		case journal.OpRecv:
			if rec.Result != journal.ResultOK {
				continue
			}
			recvs[rec.Object]++
			got := seen[rec.Object]
			if got == nil {
				got = make(map[uint64]bool)
				seen[rec.Object] = got
			}
			if got[rec.Seq] {
				return fmt.Errorf("record %d: inbox %s delivered seq %d twice", i, rec.Object, rec.Seq)
			}
			got[rec.Seq] = true

			ms := maxSeq[rec.Object]
			if ms == nil {
				ms = new([256]uint64)
				maxSeq[rec.Object] = ms
				delivered[rec.Object] = new([256]bool)
			}
			dv := delivered[rec.Object]
			cls := int(rec.Priority) + 128
			for q := 0; q <= cls; q++ {
				if dv[q] && ms[q] > rec.Seq {
					return fmt.Errorf("record %d: inbox %s delivered seq %d (prio %d) after seq %d (prio %d) although it was already queued",
						i, rec.Object, rec.Seq, rec.Priority, ms[q], q-128)
				}
			}
			if !dv[cls] || rec.Seq > ms[cls] {
				ms[cls] = rec.Seq
				dv[cls] = true
			}
		}
	}

	for name, nsent := range sends {
		left := uint64(0)
		if n, ok := leftover[name]; ok {
			conv, err := safecast.Conv[uint64](n)
			if err != nil {
				return fmt.Errorf("inbox %s: leftover count %d: %w", name, n, err)
			}
			left = conv
		}
		if got := recvs[name] + left; got != nsent {
			return fmt.Errorf("inbox %s: %d admitted, %d accounted for (%d delivered + %d leftover)",
				name, nsent, got, recvs[name], left)
		}
	}
	for name, nrecv := range recvs {
		if _, ok := sends[name]; !ok && nrecv > 0 {
			return fmt.Errorf("inbox %s: %d delivered, none admitted", name, nrecv)
		}
	}
	for name, want := range dropped {
		if got := drops[name]; got != want {
			return fmt.Errorf("inbox %s: replay counts %d drops, run reports %d", name, got, want)
		}
	}
	for name, got := range drops {
		if want := dropped[name]; got != want {
			return fmt.Errorf("inbox %s: replay counts %d drops, run reports %d", name, got, want)
		}
	}
	return nil
}

// VerifyJournal runs every invariant check against a complete journal.
func VerifyJournal(hdr journal.Header, records []journal.Record, sum journal.Summary) error {
	n, err := safecast.Conv[uint64](len(records))
	if err != nil {
		return fmt.Errorf("record count %d: %w", len(records), err)
	}
	if sum.Records != n {
		return fmt.Errorf("summary counts %d records, journal carries %d", sum.Records, n)
	}
	if hdr.Schema != journal.SchemaVersion {
		return fmt.Errorf("journal schema %d, this build verifies %d", hdr.Schema, journal.SchemaVersion)
	}
	if err := CheckLockAlternation(records, sum.Holders); err != nil {
		return fmt.Errorf("lock alternation: %w", err)
	}
	if err := CheckMessageFlow(records, sum.Leftover, sum.Dropped); err != nil {
		return fmt.Errorf("message flow: %w", err)
	}
	return nil
}
