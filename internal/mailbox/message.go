// Package mailbox implements priority-ordered inter-task messaging with
// explicit backpressure. Every task owns one inbox; only the owner
// receives from it, anyone may send to it.
package mailbox

import "nucleus/internal/task"

// Kind classifies a message.
type Kind uint8

const (
	// KindNormal is ordinary payload traffic, subject to the inbox's
	// backpressure policy.
	KindNormal Kind = iota + 1
	// KindSignal is control traffic raised by the signal adapter. It is
	// admitted past the high-water mark so a flooded inbox cannot
	// throttle fault delivery.
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// MaxPriority is the highest message priority. Signal messages are
// stamped with it so they drain ahead of everything else.
const MaxPriority int8 = 127

// Message is one unit of inter-task traffic. The inbox stamps the
// arrival sequence on admission; a task-attributed Send overwrites
// Sender with the sending task's ID.
type Message struct {
	Sender   task.ID
	Kind     Kind
	Priority int8
	Code     uint16 // reserved signal code when Kind is KindSignal
	Payload  []byte

	seq uint64
}

// Seq returns the inbox arrival stamp. Within one inbox, stamps are
// unique and strictly increasing in admission order.
func (m Message) Seq() uint64 { return m.seq }

// msgHeap orders messages by priority (highest first) and, within a
// priority, by arrival stamp (oldest first). The stamp tie-break makes
// equal-priority delivery FIFO and the drain order total.
type msgHeap []Message

func (h msgHeap) Len() int { return len(h) }

func (h msgHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h msgHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *msgHeap) Push(x any) { *h = append(*h, x.(Message)) }

func (h *msgHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = Message{}
	*h = old[:n-1]
	return m
}
