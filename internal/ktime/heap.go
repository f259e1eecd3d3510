package ktime

import "container/heap"

// virtualHeap orders pending virtual timers by deadline, ties broken by
// arm order so equal deadlines fire in the order they were created.
type virtualHeap []*virtualTimer

func (h virtualHeap) Len() int { return len(h) }

func (h virtualHeap) Less(i, j int) bool {
	if h[i].deadline == h[j].deadline {
		return h[i].id < h[j].id
	}
	return h[i].deadline < h[j].deadline
}

func (h virtualHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *virtualHeap) Push(x any) {
	vt, ok := x.(*virtualTimer)
	if !ok || vt == nil {
		return
	}
	*h = append(*h, vt)
}

func (h *virtualHeap) Pop() any {
	old := *h
	n := len(old)
	if n == 0 {
		return (*virtualTimer)(nil)
	}
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func (h *virtualHeap) push(vt *virtualTimer) {
	heap.Push(h, vt)
}

func (h *virtualHeap) peek() *virtualTimer {
	for len(*h) > 0 {
		next := (*h)[0]
		if next == nil || next.stopped {
			heap.Pop(h)
			continue
		}
		return next
	}
	return nil
}

// popDue removes and returns every timer due at or before now, already
// in firing order.
func (h *virtualHeap) popDue(now Ticks) []*virtualTimer {
	var due []*virtualTimer
	for len(*h) > 0 {
		next := (*h)[0]
		if next == nil || next.stopped {
			heap.Pop(h)
			continue
		}
		if next.deadline > now {
			break
		}
		heap.Pop(h)
		due = append(due, next)
	}
	return due
}
