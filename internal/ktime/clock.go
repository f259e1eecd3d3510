package ktime

import (
	"math"
	"sync"
	"time"

	"fortio.org/safecast"
)

// Ticks is a monotonic reading in nanoseconds since the clock started.
// Readings never go backwards and are unrelated to wall time.
type Ticks uint64

// Add offsets a reading by a duration, clamping at the extremes.
func (t Ticks) Add(d time.Duration) Ticks {
	if d < 0 {
		neg := uint64(-d)
		if neg >= uint64(t) {
			return 0
		}
		return t - Ticks(neg)
	}
	sum := uint64(t) + uint64(d)
	if sum < uint64(t) {
		return Ticks(math.MaxUint64)
	}
	return Ticks(sum)
}

// Before reports whether t reads earlier than u.
func (t Ticks) Before(u Ticks) bool { return t < u }

// Timer is an armed deadline callback. Stop reports whether the
// callback was prevented from running.
type Timer interface {
	Stop() bool
}

// Clock supplies monotonic time and deadline callbacks.
//
// Arm schedules fn to run once the clock reaches deadline. The callback
// may run on an arbitrary goroutine and must not block; deadline races
// are resolved by the caller, not the clock.
type Clock interface {
	Now() Ticks
	Arm(deadline Ticks, fn func()) Timer
}

// RealClock reads the host monotonic clock.
type RealClock struct {
	start time.Time
}

// NewRealClock returns a clock whose zero tick is the moment of the call.
func NewRealClock() *RealClock {
	return &RealClock{start: time.Now()}
}

func (c *RealClock) Now() Ticks {
	if c == nil || c.start.IsZero() {
		return 0
	}
	return Ticks(time.Since(c.start))
}

func (c *RealClock) Arm(deadline Ticks, fn func()) Timer {
	if c == nil || fn == nil {
		return stoppedTimer{}
	}
	now := c.Now()
	var delay time.Duration
	if deadline > now {
		delta, err := safecast.Conv[int64](uint64(deadline - now))
		if err != nil {
			delta = math.MaxInt64
		}
		delay = time.Duration(delta)
	}
	return &realTimer{t: time.AfterFunc(delay, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) Stop() bool {
	if r == nil || r.t == nil {
		return false
	}
	return r.t.Stop()
}

type stoppedTimer struct{}

func (stoppedTimer) Stop() bool { return false }

// VirtualClock advances only when told to. Deadline callbacks fire
// during Advance or Set, on the advancing goroutine, in (deadline, arm
// order) sequence. It makes timeout behavior deterministic in tests.
type VirtualClock struct {
	mu     sync.Mutex
	now    Ticks
	nextID uint64
	timers virtualHeap
}

// NewVirtualClock returns a virtual clock at tick zero.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{}
}

func (c *VirtualClock) Now() Ticks {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) Arm(deadline Ticks, fn func()) Timer {
	if c == nil || fn == nil {
		return stoppedTimer{}
	}
	c.mu.Lock()
	c.nextID++
	vt := &virtualTimer{
		clock:    c,
		id:       c.nextID,
		deadline: deadline,
		fn:       fn,
	}
	if deadline <= c.now {
		// Already due; fire without waiting for an Advance.
		c.mu.Unlock()
		fn()
		return stoppedTimer{}
	}
	c.timers.push(vt)
	c.mu.Unlock()
	return vt
}

// Advance moves the clock forward by d, firing every timer whose
// deadline falls inside the window.
func (c *VirtualClock) Advance(d time.Duration) {
	if c == nil {
		return
	}
	c.Set(c.Now().Add(d))
}

// Set moves the clock to now (never backwards) and fires due timers.
func (c *VirtualClock) Set(now Ticks) {
	if c == nil {
		return
	}
	for {
		c.mu.Lock()
		if now > c.now {
			// Step to the next due deadline so callbacks observe
			// the time they were armed for.
			if next := c.timers.peek(); next != nil && next.deadline <= now {
				c.now = next.deadline
			} else {
				c.now = now
			}
		}
		due := c.timers.popDue(c.now)
		c.mu.Unlock()
		if len(due) == 0 {
			if c.Now() >= now {
				return
			}
			continue
		}
		// Callbacks run outside the clock lock; they are allowed to
		// arm new timers or stop pending ones.
		for _, vt := range due {
			if vt.take() {
				vt.fn()
			}
		}
	}
}

type virtualTimer struct {
	clock    *VirtualClock
	id       uint64
	deadline Ticks
	fn       func()
	fired    bool
	stopped  bool
}

func (vt *virtualTimer) Stop() bool {
	if vt == nil || vt.clock == nil {
		return false
	}
	vt.clock.mu.Lock()
	defer vt.clock.mu.Unlock()
	if vt.fired || vt.stopped {
		return false
	}
	vt.stopped = true
	return true
}

// take claims the right to fire. It loses to a concurrent Stop.
func (vt *virtualTimer) take() bool {
	vt.clock.mu.Lock()
	defer vt.clock.mu.Unlock()
	if vt.stopped || vt.fired {
		return false
	}
	vt.fired = true
	return true
}
