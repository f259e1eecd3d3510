package mailbox

import (
	"fmt"

	"nucleus/internal/task"
)

// Group routes messages to one of several member inboxes, the way a
// multi-threaded recipient exposes one logical address. Selection is
// deterministic so a replayed run delivers to the same members.
type Group struct {
	name    string
	members []*Mailbox
}

// NewGroup builds a group over the given member inboxes.
func NewGroup(name string, members ...*Mailbox) (*Group, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("mailbox: group %q needs at least one member", name)
	}
	g := &Group{
		name:    name,
		members: make([]*Mailbox, len(members)),
	}
	copy(g.members, members)
	return g, nil
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Size returns the number of member inboxes.
func (g *Group) Size() int { return len(g.members) }

// Member returns the i-th member inbox, nil if out of range.
func (g *Group) Member(i int) *Mailbox {
	if i < 0 || i >= len(g.members) {
		return nil
	}
	return g.members[i]
}

// Pick returns the member the next message goes to: fewest queued
// messages first, ties broken by higher owner priority, then by lower
// member index.
func (g *Group) Pick() *Mailbox {
	best := g.members[0]
	bestLen := best.Len()
	for _, mb := range g.members[1:] {
		n := mb.Len()
		if n < bestLen {
			best, bestLen = mb, n
			continue
		}
		if n == bestLen && mb.Owner().Priority() > best.Owner().Priority() {
			best, bestLen = mb, n
		}
	}
	return best
}

// Deliver sends msg to the picked member, reporting which inbox took it.
// The send follows the member's own backpressure policy.
func (g *Group) Deliver(from *task.Task, msg Message) (*Mailbox, error) {
	target := g.Pick()
	if err := target.Send(from, msg); err != nil {
		return target, err
	}
	return target, nil
}
