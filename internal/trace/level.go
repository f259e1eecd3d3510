package trace

import (
	"fmt"
	"strings"
)

// Level is the verbosity ceiling for a tracer. Each level admits the
// scopes of the previous one plus one finer scope; faults and
// heartbeats are exempt from the ceiling.
type Level uint8

const (
	LevelOff    Level = iota // tracing disabled
	LevelFault               // misuse reports only
	LevelOp                  // core and lock boundaries
	LevelDetail              // plus mailbox and signal traffic
	LevelDebug               // plus per-task transitions
)

var levelNames = [...]string{"off", "fault", "op", "detail", "debug"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel maps a flag value to a Level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if name == n {
			return Level(i), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level %q (expected off|fault|op|detail|debug)", s)
}

// ShouldEmit reports whether ordinary events of the given scope pass
// this level. Fault and heartbeat events are checked by Kind instead.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelOp:
		return scope <= ScopeSync
	case LevelDetail:
		return scope <= ScopeIPC
	case LevelDebug:
		return true
	default:
		// Off and fault admit no ordinary events.
		return false
	}
}
