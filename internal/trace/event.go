package trace

import "time"

// Kind classifies a trace event.
type Kind uint8

const (
	// KindSpanBegin opens a logical operation.
	KindSpanBegin Kind = iota + 1
	// KindSpanEnd closes it.
	KindSpanEnd
	// KindPoint is an instant event.
	KindPoint
	// KindFault reports misuse. Faults pass the level filter whenever
	// tracing is enabled at all.
	KindFault
	// KindHeartbeat is the periodic liveness signal; it also bypasses
	// the level filter so a hung run still produces output.
	KindHeartbeat
)

var kindNames = [...]string{"", "begin", "end", "point", "fault", "heartbeat"}

func (k Kind) String() string {
	if int(k) < len(kindNames) && k > 0 {
		return kindNames[k]
	}
	return "unknown"
}

// Scope says which layer of the core produced an event. Lower values
// are coarser; the level filter admits scopes up to a ceiling.
type Scope uint8

const (
	// ScopeCore covers registry-level operations: boot, shutdown,
	// workload phases.
	ScopeCore Scope = iota + 1
	// ScopeSync covers lock and wait-queue operations.
	ScopeSync
	// ScopeIPC covers mailbox and signal traffic.
	ScopeIPC
	// ScopeTask covers per-task state transitions, the noisiest scope.
	ScopeTask
)

var scopeNames = [...]string{"", "core", "sync", "ipc", "task"}

func (s Scope) String() string {
	if int(s) < len(scopeNames) && s > 0 {
		return scopeNames[s]
	}
	return "unknown"
}

// Event is a single trace record. CPU and Task carry the attribution
// the core knows at the emit site; -1 and 0 mean unattributed.
type Event struct {
	Time     time.Time
	Seq      uint64
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64
	CPU      int32
	Task     uint64
	Name     string            // dotted operation name, e.g. "lock.acquire"
	Detail   string            // free-form detail, may be empty
	Extra    map[string]string // optional key-value payload
}

// Point emits an instant event attributed to a CPU and task. Safe to
// call with a nil tracer.
func Point(t Tracer, scope Scope, cpu int32, task uint64, name, detail string) {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return
	}
	t.Emit(&Event{
		Time:   time.Now(),
		Kind:   KindPoint,
		Scope:  scope,
		CPU:    cpu,
		Task:   task,
		Name:   name,
		Detail: detail,
	})
}

// Fault emits a misuse report. Safe to call with a nil tracer; the
// event reaches every enabled tracer regardless of level.
func Fault(t Tracer, cpu int32, task uint64, name, detail string) {
	if t == nil || !t.Enabled() {
		return
	}
	t.Emit(&Event{
		Time:   time.Now(),
		Kind:   KindFault,
		Scope:  ScopeCore,
		CPU:    cpu,
		Task:   task,
		Name:   name,
		Detail: detail,
	})
}
