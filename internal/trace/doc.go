// Package trace records what the core did: lock hand-offs, mailbox
// traffic, signal dispatch and task state transitions. Its output is
// the first thing to read when a workload hangs or a verification
// fails.
//
// Tracing is wired through command-line flags:
//
//	nucleus run --trace=- --trace-level=op workload.toml
//
// Three storage modes exist. Stream mode writes each event as it
// happens, to stderr or a file, as text or NDJSON. Ring mode keeps a
// fixed window of the most recent events in memory; the CLI dumps the
// window when a run fails, so quiet runs cost no I/O. Both mode does
// both.
//
// Levels gate how much is recorded: off, fault (misuse reports only),
// op (core and lock boundaries), detail (plus mailbox and signal
// traffic) and debug (plus per-task transitions). Fault and heartbeat
// events bypass the level filter whenever tracing is enabled at all.
//
// Host-side code passes the tracer by context and brackets phases in
// spans:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	sp := trace.Begin(trace.FromContext(ctx), trace.ScopeCore, "run", 0)
//	defer sp.End("")
//
// Kernel-side objects receive their Tracer once, at construction, and
// emit through the Point and Fault helpers, which accept nil tracers.
package trace
