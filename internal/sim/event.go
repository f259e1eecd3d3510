package sim

// Event mirrors one completed operation for the live monitor. The event
// stream is best-effort: when the consumer lags, events are dropped
// rather than slowing the workload down.
type Event struct {
	Step   int
	Task   uint64
	CPU    int32
	Op     string
	Object string
	Result string
}
