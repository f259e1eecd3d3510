package trace

import "context"

type ctxKey struct{}

// WithTracer attaches t to the context. Kernel objects receive their
// tracer at construction; the context only carries it between the CLI
// and the simulator.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the attached tracer, or Nop when none is there.
func FromContext(ctx context.Context) Tracer {
	if ctx == nil {
		return Nop
	}
	if t, ok := ctx.Value(ctxKey{}).(Tracer); ok {
		return t
	}
	return Nop
}
