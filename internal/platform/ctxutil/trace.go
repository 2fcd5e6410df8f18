// Package ctxutil threads a job's correlation id through the dispatch
// context so downstream transport adapters can propagate it onto
// outbound requests without every caller passing it explicitly.
package ctxutil

import "context"

type traceDataKey struct{}

// TraceData is the correlation data stamped onto a dispatch context.
type TraceData struct {
	TraceID string
}

// WithTraceData returns a copy of ctx carrying td.
func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

// GetTraceData returns the TraceData stamped on ctx, or nil if none.
func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}
