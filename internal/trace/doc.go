// Package trace records what the emitter does, span by span.
//
// A Tracer travels in the context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, "mangle", parentID)
//	defer span.End("")
//
// Scopes, coarse to fine: ScopeDriver (a CLI command), ScopeStage (one
// pipeline stage), ScopeUnit (one compilation unit), ScopeSymbol (one
// function or data object). The level decides which scopes are recorded:
// phase keeps driver and stage spans, detail adds units, debug adds symbols.
//
// Storage is a stream to a writer, an in-memory ring dumped on failure, or both.
package trace
