// Package trace provides structured tracing for the drti decoration engine.
//
// The engine runs once per module and reports what it did through trace
// events instead of printing: which targets were found, which externs were
// noted for the address table, which calls were numbered and decorated.
//
// # Usage
//
//	drti decorate --trace=- --trace-level=debug in.ll
//
// # Tracers
//
//   - Nop: zero-overhead tracer used when tracing is disabled
//   - StreamTracer: writes each event as it happens
//   - RingTracer: keeps the last N events for a dump after a fatal error
//   - MultiTracer: fans out to several tracers
//
// # Levels
//
//   - LevelOff: nothing
//   - LevelError: only dumps on failure
//   - LevelPhase: driver and pass boundaries
//   - LevelDetail: per-function events
//   - LevelDebug: everything, including per-call numbering
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopePass, "drti-decorate", 0)
//	defer span.End("")
package trace
