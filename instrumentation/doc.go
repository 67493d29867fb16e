// Package instrumentation provides OpenTelemetry instrumentation for the
// credential store: a tracer and meter per scope, pre-built metric
// instruments for storage operations, and observable gauges for store sizes.
//
// Instrumentation is optional everywhere it is accepted. A nil
// *Instrumentation or Enabled: false yields no-op providers with zero
// overhead, so library consumers that do not run a collector pay nothing.
package instrumentation
