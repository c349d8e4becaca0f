// Package otel binds authguard counters and the check latency histogram to
// OpenTelemetry instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter. The
// latency histogram becomes a cumulative `_bucket` gauge carrying an `le`
// attribute plus a `_count` gauge. A single callback reads
// authguard.Service.MetricsSnapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate service state.
package otel
