// Package otel provides OpenTelemetry metric bindings for storygate counters
// and histograms.
//
// [NewExporter] registers Int64ObservableCounter instruments for each gate
// counter and Int64ObservableGauge per histogram bucket. A single callback
// reads [storygate.Gate.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider — callers supply the Meter.
//   - Mutate gate state.
package otel
