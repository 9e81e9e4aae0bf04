// Package prometheus renders storygate metrics in Prometheus text exposition
// format.
//
// [NewExporter] accepts a [storygate.Gate] and exposes an [net/http.Handler]
// that renders all gate counters and histograms. Counter names are prefixed
// storygate_*_total; the single histogram is storygate_decision_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the
//     Handler.
//   - Mutate gate state.
package prometheus
