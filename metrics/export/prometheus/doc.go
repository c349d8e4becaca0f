// Package prometheus exposes authguard metrics to Prometheus.
//
// [PrometheusExporter] is a prometheus.Collector that turns each
// authguard.MetricsSnapshot into const metrics at scrape time. Counter names
// are authguard_*_total; the single histogram is
// authguard_check_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers mount Handler or
//     gather Registry themselves.
//   - Mutate service state.
package prometheus
