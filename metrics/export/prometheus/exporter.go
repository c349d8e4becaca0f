package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authguard"
	"github.com/MrEthical07/authguard/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() authguard.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   authguard.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   authguard.MetricID
	desc *prometheus.Desc
}

// PrometheusExporter is a prometheus.Collector over authguard metrics. It
// reads a fresh snapshot on every scrape.
type PrometheusExporter struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
	registry     *prometheus.Registry
}

// NewPrometheusExporter creates an exporter that reads from svc.
func NewPrometheusExporter(svc *authguard.Service) *PrometheusExporter {
	return NewPrometheusExporterFromSource(svc)
}

// NewPrometheusExporterFromSource creates an exporter from any snapshot
// source. The exporter is registered in its own registry, served by
// Handler.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	e := &PrometheusExporter{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(
			"authguard_audit_dropped_total",
			"Dropped audit events due to dispatcher backpressure.",
			nil, nil,
		),
		registry: prometheus.NewRegistry(),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	e.registry.MustRegister(e)
	return e
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.auditDropped
}

// Collect implements prometheus.Collector. A disabled Metrics yields
// nothing.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}

	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(snapshot.Counters[c.id]))
	}

	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for i, le := range internaldefs.HistogramBoundValues {
			buckets[le] = cumulative[i]
		}
		// Snapshots carry no sum.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(e.auditDropped, prometheus.CounterValue, float64(dropped))
}

// Registry returns the private registry the exporter is registered in, for
// callers that merge it into their own gatherer.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the exporter's registry in the Prometheus exposition
// format.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
