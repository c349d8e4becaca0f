package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authguard"
	"github.com/MrEthical07/authguard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authguard.MetricsSnapshot
	AuditDropped() uint64
}

// bucketAttrs holds one precomputed le attribute set per latency bucket so
// the callback does not allocate them on every cycle.
var bucketAttrs = func() []metric.ObserveOption {
	out := make([]metric.ObserveOption, len(internaldefs.HistogramBounds))
	for i, le := range internaldefs.HistogramBounds {
		out[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	return out
}()

type counterInstrument struct {
	id  authguard.MetricID
	ins metric.Int64ObservableCounter
}

type histogramInstrument struct {
	id      authguard.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes authguard metrics through an OTel Meter. Every
// collection cycle reads one snapshot.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []counterInstrument
	histograms   []histogramInstrument
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers observable instruments for svc on meter.
func NewOTelExporter(meter metric.Meter, svc *authguard.Service) (*OTelExporter, error) {
	if svc == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, svc)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterInstrument{id: def.ID, ins: ins})
		observables = append(observables, ins)
	}

	// OTel has no observable histogram; buckets are one cumulative gauge
	// keyed by le, matching the Prometheus exposition.
	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("histogram %s buckets: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("histogram %s count: %w", def.Name, err)
		}
		e.histograms = append(e.histograms, histogramInstrument{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	auditDropped, err := meter.Int64ObservableCounter("authguard_audit_dropped_total",
		metric.WithDescription("Audit events dropped because the dispatcher buffer was full."))
	if err != nil {
		return nil, fmt.Errorf("audit dropped counter: %w", err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.ins, int64(snap.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[h.id]))
		for i, v := range cum {
			o.ObserveInt64(h.buckets, int64(v), bucketAttrs[i])
		}
		o.ObserveInt64(h.count, int64(cum[len(cum)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
