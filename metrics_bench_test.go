package authguard

import (
	"sync/atomic"
	"testing"
	"time"
)

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricCheckAllowed)
	}
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricCheckAllowed)
	}
}

func BenchmarkMetricsIncParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricCheckAllowed)
		}
	})
}

func BenchmarkMetricsObserveCheckLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	d := 3 * time.Millisecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricCheckLatency, d)
		}
	})
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for id := MetricID(0); id < MetricCheckLatency; id++ {
		m.Inc(id)
	}
	m.Observe(MetricCheckLatency, time.Millisecond)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}

// packedBenchmarkMetrics is the unpadded layout the padded counters are
// measured against.
type packedBenchmarkMetrics struct {
	counters [metricIDCount]uint64
}

func (m *packedBenchmarkMetrics) Inc(id MetricID) {
	atomic.AddUint64(&m.counters[id], 1)
}

// The counters a busy check path touches together.
var mixedHotMetricIDs = [...]MetricID{
	MetricCheckAllowed,
	MetricCheckDenied,
	MetricDeniedWindow,
	MetricDeniedBurst,
	MetricAbuseSignal,
	MetricSuccessRecorded,
	MetricTrustBypass,
	MetricUnknownIdentifier,
}

func BenchmarkMetricsIncMixedParallelPadded(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(mixedHotMetricIDs[idx])
			idx++
			if idx == len(mixedHotMetricIDs) {
				idx = 0
			}
		}
	})
}

func BenchmarkMetricsIncMixedParallelPacked(b *testing.B) {
	m := &packedBenchmarkMetrics{}
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(mixedHotMetricIDs[idx])
			idx++
			if idx == len(mixedHotMetricIDs) {
				idx = 0
			}
		}
	})
}
