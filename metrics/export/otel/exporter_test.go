package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authguard"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authguard.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authguard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authguard.MetricsSnapshot{
		Counters:   make(map[authguard.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authguard.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authguard-test")

	src := &fakeSource{
		snapshot: authguard.MetricsSnapshot{
			Counters: map[authguard.MetricID]uint64{
				authguard.MetricCheckAllowed: 3,
			},
			Histograms: map[authguard.MetricID][]uint64{
				authguard.MetricCheckLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authguard-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authguard-test")

	src := &fakeSource{
		snapshot: authguard.MetricsSnapshot{
			Counters: map[authguard.MetricID]uint64{
				authguard.MetricCheckAllowed: 1,
			},
			Histograms: map[authguard.MetricID][]uint64{
				authguard.MetricCheckLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authguard.MetricCheckAllowed] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("metric %s has unexpected data %T", name, m.Data)
			}
			return sum.DataPoints[0].Value
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterObservesSnapshotValues(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authguard-test")

	src := &fakeSource{
		snapshot: authguard.MetricsSnapshot{
			Counters: map[authguard.MetricID]uint64{
				authguard.MetricDeniedWindow: 4,
				authguard.MetricAbuseLockout: 1,
			},
			Histograms: map[authguard.MetricID][]uint64{},
		},
		dropped: 5,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if got := findSum(t, rm, "authguard_denied_window_total"); got != 4 {
		t.Fatalf("expected 4 window denials, got %d", got)
	}
	if got := findSum(t, rm, "authguard_abuse_lockout_total"); got != 1 {
		t.Fatalf("expected 1 abuse lockout, got %d", got)
	}
	if got := findSum(t, rm, "authguard_audit_dropped_total"); got != 5 {
		t.Fatalf("expected 5 dropped audit events, got %d", got)
	}
}

func TestExporterHistogramBucketsCarryLe(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authguard-test")

	src := &fakeSource{
		snapshot: authguard.MetricsSnapshot{
			Counters: map[authguard.MetricID]uint64{},
			Histograms: map[authguard.MetricID][]uint64{
				authguard.MetricCheckLatency: {2, 0, 1, 0, 0, 0, 0, 3},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	byLe := map[string]int64{}
	var count int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			g, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				continue
			}
			switch m.Name {
			case "authguard_check_latency_seconds_bucket":
				for _, dp := range g.DataPoints {
					le, _ := dp.Attributes.Value("le")
					byLe[le.AsString()] = dp.Value
				}
			case "authguard_check_latency_seconds_count":
				count = g.DataPoints[0].Value
			}
		}
	}

	if len(byLe) != 8 {
		t.Fatalf("expected 8 buckets, got %v", byLe)
	}
	if byLe["0.001"] != 2 || byLe["0.005"] != 3 || byLe["0.1"] != 3 || byLe["+Inf"] != 6 {
		t.Fatalf("unexpected cumulative buckets %v", byLe)
	}
	if count != 6 {
		t.Fatalf("expected count 6, got %d", count)
	}
}

func TestNewOTelExporterRejectsNilService(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("authguard-test")
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}
