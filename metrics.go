package authguard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricCheckAllowed counts CheckRateLimit calls that allowed.
	MetricCheckAllowed MetricID = iota
	// MetricCheckDenied counts CheckRateLimit calls that denied, for any reason.
	MetricCheckDenied
	MetricTrustBypass
	MetricDeniedLockout
	MetricDeniedWindow
	MetricDeniedBurst
	// MetricStoreUnavailable counts decisions made without the store.
	MetricStoreUnavailable
	// MetricFailOpenAllowed counts store outages answered with ALLOW.
	MetricFailOpenAllowed
	MetricAbuseSignal
	MetricAbuseLockout
	MetricAbuseSignalDropped
	MetricUnknownIdentifier
	MetricSuccessRecorded
	MetricWhitelisted
	MetricBlacklisted
	MetricUnlocked
	// MetricCheckLatency is the only histogram.
	MetricCheckLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. A nil or disabled Metrics records
// nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the latency histogram of id. Only
// MetricCheckLatency has a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricCheckLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricCheckLatency].buckets[i])
		}
		s.Histograms[MetricCheckLatency] = buckets
	}

	return s
}

// Bucket upper bounds: 1, 2, 5, 10, 25, 50, 100 ms, then +Inf.
func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 1000:
		return 0
	case us <= 2000:
		return 1
	case us <= 5000:
		return 2
	case us <= 10000:
		return 3
	case us <= 25000:
		return 4
	case us <= 50000:
		return 5
	case us <= 100000:
		return 6
	default:
		return 7
	}
}
