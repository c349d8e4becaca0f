package internaldefs

import (
	"github.com/MrEthical07/authguard"
)

// CounterDef names one authguard counter for exporters.
type CounterDef struct {
	ID   authguard.MetricID
	Name string
	Help string
}

// HistogramDef names one authguard histogram for exporters.
type HistogramDef struct {
	ID   authguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authguard.MetricCheckAllowed, Name: "authguard_check_allowed_total", Help: "Rate limit checks that allowed the request."},
	{ID: authguard.MetricCheckDenied, Name: "authguard_check_denied_total", Help: "Rate limit checks that denied the request."},
	{ID: authguard.MetricTrustBypass, Name: "authguard_trust_bypass_total", Help: "Checks skipped because the IP is whitelisted."},
	{ID: authguard.MetricDeniedLockout, Name: "authguard_denied_lockout_total", Help: "Denials caused by an active IP lockout."},
	{ID: authguard.MetricDeniedWindow, Name: "authguard_denied_window_total", Help: "Denials caused by a sliding window limit."},
	{ID: authguard.MetricDeniedBurst, Name: "authguard_denied_burst_total", Help: "Denials caused by an empty burst bucket."},
	{ID: authguard.MetricStoreUnavailable, Name: "authguard_store_unavailable_total", Help: "Decisions made while the store was unreachable."},
	{ID: authguard.MetricFailOpenAllowed, Name: "authguard_fail_open_allowed_total", Help: "Store outages answered with ALLOW."},
	{ID: authguard.MetricAbuseSignal, Name: "authguard_abuse_signal_total", Help: "Window violations forwarded to abuse scoring."},
	{ID: authguard.MetricAbuseLockout, Name: "authguard_abuse_lockout_total", Help: "IPs locked out by abuse scoring."},
	{ID: authguard.MetricAbuseSignalDropped, Name: "authguard_abuse_signal_dropped_total", Help: "Abuse signals dropped due to a full buffer."},
	{ID: authguard.MetricUnknownIdentifier, Name: "authguard_unknown_identifier_total", Help: "Checks counted against the shared unknown bucket."},
	{ID: authguard.MetricSuccessRecorded, Name: "authguard_success_recorded_total", Help: "RecordSuccess calls."},
	{ID: authguard.MetricWhitelisted, Name: "authguard_whitelisted_total", Help: "WhitelistIP calls."},
	{ID: authguard.MetricBlacklisted, Name: "authguard_blacklisted_total", Help: "BlacklistIP calls."},
	{ID: authguard.MetricUnlocked, Name: "authguard_unlocked_total", Help: "UnlockIP calls."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authguard.MetricCheckLatency, Name: "authguard_check_latency_seconds", Help: "CheckRateLimit latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight latency
// buckets kept by authguard.Metrics.
var HistogramBounds = []string{
	"0.001",
	"0.002",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundValues is HistogramBounds without the +Inf bucket, as
// floats.
var HistogramBoundValues = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1}

// NormalizeBuckets pads or truncates raw to the eight known buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the running totals both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
