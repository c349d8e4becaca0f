package security

import "time"

// PolicyInput is the subset of one limit type's policy that affects posture.
type PolicyInput struct {
	Name              string
	RequestsPerMinute uint32
	LockoutDuration   time.Duration
	ProgressiveDelay  bool
	AdaptiveThreshold bool
}

type ReportInput struct {
	FailClosed           bool
	FailClosedRetryAfter int
	BreakerEnabled       bool
	AbuseEnabled         bool
	AbuseAsync           bool
	AbuseThreshold       int
	TrustCacheTTL        time.Duration
	TrustInvalidation    bool
	AuditEnabled         bool
	MetricsEnabled       bool
	Policies             []PolicyInput
}

// Report summarises how a limiter configuration behaves under attack and
// under store outages.
type Report struct {
	FailClosed               bool          `json:"fail_closed"`
	CircuitBreakerActive     bool          `json:"circuit_breaker_active"`
	AbuseScoringActive       bool          `json:"abuse_scoring_active"`
	AbuseScoringAsync        bool          `json:"abuse_scoring_async"`
	AdaptiveThresholdsActive bool          `json:"adaptive_thresholds_active"`
	TrustCacheTTL            time.Duration `json:"trust_cache_ttl"`
	TrustInvalidationActive  bool          `json:"trust_invalidation_active"`
	AuditActive              bool          `json:"audit_active"`
	MetricsActive            bool          `json:"metrics_active"`
	ProgressiveDelayTypes    []string      `json:"progressive_delay_types"`
	TypesWithoutLockout      []string      `json:"types_without_lockout"`
	Warnings                 []string      `json:"warnings"`
}

const (
	WarnFailOpen             = "fail_open: store outages allow every request"
	WarnAbuseDisabled        = "abuse_disabled: distributed attacks never trigger a lockout"
	WarnStaleTrust           = "stale_trust: peers see whitelist changes only after the cache TTL"
	WarnAuditDisabled        = "audit_disabled: lockouts leave no event trail"
	WarnBreakerDisabled      = "breaker_disabled: every check waits for store timeouts during an outage"
	WarnShortFailClosedRetry = "short_fail_closed_retry: clients retry into an outage"
)

func BuildReport(input ReportInput) Report {
	r := Report{
		FailClosed:              input.FailClosed,
		CircuitBreakerActive:    input.BreakerEnabled,
		AbuseScoringActive:      input.AbuseEnabled && input.AbuseThreshold > 0,
		AbuseScoringAsync:       input.AbuseEnabled && input.AbuseAsync,
		TrustCacheTTL:           input.TrustCacheTTL,
		TrustInvalidationActive: input.TrustInvalidation,
		AuditActive:             input.AuditEnabled,
		MetricsActive:           input.MetricsEnabled,
	}

	for _, p := range input.Policies {
		if p.ProgressiveDelay {
			r.ProgressiveDelayTypes = append(r.ProgressiveDelayTypes, p.Name)
		}
		if p.AdaptiveThreshold && r.AbuseScoringActive {
			r.AdaptiveThresholdsActive = true
		}
		if p.LockoutDuration == 0 {
			r.TypesWithoutLockout = append(r.TypesWithoutLockout, p.Name)
		}
	}

	if !input.FailClosed {
		r.Warnings = append(r.Warnings, WarnFailOpen)
	} else if input.FailClosedRetryAfter < 5 {
		r.Warnings = append(r.Warnings, WarnShortFailClosedRetry)
	}
	if !r.AbuseScoringActive {
		r.Warnings = append(r.Warnings, WarnAbuseDisabled)
	}
	if input.TrustCacheTTL > 0 && !input.TrustInvalidation {
		r.Warnings = append(r.Warnings, WarnStaleTrust)
	}
	if !input.AuditEnabled {
		r.Warnings = append(r.Warnings, WarnAuditDisabled)
	}
	if !input.BreakerEnabled {
		r.Warnings = append(r.Warnings, WarnBreakerDisabled)
	}
	return r
}
