package authguard

import "github.com/MrEthical07/authguard/internal/security"

// SecurityReport describes the protections a Service runs with.
type SecurityReport = security.Report

// SecurityReport summarises the effective configuration. It never touches
// the store.
func (s *Service) SecurityReport() SecurityReport {
	if s == nil {
		return SecurityReport{}
	}

	policies := make([]security.PolicyInput, 0, limitTypeCount)
	for _, t := range LimitTypes() {
		p, _ := s.policies.lookup(t)
		policies = append(policies, security.PolicyInput{
			Name:              t.String(),
			RequestsPerMinute: p.RequestsPerMinute,
			LockoutDuration:   p.LockoutDuration,
			ProgressiveDelay:  p.ProgressiveDelay,
			AdaptiveThreshold: p.AdaptiveThreshold,
		})
	}

	return security.BuildReport(security.ReportInput{
		FailClosed:           s.cfg.FailureMode == FailClosed,
		FailClosedRetryAfter: s.cfg.FailClosedRetryAfter,
		BreakerEnabled:       s.cfg.Store.Breaker.Enabled,
		AbuseEnabled:         s.cfg.Abuse.Enabled,
		AbuseAsync:           s.cfg.Abuse.Async,
		AbuseThreshold:       s.cfg.Abuse.Threshold,
		TrustCacheTTL:        s.cfg.Trust.CacheTTL,
		TrustInvalidation:    s.cfg.Trust.InvalidationEnabled,
		AuditEnabled:         s.cfg.Audit.Enabled,
		MetricsEnabled:       s.cfg.Metrics.Enabled,
		Policies:             policies,
	})
}
