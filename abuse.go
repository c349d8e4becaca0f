package authguard

import (
	"context"

	"github.com/MrEthical07/authguard/internal/limiters"
	"github.com/sirupsen/logrus"
)

// emitSignal hands sig to the abuse detector, through the dispatcher when
// scoring is asynchronous.
func (s *Service) emitSignal(ctx context.Context, sig AbuseSignal) {
	if !s.cfg.Abuse.Enabled || sig.IP == "" {
		return
	}
	s.metrics.Inc(MetricAbuseSignal)
	if s.signals == nil {
		s.handleSignal(ctx, sig)
		return
	}
	before := s.signals.Dropped()
	s.signals.Emit(ctx, sig)
	if s.signals.Dropped() > before {
		s.metrics.Inc(MetricAbuseSignalDropped)
	}
}

// handleSignal scores one window violation. Only login and MFA traffic
// feeds the profile.
func (s *Service) handleSignal(ctx context.Context, sig AbuseSignal) {
	var kind limiters.FailureKind
	switch sig.LimitType {
	case LimitLogin:
		kind = limiters.KindLogin
	case LimitMFA:
		kind = limiters.KindMFA
	default:
		return
	}

	policy, _ := s.policies.lookup(sig.LimitType)
	out, err := s.abuse.RecordAndScore(ctx, limiters.Attempt{
		IP:        sig.IP,
		LimitType: sig.LimitType.String(),
		Kind:      kind,
		UserID:    sig.UserID,
		Lockout:   policy.LockoutDuration,
	})
	if err != nil {
		if !isContextErr(err) {
			s.warn.Warn(logrus.Fields{"ip": sig.IP, "limit_type": sig.LimitType.String(), "error": err.Error()}, "abuse scoring failed")
		}
		return
	}
	if !out.Triggered {
		return
	}

	if err := s.trust.MarkSuspicious(ctx, sig.IP, s.cfg.Abuse.SuspicionTTL); err != nil {
		s.warn.Warn(logrus.Fields{"ip": sig.IP, "error": err.Error()}, "mark suspicious failed")
	}
	s.metrics.Inc(MetricAbuseLockout)
	s.emitAudit(ctx, AuditEvent{
		EventType:  AuditLockoutTriggered,
		LimitType:  sig.LimitType.String(),
		IP:         sig.IP,
		UserID:     sig.UserID,
		Reason:     out.Lockout.Reason,
		RetryAfter: int(out.Lockout.Duration),
	})
	s.logger.WithFields(logrus.Fields{
		"ip":          sig.IP,
		"limit_type":  sig.LimitType.String(),
		"score":       out.Score,
		"retry_after": out.Lockout.Duration,
	}).Warn("abuse threshold reached, ip locked out")
}
