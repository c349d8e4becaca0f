package authguard

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// WhitelistIP trusts ip: it bypasses every check from now on. Any lockout
// and abuse profile for ip are cleared and peers drop their cached answer.
func (s *Service) WhitelistIP(ctx context.Context, ip string) error {
	if err := s.adminPrecheck(ip); err != nil {
		return err
	}
	if err := s.trust.Trust(ctx, ip); err != nil {
		return s.adminError(ctx, "whitelist", err)
	}
	if err := s.lockouts.Unlock(ctx, ip); err != nil {
		return s.adminError(ctx, "whitelist unlock", err)
	}
	if err := s.abuse.Reset(ctx, ip); err != nil {
		return s.adminError(ctx, "whitelist reset", err)
	}

	s.metrics.Inc(MetricWhitelisted)
	s.emitAudit(ctx, AuditEvent{EventType: AuditIPWhitelisted, IP: ip})
	s.logger.WithField("ip", ip).Info("ip whitelisted")
	return nil
}

// RemoveWhitelistIP withdraws trust from ip. Removing an untrusted IP is a
// no-op.
func (s *Service) RemoveWhitelistIP(ctx context.Context, ip string) error {
	if err := s.adminPrecheck(ip); err != nil {
		return err
	}
	if err := s.trust.Untrust(ctx, ip); err != nil {
		return s.adminError(ctx, "whitelist remove", err)
	}

	s.emitAudit(ctx, AuditEvent{EventType: AuditIPUnwhitelisted, IP: ip})
	s.logger.WithField("ip", ip).Info("ip removed from whitelist")
	return nil
}

// BlacklistIP locks ip out for d and flags it suspicious. A trusted ip
// loses its trust first.
func (s *Service) BlacklistIP(ctx context.Context, ip string, d time.Duration) error {
	if err := s.adminPrecheck(ip); err != nil {
		return err
	}
	if d <= 0 {
		return ErrInvalidDuration
	}
	if err := s.trust.Distrust(ctx, ip); err != nil {
		return s.adminError(ctx, "blacklist", err)
	}
	if _, err := s.lockouts.Lock(ctx, ip, d, "blacklist"); err != nil {
		return s.adminError(ctx, "blacklist lock", err)
	}

	s.metrics.Inc(MetricBlacklisted)
	s.emitAudit(ctx, AuditEvent{
		EventType:  AuditIPBlacklisted,
		IP:         ip,
		Reason:     "blacklist",
		RetryAfter: int(d / time.Second),
	})
	s.logger.WithFields(logrus.Fields{"ip": ip, "duration": d.String()}).Info("ip blacklisted")
	return nil
}

// UnlockIP lifts any lockout on ip early. It leaves suspicion and trust
// untouched.
func (s *Service) UnlockIP(ctx context.Context, ip string) error {
	if err := s.adminPrecheck(ip); err != nil {
		return err
	}
	if err := s.lockouts.Unlock(ctx, ip); err != nil {
		return s.adminError(ctx, "unlock", err)
	}

	s.metrics.Inc(MetricUnlocked)
	s.emitAudit(ctx, AuditEvent{EventType: AuditIPUnlocked, IP: ip})
	s.logger.WithField("ip", ip).Info("ip unlocked")
	return nil
}

func (s *Service) adminPrecheck(ip string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	if ip == "" {
		return ErrInvalidIP
	}
	return nil
}
