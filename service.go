package authguard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authguard/internal/audit"
	"github.com/MrEthical07/authguard/internal/backend"
	"github.com/MrEthical07/authguard/internal/limiters"
	"github.com/MrEthical07/authguard/internal/rate"
	"github.com/MrEthical07/authguard/internal/trust"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const unknownIdentifier = "unknown"

const (
	scopeIP   = "ip"
	scopeUser = "user"
)

// Service is the rate limiter and abuse detector. It is safe for concurrent
// use; build one per process with Builder.Build and share it.
type Service struct {
	cfg      Config
	policies policyTable

	redis     redis.UniversalClient
	ownsRedis bool
	guard     *backend.Guard
	keys      backend.Keys

	windows  *rate.WindowCounter
	bursts   *rate.BurstController
	lockouts *limiters.LockoutManager
	abuse    *limiters.AbuseDetector
	failures *limiters.FailureCounter
	stats    *limiters.Stats
	trust    *trust.Registry

	signals *audit.Dispatcher[AbuseSignal]
	audit   *audit.Dispatcher[AuditEvent]
	metrics *Metrics

	logger *logrus.Logger
	warn   *throttledLogger
	now    func() time.Time

	stopListen context.CancelFunc
	listenWG   sync.WaitGroup
	closed     atomic.Bool
}

type windowCheck struct {
	scope  string
	id     string
	window window
}

// CheckRateLimit decides whether one request of limitType may proceed.
//
// identifier keys the burst bucket and the progressive-delay counter; ip
// and userID key the IP and user windows. Either may be empty. When neither
// scope can be built the request is counted against a shared "unknown"
// IP bucket.
//
// A non-nil error means the decision was made without the store (outage,
// open circuit, or cancelled ctx). The Decision is still meaningful: it is
// a DENY unless FailureMode is FailOpen, and always a DENY for a cancelled
// ctx.
func (s *Service) CheckRateLimit(ctx context.Context, limitType LimitType, identifier, ip, userID string) (Decision, error) {
	if s.closed.Load() {
		return Decision{Reason: ReasonStoreUnavailable, RetryAfter: s.cfg.FailClosedRetryAfter}, ErrServiceClosed
	}
	start := time.Now()
	d, err := s.checkRateLimit(ctx, limitType, identifier, ip, userID)
	s.metrics.Observe(MetricCheckLatency, time.Since(start))

	switch {
	case d.Allowed:
		s.metrics.Inc(MetricCheckAllowed)
	default:
		s.metrics.Inc(MetricCheckDenied)
	}
	return d, err
}

func (s *Service) checkRateLimit(ctx context.Context, limitType LimitType, identifier, ip, userID string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return s.failDecision(ctx, "check", limitType, ip, err)
	}

	standing, err := s.trust.Lookup(ctx, ip)
	if err != nil {
		return s.failDecision(ctx, "trust lookup", limitType, ip, err)
	}
	if standing.Trusted {
		s.metrics.Inc(MetricTrustBypass)
		return Decision{Allowed: true, Trusted: true}, nil
	}

	if ip != "" {
		lock, err := s.lockouts.State(ctx, ip)
		if err != nil {
			return s.failDecision(ctx, "lockout state", limitType, ip, err)
		}
		if lock.Locked {
			s.metrics.Inc(MetricDeniedLockout)
			s.recordDenied(ctx, limitType)
			return Decision{RetryAfter: lock.Remaining, Reason: ReasonLockedOut}, nil
		}
	}

	policy, known := s.policies.lookup(limitType)
	if !known {
		s.logger.WithField("limit_type", limitType.String()).Debug("unknown limit type, using login policy")
		limitType = LimitLogin
	}

	checks := s.buildChecks(limitType, policy, ip, userID, standing.Suspicious)
	results := make([]rate.WindowResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			key := s.keys.Window(limitType.String(), c.scope, c.id, c.window.name)
			res, err := s.windows.Check(gctx, key, c.window.length, c.window.limit)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// errgroup cancels gctx on the first failure; report the caller's
		// own cancellation rather than the derived one.
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return s.failDecision(ctx, "window check", limitType, ip, err)
	}

	retry := 0
	for _, res := range results {
		if !res.Allowed && res.RetryAfter > retry {
			retry = res.RetryAfter
		}
	}

	bucketID := firstNonEmpty(identifier, userID, ip, unknownIdentifier)

	if retry > 0 {
		if policy.ProgressiveDelay {
			failures, err := s.failures.Incr(ctx, limitType.String(), bucketID)
			if err != nil {
				s.warn.Warn(logrus.Fields{"limit_type": limitType.String(), "error": err.Error()}, "failure counter unavailable, progressive delay skipped")
			} else {
				retry *= limiters.Multiplier(failures)
			}
		}
		s.metrics.Inc(MetricDeniedWindow)
		s.recordDenied(ctx, limitType)
		s.emitSignal(ctx, AbuseSignal{
			IP:        ip,
			LimitType: limitType,
			UserID:    userID,
			Outcome:   string(ReasonWindowExceeded),
			At:        s.now(),
		})
		s.emitAudit(ctx, AuditEvent{
			EventType:  AuditRateLimited,
			LimitType:  limitType.String(),
			Identifier: identifier,
			IP:         ip,
			UserID:     userID,
			Reason:     string(ReasonWindowExceeded),
			RetryAfter: retry,
		})
		s.logger.WithFields(logrus.Fields{
			"limit_type":  limitType.String(),
			"ip":          ip,
			"reason":      ReasonWindowExceeded,
			"retry_after": retry,
		}).Debug("rate limit exceeded")
		return Decision{RetryAfter: retry, Reason: ReasonWindowExceeded}, nil
	}

	ok, err := s.bursts.TryConsume(ctx, s.keys.Burst(limitType.String(), bucketID), policy.BurstSize)
	if err != nil {
		return s.failDecision(ctx, "burst consume", limitType, ip, err)
	}
	if !ok {
		s.metrics.Inc(MetricDeniedBurst)
		s.recordDenied(ctx, limitType)
		return Decision{RetryAfter: 1, Reason: ReasonBurstExceeded}, nil
	}

	return Decision{Allowed: true}, nil
}

func (s *Service) buildChecks(limitType LimitType, policy RateLimitPolicy, ip, userID string, suspicious bool) []windowCheck {
	windows := policy.windows()
	if policy.AdaptiveThreshold && suspicious {
		div := s.cfg.Abuse.AdaptiveDivisor
		for i := range windows {
			windows[i].limit /= div
			if windows[i].limit < 1 {
				windows[i].limit = 1
			}
		}
	}

	checks := make([]windowCheck, 0, 6)
	if policy.IPBased && ip != "" {
		for _, w := range windows {
			checks = append(checks, windowCheck{scope: scopeIP, id: ip, window: w})
		}
	}
	if policy.UserBased && userID != "" {
		for _, w := range windows {
			checks = append(checks, windowCheck{scope: scopeUser, id: userID, window: w})
		}
	}
	if len(checks) == 0 {
		s.metrics.Inc(MetricUnknownIdentifier)
		s.warn.Warn(logrus.Fields{"limit_type": limitType.String()}, "no usable ip or user for policy, counting against the unknown bucket")
		for _, w := range windows {
			checks = append(checks, windowCheck{scope: scopeIP, id: unknownIdentifier, window: w})
		}
	}
	return checks
}

// failDecision turns a store error into the configured fallback verdict
// plus a caller-safe error.
func (s *Service) failDecision(ctx context.Context, op string, limitType LimitType, ip string, err error) (Decision, error) {
	pub := publicStoreError(op, err)
	if isContextErr(err) {
		return Decision{RetryAfter: 1, Reason: ReasonCanceled}, pub
	}

	s.metrics.Inc(MetricStoreUnavailable)
	s.warn.Warn(logrus.Fields{
		"op":           op,
		"limit_type":   limitType.String(),
		"error":        err.Error(),
		"failure_mode": s.cfg.FailureMode.String(),
		"breaker":      s.guard.State(),
	}, "rate limit store unavailable")
	s.emitAudit(ctx, AuditEvent{
		EventType: AuditStoreUnavailable,
		LimitType: limitType.String(),
		IP:        ip,
		Error:     pub.Error(),
	})

	if s.cfg.FailureMode == FailOpen {
		s.metrics.Inc(MetricFailOpenAllowed)
		return Decision{Allowed: true}, pub
	}
	return Decision{RetryAfter: s.cfg.FailClosedRetryAfter, Reason: ReasonStoreUnavailable}, pub
}

func (s *Service) recordDenied(ctx context.Context, limitType LimitType) {
	if err := s.stats.RecordDenied(ctx, limitType.String()); err != nil && !isContextErr(err) {
		s.warn.Warn(logrus.Fields{"limit_type": limitType.String(), "error": err.Error()}, "denial counter unavailable")
	}
}

// RecordSuccess tells the service a request of limitType succeeded. It
// clears the progressive-delay counter and the IP's abuse profile and bumps
// the daily success counter. Calling it with nothing to clear is a no-op.
func (s *Service) RecordSuccess(ctx context.Context, limitType LimitType, identifier, ip, userID string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	if !limitType.Valid() {
		limitType = LimitLogin
	}
	bucketID := firstNonEmpty(identifier, userID, ip, unknownIdentifier)

	if err := s.failures.Reset(ctx, limitType.String(), bucketID); err != nil {
		return s.adminError(ctx, "failure reset", err)
	}
	if err := s.abuse.Reset(ctx, ip); err != nil {
		return s.adminError(ctx, "abuse reset", err)
	}
	if err := s.stats.RecordSuccess(ctx, limitType.String()); err != nil {
		return s.adminError(ctx, "success counter", err)
	}
	s.metrics.Inc(MetricSuccessRecorded)
	return nil
}

// adminError logs the detailed error and returns the caller-safe form.
func (s *Service) adminError(ctx context.Context, op string, err error) error {
	if !isContextErr(err) {
		s.warn.Warn(logrus.Fields{"op": op, "error": err.Error()}, "rate limit store unavailable")
	}
	return publicStoreError(op, err)
}

// Close stops background work and drains queued abuse signals and audit
// events. A Redis client built by the Builder is closed too.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.stopListen != nil {
		s.stopListen()
	}
	s.listenWG.Wait()
	s.signals.Close()
	s.audit.Close()
	if s.ownsRedis {
		return s.redis.Close()
	}
	return nil
}

// Health pings the store through the circuit breaker.
func (s *Service) Health(ctx context.Context) error {
	err := s.guard.Do(ctx, "ping", func(ctx context.Context) error {
		return s.redis.Ping(ctx).Err()
	})
	return publicStoreError("ping", err)
}

// Metrics returns the in-process counters.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Policy returns the effective policy for limitType.
func (s *Service) Policy(limitType LimitType) RateLimitPolicy {
	p, _ := s.policies.lookup(limitType)
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
