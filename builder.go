package authguard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authguard/internal/audit"
	"github.com/MrEthical07/authguard/internal/backend"
	"github.com/MrEthical07/authguard/internal/limiters"
	"github.com/MrEthical07/authguard/internal/rate"
	"github.com/MrEthical07/authguard/internal/trust"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles a Service. Configure it during initialization; a
// Builder builds at most once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	logger    *logrus.Logger
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The Builder keeps a copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the store client. Without one, Build dials
// Config.Store and the Service closes that client on Close.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger replaces the logger built from Config.Logging.
func (b *Builder) WithLogger(logger *logrus.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the destination of audit events. It only takes effect
// when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every window, bucket and profile
// computation. Intended for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithFailureMode sets the verdict returned while the store is down.
func (b *Builder) WithFailureMode(mode FailureMode) *Builder {
	b.config.FailureMode = mode
	return b
}

// WithPolicy overrides the policy of one limit type.
func (b *Builder) WithPolicy(t LimitType, p RateLimitPolicy) *Builder {
	if b.config.Policies == nil {
		b.config.Policies = make(map[string]RateLimitPolicy)
	}
	b.config.Policies[t.String()] = p
	return b
}

// Build validates the configuration and wires the Service. When trust
// invalidation is enabled it also starts the pub/sub listener, which runs
// until Close.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policies, err := newPolicyTable(cfg.Policies)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = NewLogger(cfg.Logging)
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	client := b.redis
	ownsRedis := false
	if client == nil {
		client = NewRedisClient(cfg.Store)
		ownsRedis = true
	}

	guard := backend.NewGuard(backend.GuardConfig{
		Enabled:                cfg.Store.Breaker.Enabled,
		MaxConsecutiveFailures: cfg.Store.Breaker.MaxConsecutiveFailures,
		OpenTimeout:            cfg.Store.Breaker.OpenTimeout,
		HalfOpenRequests:       cfg.Store.Breaker.HalfOpenRequests,
		OnStateChange: func(from, to string) {
			logger.WithFields(logrus.Fields{"from": from, "to": to}).Warn("store circuit breaker state changed")
		},
	})
	keys := backend.NewKeys(cfg.Store.KeyPrefix)
	lockouts := limiters.NewLockoutManager(client, guard, keys, clock)

	s := &Service{
		cfg:       cfg,
		policies:  policies,
		redis:     client,
		ownsRedis: ownsRedis,
		guard:     guard,
		keys:      keys,
		windows:   rate.NewWindowCounter(client, guard, clock),
		bursts:    rate.NewBurstController(client, guard, clock),
		lockouts:  lockouts,
		abuse: limiters.NewAbuseDetector(client, guard, keys, lockouts, limiters.AbuseConfig{
			LoginWeight:     cfg.Abuse.LoginWeight,
			MFAWeight:       cfg.Abuse.MFAWeight,
			RapidWeight:     cfg.Abuse.RapidWeight,
			DistinctWeight:  cfg.Abuse.DistinctWeight,
			Threshold:       cfg.Abuse.Threshold,
			RapidWindow:     cfg.Abuse.RapidWindow,
			ProfileTTL:      cfg.Abuse.ProfileTTL,
			LockoutDuration: cfg.Abuse.LockoutDuration,
		}, clock),
		failures: limiters.NewFailureCounter(client, guard, keys),
		stats:    limiters.NewStats(client, guard, keys, clock),
		trust:    trust.NewRegistry(client, guard, keys, cfg.Trust.CacheTTL, logger, clock),
		metrics:  NewMetrics(cfg.Metrics),
		logger:   logger,
		warn:     newThrottledLogger(logger, 10*time.Second, 5),
		now:      clock,
	}

	s.audit = audit.NewSinkDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	if cfg.Abuse.Enabled && cfg.Abuse.Async {
		s.signals = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: cfg.Abuse.BufferSize,
			DropIfFull: true,
		}, s.handleSignal)
	}

	if cfg.Trust.InvalidationEnabled {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopListen = cancel
		s.listenWG.Add(1)
		go func() {
			defer s.listenWG.Done()
			s.trust.Listen(ctx)
		}()
	}

	b.built = true

	return s, nil
}
