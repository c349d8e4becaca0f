package authguard

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete runtime configuration of a Service. Build it with
// DefaultConfig or LoadConfig and adjust fields before passing it to the
// Builder; the Service takes its own copy.
type Config struct {
	Store    StoreConfig                `mapstructure:"store"`
	Policies map[string]RateLimitPolicy `mapstructure:"policies"`
	Abuse    AbuseConfig                `mapstructure:"abuse"`
	Trust    TrustConfig                `mapstructure:"trust"`
	Audit    AuditConfig                `mapstructure:"audit"`
	Metrics  MetricsConfig              `mapstructure:"metrics"`
	Logging  LoggingConfig              `mapstructure:"logging"`

	// FailureMode decides the verdict when the store cannot answer.
	FailureMode FailureMode `mapstructure:"failure_mode"`
	// FailClosedRetryAfter is the retry hint, in seconds, of a fail-closed DENY.
	FailClosedRetryAfter int `mapstructure:"fail_closed_retry_after"`
}

// StoreConfig describes the Redis connection and key layout.
type StoreConfig struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker wrapped around every store call.
type BreakerConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	MaxConsecutiveFailures uint32        `mapstructure:"max_consecutive_failures"`
	OpenTimeout            time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests       uint32        `mapstructure:"half_open_requests"`
}

// AbuseConfig tunes abuse scoring and adaptive thresholds.
type AbuseConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Async hands signals to a buffered background dispatcher. When false
	// the signal is scored inline before CheckRateLimit returns.
	Async      bool `mapstructure:"async"`
	BufferSize int  `mapstructure:"buffer_size"`

	LoginWeight    int `mapstructure:"login_weight"`
	MFAWeight      int `mapstructure:"mfa_weight"`
	RapidWeight    int `mapstructure:"rapid_weight"`
	DistinctWeight int `mapstructure:"distinct_weight"`
	Threshold      int `mapstructure:"threshold"`

	RapidWindow time.Duration `mapstructure:"rapid_window"`
	ProfileTTL  time.Duration `mapstructure:"profile_ttl"`
	// LockoutDuration applies when the limit type's policy has none.
	LockoutDuration time.Duration `mapstructure:"lockout_duration"`
	// SuspicionTTL is how long a triggered IP stays flagged as suspicious.
	// Blacklisting flags without expiry.
	SuspicionTTL time.Duration `mapstructure:"suspicion_ttl"`
	// AdaptiveDivisor divides every window limit for suspicious IPs.
	AdaptiveDivisor uint32 `mapstructure:"adaptive_divisor"`
}

// TrustConfig controls the local whitelist and suspicion cache.
type TrustConfig struct {
	// CacheTTL bounds staleness. Negative disables the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// InvalidationEnabled subscribes to peer invalidation messages.
	InvalidationEnabled bool `mapstructure:"invalidation_enabled"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// LoggingConfig configures the default logger built when none is supplied.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FailureMode is the verdict returned while the store is unreachable.
type FailureMode int

const (
	// FailClosed denies. It is the zero value.
	FailClosed FailureMode = iota
	// FailOpen allows.
	FailOpen
)

func (m FailureMode) String() string {
	switch m {
	case FailClosed:
		return "fail_closed"
	case FailOpen:
		return "fail_open"
	default:
		return fmt.Sprintf("failure_mode(%d)", int(m))
	}
}

func (m *FailureMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "fail_closed", "closed":
		*m = FailClosed
	case "fail_open", "open":
		*m = FailOpen
	default:
		return errConfig(fmt.Sprintf("unknown failure mode %q", string(b)))
	}
	return nil
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Addr:         "localhost:6379",
			PoolSize:     50,
			MaxRetries:   2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			KeyPrefix:    "ag",
			Breaker: BreakerConfig{
				Enabled:                true,
				MaxConsecutiveFailures: 5,
				OpenTimeout:            5 * time.Second,
				HalfOpenRequests:       1,
			},
		},
		Abuse: AbuseConfig{
			Enabled:         true,
			Async:           true,
			BufferSize:      1024,
			LoginWeight:     2,
			MFAWeight:       3,
			RapidWeight:     1,
			DistinctWeight:  1,
			Threshold:       10,
			RapidWindow:     10 * time.Second,
			ProfileTTL:      10 * time.Minute,
			LockoutDuration: time.Hour,
			SuspicionTTL:    24 * time.Hour,
			AdaptiveDivisor: 2,
		},
		Trust: TrustConfig{
			CacheTTL:            5 * time.Second,
			InvalidationEnabled: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		FailureMode:          FailClosed,
		FailClosedRetryAfter: 30,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Policies != nil {
		out.Policies = make(map[string]RateLimitPolicy, len(cfg.Policies))
		for k, v := range cfg.Policies {
			out.Policies[k] = v
		}
	}
	return out
}

// Validate checks cfg for values the Service cannot run with.
func (c *Config) Validate() error {
	// Store
	if c.Store.PoolSize < 0 {
		return errConfig("Store PoolSize must be >= 0")
	}
	if c.Store.MaxRetries < -1 {
		return errConfig("Store MaxRetries must be >= -1")
	}
	if strings.ContainsAny(c.Store.KeyPrefix, " \t\r\n") {
		return errConfig("Store KeyPrefix must not contain whitespace")
	}
	if c.Store.Breaker.Enabled && c.Store.Breaker.OpenTimeout < 0 {
		return errConfig("Store Breaker OpenTimeout must be >= 0")
	}

	// Policies
	for name, p := range c.Policies {
		if _, err := ParseLimitType(name); err != nil {
			return err
		}
		if err := p.validate(); err != nil {
			return fmt.Errorf("policy %s: %w", name, err)
		}
	}

	// Abuse
	if c.Abuse.Enabled {
		if c.Abuse.Threshold <= 0 {
			return errConfig("Abuse Threshold must be > 0")
		}
		if c.Abuse.LoginWeight < 0 || c.Abuse.MFAWeight < 0 || c.Abuse.RapidWeight < 0 || c.Abuse.DistinctWeight < 0 {
			return errConfig("Abuse weights must be >= 0")
		}
		if c.Abuse.RapidWindow <= 0 {
			return errConfig("Abuse RapidWindow must be > 0")
		}
		if c.Abuse.ProfileTTL <= 0 {
			return errConfig("Abuse ProfileTTL must be > 0")
		}
		if c.Abuse.LockoutDuration <= 0 {
			return errConfig("Abuse LockoutDuration must be > 0")
		}
		if c.Abuse.SuspicionTTL <= 0 {
			return errConfig("Abuse SuspicionTTL must be > 0")
		}
		if c.Abuse.Async && c.Abuse.BufferSize <= 0 {
			return errConfig("Abuse BufferSize must be > 0 when Async is true")
		}
	}
	if c.Abuse.AdaptiveDivisor == 0 {
		return errConfig("Abuse AdaptiveDivisor must be >= 1")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errConfig("Audit BufferSize must be > 0 when Audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errConfig("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Logging
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return errConfig("Logging Format must be 'json' or 'text'")
	}

	switch c.FailureMode {
	case FailClosed, FailOpen:
	default:
		return errConfig("FailureMode is invalid")
	}
	if c.FailClosedRetryAfter <= 0 {
		return errConfig("FailClosedRetryAfter must be > 0")
	}

	return nil
}
