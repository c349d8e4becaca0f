package authguard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "policy override valid",
			mutate: func(c *Config) {
				c.Policies = map[string]RateLimitPolicy{"mfa": DefaultPolicy(LimitMFA)}
			},
			wantValid: true,
		},
		{
			name: "policy for unknown type invalid",
			mutate: func(c *Config) {
				c.Policies = map[string]RateLimitPolicy{"sms": DefaultPolicy(LimitMFA)}
			},
			wantValid: false,
		},
		{
			name: "policy with shrinking windows invalid",
			mutate: func(c *Config) {
				p := DefaultPolicy(LimitLogin)
				p.RequestsPerHour = 2
				c.Policies = map[string]RateLimitPolicy{"login": p}
			},
			wantValid: false,
		},
		{
			name: "policy without scope invalid",
			mutate: func(c *Config) {
				p := DefaultPolicy(LimitLogin)
				p.IPBased, p.UserBased = false, false
				c.Policies = map[string]RateLimitPolicy{"login": p}
			},
			wantValid: false,
		},
		{
			name: "policy zero burst invalid",
			mutate: func(c *Config) {
				p := DefaultPolicy(LimitLogin)
				p.BurstSize = 0
				c.Policies = map[string]RateLimitPolicy{"login": p}
			},
			wantValid: false,
		},
		{
			name: "key prefix with space invalid",
			mutate: func(c *Config) {
				c.Store.KeyPrefix = "ag prod"
			},
			wantValid: false,
		},
		{
			name: "abuse threshold zero invalid",
			mutate: func(c *Config) {
				c.Abuse.Threshold = 0
			},
			wantValid: false,
		},
		{
			name: "abuse threshold ignored when disabled",
			mutate: func(c *Config) {
				c.Abuse.Enabled = false
				c.Abuse.Threshold = 0
			},
			wantValid: true,
		},
		{
			name: "async abuse without buffer invalid",
			mutate: func(c *Config) {
				c.Abuse.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "suspicion ttl zero invalid",
			mutate: func(c *Config) {
				c.Abuse.SuspicionTTL = 0
			},
			wantValid: false,
		},
		{
			name: "adaptive divisor zero invalid",
			mutate: func(c *Config) {
				c.Abuse.AdaptiveDivisor = 0
			},
			wantValid: false,
		},
		{
			name: "audit without buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "latency histograms need metrics",
			mutate: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.EnableLatencyHistograms = true
			},
			wantValid: false,
		},
		{
			name: "logging format invalid",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantValid: false,
		},
		{
			name: "failure mode out of range invalid",
			mutate: func(c *Config) {
				c.FailureMode = FailureMode(7)
			},
			wantValid: false,
		},
		{
			name: "fail closed retry zero invalid",
			mutate: func(c *Config) {
				c.FailClosedRetryAfter = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestConfigValidateErrorKinds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = map[string]RateLimitPolicy{"sms": DefaultPolicy(LimitLogin)}
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownLimitType)

	cfg = DefaultConfig()
	p := DefaultPolicy(LimitLogin)
	p.RequestsPerMinute = 0
	cfg.Policies = map[string]RateLimitPolicy{"login": p}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPolicy)

	cfg = DefaultConfig()
	cfg.FailClosedRetryAfter = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestDefaultConfigIsDetached(t *testing.T) {
	a := DefaultConfig()
	a.Policies = map[string]RateLimitPolicy{"login": DefaultPolicy(LimitLogin)}
	b := cloneConfig(a)
	b.Policies["login"] = RateLimitPolicy{}

	assert.Equal(t, DefaultPolicy(LimitLogin), a.Policies["login"])
	assert.Nil(t, DefaultConfig().Policies)
}

func TestFailureModeText(t *testing.T) {
	var m FailureMode
	require.NoError(t, m.UnmarshalText([]byte(" Fail_Open ")))
	assert.Equal(t, FailOpen, m)
	require.NoError(t, m.UnmarshalText([]byte("closed")))
	assert.Equal(t, FailClosed, m)
	assert.Error(t, m.UnmarshalText([]byte("sometimes")))
	assert.Equal(t, "fail_open", FailOpen.String())
}

const testConfigYAML = `
store:
  addr: redis.internal:6380
  key_prefix: edge
policies:
  login:
    requests_per_minute: 3
    requests_per_hour: 30
    requests_per_day: 300
    burst_size: 2
    lockout_duration: 45m
    progressive_delay: true
    ip_based: true
abuse:
  threshold: 12
  rapid_window: 5s
failure_mode: fail_open
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Store.Addr)
	assert.Equal(t, "edge", cfg.Store.KeyPrefix)
	assert.Equal(t, 50, cfg.Store.PoolSize, "unset fields keep their defaults")
	assert.Equal(t, FailOpen, cfg.FailureMode)
	assert.Equal(t, 12, cfg.Abuse.Threshold)
	assert.Equal(t, 5*time.Second, cfg.Abuse.RapidWindow)
	assert.Equal(t, 10*time.Minute, cfg.Abuse.ProfileTTL)
	assert.Equal(t, 24*time.Hour, cfg.Abuse.SuspicionTTL)

	login, ok := cfg.Policies["login"]
	require.True(t, ok)
	assert.Equal(t, RateLimitPolicy{
		RequestsPerMinute: 3, RequestsPerHour: 30, RequestsPerDay: 300, BurstSize: 2,
		LockoutDuration: 45 * time.Minute, ProgressiveDelay: true, IPBased: true,
	}, login)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("AUTHGUARD_STORE_ADDR", "10.1.1.1:6379")
	t.Setenv("AUTHGUARD_TRUST_CACHE_TTL", "2s")
	t.Setenv("AUTHGUARD_FAILURE_MODE", "fail_closed")

	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1:6379", cfg.Store.Addr)
	assert.Equal(t, 2*time.Second, cfg.Trust.CacheTTL)
	assert.Equal(t, FailClosed, cfg.FailureMode)
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Store.Addr, cfg.Store.Addr)
	assert.Equal(t, DefaultConfig().Abuse, cfg.Abuse)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "policies:\n  sms:\n    requests_per_minute: 1\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownLimitType))

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
