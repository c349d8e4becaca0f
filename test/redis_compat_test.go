//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrEthical07/authguard"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend the compatibility suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				if err := rdb.Ping(context.Background()).Err(); err != nil {
					t.Skipf("redis at %s unreachable: %v", addr, err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	return modes
}

func TestRedisCompatWindowAndBurst(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			client, cleanup := mode.setup(t)
			defer cleanup()

			cfg := integrationConfig()
			cfg.Policies = map[string]authguard.RateLimitPolicy{
				"api_key": {
					RequestsPerMinute: 4, RequestsPerHour: 100, RequestsPerDay: 100, BurstSize: 100,
					IPBased: true,
				},
			}
			svc := newIntegrationService(t, client, cfg)
			ctx := context.Background()

			for i := 0; i < 4; i++ {
				d, err := svc.CheckRateLimit(ctx, authguard.LimitAPIKey, "k", "192.0.2.1", "")
				if err != nil || !d.Allowed {
					t.Fatalf("request %d: decision %+v err %v", i+1, d, err)
				}
			}
			d, err := svc.CheckRateLimit(ctx, authguard.LimitAPIKey, "k", "192.0.2.1", "")
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if d.Allowed || d.Reason != authguard.ReasonWindowExceeded {
				t.Fatalf("expected window denial, got %+v", d)
			}
			if d.RetryAfter < 1 || d.RetryAfter > 61 {
				t.Fatalf("retry after out of range: %d", d.RetryAfter)
			}

			st, err := svc.GetStatus(ctx, authguard.LimitAPIKey, "192.0.2.1")
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if st.CurrentUsage.Minute != 4 {
				t.Fatalf("expected minute usage 4, got %d", st.CurrentUsage.Minute)
			}
		})
	}
}

func TestRedisCompatLockoutAndTrust(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			client, cleanup := mode.setup(t)
			defer cleanup()

			svc := newIntegrationService(t, client, integrationConfig())
			ctx := context.Background()
			const ip = "192.0.2.50"

			if err := svc.BlacklistIP(ctx, ip, 90*time.Second); err != nil {
				t.Fatalf("blacklist: %v", err)
			}
			d, err := svc.CheckRateLimit(ctx, authguard.LimitLogin, "u", ip, "u")
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if d.Reason != authguard.ReasonLockedOut || d.RetryAfter < 89 || d.RetryAfter > 90 {
				t.Fatalf("expected ~90s lockout, got %+v", d)
			}

			if err := svc.WhitelistIP(ctx, ip); err != nil {
				t.Fatalf("whitelist: %v", err)
			}
			d, err = svc.CheckRateLimit(ctx, authguard.LimitLogin, "u", ip, "u")
			if err != nil || !d.Allowed || !d.Trusted {
				t.Fatalf("expected trusted allow, got %+v err %v", d, err)
			}

			report, err := svc.GetMetrics(ctx)
			if err != nil {
				t.Fatalf("metrics: %v", err)
			}
			if report.TrustedIPCount != 1 || report.LockoutsToday != 1 {
				t.Fatalf("unexpected report %+v", report)
			}
		})
	}
}
