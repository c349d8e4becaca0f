//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authguard"
	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis Hook that counts the number of Redis round-trips
// (individual commands and pipeline calls).
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		// Each pipeline call is one network round-trip regardless of command count.
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }

// newCountedService builds a Service whose client counts every command.
// One warm-up check loads the Lua scripts and fills the connection pool
// before the counter is reset.
func newCountedService(t *testing.T) (*authguard.Service, *cmdCounter) {
	t.Helper()

	_, rdb := newMiniredisClient(t)
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	cfg := integrationConfig()
	cfg.Trust.InvalidationEnabled = false
	svc := newIntegrationService(t, rdb, cfg)

	if _, err := svc.CheckRateLimit(context.Background(), authguard.LimitLogin, "warm", "198.51.100.200", "warm"); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	counter.Reset()
	return svc, counter
}

// TestRedisBudget_AllowedCheck pins the round-trip cost of the hot path:
// one trust pipeline, one lockout read, one script per window and one
// bucket script.
func TestRedisBudget_AllowedCheck(t *testing.T) {
	svc, counter := newCountedService(t)

	d, err := svc.CheckRateLimit(context.Background(), authguard.LimitLogin, "alice", "198.51.100.1", "alice")
	if err != nil || !d.Allowed {
		t.Fatalf("expected allow, got %+v err %v", d, err)
	}

	const budget = 2 + 1 + 6 + 1
	if got := counter.Commands(); got > budget {
		t.Fatalf("allowed login check used %d commands, budget %d", got, budget)
	}
	if got := counter.Pipelines(); got != 1 {
		t.Fatalf("expected exactly one pipeline (trust lookup), got %d", got)
	}
}

// TestRedisBudget_TrustedCheck: a cached whitelisted IP costs nothing.
func TestRedisBudget_TrustedCheck(t *testing.T) {
	svc, counter := newCountedService(t)
	ctx := context.Background()

	if err := svc.WhitelistIP(ctx, "198.51.100.9"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if _, err := svc.CheckRateLimit(ctx, authguard.LimitLogin, "x", "198.51.100.9", ""); err != nil {
		t.Fatalf("check: %v", err)
	}
	counter.Reset()

	d, err := svc.CheckRateLimit(ctx, authguard.LimitLogin, "x", "198.51.100.9", "")
	if err != nil || !d.Trusted {
		t.Fatalf("expected trusted allow, got %+v err %v", d, err)
	}
	if got := counter.Commands(); got != 0 {
		t.Fatalf("cached trusted check used %d commands, want 0", got)
	}
}

// TestRedisBudget_LockedCheck stops after the lockout read.
func TestRedisBudget_LockedCheck(t *testing.T) {
	svc, counter := newCountedService(t)
	ctx := context.Background()

	if err := svc.BlacklistIP(ctx, "198.51.100.66", time.Hour); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	counter.Reset()

	d, err := svc.CheckRateLimit(ctx, authguard.LimitLogin, "x", "198.51.100.66", "")
	if err != nil || d.Reason != authguard.ReasonLockedOut {
		t.Fatalf("expected lockout, got %+v err %v", d, err)
	}
	// trust pipeline (2) + PTTL (1) + denied-stats INCR/EXPIRE transaction.
	if got := counter.Commands(); got > 2+1+4 {
		t.Fatalf("locked check used %d commands", got)
	}
}
