package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardWrapsStoreErrors(t *testing.T) {
	g := NewGuard(GuardConfig{})

	err := g.Do(context.Background(), "zadd", func(context.Context) error {
		return errors.New("dial tcp 10.0.0.9:6379: connection refused")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGuardPassesNilAndContextErrors(t *testing.T) {
	g := NewGuard(GuardConfig{Enabled: true})

	err := g.Do(context.Background(), "get", func(context.Context) error { return redis.Nil })
	assert.ErrorIs(t, err, redis.Nil)
	assert.NotErrorIs(t, err, ErrUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = g.Do(ctx, "get", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called, "cancelled context must not reach the store")
}

func TestGuardOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []string
	g := NewGuard(GuardConfig{
		Enabled:                true,
		MaxConsecutiveFailures: 2,
		OpenTimeout:            time.Minute,
		OnStateChange: func(from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	})

	boom := func(context.Context) error { return errors.New("boom") }
	for i := 0; i < 2; i++ {
		_ = g.Do(context.Background(), "incr", boom)
	}
	assert.Equal(t, "open", g.State())

	called := false
	err := g.Do(context.Background(), "incr", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestGuardDisabledState(t *testing.T) {
	assert.Equal(t, "disabled", NewGuard(GuardConfig{}).State())
	var g *Guard
	assert.NoError(t, g.Do(context.Background(), "ping", func(context.Context) error { return nil }))
}

func TestKeysLayout(t *testing.T) {
	k := NewKeys("")
	assert.Equal(t, "ag:win:login:ip:1.2.3.4:min", k.Window("login", "ip", "1.2.3.4", "min"))
	assert.Equal(t, "ag:lock:1.2.3.4", k.Lockout("1.2.3.4"))

	day := time.Date(2026, 3, 4, 23, 30, 0, 0, time.FixedZone("x", -3600))
	assert.Equal(t, "svc:stats:lockouts:20260305", NewKeys("svc").LockoutsDaily(day))
}
