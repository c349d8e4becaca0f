//go:build integration
// +build integration

package test

import (
	"io"
	"testing"

	"github.com/MrEthical07/authguard"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// integrationConfig isolates every test under its own key prefix so the
// suite can share a real Redis.
func integrationConfig() authguard.Config {
	cfg := authguard.DefaultConfig()
	cfg.Store.KeyPrefix = "agit-" + uuid.NewString()[:8]
	cfg.Abuse.Async = false
	cfg.Metrics.Enabled = true
	return cfg
}

func newIntegrationService(t *testing.T, client redis.UniversalClient, cfg authguard.Config) *authguard.Service {
	t.Helper()

	svc, err := authguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(quietLogger()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}
