// Command authguard-loadtest hammers a Service from many goroutines and
// checks that no window ever admits more than its limit.
//
// Usage:
//
//	authguard-loadtest --concurrency 256 --limit 100
//	authguard-loadtest --redis-addr localhost:6379 --ops 500000
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authguard"
	"github.com/alecthomas/kong"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CLI defines the command-line interface.
type CLI struct {
	Concurrency int    `help:"Number of concurrent workers." default:"256"`
	Ops         int    `help:"Checks per phase." default:"200000"`
	Limit       uint32 `help:"Per-minute limit of the contended identifier." default:"100"`
	Identifiers int    `help:"Distinct identifiers in the throughput phase." default:"10000"`
	RedisAddr   string `name:"redis-addr" help:"Redis address; miniredis when empty." env:"REDIS_ADDR"`
	Prefix      string `help:"Store key prefix." default:"ag-loadtest"`
	Verbose     bool   `short:"v" help:"Log service warnings to stderr."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("authguard-loadtest"),
		kong.Description("Concurrency and throughput check for the authguard rate limiter."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

// Run executes both phases. It fails when the contended window admitted
// more than Limit requests.
func (c *CLI) Run() error {
	if c.Concurrency <= 0 || c.Ops <= 0 || c.Limit == 0 || c.Identifiers <= 0 {
		return fmt.Errorf("concurrency, ops, limit and identifiers must be > 0")
	}

	client, cleanup, err := c.redisClient()
	if err != nil {
		return err
	}
	defer cleanup()

	logger := logrus.New()
	if !c.Verbose {
		logger.SetOutput(io.Discard)
	}

	cfg := authguard.DefaultConfig()
	// A per-run prefix keeps earlier runs from polluting the windows.
	cfg.Store.KeyPrefix = fmt.Sprintf("%s-%d", c.Prefix, time.Now().UnixNano())
	cfg.Trust.InvalidationEnabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	svc, err := authguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger).
		WithPolicy(authguard.LimitAPIKey, authguard.RateLimitPolicy{
			RequestsPerMinute: c.Limit,
			RequestsPerHour:   c.Limit * 60,
			RequestsPerDay:    c.Limit * 1440,
			BurstSize:         c.Limit * 1440,
			IPBased:           true,
		}).
		Build()
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer svc.Close()

	ctx := context.Background()

	contended := runPhase(c.Ops, c.Concurrency, func(int, *rand.Rand) (bool, error) {
		d, err := svc.CheckRateLimit(ctx, authguard.LimitAPIKey, "hot-key", "198.51.100.1", "")
		return d.Allowed, err
	})
	spread := runPhase(c.Ops, c.Concurrency, func(_ int, r *rand.Rand) (bool, error) {
		idx := r.Intn(c.Identifiers)
		ip := fmt.Sprintf("10.%d.%d.%d", idx>>16&0xFF, idx>>8&0xFF, idx&0xFF)
		d, err := svc.CheckRateLimit(ctx, authguard.LimitLogin, ip, ip, "")
		return d.Allowed, err
	})

	fmt.Println("---- results ----")
	printStats("contended", contended)
	printStats("spread", spread)

	if contended.allowed > int64(c.Limit) {
		return fmt.Errorf("window overshoot: %d allowed with limit %d", contended.allowed, c.Limit)
	}
	fmt.Printf("contended window admitted %d of %d (limit %d)\n", contended.allowed, contended.ops, c.Limit)
	return nil
}

func (c *CLI) redisClient() (redis.UniversalClient, func(), error) {
	if c.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{c.RedisAddr}})
		fmt.Printf("using redis at %s\n", c.RedisAddr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	allowed  int64
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, concurrency int, op func(i int, r *rand.Rand) (bool, error)) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		allowed   int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok, err := op(i, r)
				d := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case ok:
					atomic.AddInt64(&allowed, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	s := computeStats(time.Since(start), latencies)
	s.allowed = allowed
	s.failures = failures
	return s
}

func computeStats(total time.Duration, samples []time.Duration) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d allowed=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.allowed,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
