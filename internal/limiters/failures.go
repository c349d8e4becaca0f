package limiters

import (
	"context"
	"time"

	"github.com/MrEthical07/authguard/internal/backend"
	"github.com/redis/go-redis/v9"
)

const (
	defaultFailureTTL = time.Hour
	maxPenalty        = 32
)

// FailureCounter counts consecutive denials per limit type and identifier
// for progressive delay.
type FailureCounter struct {
	redis redis.UniversalClient
	guard *backend.Guard
	keys  backend.Keys
	ttl   time.Duration
}

// NewFailureCounter creates a failure counter whose entries expire after an hour
// of quiet.
func NewFailureCounter(redisClient redis.UniversalClient, guard *backend.Guard, keys backend.Keys) *FailureCounter {
	return &FailureCounter{redis: redisClient, guard: guard, keys: keys, ttl: defaultFailureTTL}
}

// Incr records one more failure and returns the new count.
func (f *FailureCounter) Incr(ctx context.Context, limitType, identifier string) (int64, error) {
	key := f.keys.Failures(limitType, identifier)
	var incr *redis.IntCmd
	err := f.guard.Do(ctx, "failure incr", func(ctx context.Context) error {
		_, err := f.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, f.ttl)
			return nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Count returns the current failure count.
func (f *FailureCounter) Count(ctx context.Context, limitType, identifier string) (int64, error) {
	return readCounter(ctx, f.redis, f.guard, "failure count", f.keys.Failures(limitType, identifier))
}

// Reset clears the counter. Resetting an absent counter is a no-op.
func (f *FailureCounter) Reset(ctx context.Context, limitType, identifier string) error {
	return f.guard.Do(ctx, "failure reset", func(ctx context.Context) error {
		return f.redis.Del(ctx, f.keys.Failures(limitType, identifier)).Err()
	})
}

// Multiplier is the progressive-delay factor for n failures: 2^(n-1),
// capped at 32. Anything below one failure is a factor of 1.
func Multiplier(n int64) int {
	if n <= 1 {
		return 1
	}
	if n > 6 {
		return maxPenalty
	}
	return 1 << (n - 1)
}
