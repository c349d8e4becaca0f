package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authguard/internal/backend"
	"github.com/redis/go-redis/v9"
)

const statsTTL = 48 * time.Hour

// Stats keeps the daily success and denial counters behind GetMetrics.
type Stats struct {
	redis redis.UniversalClient
	guard *backend.Guard
	keys  backend.Keys
	now   func() time.Time
}

// DailyCounts is one limit type's tally for a day.
type DailyCounts struct {
	Successes int64
	Denials   int64
}

func NewStats(redisClient redis.UniversalClient, guard *backend.Guard, keys backend.Keys, clock func() time.Time) *Stats {
	if clock == nil {
		clock = time.Now
	}
	return &Stats{redis: redisClient, guard: guard, keys: keys, now: clock}
}

func (s *Stats) RecordSuccess(ctx context.Context, limitType string) error {
	return s.bump(ctx, "stats success", s.keys.SuccessDaily(limitType, s.now()))
}

func (s *Stats) RecordDenied(ctx context.Context, limitType string) error {
	return s.bump(ctx, "stats denied", s.keys.DeniedDaily(limitType, s.now()))
}

func (s *Stats) bump(ctx context.Context, op, key string) error {
	return s.guard.Do(ctx, op, func(ctx context.Context) error {
		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, statsTTL)
			return nil
		})
		return err
	})
}

// Today reads today's counters for every limit type in one pipeline.
func (s *Stats) Today(ctx context.Context, limitTypes []string) (map[string]DailyCounts, error) {
	now := s.now()
	out := make(map[string]DailyCounts, len(limitTypes))
	err := s.guard.Do(ctx, "stats read", func(ctx context.Context) error {
		pipe := s.redis.Pipeline()
		succ := make([]*redis.StringCmd, len(limitTypes))
		den := make([]*redis.StringCmd, len(limitTypes))
		for i, lt := range limitTypes {
			succ[i] = pipe.Get(ctx, s.keys.SuccessDaily(lt, now))
			den[i] = pipe.Get(ctx, s.keys.DeniedDaily(lt, now))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		for i, lt := range limitTypes {
			out[lt] = DailyCounts{
				Successes: int64OrZero(succ[i]),
				Denials:   int64OrZero(den[i]),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func int64OrZero(cmd *redis.StringCmd) int64 {
	n, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return n
}
