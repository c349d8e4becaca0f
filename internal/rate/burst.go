package rate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/MrEthical07/authguard/internal/backend"
	"github.com/redis/go-redis/v9"
)

// DefaultBurstStateTTL is how long an idle bucket survives in the store.
const DefaultBurstStateTTL = 5 * time.Minute

// KEYS[1] bucket hash
// ARGV[1] now (ms), ARGV[2] capacity, ARGV[3] ttl (ms)
//
// Refill rate is one token per second. Reply: {allowed, tokens_after}.
const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = capacity
local ts = now
if state[1] and state[2] then
  tokens = tonumber(state[1])
  ts = tonumber(state[2])
end

local elapsed = (now - ts) / 1000
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed)

if tokens < 1 then
  return {0, tostring(tokens)}
end

tokens = tokens - 1
redis.call("HSET", key, "tokens", tostring(tokens), "ts", ARGV[1])
redis.call("PEXPIRE", key, ARGV[3])
return {1, tostring(tokens)}
`

var tokenBucketLua = redis.NewScript(tokenBucketScript)

// BurstController is a store-backed token bucket keyed per identifier.
type BurstController struct {
	redis redis.UniversalClient
	guard *backend.Guard
	now   func() time.Time
	ttl   time.Duration
}

// NewBurstController builds a BurstController. A nil clock defaults to time.Now.
func NewBurstController(redisClient redis.UniversalClient, guard *backend.Guard, clock func() time.Time) *BurstController {
	if clock == nil {
		clock = time.Now
	}
	return &BurstController{
		redis: redisClient,
		guard: guard,
		now:   clock,
		ttl:   DefaultBurstStateTTL,
	}
}

// TryConsume takes one token from the bucket at key. It returns false, and
// consumes nothing, when fewer than one token is available.
func (b *BurstController) TryConsume(ctx context.Context, key string, burst uint32) (bool, error) {
	if burst == 0 {
		return false, nil
	}
	now := b.now().UnixMilli()

	var reply []interface{}
	err := b.guard.Do(ctx, "burst consume", func(ctx context.Context) error {
		var err error
		reply, err = tokenBucketLua.Run(ctx, b.redis, []string{key}, now, burst, b.ttl.Milliseconds()).Slice()
		return err
	})
	if err != nil {
		return false, err
	}
	if len(reply) != 2 {
		return false, fmt.Errorf("%w: bucket reply has %d fields", ErrBadScriptReply, len(reply))
	}

	allowed, ok := reply[0].(int64)
	if !ok {
		return false, fmt.Errorf("%w: bucket status %T", ErrBadScriptReply, reply[0])
	}
	return allowed == 1, nil
}

// Tokens reports the refilled token level of the bucket at key without
// consuming. An absent bucket is full.
func (b *BurstController) Tokens(ctx context.Context, key string, burst uint32) (float64, error) {
	var vals []interface{}
	err := b.guard.Do(ctx, "burst read", func(ctx context.Context) error {
		var err error
		vals, err = b.redis.HMGet(ctx, key, "tokens", "ts").Result()
		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return float64(burst), nil
		}
		return 0, err
	}

	tokens, ts, ok := parseBucket(vals)
	if !ok {
		return float64(burst), nil
	}
	elapsed := float64(b.now().UnixMilli()-ts) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(float64(burst), tokens+elapsed), nil
}

func parseBucket(vals []interface{}) (float64, int64, bool) {
	if len(vals) != 2 {
		return 0, 0, false
	}
	rawTokens, ok1 := vals[0].(string)
	rawTS, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	tokens, err := strconv.ParseFloat(rawTokens, 64)
	if err != nil {
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return tokens, ts, true
}
