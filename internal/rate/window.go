package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authguard/internal/backend"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	windowStatusDenied  int64 = 0
	windowStatusAllowed int64 = 1
)

// KEYS[1] window set
// ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] max, ARGV[4] member
//
// Reply: {status, oldest_ms or -1, count}
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)

if count >= limit then
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  if #oldest < 2 then
    return {0, -1, count}
  end
  return {0, tonumber(oldest[2]), count}
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return {1, 0, count + 1}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// WindowResult is the outcome of one sliding-window check.
type WindowResult struct {
	Allowed bool
	// RetryAfter is the number of whole seconds until the window admits a
	// new entry. Zero when Allowed.
	RetryAfter int
	// Count is the number of entries in the window after the check.
	Count int64
}

// WindowCounter performs atomic sliding-window check-and-increment calls.
type WindowCounter struct {
	redis redis.UniversalClient
	guard *backend.Guard
	now   func() time.Time
	newID func() string
}

// NewWindowCounter builds a WindowCounter. A nil clock defaults to time.Now.
func NewWindowCounter(redisClient redis.UniversalClient, guard *backend.Guard, clock func() time.Time) *WindowCounter {
	if clock == nil {
		clock = time.Now
	}
	return &WindowCounter{
		redis: redisClient,
		guard: guard,
		now:   clock,
		newID: uuid.NewString,
	}
}

// Check trims key to the trailing window, and either records the current
// request (count < max) or reports how long until the oldest entry ages out.
func (w *WindowCounter) Check(ctx context.Context, key string, window time.Duration, max uint32) (WindowResult, error) {
	now := w.now().UnixMilli()
	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		return WindowResult{}, fmt.Errorf("window must be positive, got %s", window)
	}
	member := strconv.FormatInt(now, 10) + "-" + w.newID()

	var reply []int64
	err := w.guard.Do(ctx, "window check", func(ctx context.Context) error {
		var err error
		reply, err = slidingWindowLua.Run(ctx, w.redis, []string{key}, now, windowMS, max, member).Int64Slice()
		return err
	})
	if err != nil {
		return WindowResult{}, err
	}
	if len(reply) != 3 {
		return WindowResult{}, fmt.Errorf("%w: window reply has %d fields", ErrBadScriptReply, len(reply))
	}

	if reply[0] == windowStatusAllowed {
		return WindowResult{Allowed: true, Count: reply[2]}, nil
	}

	return WindowResult{
		Allowed:    false,
		RetryAfter: retryAfter(now, reply[1], windowMS),
		Count:      reply[2],
	}, nil
}

// Count returns how many entries fall inside the trailing window without
// recording anything.
func (w *WindowCounter) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := w.now().UnixMilli()
	min := "(" + strconv.FormatInt(now-window.Milliseconds(), 10)

	var n int64
	err := w.guard.Do(ctx, "window count", func(ctx context.Context) error {
		var err error
		n, err = w.redis.ZCount(ctx, key, min, "+inf").Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// retryAfter = window - elapsed_since_oldest + 1, in whole seconds. An empty
// set at the limit (max of zero) waits the full window.
func retryAfter(nowMS, oldestMS, windowMS int64) int {
	windowS := int(windowMS / 1000)
	if windowS < 1 {
		windowS = 1
	}
	if oldestMS < 0 {
		return windowS
	}
	elapsed := int((nowMS - oldestMS) / 1000)
	if elapsed < 0 {
		elapsed = 0
	}
	retry := windowS - elapsed + 1
	if retry < 1 {
		retry = 1
	}
	return retry
}
