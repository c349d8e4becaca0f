package limiters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authguard/internal/backend"
	"github.com/redis/go-redis/v9"
)

// DefaultRecentLockouts bounds the recent-lockouts list.
const DefaultRecentLockouts = 100

var (
	// ErrInvalidLockDuration is returned by Lock for a non-positive duration.
	ErrInvalidLockDuration = errors.New("lockout duration must be positive")
)

// LockoutEvent is one entry of the recent-lockouts list.
type LockoutEvent struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	Duration  int64     `json:"duration_seconds"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LockoutState is a point-in-time view of one IP's lock.
type LockoutState struct {
	Locked bool
	// Remaining is the number of whole seconds left, rounded up.
	Remaining int
}

// LockoutManager stores time-bounded IP locks. The key's TTL is the lock;
// nothing needs to be swept once it lapses.
type LockoutManager struct {
	redis      redis.UniversalClient
	guard      *backend.Guard
	keys       backend.Keys
	now        func() time.Time
	recentSize int64
}

// NewLockoutManager creates a lockout manager. A nil clock defaults to time.Now.
func NewLockoutManager(redisClient redis.UniversalClient, guard *backend.Guard, keys backend.Keys, clock func() time.Time) *LockoutManager {
	if clock == nil {
		clock = time.Now
	}
	return &LockoutManager{
		redis:      redisClient,
		guard:      guard,
		keys:       keys,
		now:        clock,
		recentSize: DefaultRecentLockouts,
	}
}

// State reports whether ip is locked and for how long, in a single round trip.
func (m *LockoutManager) State(ctx context.Context, ip string) (LockoutState, error) {
	var ttl time.Duration
	err := m.guard.Do(ctx, "lockout state", func(ctx context.Context) error {
		var err error
		ttl, err = m.redis.PTTL(ctx, m.keys.Lockout(ip)).Result()
		return err
	})
	if err != nil {
		return LockoutState{}, err
	}
	// -2 missing key, -1 no expiry. Locks are always written with a TTL, so
	// a persistent key is treated as absent.
	if ttl <= 0 {
		return LockoutState{}, nil
	}
	return LockoutState{Locked: true, Remaining: ceilSeconds(ttl)}, nil
}

// IsLocked reports whether ip is currently locked.
func (m *LockoutManager) IsLocked(ctx context.Context, ip string) (bool, error) {
	st, err := m.State(ctx, ip)
	return st.Locked, err
}

// RemainingSeconds returns the seconds left on ip's lock, or 0.
func (m *LockoutManager) RemainingSeconds(ctx context.Context, ip string) (int, error) {
	st, err := m.State(ctx, ip)
	return st.Remaining, err
}

// Lock locks ip for d. Locking an already locked IP replaces the expiry,
// so the later call wins. The daily counter and the recent list are
// written in the same transaction.
func (m *LockoutManager) Lock(ctx context.Context, ip string, d time.Duration, reason string) (LockoutEvent, error) {
	if d <= 0 {
		return LockoutEvent{}, ErrInvalidLockDuration
	}
	now := m.now()
	event := LockoutEvent{
		IP:        ip,
		Reason:    reason,
		Duration:  int64(d / time.Second),
		LockedAt:  now.UTC(),
		ExpiresAt: now.Add(d).UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return LockoutEvent{}, fmt.Errorf("encode lockout event: %w", err)
	}

	dailyKey := m.keys.LockoutsDaily(now)
	recentKey := m.keys.RecentLockouts()
	err = m.guard.Do(ctx, "lockout lock", func(ctx context.Context) error {
		_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, m.keys.Lockout(ip), reason, d)
			pipe.Incr(ctx, dailyKey)
			pipe.Expire(ctx, dailyKey, 48*time.Hour)
			pipe.LPush(ctx, recentKey, payload)
			pipe.LTrim(ctx, recentKey, 0, m.recentSize-1)
			pipe.Expire(ctx, recentKey, 7*24*time.Hour)
			return nil
		})
		return err
	})
	if err != nil {
		return LockoutEvent{}, err
	}
	return event, nil
}

// Unlock removes ip's lock. Unlocking an unlocked IP is a no-op.
func (m *LockoutManager) Unlock(ctx context.Context, ip string) error {
	return m.guard.Do(ctx, "lockout unlock", func(ctx context.Context) error {
		return m.redis.Del(ctx, m.keys.Lockout(ip)).Err()
	})
}

// Reason returns the reason recorded with ip's lock, or "" when unlocked.
func (m *LockoutManager) Reason(ctx context.Context, ip string) (string, error) {
	var reason string
	err := m.guard.Do(ctx, "lockout reason", func(ctx context.Context) error {
		var err error
		reason, err = m.redis.Get(ctx, m.keys.Lockout(ip)).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return reason, err
}

// LockoutsOn returns the number of locks applied on the UTC day of t.
func (m *LockoutManager) LockoutsOn(ctx context.Context, t time.Time) (int64, error) {
	return readCounter(ctx, m.redis, m.guard, "lockout daily", m.keys.LockoutsDaily(t))
}

// Recent returns up to n of the most recent lockouts, newest first.
// Entries that fail to decode are skipped.
func (m *LockoutManager) Recent(ctx context.Context, n int) ([]LockoutEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	if int64(n) > m.recentSize {
		n = int(m.recentSize)
	}

	var raw []string
	err := m.guard.Do(ctx, "lockout recent", func(ctx context.Context) error {
		var err error
		raw, err = m.redis.LRange(ctx, m.keys.RecentLockouts(), 0, int64(n-1)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	events := make([]LockoutEvent, 0, len(raw))
	for _, item := range raw {
		var ev LockoutEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func ceilSeconds(d time.Duration) int {
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

func readCounter(ctx context.Context, rdb redis.UniversalClient, guard *backend.Guard, op, key string) (int64, error) {
	var n int64
	err := guard.Do(ctx, op, func(ctx context.Context) error {
		var err error
		n, err = rdb.Get(ctx, key).Int64()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
