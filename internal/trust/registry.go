package trust

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authguard/internal/backend"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultCacheTTL bounds how stale a peer's cached answer can get when an
// invalidation message is lost.
const DefaultCacheTTL = 5 * time.Second

const reconnectDelay = time.Second

// neverExpires is the suspicion score for blacklisted IPs, in unix ms.
const neverExpires = float64(1 << 62)

// Status is the trust standing of one IP.
type Status struct {
	Trusted    bool
	Suspicious bool
}

type invalidation struct {
	// IP is empty when every cached entry must go.
	IP string `json:"ip,omitempty"`
}

// Registry reads and writes the trusted and suspicious IP sets.
//
// Trusted is a plain set. Suspicious is a sorted set scored by the unix
// millisecond at which the flag lapses.
type Registry struct {
	redis  redis.UniversalClient
	guard  *backend.Guard
	keys   backend.Keys
	cache  *cache
	now    func() time.Time
	logger *logrus.Logger
}

// NewRegistry builds a registry. A zero cacheTTL uses DefaultCacheTTL; a
// negative one disables local caching.
func NewRegistry(redisClient redis.UniversalClient, guard *backend.Guard, keys backend.Keys, cacheTTL time.Duration, logger *logrus.Logger, clock func() time.Time) *Registry {
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		redis:  redisClient,
		guard:  guard,
		keys:   keys,
		cache:  newCache(cacheTTL, clock),
		now:    clock,
		logger: logger,
	}
}

// Lookup returns ip's standing, from the local cache when fresh.
func (r *Registry) Lookup(ctx context.Context, ip string) (Status, error) {
	if ip == "" {
		return Status{}, nil
	}
	if e, ok := r.cache.get(ip); ok {
		return Status{Trusted: e.trusted, Suspicious: e.suspicious}, nil
	}

	gen := r.cache.generation()
	var st Status
	err := r.guard.Do(ctx, "trust lookup", func(ctx context.Context) error {
		pipe := r.redis.Pipeline()
		trusted := pipe.SIsMember(ctx, r.keys.Trusted(), ip)
		until := pipe.ZScore(ctx, r.keys.Suspicious(), ip)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		st = Status{
			Trusted:    trusted.Val(),
			Suspicious: until.Err() == nil && until.Val() > r.nowMillis(),
		}
		return nil
	})
	if err != nil {
		return Status{}, err
	}
	r.cache.set(ip, st.Trusted, st.Suspicious, gen)
	return st, nil
}

// IsTrusted reports whether ip is whitelisted.
func (r *Registry) IsTrusted(ctx context.Context, ip string) (bool, error) {
	st, err := r.Lookup(ctx, ip)
	return st.Trusted, err
}

// IsSuspicious reports whether ip has been flagged.
func (r *Registry) IsSuspicious(ctx context.Context, ip string) (bool, error) {
	st, err := r.Lookup(ctx, ip)
	return st.Suspicious, err
}

// Trust whitelists ip and clears any suspicion.
func (r *Registry) Trust(ctx context.Context, ip string) error {
	return r.write(ctx, "trust add", ip, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, r.keys.Trusted(), ip)
		pipe.ZRem(ctx, r.keys.Suspicious(), ip)
	})
}

// Untrust removes ip from the whitelist.
func (r *Registry) Untrust(ctx context.Context, ip string) error {
	return r.write(ctx, "trust remove", ip, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, r.keys.Trusted(), ip)
	})
}

// Distrust removes ip from the whitelist and flags it until cleared by Trust.
func (r *Registry) Distrust(ctx context.Context, ip string) error {
	return r.write(ctx, "trust distrust", ip, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, r.keys.Trusted(), ip)
		pipe.ZAdd(ctx, r.keys.Suspicious(), redis.Z{Score: neverExpires, Member: ip})
	})
}

// MarkSuspicious flags ip for ttl without touching the whitelist. A longer
// standing flag is kept. Lapsed flags are pruned on the way.
func (r *Registry) MarkSuspicious(ctx context.Context, ip string, ttl time.Duration) error {
	now := r.nowMillis()
	until := now + float64(ttl.Milliseconds())
	return r.write(ctx, "trust mark", ip, func(pipe redis.Pipeliner) {
		pipe.ZRemRangeByScore(ctx, r.keys.Suspicious(), "-inf", formatMillis(now))
		pipe.ZAddGT(ctx, r.keys.Suspicious(), redis.Z{Score: until, Member: ip})
	})
}

// Counts returns the number of trusted IPs and of IPs still flagged.
func (r *Registry) Counts(ctx context.Context) (trusted, suspicious int64, err error) {
	err = r.guard.Do(ctx, "trust counts", func(ctx context.Context) error {
		pipe := r.redis.Pipeline()
		t := pipe.SCard(ctx, r.keys.Trusted())
		s := pipe.ZCount(ctx, r.keys.Suspicious(), "("+formatMillis(r.nowMillis()), "+inf")
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		trusted, suspicious = t.Val(), s.Val()
		return nil
	})
	return trusted, suspicious, err
}

func (r *Registry) write(ctx context.Context, op, ip string, fn func(pipe redis.Pipeliner)) error {
	err := r.guard.Do(ctx, op, func(ctx context.Context) error {
		_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			fn(pipe)
			return nil
		})
		return err
	})
	r.cache.delete(ip)
	if err != nil {
		return err
	}
	r.publish(ctx, invalidation{IP: ip})
	return nil
}

func (r *Registry) nowMillis() float64 {
	return float64(r.now().UnixMilli())
}

func formatMillis(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 0, 64)
}

// A failed publish only delays peers until their cache TTL lapses.
func (r *Registry) publish(ctx context.Context, msg invalidation) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.redis.Publish(ctx, r.keys.TrustChannel(), payload).Err(); err != nil {
		r.logger.WithError(err).WithField("ip", msg.IP).Warn("trust invalidation publish failed")
	}
}

// Listen consumes invalidation messages until ctx is done, reconnecting
// after a dropped subscription.
func (r *Registry) Listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("trust invalidation listener shutting down")
			return
		default:
		}

		r.listenOnce(ctx)

		if ctx.Err() != nil {
			return
		}
		// Entries cached while disconnected may have missed messages.
		r.cache.clear()
		r.logger.Warn("trust invalidation subscription dropped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (r *Registry) listenOnce(ctx context.Context) {
	sub := r.redis.Subscribe(ctx, r.keys.TrustChannel())
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			r.logger.WithError(err).Warn("trust invalidation subscribe failed")
		}
		return
	}
	r.logger.WithField("channel", r.keys.TrustChannel()).Debug("trust invalidation subscribed")

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	for msg := range sub.Channel() {
		r.handle(msg.Payload)
	}
}

func (r *Registry) handle(payload string) {
	var msg invalidation
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.WithError(err).Error("trust invalidation decode failed")
		return
	}
	if msg.IP == "" {
		r.cache.clear()
		return
	}
	r.cache.delete(msg.IP)
}

// Forget drops every locally cached answer.
func (r *Registry) Forget() {
	r.cache.clear()
}
