package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authguard/internal/backend"
	"github.com/redis/go-redis/v9"
)

// FailureKind selects which failure column of a profile an attempt feeds.
type FailureKind int

const (
	KindOther FailureKind = iota
	KindLogin
	KindMFA
)

func (k FailureKind) arg() string {
	switch k {
	case KindLogin:
		return "login"
	case KindMFA:
		return "mfa"
	default:
		return "other"
	}
}

// AbuseConfig tunes scoring. When all four weights are zero they take the
// defaults below; otherwise a zero weight switches its signal off. Other
// zero fields take their defaults.
type AbuseConfig struct {
	LoginWeight    int
	MFAWeight      int
	RapidWeight    int
	DistinctWeight int
	Threshold      int
	RapidWindow    time.Duration
	ProfileTTL     time.Duration
	// LockoutDuration applies when the attempt carries no duration of its own.
	LockoutDuration time.Duration
}

const (
	defaultLoginWeight     = 2
	defaultMFAWeight       = 3
	defaultRapidWeight     = 1
	defaultDistinctWeight  = 1
	defaultAbuseThreshold  = 10
	defaultRapidWindow     = 10 * time.Second
	defaultProfileTTL      = 10 * time.Minute
	defaultAbuseLockoutTTL = time.Hour
)

func (c AbuseConfig) withDefaults() AbuseConfig {
	c.LoginWeight = max(c.LoginWeight, 0)
	c.MFAWeight = max(c.MFAWeight, 0)
	c.RapidWeight = max(c.RapidWeight, 0)
	c.DistinctWeight = max(c.DistinctWeight, 0)
	if c.LoginWeight == 0 && c.MFAWeight == 0 && c.RapidWeight == 0 && c.DistinctWeight == 0 {
		c.LoginWeight = defaultLoginWeight
		c.MFAWeight = defaultMFAWeight
		c.RapidWeight = defaultRapidWeight
		c.DistinctWeight = defaultDistinctWeight
	}
	if c.Threshold <= 0 {
		c.Threshold = defaultAbuseThreshold
	}
	if c.RapidWindow <= 0 {
		c.RapidWindow = defaultRapidWindow
	}
	if c.ProfileTTL <= 0 {
		c.ProfileTTL = defaultProfileTTL
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = defaultAbuseLockoutTTL
	}
	return c
}

// ActivityProfile aggregates recent suspicious activity from one IP.
type ActivityProfile struct {
	FailedLogins  int64
	FailedMFA     int64
	RapidRequests int64
	DistinctUsers int64
	WindowStart   time.Time
}

// Score is the weighted sum of the profile's signals under cfg's weights
// exactly as given. Pass AbuseDetector.Config for the effective weights.
func (p ActivityProfile) Score(cfg AbuseConfig) int {
	return int(p.FailedLogins)*cfg.LoginWeight +
		int(p.FailedMFA)*cfg.MFAWeight +
		int(p.RapidRequests)*cfg.RapidWeight +
		int(p.DistinctUsers)*cfg.DistinctWeight
}

// Attempt is one denied request fed to the detector.
type Attempt struct {
	IP        string
	LimitType string
	Kind      FailureKind
	UserID    string
	// Lockout overrides AbuseConfig.LockoutDuration when positive.
	Lockout time.Duration
}

// Outcome is the detector's verdict on one attempt.
type Outcome struct {
	Profile   ActivityProfile
	Score     int
	Triggered bool
	Lockout   LockoutEvent
}

// KEYS[1] profile hash, KEYS[2] distinct-user set
// ARGV[1] now (ms), ARGV[2] rapid window (ms), ARGV[3] ttl (ms),
// ARGV[4] kind, ARGV[5] user ("" for none)
//
// Reply: {failed_logins, failed_mfa, rapid_requests, distinct_users, window_start}
const profileScript = `
local profile = KEYS[1]
local users = KEYS[2]
local now = tonumber(ARGV[1])

local start = redis.call("HGET", profile, "window_start")
if not start then
  redis.call("HSET", profile, "window_start", ARGV[1], "failed_logins", 0, "failed_mfa", 0, "rapid_requests", 0)
  start = now
else
  start = tonumber(start)
  if now - start < tonumber(ARGV[2]) then
    redis.call("HINCRBY", profile, "rapid_requests", 1)
  end
end

if ARGV[4] == "login" then
  redis.call("HINCRBY", profile, "failed_logins", 1)
elseif ARGV[4] == "mfa" then
  redis.call("HINCRBY", profile, "failed_mfa", 1)
end

if ARGV[5] ~= "" then
  redis.call("SADD", users, ARGV[5])
end

redis.call("PEXPIRE", profile, ARGV[3])
redis.call("PEXPIRE", users, ARGV[3])

local vals = redis.call("HMGET", profile, "failed_logins", "failed_mfa", "rapid_requests")
return {
  tonumber(vals[1]) or 0,
  tonumber(vals[2]) or 0,
  tonumber(vals[3]) or 0,
  redis.call("SCARD", users),
  start
}
`

var profileLua = redis.NewScript(profileScript)

// AbuseDetector keeps per-IP activity profiles and locks IPs whose score
// crosses the threshold.
type AbuseDetector struct {
	redis   redis.UniversalClient
	guard   *backend.Guard
	keys    backend.Keys
	lockout *LockoutManager
	cfg     AbuseConfig
	now     func() time.Time
}

// NewAbuseDetector creates a detector that locks through lockout.
func NewAbuseDetector(redisClient redis.UniversalClient, guard *backend.Guard, keys backend.Keys, lockout *LockoutManager, cfg AbuseConfig, clock func() time.Time) *AbuseDetector {
	if clock == nil {
		clock = time.Now
	}
	return &AbuseDetector{
		redis:   redisClient,
		guard:   guard,
		keys:    keys,
		lockout: lockout,
		cfg:     cfg.withDefaults(),
		now:     clock,
	}
}

// Config returns the effective configuration.
func (d *AbuseDetector) Config() AbuseConfig {
	return d.cfg
}

// RecordAndScore folds one attempt into the IP's profile and locks the IP
// when the resulting score reaches the threshold.
func (d *AbuseDetector) RecordAndScore(ctx context.Context, a Attempt) (Outcome, error) {
	if a.IP == "" {
		return Outcome{}, nil
	}
	now := d.now().UnixMilli()

	var reply []int64
	err := d.guard.Do(ctx, "abuse record", func(ctx context.Context) error {
		var err error
		reply, err = profileLua.Run(ctx, d.redis,
			[]string{d.keys.Profile(a.IP), d.keys.ProfileUsers(a.IP)},
			now, d.cfg.RapidWindow.Milliseconds(), d.cfg.ProfileTTL.Milliseconds(), a.Kind.arg(), a.UserID,
		).Int64Slice()
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	if len(reply) != 5 {
		return Outcome{}, fmt.Errorf("abuse profile reply has %d fields", len(reply))
	}

	profile := ActivityProfile{
		FailedLogins:  reply[0],
		FailedMFA:     reply[1],
		RapidRequests: reply[2],
		DistinctUsers: reply[3],
		WindowStart:   time.UnixMilli(reply[4]),
	}
	out := Outcome{Profile: profile, Score: profile.Score(d.cfg)}
	if out.Score < d.cfg.Threshold {
		return out, nil
	}

	lockFor := a.Lockout
	if lockFor <= 0 {
		lockFor = d.cfg.LockoutDuration
	}
	ev, err := d.lockout.Lock(ctx, a.IP, lockFor, "abuse:"+a.LimitType)
	if err != nil {
		return out, err
	}
	out.Triggered = true
	out.Lockout = ev
	return out, nil
}

// Profile reads the IP's profile. ok is false when none exists.
func (d *AbuseDetector) Profile(ctx context.Context, ip string) (ActivityProfile, bool, error) {
	var (
		fields map[string]string
		users  int64
	)
	err := d.guard.Do(ctx, "abuse profile", func(ctx context.Context) error {
		pipe := d.redis.Pipeline()
		h := pipe.HGetAll(ctx, d.keys.Profile(ip))
		s := pipe.SCard(ctx, d.keys.ProfileUsers(ip))
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		fields = h.Val()
		users = s.Val()
		return nil
	})
	if err != nil {
		return ActivityProfile{}, false, err
	}
	if len(fields) == 0 {
		return ActivityProfile{}, false, nil
	}

	start, _ := strconv.ParseInt(fields["window_start"], 10, 64)
	return ActivityProfile{
		FailedLogins:  parseField(fields["failed_logins"]),
		FailedMFA:     parseField(fields["failed_mfa"]),
		RapidRequests: parseField(fields["rapid_requests"]),
		DistinctUsers: users,
		WindowStart:   time.UnixMilli(start),
	}, true, nil
}

// Reset drops the IP's profile.
func (d *AbuseDetector) Reset(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	return d.guard.Do(ctx, "abuse reset", func(ctx context.Context) error {
		return d.redis.Del(ctx, d.keys.Profile(ip), d.keys.ProfileUsers(ip)).Err()
	})
}

func parseField(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
