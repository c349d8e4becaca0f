package backend

import "time"

// Keys builds every Redis key the engine touches. All keys share one prefix
// so a deployment can co-host several engines on one store.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder for prefix. An empty prefix defaults to "ag".
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = "ag"
	}
	return Keys{prefix: prefix}
}

// Prefix returns the configured key prefix.
func (k Keys) Prefix() string {
	return k.prefix
}

// Window is the sorted set holding request timestamps for one sliding window.
func (k Keys) Window(limitType, scope, identifier, granularity string) string {
	return k.prefix + ":win:" + limitType + ":" + scope + ":" + identifier + ":" + granularity
}

// Burst is the token-bucket hash for one identifier.
func (k Keys) Burst(limitType, identifier string) string {
	return k.prefix + ":burst:" + limitType + ":" + identifier
}

// Lockout is the lock flag for one IP; its TTL is the lock.
func (k Keys) Lockout(ip string) string {
	return k.prefix + ":lock:" + ip
}

// Failures is the progressive-delay failure counter.
func (k Keys) Failures(limitType, identifier string) string {
	return k.prefix + ":fail:" + limitType + ":" + identifier
}

// Profile is the activity-profile hash of one IP.
func (k Keys) Profile(ip string) string {
	return k.prefix + ":abuse:" + ip
}

// ProfileUsers is the distinct-user set that belongs to Profile(ip).
func (k Keys) ProfileUsers(ip string) string {
	return k.prefix + ":abuse:" + ip + ":users"
}

// Trusted is the canonical set of whitelisted IPs.
func (k Keys) Trusted() string {
	return k.prefix + ":trusted"
}

// Suspicious is the canonical sorted set of IPs flagged by abuse scoring or
// blacklisting, scored by the unix millisecond the flag lapses.
func (k Keys) Suspicious() string {
	return k.prefix + ":suspicious"
}

// TrustChannel is the pub/sub channel used to invalidate local trust caches.
func (k Keys) TrustChannel() string {
	return k.prefix + ":trust:invalidate"
}

// LockoutsDaily counts lockouts applied on the UTC day of t.
func (k Keys) LockoutsDaily(t time.Time) string {
	return k.prefix + ":stats:lockouts:" + day(t)
}

// SuccessDaily counts RecordSuccess calls for limitType on the UTC day of t.
func (k Keys) SuccessDaily(limitType string, t time.Time) string {
	return k.prefix + ":stats:success:" + limitType + ":" + day(t)
}

// DeniedDaily counts denied checks for limitType on the UTC day of t.
func (k Keys) DeniedDaily(limitType string, t time.Time) string {
	return k.prefix + ":stats:denied:" + limitType + ":" + day(t)
}

// RecentLockouts is the capped list of recent lockout records.
func (k Keys) RecentLockouts() string {
	return k.prefix + ":events:lockouts"
}

func day(t time.Time) string {
	return t.UTC().Format("20060102")
}
