package authguard

import (
	"fmt"
	"strings"
	"time"
)

// LimitType names the kind of authentication traffic a check belongs to.
// Each type carries its own RateLimitPolicy.
type LimitType uint8

const (
	LimitLogin LimitType = iota
	LimitMFA
	LimitOAuth
	LimitPasswordReset
	LimitRegistration
	LimitTokenRefresh
	LimitAPIKey
	limitTypeCount
)

var limitTypeNames = [limitTypeCount]string{
	LimitLogin:         "login",
	LimitMFA:           "mfa",
	LimitOAuth:         "oauth",
	LimitPasswordReset: "password_reset",
	LimitRegistration:  "registration",
	LimitTokenRefresh:  "token_refresh",
	LimitAPIKey:        "api_key",
}

// String returns the wire name used in store keys, config and logs.
func (t LimitType) String() string {
	if t >= limitTypeCount {
		return fmt.Sprintf("limit_type(%d)", uint8(t))
	}
	return limitTypeNames[t]
}

// Valid reports whether t is one of the declared limit types.
func (t LimitType) Valid() bool {
	return t < limitTypeCount
}

// ParseLimitType is the inverse of LimitType.String. Matching ignores case
// and surrounding space.
func ParseLimitType(s string) (LimitType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range limitTypeNames {
		if name == s {
			return LimitType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLimitType, s)
}

// LimitTypes returns every declared limit type in declaration order.
func LimitTypes() []LimitType {
	out := make([]LimitType, limitTypeCount)
	for i := range out {
		out[i] = LimitType(i)
	}
	return out
}

// RateLimitPolicy is the full rule set applied to one LimitType.
type RateLimitPolicy struct {
	RequestsPerMinute uint32        `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   uint32        `mapstructure:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay    uint32        `mapstructure:"requests_per_day" json:"requests_per_day"`
	BurstSize         uint32        `mapstructure:"burst_size" json:"burst_size"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration" json:"lockout_duration"`
	// ProgressiveDelay multiplies the retry hint by 2^(failures-1), capped at 32.
	ProgressiveDelay bool `mapstructure:"progressive_delay" json:"progressive_delay"`
	// AdaptiveThreshold tightens every window while the IP is flagged suspicious.
	AdaptiveThreshold bool `mapstructure:"adaptive_threshold" json:"adaptive_threshold"`
	IPBased           bool `mapstructure:"ip_based" json:"ip_based"`
	UserBased         bool `mapstructure:"user_based" json:"user_based"`
}

// DenyReason says which rule produced a DENY.
type DenyReason string

const (
	ReasonNone             DenyReason = ""
	ReasonLockedOut        DenyReason = "locked_out"
	ReasonWindowExceeded   DenyReason = "window_exceeded"
	ReasonBurstExceeded    DenyReason = "burst_exceeded"
	ReasonStoreUnavailable DenyReason = "store_unavailable"
	ReasonCanceled         DenyReason = "canceled"
)

// Decision is the verdict of one CheckRateLimit call.
type Decision struct {
	Allowed bool
	// RetryAfter is the number of seconds the caller should wait. Zero when
	// Allowed.
	RetryAfter int
	Reason     DenyReason
	// Trusted is set when a whitelisted IP skipped every check.
	Trusted bool
}

// Err converts a DENY into a *RateLimitExceeded. It returns nil for an
// ALLOW.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RateLimitExceeded{
		Message:           denyMessage(d.Reason),
		RetryAfterSeconds: d.RetryAfter,
	}
}

func denyMessage(r DenyReason) string {
	switch r {
	case ReasonLockedOut:
		return "too many attempts, temporarily locked out"
	case ReasonBurstExceeded:
		return "too many requests in a short period"
	case ReasonStoreUnavailable, ReasonCanceled:
		return "rate limiting unavailable, try again later"
	default:
		return "rate limit exceeded"
	}
}

// Usage is the number of recorded requests in each trailing window.
type Usage struct {
	Minute int64 `json:"minute"`
	Hour   int64 `json:"hour"`
	Day    int64 `json:"day"`
}

// Status is a read-only snapshot of one identifier under one limit type.
type Status struct {
	LimitType        LimitType       `json:"limit_type"`
	Limits           RateLimitPolicy `json:"limits"`
	CurrentUsage     Usage           `json:"current_usage"`
	BurstTokens      float64         `json:"burst_tokens"`
	LockedOut        bool            `json:"locked_out"`
	LockoutRemaining int             `json:"lockout_remaining"`
}

// SuccessRate is one limit type's outcome tally for the current UTC day.
type SuccessRate struct {
	Successes int64   `json:"successes"`
	Denials   int64   `json:"denials"`
	Rate      float64 `json:"rate"`
}

// Report is the aggregate view returned by GetMetrics.
type Report struct {
	LockoutsToday      int64                     `json:"lockouts_today"`
	SuccessRatesByType map[LimitType]SuccessRate `json:"success_rates_by_type"`
	SuspiciousIPCount  int64                     `json:"suspicious_ip_count"`
	TrustedIPCount     int64                     `json:"trusted_ip_count"`
}

// LockoutEvent records one applied lockout.
type LockoutEvent struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	Duration  int64     `json:"duration_seconds"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AbuseSignal is emitted for every window violation and consumed by the
// abuse detector.
type AbuseSignal struct {
	IP        string
	LimitType LimitType
	UserID    string
	Outcome   string
	At        time.Time
}

// MarshalText lets LimitType key JSON maps by name.
func (t LimitType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLimitType, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *LimitType) UnmarshalText(b []byte) error {
	v, err := ParseLimitType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
