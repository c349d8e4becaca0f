package authguard

import "time"

var defaultPolicies = [limitTypeCount]RateLimitPolicy{
	LimitLogin: {
		RequestsPerMinute: 5, RequestsPerHour: 20, RequestsPerDay: 100, BurstSize: 3,
		LockoutDuration:  time.Hour,
		ProgressiveDelay: true, AdaptiveThreshold: true, IPBased: true, UserBased: true,
	},
	LimitMFA: {
		RequestsPerMinute: 5, RequestsPerHour: 15, RequestsPerDay: 50, BurstSize: 3,
		LockoutDuration:  time.Hour,
		ProgressiveDelay: true, AdaptiveThreshold: true, IPBased: true, UserBased: true,
	},
	LimitOAuth: {
		RequestsPerMinute: 10, RequestsPerHour: 50, RequestsPerDay: 200, BurstSize: 5,
		LockoutDuration:   30 * time.Minute,
		AdaptiveThreshold: true, IPBased: true,
	},
	LimitPasswordReset: {
		RequestsPerMinute: 3, RequestsPerHour: 10, RequestsPerDay: 20, BurstSize: 2,
		LockoutDuration:  time.Hour,
		ProgressiveDelay: true, AdaptiveThreshold: true, IPBased: true, UserBased: true,
	},
	LimitRegistration: {
		RequestsPerMinute: 3, RequestsPerHour: 10, RequestsPerDay: 20, BurstSize: 2,
		LockoutDuration:  time.Hour,
		ProgressiveDelay: true, AdaptiveThreshold: true, IPBased: true,
	},
	LimitTokenRefresh: {
		RequestsPerMinute: 30, RequestsPerHour: 500, RequestsPerDay: 5000, BurstSize: 10,
		LockoutDuration: 15 * time.Minute,
		UserBased:       true,
	},
	LimitAPIKey: {
		RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000, BurstSize: 20,
		LockoutDuration: 15 * time.Minute,
		IPBased:         true, UserBased: true,
	},
}

// DefaultPolicy returns the built-in policy for t. Unknown types get the
// login policy.
func DefaultPolicy(t LimitType) RateLimitPolicy {
	if !t.Valid() {
		return defaultPolicies[LimitLogin]
	}
	return defaultPolicies[t]
}

// policyTable is the resolved, immutable per-type policy set of one Service.
type policyTable [limitTypeCount]RateLimitPolicy

func newPolicyTable(overrides map[string]RateLimitPolicy) (policyTable, error) {
	table := policyTable(defaultPolicies)
	for name, p := range overrides {
		t, err := ParseLimitType(name)
		if err != nil {
			return policyTable{}, err
		}
		table[t] = p
	}
	return table, nil
}

// lookup returns the policy for t and whether t was recognised.
func (p *policyTable) lookup(t LimitType) (RateLimitPolicy, bool) {
	if !t.Valid() {
		return p[LimitLogin], false
	}
	return p[t], true
}

type window struct {
	name   string
	length time.Duration
	limit  uint32
}

func (p RateLimitPolicy) windows() [3]window {
	return [3]window{
		{name: "min", length: time.Minute, limit: p.RequestsPerMinute},
		{name: "hour", length: time.Hour, limit: p.RequestsPerHour},
		{name: "day", length: 24 * time.Hour, limit: p.RequestsPerDay},
	}
}

func (p RateLimitPolicy) validate() error {
	if p.RequestsPerMinute == 0 || p.RequestsPerHour == 0 || p.RequestsPerDay == 0 {
		return errPolicy("window limits must be > 0")
	}
	if p.RequestsPerMinute > p.RequestsPerHour || p.RequestsPerHour > p.RequestsPerDay {
		return errPolicy("window limits must not shrink as the window grows")
	}
	if p.BurstSize == 0 {
		return errPolicy("BurstSize must be > 0")
	}
	if p.LockoutDuration < 0 {
		return errPolicy("LockoutDuration must be >= 0")
	}
	if !p.IPBased && !p.UserBased {
		return errPolicy("at least one of IPBased or UserBased must be set")
	}
	return nil
}
