package authguard

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitTypeNames(t *testing.T) {
	for _, lt := range LimitTypes() {
		parsed, err := ParseLimitType(lt.String())
		require.NoError(t, err)
		assert.Equal(t, lt, parsed)
	}

	got, err := ParseLimitType("  Password_Reset ")
	require.NoError(t, err)
	assert.Equal(t, LimitPasswordReset, got)

	_, err = ParseLimitType("sms")
	assert.ErrorIs(t, err, ErrUnknownLimitType)

	assert.False(t, LimitType(99).Valid())
	assert.Equal(t, "limit_type(99)", LimitType(99).String())
}

func TestLimitTypeKeysJSONMaps(t *testing.T) {
	report := Report{SuccessRatesByType: map[LimitType]SuccessRate{
		LimitMFA: {Successes: 1, Rate: 1},
	}}
	raw, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mfa":{"successes":1`)

	var back Report
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, report.SuccessRatesByType, back.SuccessRatesByType)
}

func TestDefaultPoliciesAreValid(t *testing.T) {
	for _, lt := range LimitTypes() {
		assert.NoError(t, DefaultPolicy(lt).validate(), lt.String())
	}
	assert.Equal(t, DefaultPolicy(LimitLogin), DefaultPolicy(LimitType(200)))
}

func TestDefaultLoginAndMFAPolicies(t *testing.T) {
	login := DefaultPolicy(LimitLogin)
	assert.EqualValues(t, 5, login.RequestsPerMinute)
	assert.EqualValues(t, 3, login.BurstSize)
	assert.True(t, login.IPBased && login.UserBased)
	assert.True(t, login.ProgressiveDelay)

	refresh := DefaultPolicy(LimitTokenRefresh)
	assert.False(t, refresh.IPBased)
	assert.True(t, refresh.UserBased)
}

func TestPolicyTableOverrides(t *testing.T) {
	p := DefaultPolicy(LimitOAuth)
	p.RequestsPerMinute = 1
	table, err := newPolicyTable(map[string]RateLimitPolicy{"oauth": p})
	require.NoError(t, err)

	got, known := table.lookup(LimitOAuth)
	assert.True(t, known)
	assert.Equal(t, p, got)

	got, known = table.lookup(LimitType(50))
	assert.False(t, known)
	assert.Equal(t, DefaultPolicy(LimitLogin), got)

	_, err = newPolicyTable(map[string]RateLimitPolicy{"nope": p})
	assert.ErrorIs(t, err, ErrUnknownLimitType)
}

func TestPolicyWindows(t *testing.T) {
	w := DefaultPolicy(LimitMFA).windows()
	assert.Equal(t, "min", w[0].name)
	assert.EqualValues(t, 15, w[1].limit)
	assert.EqualValues(t, 50, w[2].limit)
}

func TestRateLimitExceededError(t *testing.T) {
	err := Decision{RetryAfter: 3600, Reason: ReasonLockedOut}.Err()
	assert.EqualError(t, err, "too many attempts, temporarily locked out (retry after 3600s)")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

func TestPublicStoreErrorHidesDetail(t *testing.T) {
	assert.Nil(t, publicStoreError("x", nil))

	raw := fmt.Errorf("%w: zadd: dial tcp 10.0.0.9:6379: connection refused", ErrStoreUnavailable)
	err := publicStoreError("window check", raw)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, "store unavailable: window check", err.Error())

	err = publicStoreError("check", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
}
