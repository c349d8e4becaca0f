package authguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authguard/internal/backend"
)

var (
	// ErrRateLimited matches every *RateLimitExceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached or the circuit breaker is open.
	ErrStoreUnavailable = backend.ErrUnavailable
	// ErrInvalidDuration rejects a non-positive blacklist duration.
	ErrInvalidDuration = errors.New("duration must be positive")
	// ErrUnknownLimitType is returned by ParseLimitType and by config loading.
	ErrUnknownLimitType = errors.New("unknown limit type")
	ErrInvalidPolicy    = errors.New("invalid rate limit policy")
	ErrInvalidConfig    = errors.New("invalid config")
	ErrInvalidIP        = errors.New("ip address required")
	// ErrServiceClosed is returned by every operation after Close.
	ErrServiceClosed = errors.New("service closed")
)

// RateLimitExceeded is the error form of a DENY decision, for layers that
// propagate errors instead of inspecting a Decision.
type RateLimitExceeded struct {
	Message           string
	RetryAfterSeconds int
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("%s (retry after %ds)", e.Message, e.RetryAfterSeconds)
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitExceeded) Is(target error) bool {
	return target == ErrRateLimited
}

func errPolicy(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPolicy, msg)
}

func errConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

// publicStoreError strips internal detail (addresses, keys) from a store
// error before it reaches a caller. Context errors stay matchable.
func publicStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isContextErr(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
