package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// ErrUnavailable marks any failure to reach or use the backing store.
var ErrUnavailable = errors.New("store unavailable")

// GuardConfig tunes the circuit breaker in front of the store.
type GuardConfig struct {
	Enabled bool
	// MaxConsecutiveFailures trips the breaker.
	MaxConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial requests allowed while half-open.
	HalfOpenRequests uint32
	// OnStateChange, when set, observes breaker transitions.
	OnStateChange func(from, to string)
}

// Guard runs store operations behind a circuit breaker and normalizes their
// errors. A nil Guard runs operations directly.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
}

// NewGuard builds a Guard. A disabled config yields a pass-through guard.
func NewGuard(cfg GuardConfig) *Guard {
	if !cfg.Enabled {
		return &Guard{}
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        "authguard-store",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil) || isContextErr(err)
		},
	}
	if cfg.OnStateChange != nil {
		notify := cfg.OnStateChange
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			notify(from.String(), to.String())
		}
	}

	return &Guard{breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Do executes fn once. op names the operation in wrapped errors.
//
// A context that is already done short-circuits without touching the store.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g == nil || g.breaker == nil {
		return classify(op, fn(ctx))
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return classify(op, err)
}

// State reports the breaker state ("closed", "half-open", "open"), or
// "disabled" for a pass-through guard.
func (g *Guard) State() string {
	if g == nil || g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil), isContextErr(err):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s: circuit open", ErrUnavailable, op)
	case errors.Is(err, ErrUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
