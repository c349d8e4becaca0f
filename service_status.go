package authguard

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// GetStatus reports usage, burst level and lockout state for identifier
// without recording anything. identifier is read as an IP when the policy
// is IP based, otherwise as a user.
func (s *Service) GetStatus(ctx context.Context, limitType LimitType, identifier string) (Status, error) {
	if s.closed.Load() {
		return Status{}, ErrServiceClosed
	}
	policy, known := s.policies.lookup(limitType)
	if !known {
		limitType = LimitLogin
	}
	scope := scopeUser
	if policy.IPBased {
		scope = scopeIP
	}
	if identifier == "" {
		identifier = unknownIdentifier
	}

	st := Status{LimitType: limitType, Limits: policy}
	windows := policy.windows()
	counts := make([]int64, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			n, err := s.windows.Count(gctx, s.keys.Window(limitType.String(), scope, identifier, w.name), w.length)
			counts[i] = n
			return err
		})
	}
	g.Go(func() error {
		tokens, err := s.bursts.Tokens(gctx, s.keys.Burst(limitType.String(), identifier), policy.BurstSize)
		st.BurstTokens = tokens
		return err
	})
	g.Go(func() error {
		lock, err := s.lockouts.State(gctx, identifier)
		st.LockedOut = lock.Locked
		st.LockoutRemaining = lock.Remaining
		return err
	})
	if err := g.Wait(); err != nil {
		return Status{}, s.adminError(ctx, "status", err)
	}

	st.CurrentUsage = Usage{Minute: counts[0], Hour: counts[1], Day: counts[2]}
	return st, nil
}
