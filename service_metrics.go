package authguard

import (
	"context"

	"github.com/MrEthical07/authguard/internal/limiters"
	"golang.org/x/sync/errgroup"
)

// GetMetrics aggregates today's lockouts and success rates (UTC day) with
// the current trusted and suspicious IP counts.
func (s *Service) GetMetrics(ctx context.Context) (Report, error) {
	if s.closed.Load() {
		return Report{}, ErrServiceClosed
	}

	names := make([]string, 0, limitTypeCount)
	for _, t := range LimitTypes() {
		names = append(names, t.String())
	}

	var (
		report Report
		daily  map[string]limiters.DailyCounts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.lockouts.LockoutsOn(gctx, s.now())
		report.LockoutsToday = n
		return err
	})
	g.Go(func() error {
		var err error
		daily, err = s.stats.Today(gctx, names)
		return err
	})
	g.Go(func() error {
		trusted, suspicious, err := s.trust.Counts(gctx)
		report.TrustedIPCount = trusted
		report.SuspiciousIPCount = suspicious
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, s.adminError(ctx, "metrics", err)
	}

	report.SuccessRatesByType = make(map[LimitType]SuccessRate, limitTypeCount)
	for _, t := range LimitTypes() {
		c := daily[t.String()]
		report.SuccessRatesByType[t] = successRate(c.Successes, c.Denials)
	}
	return report, nil
}

// successRate is successes over all decided outcomes; zero with no traffic.
func successRate(successes, denials int64) SuccessRate {
	sr := SuccessRate{Successes: successes, Denials: denials}
	if total := successes + denials; total > 0 {
		sr.Rate = float64(successes) / float64(total)
	}
	return sr
}

// RecentLockouts returns up to n of the most recent lockouts, newest first.
func (s *Service) RecentLockouts(ctx context.Context, n int) ([]LockoutEvent, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	events, err := s.lockouts.Recent(ctx, n)
	if err != nil {
		return nil, s.adminError(ctx, "recent lockouts", err)
	}
	out := make([]LockoutEvent, len(events))
	for i, ev := range events {
		out[i] = LockoutEvent(ev)
	}
	return out, nil
}

// AuditDropped reports audit events dropped on a full buffer or after Close.
func (s *Service) AuditDropped() uint64 {
	return s.audit.Dropped()
}

// SignalsDropped reports abuse signals dropped on a full buffer or after Close.
func (s *Service) SignalsDropped() uint64 {
	return s.signals.Dropped()
}

// MetricsSnapshot copies the in-process counters for exporters.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}
