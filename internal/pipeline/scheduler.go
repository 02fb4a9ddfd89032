package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
)

const initialBackoff = 200 * time.Millisecond

// Aggregator runs one aggregation pass.
type Aggregator interface {
	Aggregate(ctx context.Context, since *time.Time) (domain.BatchResult, error)
}

// Scheduler triggers an aggregation every interval until its context is
// cancelled. Failed runs are retried with exponential backoff, starting at
// 200ms and capped at the interval.
type Scheduler struct {
	aggregator Aggregator
	interval   time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
}

func NewScheduler(aggregator Aggregator, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{aggregator: aggregator, interval: interval, clock: clock, logger: logger}
}

// Run blocks until ctx is cancelled. The first run starts immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	backoff := initialBackoff

	for {
		wait := s.interval
		if _, err := s.aggregator.Aggregate(ctx, nil); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("scheduler stopping", "reason", ctx.Err())
				return nil
			}
			wait = min(backoff, s.interval)
			backoff = retry.NextBackoff(backoff, s.interval)
			s.logger.Warn("scheduled run failed, backing off", "error", err, "retry_in", wait)
		} else {
			backoff = initialBackoff
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-s.clock.After(wait):
		}
	}
}
