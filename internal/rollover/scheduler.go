package rollover

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const maxRunAttempts = 5

// Scheduler fires the runner at every Monday 00:00 boundary in the configured
// timezone, catching up on startup when a boundary was missed. It should be
// started in a goroutine; Wait blocks until it has fully stopped.
type Scheduler struct {
	runner           *Runner
	loc              *time.Location
	retryBaseDelay   time.Duration
	logger           *zap.Logger
	now              func() time.Time
	shutdownComplete chan struct{}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner *Runner, loc *time.Location, retryBaseDelay time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:           runner,
		loc:              loc,
		retryBaseDelay:   retryBaseDelay,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
		shutdownComplete: make(chan struct{}),
	}
}

// Start runs the scheduling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.shutdownComplete)

	// Catch up: RunRollover is idempotent per week, so firing for the most
	// recent elapsed boundary is safe even if it already ran.
	s.fire(ctx, PreviousBoundary(s.now(), s.loc))

	if err := s.runner.RetryPending(ctx); err != nil {
		s.logger.Warn("pending classification retry failed", zap.Error(err))
	}

	for {
		next := NextBoundary(s.now(), s.loc)
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx, next)
	}
}

// Wait blocks until the scheduler loop has exited.
func (s *Scheduler) Wait() {
	<-s.shutdownComplete
}

// fire runs the rollover with bounded exponential backoff. Archival must not
// be abandoned on a transient storage failure; after the attempts are
// exhausted the error is logged loudly and the next startup catches up.
func (s *Scheduler) fire(ctx context.Context, boundary time.Time) {
	delay := s.retryBaseDelay
	for attempt := 1; attempt <= maxRunAttempts; attempt++ {
		err := s.runner.Run(ctx, boundary, s.loc)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("rollover attempt failed",
			zap.Int("attempt", attempt),
			zap.Time("boundary", boundary),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
	}

	s.logger.Error("rollover abandoned after retries; will catch up on restart",
		zap.Time("boundary", boundary))
}
