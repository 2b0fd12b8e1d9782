package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per iteration.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler runs a tick function, then sleeps for a fixed interval, until
// stopped. Iterations never overlap.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// Interval returns the configured pause between iterations.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks until stop is closed or ctx is cancelled. stop is checked at
// the top of every iteration and during the sleep; an iteration already in
// progress runs to completion. Tick errors are logged and do not end the
// loop. Closing stop returns nil, cancelling ctx returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context, stop <-chan struct{}, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, stop, s.opts.StartupDelay); err != nil || stopped(stop) {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		at := s.now().UTC()
		s.logger.Debug().Time("at", at).Msg("executing scheduled tick")
		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
		}

		if err := s.sleep(ctx, stop, s.opts.Interval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	s.logger.Debug().Dur("delay", d).Msg("waiting for next tick")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case <-timer.C:
		return nil
	}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
