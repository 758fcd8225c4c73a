// Package scheduler drives the periodic evaluation cycle.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc is invoked once per interval.
type CycleFunc func(ctx context.Context, at time.Time) error

// ErrSkipCycle may be returned by a CycleFunc to report a cycle that did no
// work without logging it as a failure.
var ErrSkipCycle = errors.New("scheduler: cycle skipped")

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler runs a cycle function at a fixed cadence. Cycles never overlap:
// the next one is planned only after the previous returned.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking cycle every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, cycle CycleFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			// a slow cycle overran one or more slots; skip them
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		at := s.slotStart(next)
		err := cycle(ctx, at)
		switch {
		case err == nil:
		case errors.Is(err, ErrSkipCycle):
			s.logger.Debug().Time("at", at).Msg("cycle skipped")
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.logger.Error().Err(err).Time("at", at).Msg("cycle failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func (s *Scheduler) slotStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
