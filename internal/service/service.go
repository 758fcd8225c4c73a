// Package service wires universe resolution, stream ingestion and the
// periodic evaluation cycle into one long-running process.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ticker-alerts/internal/engine"
	"ticker-alerts/internal/logging"
	"ticker-alerts/internal/market"
	"ticker-alerts/internal/scheduler"
	"ticker-alerts/internal/universe"
)

// UniverseResolver picks the subscription set.
type UniverseResolver interface {
	Resolve(ctx context.Context) universe.Result
}

// Seeder accepts REST statistics before the first stream tick arrives.
type Seeder interface {
	Seed(t market.Tick) bool
}

// Subscription is the ticker stream lifecycle.
type Subscription interface {
	Start(ctx context.Context, symbols []string) error
	Stop() error
}

// Evaluator runs one alert cycle.
type Evaluator interface {
	Evaluate(ctx context.Context) (engine.Report, error)
}

// Service orchestrates startup, the evaluation loop and shutdown.
type Service struct {
	resolver  UniverseResolver
	seeder    Seeder
	stream    Subscription
	evaluator Evaluator
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
}

// New constructs the monitoring service.
func New(resolver UniverseResolver, seeder Seeder, stream Subscription, evaluator Evaluator, sched *scheduler.Scheduler, logger zerolog.Logger) *Service {
	return &Service{
		resolver:  resolver,
		seeder:    seeder,
		stream:    stream,
		evaluator: evaluator,
		scheduler: sched,
		logger:    logging.Component(logger, "service"),
	}
}

// Run resolves the universe, starts the subscription and evaluates alerts
// until ctx is cancelled. The subscription is stopped on the way out.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	symbols, err := s.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.stream.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("subscription stop incomplete")
		}
	}()

	s.logger.Info().Int("symbols", len(symbols)).Msg("evaluation loop started")
	err = s.scheduler.Run(ctx, s.Cycle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start resolves and seeds the universe and starts the subscription without
// running the evaluation loop. It returns the subscribed symbols.
func (s *Service) Start(ctx context.Context) ([]string, error) {
	res := s.resolver.Resolve(ctx)
	if len(res.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols resolved")
	}

	seeded := 0
	if s.seeder != nil {
		for _, t := range res.Seeds {
			if s.seeder.Seed(t) {
				seeded++
			}
		}
	}
	s.logger.Info().
		Strs("symbols", res.Symbols).
		Bool("fallback", res.Fallback).
		Int("seeded", seeded).
		Msg("universe resolved")

	if err := s.stream.Start(ctx, res.Symbols); err != nil {
		return nil, fmt.Errorf("start subscription: %w", err)
	}
	return res.Symbols, nil
}

// Cycle runs one evaluation and adapts its outcome for the scheduler.
func (s *Service) Cycle(ctx context.Context, at time.Time) error {
	report, err := s.evaluator.Evaluate(ctx)
	if errors.Is(err, engine.ErrCycleInProgress) {
		return scheduler.ErrSkipCycle
	}
	if err != nil {
		return err
	}
	if report.Skipped {
		return scheduler.ErrSkipCycle
	}

	ev := s.logger.Debug()
	if len(report.User) > 0 {
		ev = s.logger.Info()
	}
	ev.Time("at", at).
		Int("symbols", report.Symbols).
		Int("auto_fired", len(report.Auto)).
		Int("user_fired", len(report.User)).
		Int("active_alerts", report.Remaining).
		Msg("cycle complete")
	return nil
}
