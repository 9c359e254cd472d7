package scheduler

import (
	"context"
	"log/slog"
	"time"

	"itinerary_pipeline/internal/domain"
)

// Runner is one pipeline stage the scheduler drives in bounded passes.
type Runner interface {
	Name() string
	Run(ctx context.Context) (domain.BatchStats, error)
}

// Scheduler runs each registered stage in order, once immediately and
// then on every tick, with a per-pass timeout.
type Scheduler struct {
	runners     []Runner
	interval    time.Duration
	passTimeout time.Duration
	logger      *slog.Logger
}

func New(runners []Runner, interval, passTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runners:     runners,
		interval:    interval,
		passTimeout: passTimeout,
		logger:      logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "stages", len(s.runners))

	s.runPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

// RunOnce executes a single pass over all stages, for the -once flag.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runPass(ctx)
}

func (s *Scheduler) runPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	for _, runner := range s.runners {
		if passCtx.Err() != nil {
			return
		}

		stats, err := runner.Run(passCtx)
		if err != nil {
			s.logger.Error("stage pass failed", "stage", runner.Name(), "error", err)
			continue
		}

		s.logger.Info("stage pass finished",
			"stage", runner.Name(),
			"processed", stats.Processed,
			"succeeded", stats.Succeeded,
			"failed", stats.Failed,
		)
	}
}
