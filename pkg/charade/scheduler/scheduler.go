// Package scheduler runs the periodic maintenance jobs: sweeping expired
// description/lookup cache entries and keeping the dispatcher's persona
// view fresh. Uses robfig/cron for schedule parsing and execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper drops expired cache entries. Satisfied by provider.Describer.
type Sweeper interface {
	Sweep() int
}

// Refresher reloads store-backed state. Optional.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler owns the cron instance and its two maintenance jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New builds a scheduler with the given cron specs (robfig syntax,
// descriptors like "@every 30m" included). An empty spec disables that
// job; sweeper and refresher may be nil.
func New(sweepSpec, refreshSpec string, sweeper Sweeper, refresher Refresher, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	s := &Scheduler{cron: cron.New(), logger: logger}

	if sweepSpec != "" && sweeper != nil {
		_, err := s.cron.AddFunc(sweepSpec, func() {
			if n := sweeper.Sweep(); n > 0 {
				logger.Debug("cache sweep", "removed", n)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule cache sweep %q: %w", sweepSpec, err)
		}
	}

	if refreshSpec != "" && refresher != nil {
		_, err := s.cron.AddFunc(refreshSpec, func() {
			if err := refresher.Refresh(context.Background()); err != nil {
				logger.Warn("refresh failed", "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule refresh %q: %w", refreshSpec, err)
		}
	}

	return s, nil
}

// Start begins running jobs in their own goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
