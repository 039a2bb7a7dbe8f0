/**
 * @description
 * Cron scheduler for recurring sync runs.
 */
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/coinatlas/affiliate-service/internal/domain"
	"github.com/robfig/cron/v3"
)

// syncRunner is satisfied by the orchestrator Service.
type syncRunner interface {
	RunSync(ctx context.Context, program string) (*domain.SyncRun, error)
}

// Scheduler manages the cron-triggered sync runs.
type Scheduler struct {
	cron     *cron.Cron
	service  syncRunner
	program  string
	schedule string
	logger   *slog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service syncRunner, program, schedule string, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		service:  service,
		program:  program,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the sync job and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.runScheduledSync); err != nil {
		s.logger.Error("failed to schedule affiliate sync job", "schedule", s.schedule, "error", err)
		return
	}
	s.logger.Info("scheduled affiliate sync job", "schedule", s.schedule, "program", s.program)
	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runScheduledSync() {
	ctx := context.Background()

	run, err := s.service.RunSync(ctx, s.program)
	if err != nil {
		if errors.Is(err, ErrSyncAlreadyRunning) {
			s.logger.Info("scheduled sync skipped; previous run still in progress", "program", s.program)
			return
		}
		s.logger.Error("scheduled sync failed", "program", s.program, "error", err)
		return
	}

	s.logger.Info("scheduled sync completed",
		"program", s.program,
		"total", run.Total,
		"updated", run.Updated,
		"skipped", run.Skipped,
		"failed", run.Failed,
	)
}
