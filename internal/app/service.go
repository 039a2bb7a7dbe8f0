/**
 * @description
 * Sync orchestrator for the affiliate-service. One run moves through
 * loading the candidate bindings, fetching partner records in rate-limited
 * waves, reconciling them, and appending an immutable summary row. Fatal
 * failures (store unreachable) abort the run and surface to the caller;
 * per-item failures are aggregated into the run summary and never abort
 * partially-completed work. Retry of a failed run is the invoking
 * scheduler's responsibility.
 *
 * @dependencies
 * - context, errors, log/slog, time: Standard Go libraries.
 * - github.com/google/uuid: Run identifiers, doubling as lease holder tokens.
 * - internal/domain, pkg/partnerclient: Domain models and partner wire types.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coinatlas/affiliate-service/internal/domain"
	"github.com/coinatlas/affiliate-service/pkg/partnerclient"
	"github.com/google/uuid"
)

// ErrSyncAlreadyRunning indicates another run holds the program's lease.
var ErrSyncAlreadyRunning = errors.New("a sync run for this program is already in progress")

// SyncRepository defines the store operations the orchestrator needs.
type SyncRepository interface {
	GetBindingsByProgramAndStatus(ctx context.Context, program, status string) ([]domain.Binding, error)
	InsertSyncRun(ctx context.Context, run *domain.SyncRun) error
}

// RecordFetcher abstracts the rate-limited batch fetcher.
type RecordFetcher interface {
	FetchAll(ctx context.Context, uids []string, progress chan<- FetchProgress) map[string]*partnerclient.AffiliateRecord
}

// RecordReconciler abstracts the reconciliation engine.
type RecordReconciler interface {
	Reconcile(ctx context.Context, bindings []domain.Binding, records map[string]*partnerclient.AffiliateRecord) domain.SyncOutcome
}

// EventPublisher publishes the run summary after a finished sync.
type EventPublisher interface {
	PublishSyncCompleted(ctx context.Context, run *domain.SyncRun) error
}

// Service is the orchestrator entry point shared by the cron trigger and the
// HTTP trigger endpoint.
type Service struct {
	repo           SyncRepository
	fetcher        RecordFetcher
	reconciler     RecordReconciler
	lease          RunLease
	producer       EventPublisher
	chunkSize      int
	maxRunDuration time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewService wires the orchestrator. lease and producer may be nil, in which
// case the overlap guard and event publishing degrade with a warning.
func NewService(
	repo SyncRepository,
	fetcher RecordFetcher,
	reconciler RecordReconciler,
	lease RunLease,
	producer EventPublisher,
	chunkSize int,
	maxRunDuration time.Duration,
	logger *slog.Logger,
) *Service {
	if chunkSize <= 0 {
		chunkSize = 20
	}
	if maxRunDuration <= 0 {
		maxRunDuration = 300 * time.Second
	}
	return &Service{
		repo:           repo,
		fetcher:        fetcher,
		reconciler:     reconciler,
		lease:          lease,
		producer:       producer,
		chunkSize:      chunkSize,
		maxRunDuration: maxRunDuration,
		logger:         logger,
		now:            time.Now,
	}
}

// RunSync executes one full sync for a partner program and returns the run
// summary. Trigger authentication happens upstream in the HTTP layer; by the
// time RunSync is called the invocation is trusted.
func (s *Service) RunSync(ctx context.Context, program string) (*domain.SyncRun, error) {
	runID := uuid.New()
	logger := s.logger.With("run_id", runID, "program", program)

	ctx, cancel := context.WithTimeout(ctx, s.maxRunDuration)
	defer cancel()

	if s.lease != nil {
		acquired, err := s.lease.Acquire(ctx, program, runID.String(), s.maxRunDuration)
		if err != nil {
			// Fail-open like the inbound limiter: a dead lease backend
			// should not stop scheduled syncs entirely.
			logger.Warn("sync lease backend unavailable; proceeding without overlap guard", "error", err)
		} else if !acquired {
			logger.Info("sync skipped; another run holds the lease")
			return nil, ErrSyncAlreadyRunning
		} else {
			defer func() {
				if err := s.lease.Release(context.WithoutCancel(ctx), program, runID.String()); err != nil {
					logger.Warn("failed to release sync lease", "error", err)
				}
			}()
		}
	}

	run := &domain.SyncRun{
		ID:        runID,
		Program:   program,
		StartedAt: s.now().UTC(),
	}

	bindings, err := s.repo.GetBindingsByProgramAndStatus(ctx, program, domain.BindingStatusVerified)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate bindings: %w", err)
	}

	if len(bindings) == 0 {
		logger.Info("nothing to sync; no verified bindings for program")
		run.NothingToSync = true
		run.Finalize(domain.SyncOutcome{}, s.now().UTC())
		s.recordRun(ctx, logger, run)
		return run, nil
	}

	uids := make([]string, len(bindings))
	for i, binding := range bindings {
		uids[i] = binding.ExternalUID
	}
	logger.Info("sync started", "bindings", len(bindings))

	progress := make(chan FetchProgress, (len(uids)+s.chunkSize-1)/s.chunkSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			logger.Info("fetch progress", "completed", p.Completed, "total", p.Total)
		}
	}()

	records := s.fetcher.FetchAll(ctx, uids, progress)
	<-done

	outcome := s.reconciler.Reconcile(ctx, bindings, records)
	run.Finalize(outcome, s.now().UTC())

	logger.Info("sync finished",
		"total", run.Total,
		"updated", run.Updated,
		"skipped", run.Skipped,
		"failed", run.Failed,
		"duration_ms", run.DurationMS,
	)

	s.recordRun(ctx, logger, run)
	return run, nil
}

// recordRun appends the summary row and publishes the completion event.
// Neither failure is fatal: the run's work is already persisted per binding.
func (s *Service) recordRun(ctx context.Context, logger *slog.Logger, run *domain.SyncRun) {
	if err := s.repo.InsertSyncRun(ctx, run); err != nil {
		logger.Error("failed to append sync run log", "error", err)
	}
	if s.producer != nil {
		if err := s.producer.PublishSyncCompleted(ctx, run); err != nil {
			logger.Warn("failed to publish sync completion event", "error", err)
		}
	}
}
