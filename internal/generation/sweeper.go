package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/infra"
)

const (
	defaultSweepInterval  = 5 * time.Second
	defaultSweepBatchSize = 10
	defaultOrphanAfter    = 10 * time.Minute
)

type SweeperOptions struct {
	Interval  time.Duration
	BatchSize int
	// OrphanAfter is how long a pending blueprint may sit without a live job
	// before it is requeued. Zero uses the default; negative disables.
	OrphanAfter time.Duration
	Metrics     *Metrics
	Logger      *infra.Logger
}

// SweepStats summarises one sweep pass.
type SweepStats struct {
	Claimed     int
	Succeeded   int
	Rescheduled int
	Failed      int
	Stale       int
	Orphans     int
}

// Sweeper polls for due jobs and feeds them to the scheduler.
type Sweeper struct {
	jobs        domain.JobStore
	blueprints  domain.BlueprintStore
	scheduler   *Scheduler
	interval    time.Duration
	batchSize   int
	orphanAfter time.Duration
	metrics     *Metrics
	logger      infra.Logger
	now         func() time.Time
}

func NewSweeper(jobs domain.JobStore, blueprints domain.BlueprintStore, scheduler *Scheduler, opts SweeperOptions) *Sweeper {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	orphanAfter := opts.OrphanAfter
	if orphanAfter == 0 {
		orphanAfter = defaultOrphanAfter
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Sweeper{
		jobs:        jobs,
		blueprints:  blueprints,
		scheduler:   scheduler,
		interval:    interval,
		batchSize:   batch,
		orphanAfter: orphanAfter,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Int("batch_size", s.batchSize).Msg("worker: sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		stats, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("worker: sweep finished with errors")
		}
		if stats.Claimed > 0 || stats.Orphans > 0 {
			s.logger.Info().
				Int("claimed", stats.Claimed).
				Int("succeeded", stats.Succeeded).
				Int("rescheduled", stats.Rescheduled).
				Int("failed", stats.Failed).
				Int("stale", stats.Stale).
				Int("orphans", stats.Orphans).
				Msg("worker: sweep done")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce processes one batch of due jobs, earliest first, then requeues
// orphaned pending blueprints. Per-job errors are aggregated so one bad row
// does not starve the rest of the batch.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	var errs *multierror.Error

	due, err := s.jobs.FetchDueJobs(ctx, s.batchSize)
	if err != nil {
		return stats, fmt.Errorf("fetch due jobs: %w", err)
	}
	stats.Claimed = len(due)
	s.metrics.observeSweep(len(due))

	for _, job := range due {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		res, err := s.scheduler.ProcessJob(ctx, job)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("job %s: %w", job.ID, err))
		}
		switch res.Outcome {
		case OutcomeSuccess:
			stats.Succeeded++
		case OutcomeRetryScheduled:
			stats.Rescheduled++
		case OutcomeFailed:
			stats.Failed++
		case OutcomeStale:
			stats.Stale++
		}
	}

	if s.orphanAfter > 0 && ctx.Err() == nil {
		n, err := s.requeueOrphans(ctx)
		stats.Orphans = n
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return stats, errs.ErrorOrNil()
}

func (s *Sweeper) requeueOrphans(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.orphanAfter)
	orphans, err := s.blueprints.ListOrphanedPending(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list orphaned blueprints: %w", err)
	}
	var errs *multierror.Error
	requeued := 0
	for _, bp := range orphans {
		if err := s.scheduler.Enqueue(ctx, bp.ID, bp.RequestData); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		requeued++
		s.logger.Warn().Str("blueprint_id", bp.ID).Time("created_at", bp.CreatedAt).Msg("worker: requeued orphaned blueprint")
	}
	s.metrics.observeOrphans(requeued)
	return requeued, errs.ErrorOrNil()
}
