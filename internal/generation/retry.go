package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/infra"
	"github.com/Driserq/Convergence-sub001/internal/providers/ai"
)

// retryDelays is indexed by the 1-based retry number minus one.
var retryDelays = [...]time.Duration{
	10 * time.Second,
	30 * time.Second,
	90 * time.Second,
	270 * time.Second,
}

// MaxRetries is the number of rescheduled attempts before a blueprint fails.
const MaxRetries = len(retryDelays)

// RetrySchedule is the next state of a job that will be retried.
type RetrySchedule struct {
	NextRetryCount int
	Delay          time.Duration
	NextRetryAt    time.Time
}

func (s RetrySchedule) DelaySeconds() int {
	return int(s.Delay / time.Second)
}

// ComputeNextRetrySchedule returns nil once the retry budget is spent.
func ComputeNextRetrySchedule(retryCount int, now time.Time) *RetrySchedule {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= MaxRetries {
		return nil
	}
	delay := retryDelays[retryCount]
	return &RetrySchedule{
		NextRetryCount: retryCount + 1,
		Delay:          delay,
		NextRetryAt:    now.Add(delay),
	}
}

type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeFailed         Outcome = "failed"

	// OutcomeStale means this worker no longer owned the job when it came to
	// record the attempt, so nothing was written.
	OutcomeStale Outcome = "stale"
)

const (
	ReasonMaxRetries   = "max_retries"
	ReasonNonRetriable = "non_retriable"
	ReasonClaimLost    = "claim_lost"
)

// ProcessResult reports what happened to a generation cycle after an attempt.
type ProcessResult struct {
	Outcome  Outcome
	Reason   string
	Attempt  AttemptResult
	Schedule *RetrySchedule
}

// AttemptFunc is the single-attempt capability the scheduler drives.
type AttemptFunc func(ctx context.Context, blueprintID string, req domain.RequestData) AttemptResult

// Scheduler applies the retry state machine to attempt results.
type Scheduler struct {
	attempt    AttemptFunc
	jobs       domain.JobStore
	blueprints domain.BlueprintStore
	metrics    *Metrics
	logger     infra.Logger
	now        func() time.Time
}

func NewScheduler(attempt AttemptFunc, jobs domain.JobStore, blueprints domain.BlueprintStore, metrics *Metrics, logger *infra.Logger) *Scheduler {
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	return &Scheduler{
		attempt:    attempt,
		jobs:       jobs,
		blueprints: blueprints,
		metrics:    metrics,
		logger:     l,
		now:        time.Now,
	}
}

// ProcessJob runs one attempt for a stored job and settles the job record.
// Jobs handed out by FetchDueJobs have their lease renewed first; when the
// claim is gone the provider is not called. Every write is conditional on
// the job still being the one that was read, so a retry started by the user
// or a second sweeper wins over this attempt. The returned error only reports
// store failures; the job then stays due and the next sweep picks it up.
func (s *Scheduler) ProcessJob(ctx context.Context, job domain.GenerationJob) (ProcessResult, error) {
	if !job.LeaseExpiresAt.IsZero() {
		_, err := s.jobs.RenewLease(ctx, job)
		if errors.Is(err, domain.ErrJobClaimLost) {
			return s.stale(job, ProcessResult{}), nil
		}
		if err != nil {
			return ProcessResult{}, fmt.Errorf("renew lease on job %s: %w", job.ID, err)
		}
	}

	result := s.attempt(ctx, job.BlueprintID, job.RequestData)
	if result.OK() {
		if _, err := s.jobs.DeleteJob(ctx, job.ID); err != nil {
			return s.settled(ProcessResult{Outcome: OutcomeSuccess, Attempt: result}), fmt.Errorf("delete completed job %s: %w", job.ID, err)
		}
		return s.settled(ProcessResult{Outcome: OutcomeSuccess, Attempt: result}), nil
	}

	if result.Classification == NonRetriable {
		return s.fail(ctx, job, result, ReasonNonRetriable)
	}
	schedule := ComputeNextRetrySchedule(job.RetryCount, s.now())
	if schedule == nil {
		return s.fail(ctx, job, result, ReasonMaxRetries)
	}

	errorType, lastError := string(result.Classification), diagnostic(result)
	update := domain.JobUpdate{
		RetryCount:  &schedule.NextRetryCount,
		NextRetryAt: &schedule.NextRetryAt,
		ErrorType:   &errorType,
		LastError:   &lastError,
	}
	res := ProcessResult{Outcome: OutcomeRetryScheduled, Attempt: result, Schedule: schedule}
	err := s.jobs.UpdateJob(ctx, job.ID, job.RetryCount, update)
	if errors.Is(err, domain.ErrJobClaimLost) {
		return s.stale(job, ProcessResult{Attempt: result}), nil
	}
	if err != nil {
		return res, fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("blueprint_id", job.BlueprintID).
		Int("retry_count", schedule.NextRetryCount).
		Time("next_retry_at", schedule.NextRetryAt).
		Msg("generation: retry scheduled")
	return s.settled(res), nil
}

// fail deletes the job before failing the blueprint. A job that is already
// gone means this attempt no longer owns the blueprint.
func (s *Scheduler) fail(ctx context.Context, job domain.GenerationJob, result AttemptResult, reason string) (ProcessResult, error) {
	deleted, err := s.jobs.DeleteJob(ctx, job.ID)
	if err != nil {
		return ProcessResult{Outcome: OutcomeFailed, Reason: reason, Attempt: result}, fmt.Errorf("delete failed job %s: %w", job.ID, err)
	}
	if !deleted {
		return s.stale(job, ProcessResult{Attempt: result}), nil
	}
	res := ProcessResult{Outcome: OutcomeFailed, Reason: reason, Attempt: result}
	if err := s.blueprints.MarkFailed(ctx, job.BlueprintID); err != nil {
		return res, fmt.Errorf("mark blueprint %s failed: %w", job.BlueprintID, err)
	}
	s.logger.Warn().
		Str("job_id", job.ID).
		Str("blueprint_id", job.BlueprintID).
		Str("reason", reason).
		Int("retry_count", job.RetryCount).
		Msg("generation: blueprint failed")
	return s.settled(res), nil
}

func (s *Scheduler) stale(job domain.GenerationJob, res ProcessResult) ProcessResult {
	res.Outcome, res.Reason = OutcomeStale, ReasonClaimLost
	s.logger.Info().
		Str("job_id", job.ID).
		Str("blueprint_id", job.BlueprintID).
		Int("retry_count", job.RetryCount).
		Msg("generation: job no longer owned, result dropped")
	return s.settled(res)
}

// HandleInitialResult settles the first attempt of a cycle, which runs
// without a job row. A retriable failure creates the job with the first
// retry already scheduled.
func (s *Scheduler) HandleInitialResult(ctx context.Context, blueprintID string, req domain.RequestData, result AttemptResult) (ProcessResult, error) {
	if result.OK() {
		return s.settled(ProcessResult{Outcome: OutcomeSuccess, Attempt: result}), nil
	}
	if result.Classification == NonRetriable {
		res := ProcessResult{Outcome: OutcomeFailed, Reason: ReasonNonRetriable, Attempt: result}
		if err := s.blueprints.MarkFailed(ctx, blueprintID); err != nil {
			return res, fmt.Errorf("mark blueprint %s failed: %w", blueprintID, err)
		}
		return s.settled(res), nil
	}
	schedule := ComputeNextRetrySchedule(0, s.now())
	res := ProcessResult{Outcome: OutcomeRetryScheduled, Attempt: result, Schedule: schedule}
	if err := s.createJob(ctx, blueprintID, req, schedule, result); err != nil {
		return res, err
	}
	return s.settled(res), nil
}

// Enqueue persists a job that is due immediately. It is used when no
// attempt could be started in process.
func (s *Scheduler) Enqueue(ctx context.Context, blueprintID string, req domain.RequestData) error {
	schedule := &RetrySchedule{NextRetryAt: s.now()}
	return s.createJob(ctx, blueprintID, req, schedule, AttemptResult{})
}

func (s *Scheduler) createJob(ctx context.Context, blueprintID string, req domain.RequestData, schedule *RetrySchedule, result AttemptResult) error {
	if _, err := s.jobs.DeleteJobsForBlueprint(ctx, blueprintID); err != nil {
		return fmt.Errorf("purge jobs for blueprint %s: %w", blueprintID, err)
	}
	job := domain.NewJob{
		BlueprintID: blueprintID,
		RequestData: req,
		RetryCount:  schedule.NextRetryCount,
		NextRetryAt: schedule.NextRetryAt,
	}
	if !result.OK() && result.Status != "" {
		errorType, lastError := string(result.Classification), diagnostic(result)
		job.ErrorType, job.LastError = &errorType, &lastError
	}
	created, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return fmt.Errorf("create job for blueprint %s: %w", blueprintID, err)
	}
	s.logger.Info().
		Str("job_id", created.ID).
		Str("blueprint_id", blueprintID).
		Int("retry_count", created.RetryCount).
		Time("next_retry_at", created.NextRetryAt).
		Msg("generation: job persisted")
	return nil
}

func (s *Scheduler) settled(res ProcessResult) ProcessResult {
	s.metrics.observeOutcome(res.Outcome, res.Reason)
	return res
}

// diagnostic renders the stored last_error value, bounded like every other
// provider snippet.
func diagnostic(result AttemptResult) string {
	if result.ErrorCode == "" {
		return ai.Snippet(result.Message)
	}
	return ai.Snippet(result.ErrorCode + ": " + result.Message)
}
