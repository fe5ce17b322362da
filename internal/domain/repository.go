package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JobStore persists pending retry jobs. Implementations must keep at most one
// live job per blueprint and make each mutation atomic at the row level.
type JobStore interface {
	CreateJob(ctx context.Context, job NewJob) (*GenerationJob, error)
	// UpdateJob applies update only while the stored retry count still equals
	// retryCount. It returns ErrJobClaimLost when the job is gone or another
	// worker moved it on.
	UpdateJob(ctx context.Context, id string, retryCount int, update JobUpdate) error
	// DeleteJob reports whether a row was removed.
	DeleteJob(ctx context.Context, id string) (bool, error)
	DeleteJobsForBlueprint(ctx context.Context, blueprintID string) (int, error)
	// FetchDueJobs returns jobs with NextRetryAt <= now, earliest first.
	// Each returned job is leased to the caller until LeaseExpiresAt.
	FetchDueJobs(ctx context.Context, limit int) ([]GenerationJob, error)
	// RenewLease extends the claim on a job returned by FetchDueJobs and
	// returns the new expiry. It returns ErrJobClaimLost when the claim is no
	// longer held: the job was deleted, rescheduled or claimed again.
	RenewLease(ctx context.Context, job GenerationJob) (time.Time, error)
}

// BlueprintStore owns blueprint records and their status transitions.
type BlueprintStore interface {
	CreatePending(ctx context.Context, bp *Blueprint) error
	ResetPending(ctx context.Context, id string, req RequestData) error
	Get(ctx context.Context, id string) (*Blueprint, error)
	// MarkCompleted and MarkFailed only transition pending blueprints; a call
	// against a settled blueprint is a no-op.
	MarkCompleted(ctx context.Context, id string, payload json.RawMessage, provider string) error
	MarkFailed(ctx context.Context, id string) error
	// ListOrphanedPending returns pending blueprints older than the cutoff that
	// have no live job.
	ListOrphanedPending(ctx context.Context, olderThan time.Time, limit int) ([]Blueprint, error)
}
