package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/infra"
	"github.com/Driserq/Convergence-sub001/internal/sqlinline"
)

var _ domain.JobStore = (*JobStorePG)(nil)

// JobStorePG implements domain.JobStore on the generation_jobs table.
type JobStorePG struct {
	db    infra.SQLExecutor
	lease time.Duration
}

// NewJobStore creates a job store. Jobs handed out by FetchDueJobs are pushed
// forward by lease so a concurrent sweeper cannot claim them again.
func NewJobStore(db infra.SQLExecutor, lease time.Duration) *JobStorePG {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &JobStorePG{db: db, lease: lease}
}

func (r *JobStorePG) CreateJob(ctx context.Context, nj domain.NewJob) (*domain.GenerationJob, error) {
	reqJSON, err := json.Marshal(nj.RequestData)
	if err != nil {
		return nil, fmt.Errorf("encode request data: %w", err)
	}
	job := &domain.GenerationJob{
		ID:          uuid.NewString(),
		BlueprintID: nj.BlueprintID,
		RequestData: nj.RequestData,
		RetryCount:  nj.RetryCount,
		NextRetryAt: nj.NextRetryAt,
		ErrorType:   nj.ErrorType,
		LastError:   nj.LastError,
	}
	row := r.db.QueryRow(ctx, sqlinline.QInsertGenerationJob,
		job.ID,
		job.BlueprintID,
		reqJSON,
		job.RetryCount,
		job.NextRetryAt,
		job.ErrorType,
		job.LastError,
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob only touches the columns set in update, and only while the row is
// still at retryCount.
func (r *JobStorePG) UpdateJob(ctx context.Context, id string, retryCount int, update domain.JobUpdate) error {
	tag, err := r.db.Exec(ctx, sqlinline.QUpdateGenerationJob,
		id,
		update.RetryCount,
		update.NextRetryAt,
		update.LastError,
		update.ErrorType,
		retryCount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobClaimLost
	}
	return nil
}

func (r *JobStorePG) DeleteJob(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, sqlinline.QDeleteGenerationJob, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobStorePG) RenewLease(ctx context.Context, job domain.GenerationJob) (time.Time, error) {
	if job.LeaseExpiresAt.IsZero() {
		return time.Time{}, domain.ErrJobClaimLost
	}
	var until time.Time
	err := r.db.QueryRow(ctx, sqlinline.QRenewJobLease,
		job.ID,
		job.RetryCount,
		job.LeaseExpiresAt,
		r.lease.Seconds(),
	).Scan(&until)
	if infra.IsNoRows(err) {
		return time.Time{}, domain.ErrJobClaimLost
	}
	if err != nil {
		return time.Time{}, err
	}
	return until, nil
}

func (r *JobStorePG) DeleteJobsForBlueprint(ctx context.Context, blueprintID string) (int, error) {
	tag, err := r.db.Exec(ctx, sqlinline.QDeleteJobsForBlueprint, blueprintID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// FetchDueJobs claims up to limit due jobs, earliest first. The returned
// NextRetryAt is the time the job became due; the lease expiry is in
// LeaseExpiresAt.
func (r *JobStorePG) FetchDueJobs(ctx context.Context, limit int) ([]domain.GenerationJob, error) {
	rows, err := r.db.Query(ctx, sqlinline.QClaimDueJobs, limit, r.lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		var (
			job     domain.GenerationJob
			reqJSON []byte
		)
		if err := rows.Scan(
			&job.ID,
			&job.BlueprintID,
			&reqJSON,
			&job.RetryCount,
			&job.NextRetryAt,
			&job.ErrorType,
			&job.LastError,
			&job.CreatedAt,
			&job.UpdatedAt,
			&job.LeaseExpiresAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(reqJSON, &job.RequestData); err != nil {
			return nil, fmt.Errorf("decode request data for job %s: %w", job.ID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
