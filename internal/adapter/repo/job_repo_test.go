package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/sqlinline"
)

func strPtr(s string) *string { return &s }

func TestCreateJobInsertsRow(t *testing.T) {
	created := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	db := &stubDB{row: []any{created, created}}
	store := NewJobStore(db, 0)

	next := created.Add(10 * time.Second)
	req := domain.RequestData{Prompt: "p", Provider: "gemini"}
	job, err := store.CreateJob(context.Background(), domain.NewJob{
		BlueprintID: "bp-1",
		RequestData: req,
		RetryCount:  1,
		NextRetryAt: next,
		ErrorType:   strPtr("RETRIABLE"),
		LastError:   strPtr("http_503: down"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, created, job.CreatedAt)

	c := db.last()
	assert.Equal(t, sqlinline.QInsertGenerationJob, c.query)
	require.Len(t, c.args, 7)
	assert.Equal(t, job.ID, c.args[0])
	assert.Equal(t, "bp-1", c.args[1])
	assert.JSONEq(t, `{"prompt":"p","provider":"gemini"}`, string(c.args[2].([]byte)))
	assert.Equal(t, 1, c.args[3])
	assert.Equal(t, next, c.args[4])
}

func TestUpdateJobIsConditionalOnRetryCount(t *testing.T) {
	db := &stubDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	store := NewJobStore(db, time.Minute)
	count := 3
	err := store.UpdateJob(context.Background(), "job-1", 2, domain.JobUpdate{RetryCount: &count})
	assert.ErrorIs(t, err, domain.ErrJobClaimLost)

	c := db.last()
	assert.Equal(t, sqlinline.QUpdateGenerationJob, c.query)
	require.Len(t, c.args, 6)
	assert.Equal(t, &count, c.args[1])
	assert.Nil(t, c.args[2].(*time.Time))
	assert.Equal(t, 2, c.args[5])

	db.execTag = pgconn.NewCommandTag("UPDATE 1")
	assert.NoError(t, store.UpdateJob(context.Background(), "job-1", 2, domain.JobUpdate{RetryCount: &count}))
}

func TestDeleteJobReportsRemoval(t *testing.T) {
	db := &stubDB{execTag: pgconn.NewCommandTag("DELETE 1")}
	store := NewJobStore(db, time.Minute)

	deleted, err := store.DeleteJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, sqlinline.QDeleteGenerationJob, db.last().query)

	db.execTag = pgconn.NewCommandTag("DELETE 0")
	deleted, err = store.DeleteJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRenewLease(t *testing.T) {
	lease := time.Date(2025, 2, 1, 10, 2, 0, 0, time.UTC)
	renewed := lease.Add(time.Minute)
	db := &stubDB{row: []any{renewed}}
	store := NewJobStore(db, 90*time.Second)
	job := domain.GenerationJob{ID: "job-1", RetryCount: 2, LeaseExpiresAt: lease}

	until, err := store.RenewLease(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, renewed, until)
	c := db.last()
	assert.Equal(t, sqlinline.QRenewJobLease, c.query)
	assert.Equal(t, []any{"job-1", 2, lease, float64(90)}, c.args)

	db.rowErr = pgx.ErrNoRows
	_, err = store.RenewLease(context.Background(), job)
	assert.ErrorIs(t, err, domain.ErrJobClaimLost)

	calls := len(db.calls)
	_, err = store.RenewLease(context.Background(), domain.GenerationJob{ID: "job-1"})
	assert.ErrorIs(t, err, domain.ErrJobClaimLost)
	assert.Len(t, db.calls, calls, "a job without a claim never reaches the database")
}

func TestDeleteJobsForBlueprintReturnsCount(t *testing.T) {
	db := &stubDB{execTag: pgconn.NewCommandTag("DELETE 0")}
	store := NewJobStore(db, time.Minute)

	n, err := store.DeleteJobsForBlueprint(context.Background(), "bp-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, sqlinline.QDeleteJobsForBlueprint, db.last().query)

	db.execTag = pgconn.NewCommandTag("DELETE 1")
	n, err = store.DeleteJobsForBlueprint(context.Background(), "bp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	db.execErr = errors.New("conn reset")
	_, err = store.DeleteJobsForBlueprint(context.Background(), "bp-1")
	assert.Error(t, err)
}

func TestFetchDueJobsClaimsWithLease(t *testing.T) {
	due := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	leaseUntil := due.Add(90 * time.Second)
	reqJSON, _ := json.Marshal(domain.RequestData{Prompt: "again"})
	db := &stubDB{rows: [][]any{
		{"job-1", "bp-1", reqJSON, 2, due, strPtr("RETRIABLE"), strPtr("timeout: slow"), due, due, leaseUntil},
		{"job-2", "bp-2", reqJSON, 0, due.Add(time.Second), nil, nil, due, due, leaseUntil},
	}}
	store := NewJobStore(db, 90*time.Second)

	jobs, err := store.FetchDueJobs(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, 2, jobs[0].RetryCount)
	assert.Equal(t, due, jobs[0].NextRetryAt)
	assert.Equal(t, leaseUntil, jobs[0].LeaseExpiresAt)
	assert.Equal(t, "again", jobs[0].RequestData.Prompt)
	require.NotNil(t, jobs[0].LastError)
	assert.Equal(t, "timeout: slow", *jobs[0].LastError)
	assert.Nil(t, jobs[1].ErrorType)

	c := db.last()
	assert.Equal(t, sqlinline.QClaimDueJobs, c.query)
	assert.Equal(t, []any{5, float64(90)}, c.args)
}

func TestFetchDueJobsRejectsCorruptRequestData(t *testing.T) {
	now := time.Now()
	db := &stubDB{rows: [][]any{{"job-1", "bp-1", []byte("{"), 0, now, nil, nil, now, now, now}}}
	_, err := NewJobStore(db, time.Minute).FetchDueJobs(context.Background(), 1)
	assert.ErrorContains(t, err, "job-1")
}
