package generation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/providers/ai"
)

func newTestService(t *testing.T, h *harness, dispatch DispatcherOptions) *Service {
	t.Helper()
	svc, err := NewService(ServiceOptions{
		Blueprints: h.store,
		Jobs:       h.store,
		Attempter:  h.attempter,
		Scheduler:  h.scheduler,
		Dispatch:   dispatch,
	})
	require.NoError(t, err)
	return svc
}

func waitForStatus(t *testing.T, h *harness, id string, want domain.BlueprintStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		bp, err := h.store.Get(context.Background(), id)
		return err == nil && bp.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServiceCreateReturnsPendingAndCompletesInBackground(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(context.Context, ai.Request) (*ai.Response, error) {
		<-release
		return &ai.Response{RawText: validBlueprintJSON}, nil
	})
	svc := newTestService(t, h, DispatcherOptions{Workers: 1, QueueSize: 4})
	svc.Start(context.Background())
	defer svc.Close()

	bp, err := svc.Create(context.Background(), CreateInput{
		UserID:   "user-1",
		Title:    "Talk notes",
		Content:  "A long transcript about morning routines.",
		Provider: "ChatGPT",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BlueprintStatusPending, bp.Status)
	assert.NotEmpty(t, bp.ID)
	require.NotNil(t, bp.RequestData.PromptSegments)
	assert.Contains(t, bp.RequestData.PromptSegments.System, ai.SchemaDeclinedSentinel)
	assert.Contains(t, bp.RequestData.PromptSegments.User, "morning routines")
	assert.Equal(t, "ChatGPT", bp.RequestData.Provider)

	close(release)
	waitForStatus(t, h, bp.ID, domain.BlueprintStatusCompleted)
}

func TestServiceCreateRejectsEmptyInput(t *testing.T) {
	h := newHarness(t, respondWith(validBlueprintJSON))
	svc := newTestService(t, h, DispatcherOptions{})
	_, err := svc.Create(context.Background(), CreateInput{UserID: "u", Content: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestServiceCreatePersistsJobWhenQueueIsFull(t *testing.T) {
	h := newHarness(t, respondWith(validBlueprintJSON))
	svc := newTestService(t, h, DispatcherOptions{Workers: 1, QueueSize: 1})
	// Not started, so the queue never drains.
	first, err := svc.Create(context.Background(), CreateInput{UserID: "u", Prompt: "one"})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), CreateInput{UserID: "u", Prompt: "two"})
	require.NoError(t, err)

	_, live := h.store.JobForBlueprint(first.ID)
	assert.False(t, live, "queued request needs no job")
	job, live := h.store.JobForBlueprint(second.ID)
	require.True(t, live, "overflow must be persisted for the sweep")
	assert.Zero(t, job.RetryCount)
	assert.Equal(t, "two", job.RequestData.Prompt)
}

func TestServiceRetryPurgesJobsAndResets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, respondWith(validBlueprintJSON))
	svc := newTestService(t, h, DispatcherOptions{Workers: 1, QueueSize: 4})

	req := h.pendingBlueprint(t, "bp")
	require.NoError(t, h.store.MarkFailed(ctx, "bp"))
	stale, err := h.store.CreateJob(ctx, domain.NewJob{BlueprintID: "bp", RequestData: req, RetryCount: 3, NextRetryAt: h.clock.Now()})
	require.NoError(t, err)

	bp, err := svc.Retry(ctx, "user-1", "bp")
	require.NoError(t, err)
	assert.Equal(t, domain.BlueprintStatusPending, bp.Status)
	_, ok := h.store.Job(stale.ID)
	assert.False(t, ok)
	assert.Equal(t, domain.BlueprintStatusPending, h.status(t, "bp"))

	svc.Start(ctx)
	defer svc.Close()
	waitForStatus(t, h, "bp", domain.BlueprintStatusCompleted)
}

func TestServiceRetryRejectsCompleted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, respondWith(validBlueprintJSON))
	svc := newTestService(t, h, DispatcherOptions{})
	h.pendingBlueprint(t, "bp")
	require.NoError(t, h.store.MarkCompleted(ctx, "bp", []byte(`{}`), ai.ProviderOpenAI))

	_, err := svc.Retry(ctx, "user-1", "bp")
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestServiceGetHidesOtherUsers(t *testing.T) {
	h := newHarness(t, respondWith(validBlueprintJSON))
	svc := newTestService(t, h, DispatcherOptions{})
	h.pendingBlueprint(t, "bp")

	_, err := svc.Get(context.Background(), "someone-else", "bp")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	bp, err := svc.Get(context.Background(), "user-1", "bp")
	require.NoError(t, err)
	assert.Equal(t, "bp", bp.ID)
}

func TestServiceRunInitialSchedulesRetry(t *testing.T) {
	h := newHarness(t, failWith(statusErr(503)))
	svc := newTestService(t, h, DispatcherOptions{})
	req := h.pendingBlueprint(t, "bp")

	svc.RunInitial(context.Background(), "bp", req)
	job, live := h.store.JobForBlueprint("bp")
	require.True(t, live)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "http_status")
}
