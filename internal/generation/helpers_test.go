package generation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Driserq/Convergence-sub001/internal/adapter/memstore"
	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/providers/ai"
)

const validBlueprintJSON = `{
  "title": "Calm mornings",
  "overview": "Build a steady start to the day.",
  "habits": [
    {"name": "Wake at seven", "description": "Fixed wake time", "steps": ["Set alarm", "Open curtains"]}
  ]
}`

type providerFunc struct {
	name string

	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req ai.Request) (*ai.Response, error)
}

func (p *providerFunc) Name() string { return p.name }

func (p *providerFunc) GenerateBlueprint(ctx context.Context, req ai.Request) (*ai.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.fn(ctx, req)
}

func (p *providerFunc) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func respondWith(text string) func(context.Context, ai.Request) (*ai.Response, error) {
	return func(context.Context, ai.Request) (*ai.Response, error) {
		return &ai.Response{RawText: text, Model: "stub-model"}, nil
	}
}

func failWith(err error) func(context.Context, ai.Request) (*ai.Response, error) {
	return func(context.Context, ai.Request) (*ai.Response, error) {
		return nil, err
	}
}

func statusErr(status int) *ai.RequestError {
	return &ai.RequestError{Provider: ai.ProviderOpenAI, StatusCode: status, Code: "http_status", Message: "upstream failure"}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clock     *testClock
	store     *memstore.Store
	provider  *providerFunc
	attempter *Attempter
	scheduler *Scheduler
}

func newHarness(t *testing.T, fn func(context.Context, ai.Request) (*ai.Response, error), opts ...memstore.Option) *harness {
	t.Helper()
	clock := newTestClock()
	store := memstore.New(append([]memstore.Option{memstore.WithClock(clock.Now)}, opts...)...)
	provider := &providerFunc{name: ai.ProviderOpenAI, fn: fn}
	registry := ai.NewRegistry(ai.ProviderOpenAI, ai.Fault{}, provider)
	attempter, err := NewAttempter(AttempterOptions{Registry: registry, Blueprints: store})
	require.NoError(t, err)
	scheduler := NewScheduler(attempter.Attempt, store, store, nil, nil)
	scheduler.now = clock.Now
	return &harness{clock: clock, store: store, provider: provider, attempter: attempter, scheduler: scheduler}
}

func (h *harness) pendingBlueprint(t *testing.T, id string) domain.RequestData {
	t.Helper()
	req := domain.RequestData{Prompt: "turn this talk into habits"}
	require.NoError(t, h.store.CreatePending(context.Background(), &domain.Blueprint{ID: id, UserID: "user-1", RequestData: req}))
	return req
}

func (h *harness) status(t *testing.T, id string) domain.BlueprintStatus {
	t.Helper()
	bp, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return bp.Status
}
