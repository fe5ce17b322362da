package generation

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/infra"
)

const (
	defaultDispatchWorkers   = 4
	defaultDispatchQueueSize = 64
)

type dispatchTask struct {
	blueprintID string
	req         domain.RequestData
}

// HandlerFunc runs a detached generation cycle.
type HandlerFunc func(ctx context.Context, blueprintID string, req domain.RequestData)

// Dispatcher runs initial attempts off the request path on a fixed pool of
// goroutines. Delivery is best effort: a task still queued when the process
// dies is lost, and only the orphan sweep recovers its blueprint.
type Dispatcher struct {
	handler HandlerFunc
	workers int
	queue   chan dispatchTask
	metrics *Metrics
	logger  infra.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	group   errgroup.Group
}

type DispatcherOptions struct {
	Workers   int
	QueueSize int
	Metrics   *Metrics
	Logger    *infra.Logger
}

func NewDispatcher(handler HandlerFunc, opts DispatcherOptions) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultDispatchWorkers
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultDispatchQueueSize
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Dispatcher{
		handler: handler,
		workers: workers,
		queue:   make(chan dispatchTask, size),
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Start launches the workers. Tasks run with a context detached from ctx's
// cancellation so an in-flight attempt can still settle its outcome.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	base := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.group.Go(func() error {
			for task := range d.queue {
				d.run(base, task)
			}
			return nil
		})
	}
	d.logger.Info().Int("workers", d.workers).Int("queue_size", cap(d.queue)).Msg("dispatcher: started")
}

// Submit queues a task without blocking. It returns domain.ErrQueueFull when
// the queue is saturated or the dispatcher is closed.
func (d *Dispatcher) Submit(blueprintID string, req domain.RequestData) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.observeDispatch("closed")
		return domain.ErrQueueFull
	}
	select {
	case d.queue <- dispatchTask{blueprintID: blueprintID, req: req}:
		d.metrics.observeDispatch("queued")
		return nil
	default:
		d.metrics.observeDispatch("overflow")
		return domain.ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()
	if started {
		_ = d.group.Wait()
	}
	d.logger.Info().Msg("dispatcher: stopped")
}

func (d *Dispatcher) run(ctx context.Context, task dispatchTask) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error().Interface("panic", rec).Str("blueprint_id", task.blueprintID).Msg("dispatcher: task panicked")
		}
	}()
	d.handler(ctx, task.blueprintID, task.req)
}
