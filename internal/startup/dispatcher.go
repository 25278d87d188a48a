package startup

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dshills/codekb/internal/indexer"
)

// Task is background indexing work for one project
type Task func(ctx context.Context) error

type inflight struct {
	lock    indexer.IndexLock
	pending Task
}

// Dispatcher runs at most one task per project root at a time.
// A task dispatched while its project is busy replaces any queued follow-up
// and runs once the current one returns.
type Dispatcher struct {
	ctx    context.Context
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*inflight
	wg    sync.WaitGroup
}

// NewDispatcher creates a Dispatcher whose tasks run under ctx
func NewDispatcher(ctx context.Context, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{ctx: ctx, logger: logger, tasks: make(map[string]*inflight)}
}

// Dispatch starts task for root in the background. It returns false when the
// project was busy and the task was queued as its follow-up instead.
func (d *Dispatcher) Dispatch(root string, task Task) bool {
	d.mu.Lock()
	t, ok := d.tasks[root]
	if !ok {
		t = &inflight{}
		d.tasks[root] = t
	}
	if !t.lock.TryAcquire() {
		t.pending = task
		d.mu.Unlock()
		d.logger.Debug("project busy, coalescing task", slog.String("root", root))
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(root, t, task)
	return true
}

func (d *Dispatcher) run(root string, t *inflight, task Task) {
	defer d.wg.Done()
	for task != nil {
		if err := task(d.ctx); err != nil {
			d.logger.Debug("background task failed",
				slog.String("root", root),
				slog.String("error", err.Error()))
		}

		d.mu.Lock()
		task, t.pending = t.pending, nil
		if task == nil || d.ctx.Err() != nil {
			task = nil
			t.lock.Release()
		}
		d.mu.Unlock()
	}
}

// Busy reports whether a task is running for root
func (d *Dispatcher) Busy(root string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[root]
	return ok && t.lock.Held()
}

// Wait blocks until every dispatched task, follow-ups included, has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
