package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Detached runs side effects outside the request lifecycle. Task errors (and panics) are logged
// and never propagated back to the caller. The errgroup only bounds concurrency: tasks always
// return nil to it, so one failure never cancels the others.
type Detached struct {
	log     *zap.Logger
	timeout time.Duration

	group      errgroup.Group
	queue      chan detachedTask
	dispatched chan struct{}

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

type detachedTask struct {
	name string
	fn   func(ctx context.Context) error
}

// NewDetached runs at most `workers` tasks at once; up to `queueSize` more wait their turn.
func NewDetached(log *zap.Logger, workers, queueSize int, timeout time.Duration) *Detached {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	d := &Detached{
		log:        log,
		timeout:    timeout,
		queue:      make(chan detachedTask, queueSize),
		dispatched: make(chan struct{}),
	}
	d.group.SetLimit(workers)
	go d.dispatch()
	return d
}

// Go schedules fn and returns immediately. When every worker is busy the task is queued; a full
// queue spills onto a goroutine that waits for a free worker instead of blocking the caller.
func (d *Detached) Go(name string, fn func(ctx context.Context) error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("detached task dropped after shutdown", zap.String("task", name))
		return
	}

	d.pending.Add(1)
	t := detachedTask{name: name, fn: fn}
	if d.group.TryGo(d.runner(t)) {
		return
	}
	select {
	case d.queue <- t:
	default:
		go d.group.Go(d.runner(t))
	}
}

// Wait blocks until every task scheduled so far has finished and its error (if any) was logged.
func (d *Detached) Wait() {
	d.pending.Wait()
}

// Close waits for in-flight tasks, then stops the dispatcher. Later Go calls are dropped.
func (d *Detached) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.pending.Wait()
	close(d.queue)
	<-d.dispatched
	_ = d.group.Wait()
}

func (d *Detached) dispatch() {
	defer close(d.dispatched)
	for t := range d.queue {
		d.group.Go(d.runner(t))
	}
}

func (d *Detached) runner(t detachedTask) func() error {
	return func() error {
		defer d.pending.Done()
		if err := d.run(t); err != nil {
			d.log.Error("detached task failed", zap.String("task", t.name), zap.Error(err))
		}
		return nil
	}
}

func (d *Detached) run(t detachedTask) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(ctx)
}
