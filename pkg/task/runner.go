// Package task implements a bounded, cancellable work supervisor:
// run-once and periodic work items share a global cancellation
// token and a concurrency limit, with a periodic reaper logging the
// active-task count and a graceful drain on disposal, per
// spec.md §4.8.
package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	reapInterval = 30 * time.Second
	drainTimeout = 2 * time.Second
)

// Dispatcher marshals a completion callback onto whatever "delivery
// context" a host integration wants — a UI main-thread queue, an
// actor mailbox, or (the default) the worker goroutine itself — the
// same shape as RunOnMainThread in the corpus's hotkey package.
// WithDispatch may replace it at any time; RunAsync and LoopAsync each
// capture the dispatcher current when they are called.
type Dispatcher func(fn func())

// inlineDispatch runs fn synchronously on the calling goroutine; the
// default when no Dispatcher is supplied.
func inlineDispatch(fn func()) { fn() }

// Runner is a bounded-concurrency supervisor for one-shot and
// periodic background work.
type Runner struct {
	sem      *semaphore.Weighted
	logger   *slog.Logger
	dispatch Dispatcher

	rootCtx    context.Context
	cancelRoot context.CancelFunc

	mu       sync.Mutex
	active   map[int64]context.CancelFunc
	nextID   int64
	wg       sync.WaitGroup
	reaperWG sync.WaitGroup

	disposeOnce sync.Once
	disposed    bool
}

// New builds a Runner allowing up to maxConcurrentTasks concurrent
// work items. onComplete/onIteration callbacks run inline on the
// worker goroutine unless WithDispatch configures a different
// delivery context.
func New(maxConcurrentTasks int, logger *slog.Logger) *Runner {
	if maxConcurrentTasks < 1 {
		maxConcurrentTasks = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		sem:        semaphore.NewWeighted(int64(maxConcurrentTasks)),
		logger:     logger,
		dispatch:   inlineDispatch,
		rootCtx:    ctx,
		cancelRoot: cancel,
		active:     make(map[int64]context.CancelFunc),
	}
	r.reaperWG.Add(1)
	go r.reap()
	return r
}

// WithDispatch replaces the Runner's delivery-context dispatcher,
// used for every subsequent onComplete/onIteration callback. Passing
// nil restores inline (synchronous, worker-goroutine) delivery.
// Returns r for chaining at construction time.
func (r *Runner) WithDispatch(d Dispatcher) *Runner {
	if d == nil {
		d = inlineDispatch
	}
	r.mu.Lock()
	r.dispatch = d
	r.mu.Unlock()
	return r
}

func (r *Runner) dispatchFunc() Dispatcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dispatch
}

// Work is the function signature run by RunAsync and LoopAsync.
type Work func(ctx context.Context) error

// RunAsync acquires one permit and runs work(linkedCtx) on a new
// goroutine, where linkedCtx is cancelled when either the runner's
// global token or cancel fires. onComplete, if non-nil, is called
// with work's error (or nil) once it returns.
func (r *Runner) RunAsync(work Work, onComplete func(error), cancel context.Context) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	id := r.nextID
	r.nextID++
	linkedCtx, linkedCancel := r.link(cancel)
	r.active[id] = linkedCancel
	r.mu.Unlock()

	dispatch := r.dispatchFunc()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.remove(id)
		defer linkedCancel()

		if err := r.sem.Acquire(linkedCtx, 1); err != nil {
			if onComplete != nil {
				dispatch(func() { onComplete(err) })
			}
			return
		}
		defer r.sem.Release(1)

		err := runRecovered(linkedCtx, work)
		if onComplete != nil {
			dispatch(func() { onComplete(err) })
		}
	}()
}

// LoopAsync runs work repeatedly with interval between iterations
// until cancel or the runner's global token fires. A non-cancellation
// error from an iteration is passed to onIteration (if non-nil) and
// does not stop the loop.
func (r *Runner) LoopAsync(work Work, interval time.Duration, onIteration func(error), cancel context.Context) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	id := r.nextID
	r.nextID++
	linkedCtx, linkedCancel := r.link(cancel)
	r.active[id] = linkedCancel
	r.mu.Unlock()

	dispatch := r.dispatchFunc()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.remove(id)
		defer linkedCancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-linkedCtx.Done():
				return
			case <-ticker.C:
				if err := r.sem.Acquire(linkedCtx, 1); err != nil {
					return
				}
				err := runRecovered(linkedCtx, work)
				r.sem.Release(1)
				if err != nil && linkedCtx.Err() == nil && onIteration != nil {
					dispatch(func() { onIteration(err) })
				}
			}
		}
	}()
}

func runRecovered(ctx context.Context, work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{recovered: r}
		}
	}()
	return work(ctx)
}

type panicError struct{ recovered any }

func (e *panicError) Error() string { return "task: work panicked" }

// link derives a context cancelled when either r.rootCtx or cancel
// (if non-nil) is done.
func (r *Runner) link(cancel context.Context) (context.Context, context.CancelFunc) {
	if cancel == nil {
		return context.WithCancel(r.rootCtx)
	}
	ctx, ctxCancel := context.WithCancel(r.rootCtx)
	stop := context.AfterFunc(cancel, ctxCancel)
	return ctx, func() {
		stop()
		ctxCancel()
	}
}

func (r *Runner) remove(id int64) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// reap logs the size of the active set every reapInterval until the
// runner is disposed. It removes nothing: entries remove themselves
// when their goroutine returns.
func (r *Runner) reap() {
	defer r.reaperWG.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.rootCtx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			n := len(r.active)
			r.mu.Unlock()
			r.logger.Debug("task runner reaper sweep", "active", n)
		}
	}
}

// CancelAll cancels the runner's global token, propagating to every
// linked task.
func (r *Runner) CancelAll() {
	r.cancelRoot()
}

// WaitForAll blocks until every active task completes or timeout
// elapses, returning false on timeout.
func (r *Runner) WaitForAll(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Dispose cancels the global token, then waits up to drainTimeout for
// active tasks to unwind before returning. Idempotent.
func (r *Runner) Dispose() {
	r.disposeOnce.Do(func() {
		r.mu.Lock()
		r.disposed = true
		r.mu.Unlock()

		r.cancelRoot()
		r.WaitForAll(drainTimeout)
		r.reaperWG.Wait()
	})
}
