// Package eventloop runs tasks one at a time on a single goroutine. Relay
// dispatch, transport callbacks and completions of asynchronous work are all
// posted here, so session state never needs a lock.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/gammazero/deque"
	"github.com/gammazero/workerpool"

	"github.com/1ureka/peercall/internal/util"
)

// ErrStopped is returned by Call once the loop has stopped.
var ErrStopped = errors.New("eventloop: stopped")

// Loop is a single-threaded cooperative scheduler with an attached worker
// pool for blocking work.
type Loop struct {
	mu      sync.Mutex
	tasks   deque.Deque[func()]
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	stopOnce sync.Once
	pool     *workerpool.WorkerPool
}

// New creates a loop whose blocking work runs on up to workers goroutines.
func New(workers int) *Loop {
	if workers < 1 {
		workers = 1
	}
	return &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		pool: workerpool.New(workers),
	}
}

// Post schedules fn to run on the loop after every task posted before it.
// It never blocks. It reports false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks.PushBack(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Go runs blocking work on the worker pool. The work must hand results back
// with Post.
func (l *Loop) Go(work func()) {
	l.pool.Submit(work)
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is cancelled or Stop is called. Tasks still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.tasks.Clear()
		l.mu.Unlock()
		l.pool.StopWait()
		close(l.done)
	}()

	for {
		for {
			l.mu.Lock()
			if l.tasks.Len() == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.tasks.PopFront()
			l.mu.Unlock()
			l.exec(fn)

			select {
			case <-l.quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		select {
		case <-l.wake:
		case <-l.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop makes Run return after the current task.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// exec runs one task; a panicking task is logged and the loop keeps going.
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			util.LogError("event loop task panicked: %v", fmt.Sprint(r))
			util.LogDebug("%s", debug.Stack())
		}
	}()
	fn()
}
