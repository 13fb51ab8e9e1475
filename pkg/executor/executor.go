// Package executor provides the task-execution facility backing the
// gateway's asynchronous completion strategies: a bounded worker pool with
// non-blocking submit and an optional completion-notification path.
package executor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const logPrefix = "executor:pool"

// ErrQueueFull is returned when a submit would exceed the task queue.
var ErrQueueFull = errors.New("executor: task queue full")

// ErrStopped is returned when submitting to a stopped pool.
var ErrStopped = errors.New("executor: pool stopped")

// ErrStopTimeout is returned when workers do not drain within the
// shutdown timeout.
var ErrStopTimeout = errors.New("executor: stop timed out")

// Task is one deferred computation.
type Task func()

// Executor submits a deferred computation for eventual execution.
type Executor interface {
	Submit(task Task) error
}

// Notifier is the optional callback-supporting submission path. The
// listenable completion strategy requires it; plain executors need not
// implement it.
type Notifier interface {
	SubmitNotify(task Task, done func()) error
}

// Pool is a fixed-size worker pool over a bounded queue. Submit never
// blocks; a full queue is reported as ErrQueueFull so callers see
// backpressure instead of latency.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool starts workers goroutines over a queue of queueSize tasks.
func NewPool(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &Pool{tasks: make(chan Task, queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues a task without blocking. The enqueue happens under the
// same lock Stop takes before closing the queue, so a submit can never
// race the close.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitNotify enqueues a task and invokes done after it finishes, on the
// worker goroutine that ran it.
func (p *Pool) SubmitNotify(task Task, done func()) error {
	return p.Submit(func() {
		task()
		if done != nil {
			done()
		}
	})
}

// Stop drains queued tasks and waits for workers up to timeout.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error(fmt.Sprintf("%s - worker %d recovered from task panic: %v", logPrefix, id, r))
				}
			}()
			task()
		}()
	}
}
