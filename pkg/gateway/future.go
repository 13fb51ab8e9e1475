package gateway

import (
	"context"
	"sync"
)

// Future is the handle returned by the executor-backed strategy. It settles
// exactly once.
type Future struct {
	mu        sync.Mutex
	settled   bool
	cancelled bool
	value     any
	err       error
	done      chan struct{}
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Get blocks until the future settles or ctx is cancelled.
func (f *Future) Get(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryGet returns the settled result without blocking; ok is false while the
// future is still pending.
func (f *Future) TryGet() (value any, err error, ok bool) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err, true
	default:
		return nil, nil, false
	}
}

// Cancel prevents the task from dispatching if it has not started yet.
// Cancellation after dispatch has no effect on the already-sent request.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.cancelled = true
	f.settled = true
	f.value = nil
	f.err = NewError(CodeCancelled, "invocation cancelled before dispatch")
	f.mu.Unlock()
	close(f.done)
	return true
}

// Cancelled reports whether Cancel won.
func (f *Future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// complete settles the future; the first writer wins.
func (f *Future) complete(value any, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = value
	f.err = err
	f.mu.Unlock()
	close(f.done)
	return true
}

// ListenableFuture is a Future that runs registered callbacks once settled,
// without the caller polling.
type ListenableFuture struct {
	Future

	cbMu      sync.Mutex
	fired     bool
	callbacks []func(any, error)
}

func newListenableFuture() *ListenableFuture {
	return &ListenableFuture{Future: Future{done: make(chan struct{})}}
}

// OnComplete registers a callback. Callbacks registered after settlement
// run immediately on the caller's goroutine.
func (f *ListenableFuture) OnComplete(cb func(value any, err error)) {
	f.cbMu.Lock()
	if !f.fired {
		f.callbacks = append(f.callbacks, cb)
		f.cbMu.Unlock()
		return
	}
	f.cbMu.Unlock()

	value, err, _ := f.TryGet()
	cb(value, err)
}

// fire runs and clears pending callbacks; invoked from the executor's
// notification path after the future settles.
func (f *ListenableFuture) fire() {
	f.cbMu.Lock()
	f.fired = true
	cbs := f.callbacks
	f.callbacks = nil
	f.cbMu.Unlock()

	value, err, ok := f.TryGet()
	if !ok {
		return
	}
	for _, cb := range cbs {
		cb(value, err)
	}
}

// CompletableFuture is the engine's exact completable handle type.
// Completing it on success or failure is the dispatching task's job on the
// eager path; on the deferred path the downstream flow owns it.
type CompletableFuture struct {
	f Future
}

// NewCompletableFuture creates an unsettled handle.
func NewCompletableFuture() *CompletableFuture {
	return &CompletableFuture{f: Future{done: make(chan struct{})}}
}

// Complete settles the handle with a value; the first writer wins.
func (c *CompletableFuture) Complete(value any) bool {
	return c.f.complete(value, nil)
}

// Fail settles the handle with a failure; the first writer wins.
func (c *CompletableFuture) Fail(err error) bool {
	return c.f.complete(nil, err)
}

// Done is closed once the handle settles.
func (c *CompletableFuture) Done() <-chan struct{} { return c.f.done }

// Result blocks until the handle settles.
func (c *CompletableFuture) Result() (any, error) {
	<-c.f.done
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.value, c.f.err
}

// Single is the lazily-subscribed single-value handle. Constructing one
// performs no I/O; each Subscribe triggers exactly one independent
// send+await cycle.
type Single struct {
	run func() (any, error)
}

// Subscribe starts one cycle and delivers its outcome to onResult on a
// fresh goroutine.
func (s *Single) Subscribe(onResult func(value any, err error)) {
	go func() {
		value, err := s.run()
		onResult(value, err)
	}()
}

// Block subscribes and waits for the cycle's outcome on the calling
// goroutine.
func (s *Single) Block() (any, error) {
	return s.run()
}
