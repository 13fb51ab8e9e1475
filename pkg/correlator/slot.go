// Package correlator associates one in-flight invocation with its private
// reply destination and resolves it exactly once, by value or by failure.
package correlator

import (
	"sync"
	"time"

	"github.com/morezero/comms-gateway/pkg/envelope"
)

// State is the lifecycle state of a reply slot.
type State int32

const (
	// StateEmpty means no reply has arrived and no timeout has fired.
	StateEmpty State = iota
	// StateFilled means the first writer resolved the slot.
	StateFilled
	// StateExpired means the waiter's timeout elapsed first. Only the
	// timeout path reaches this state; late writers are discarded.
	StateExpired
)

// Result is what a slot resolves to: a reply envelope or a failure.
type Result struct {
	Envelope *envelope.Envelope
	Err      error
}

// Slot is a single-producer, single-consumer rendezvous cell bound to one
// invocation's reply destination. The first Resolve wins; later writers
// are silently dropped.
type Slot struct {
	mu    sync.Mutex
	state State
	res   Result
	done  chan struct{}
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{done: make(chan struct{})}
}

// State returns the slot's current state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Resolve transitions EMPTY -> FILLED and wakes the waiter. It reports
// whether this call was the winning writer; calls on an already FILLED or
// EXPIRED slot are no-ops.
func (s *Slot) Resolve(res Result) bool {
	s.mu.Lock()
	if s.state != StateEmpty {
		s.mu.Unlock()
		return false
	}
	s.state = StateFilled
	s.res = res
	s.mu.Unlock()
	close(s.done)
	return true
}

// Await blocks until the slot is resolved or timeout elapses. A timeout of
// zero or below waits without bound; that is the default and callers must
// opt into bounded waits. The clock starts when Await begins, not when the
// request was sent. Returns timedOut=true only when the wait expired, in
// which case the slot is EXPIRED and any later Resolve is discarded.
func (s *Slot) Await(timeout time.Duration) (Result, bool) {
	if timeout <= 0 {
		<-s.done
		return s.result(), false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return s.result(), false
	case <-timer.C:
		s.mu.Lock()
		if s.state == StateFilled {
			// Resolve won the race at expiry; honor the fill.
			s.mu.Unlock()
			return s.result(), false
		}
		s.state = StateExpired
		s.mu.Unlock()
		return Result{}, true
	}
}

func (s *Slot) result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}
