package correlator

import (
	"fmt"
	"log/slog"
	"sync"
)

const registryLogPrefix = "correlator:registry"

// Registry is the process-wide table of pending invocations, keyed by
// request identifier. Entries must be registered before the request is
// sent, so a fast reply cannot arrive ahead of its slot.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Slot
}

// NewRegistry creates an empty pending registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*Slot)}
}

// Register creates and records the slot for a request ID.
func (r *Registry) Register(requestID string) *Slot {
	slot := NewSlot()
	r.mu.Lock()
	r.pending[requestID] = slot
	r.mu.Unlock()
	return slot
}

// Resolve removes the entry for requestID and resolves its slot. It reports
// whether a pending slot accepted the result; replies for unknown or
// already-settled requests are dropped with a debug log, never an error.
func (r *Registry) Resolve(requestID string, res Result) bool {
	r.mu.Lock()
	slot, ok := r.pending[requestID]
	delete(r.pending, requestID)
	r.mu.Unlock()

	if !ok {
		slog.Debug(fmt.Sprintf("%s - dropping reply for unknown request %s", registryLogPrefix, requestID))
		return false
	}
	if !slot.Resolve(res) {
		slog.Debug(fmt.Sprintf("%s - dropping late reply for request %s", registryLogPrefix, requestID))
		return false
	}
	return true
}

// Remove drops the entry for requestID without resolving it. Removal is
// idempotent; the waiting side calls it once its await has settled so the
// table stays bounded.
func (r *Registry) Remove(requestID string) {
	r.mu.Lock()
	delete(r.pending, requestID)
	r.mu.Unlock()
}

// Len returns the number of in-flight entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
