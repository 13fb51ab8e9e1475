package correlator

import (
	"testing"
	"time"

	"github.com/morezero/comms-gateway/pkg/envelope"
)

func TestRegistry_RegisterResolveRemove(t *testing.T) {
	reg := NewRegistry()
	slot := reg.Register("req-1")
	if reg.Len() != 1 {
		t.Fatalf("expected 1 pending entry, got %d", reg.Len())
	}

	env := envelope.New("reply", nil)
	if !reg.Resolve("req-1", Result{Envelope: env}) {
		t.Fatal("expected resolve to hit the pending slot")
	}
	if reg.Len() != 0 {
		t.Errorf("expected entry removed on resolve, got %d pending", reg.Len())
	}

	res, timedOut := slot.Await(time.Second)
	if timedOut || res.Envelope != env {
		t.Errorf("expected slot filled with the reply, got %+v timedOut=%v", res, timedOut)
	}
}

func TestRegistry_UnknownRequestIsDropped(t *testing.T) {
	reg := NewRegistry()
	if reg.Resolve("never-registered", Result{Envelope: envelope.New("stray", nil)}) {
		t.Error("expected stray reply to be dropped")
	}
}

func TestRegistry_LateReplyAfterRemoveIsDropped(t *testing.T) {
	reg := NewRegistry()
	slot := reg.Register("req-2")

	// Waiter gave up and cleaned its entry.
	_, timedOut := slot.Await(time.Millisecond)
	if !timedOut {
		t.Fatal("expected timeout")
	}
	reg.Remove("req-2")

	if reg.Resolve("req-2", Result{Envelope: envelope.New("late", nil)}) {
		t.Error("expected late reply to be dropped after removal")
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	reg.Register("req-3")
	reg.Remove("req-3")
	reg.Remove("req-3")
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestRegistry_ResolveOnExpiredSlotStillRemovesEntry(t *testing.T) {
	reg := NewRegistry()
	slot := reg.Register("req-4")
	_, timedOut := slot.Await(time.Millisecond)
	if !timedOut {
		t.Fatal("expected timeout")
	}

	// The reply loses the race but the table entry must not leak.
	if reg.Resolve("req-4", Result{Envelope: envelope.New("late", nil)}) {
		t.Error("expected resolve on expired slot to report a drop")
	}
	if reg.Len() != 0 {
		t.Errorf("expected entry removed, got %d pending", reg.Len())
	}
}
