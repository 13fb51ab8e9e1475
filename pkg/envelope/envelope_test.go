package envelope

import (
	"testing"
)

func TestNew_StampsTimestamp(t *testing.T) {
	env := New("payload", map[string]string{HeaderMethod: "orders.submit"})
	if env.Header(HeaderTimestamp) == "" {
		t.Error("expected timestamp header to be stamped")
	}
	if env.Header(HeaderMethod) != "orders.submit" {
		t.Errorf("expected method header preserved, got %q", env.Header(HeaderMethod))
	}
}

func TestWithHeader_DoesNotMutateOriginal(t *testing.T) {
	env := New(nil, map[string]string{"a": "1"})
	out := env.WithHeader("b", "2")

	if env.Header("b") != "" {
		t.Error("expected original envelope untouched")
	}
	if out.Header("b") != "2" || out.Header("a") != "1" {
		t.Errorf("expected copy to carry both headers, got %v", out.Headers)
	}
}

func TestHeader_NilSafe(t *testing.T) {
	var env *Envelope
	if env.Header(HeaderMethod) != "" {
		t.Error("expected empty header on nil envelope")
	}
}

func TestPayloadBytes_PassesThroughBytes(t *testing.T) {
	raw := []byte(`{"x":1}`)
	env := New(raw, nil)
	data, err := env.PayloadBytes()
	if err != nil {
		t.Fatalf("PayloadBytes failed: %v", err)
	}
	if string(data) != `{"x":1}` {
		t.Errorf("expected raw bytes unchanged, got %s", data)
	}
}

func TestPayloadBytes_MarshalsValues(t *testing.T) {
	env := New(map[string]int{"n": 7}, nil)
	data, err := env.PayloadBytes()
	if err != nil {
		t.Fatalf("PayloadBytes failed: %v", err)
	}
	if string(data) != `{"n":7}` {
		t.Errorf("unexpected JSON: %s", data)
	}
}

func TestMarkError_SetsIndicatorAndChain(t *testing.T) {
	env := New(nil, map[string]string{HeaderMethod: "orders.submit"})
	out := MarkError(env, "VALIDATION", "bad order", CauseEntry{
		Code: "VALIDATION", Message: "bad order",
	}, CauseEntry{Message: "quantity below zero"})

	if !out.IsError() {
		t.Fatal("expected error indicator set")
	}
	if env.IsError() {
		t.Error("expected source envelope untouched")
	}

	causes, err := out.FailureCauses()
	if err != nil {
		t.Fatalf("FailureCauses failed: %v", err)
	}
	if len(causes) != 2 {
		t.Fatalf("expected 2 causes, got %d", len(causes))
	}
	if causes[0].Code != "VALIDATION" || causes[1].Message != "quantity below zero" {
		t.Errorf("unexpected causes: %+v", causes)
	}
}

func TestFailureCauses_FallsBackToHeaders(t *testing.T) {
	env := MarkError(New(nil, nil), "TIMEOUT", "no reply")

	causes, err := env.FailureCauses()
	if err != nil {
		t.Fatalf("FailureCauses failed: %v", err)
	}
	if len(causes) != 1 || causes[0].Code != "TIMEOUT" || causes[0].Message != "no reply" {
		t.Errorf("expected single header-derived cause, got %+v", causes)
	}
}

func TestFailureCauses_RejectsNonErrorEnvelope(t *testing.T) {
	env := New("fine", nil)
	if _, err := env.FailureCauses(); err == nil {
		t.Error("expected error for non-failure envelope")
	}
}
