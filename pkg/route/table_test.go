package route

import "testing"

func TestParseTargetRef(t *testing.T) {
	ref, err := ParseTargetRef("orders.submit@^2.1.0")
	if err != nil {
		t.Fatalf("ParseTargetRef failed: %v", err)
	}
	if ref.App != "orders" || ref.Name != "submit" || ref.Range != "^2.1.0" {
		t.Errorf("unexpected parse: %+v", ref)
	}
}

func TestParseTargetRef_DottedName(t *testing.T) {
	ref, err := ParseTargetRef("billing.invoice.create@3")
	if err != nil {
		t.Fatalf("ParseTargetRef failed: %v", err)
	}
	if ref.App != "billing" || ref.Name != "invoice.create" {
		t.Errorf("unexpected parse: %+v", ref)
	}
}

func TestParseTargetRef_Invalid(t *testing.T) {
	for _, input := range []string{"no-at-sign", "@2", "noapp@2", "UPPER.name@1", "app.@2"} {
		if _, err := ParseTargetRef(input); err == nil {
			t.Errorf("expected parse error for %q", input)
		}
	}
}

func TestIsVersionedRef(t *testing.T) {
	if IsVersionedRef("cap.orders.submit.v2") {
		t.Error("literal subject must not look versioned")
	}
	if !IsVersionedRef("orders.submit@2") {
		t.Error("expected versioned reference")
	}
}

func TestTable_LiteralSubjectPassesThrough(t *testing.T) {
	table := NewTable()
	resolved, err := table.Resolve("cap.orders.submit.v2")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Subject != "cap.orders.submit.v2" {
		t.Errorf("expected literal pass-through, got %q", resolved.Subject)
	}
}

func TestTable_ResolveCaretRange(t *testing.T) {
	table := NewTable()
	table.Add("orders", "submit", Version{Major: 1, Minor: 9, Patch: 0})
	table.Add("orders", "submit", Version{Major: 2, Minor: 1, Patch: 3})
	table.Add("orders", "submit", Version{Major: 2, Minor: 4, Patch: 0})
	table.Add("orders", "submit", Version{Major: 3, Minor: 0, Patch: 0})

	resolved, err := table.Resolve("orders.submit@^2.1.0")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Version.String() != "2.4.0" {
		t.Errorf("expected 2.4.0, got %s", resolved.Version)
	}
	if resolved.Subject != "cap.orders.submit.v2" {
		t.Errorf("unexpected subject %q", resolved.Subject)
	}
}

func TestTable_ResolveMajorOnly(t *testing.T) {
	table := NewTable()
	table.Add("orders", "submit", Version{Major: 2, Minor: 0, Patch: 1})
	table.Add("orders", "submit", Version{Major: 2, Minor: 3, Patch: 0})
	table.Add("orders", "submit", Version{Major: 3, Minor: 0, Patch: 0})

	resolved, err := table.Resolve("orders.submit@2")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Version.String() != "2.3.0" {
		t.Errorf("expected latest within major 2, got %s", resolved.Version)
	}
}

func TestTable_EmptyRangeTakesLatestActive(t *testing.T) {
	table := NewTable()
	table.Add("orders", "submit", Version{Major: 2, Minor: 0, Patch: 0})
	table.Add("orders", "submit", Version{Major: 3, Minor: 0, Patch: 0, Status: "deprecated"})

	resolved, err := table.Resolve("orders.submit@")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Version.String() != "2.0.0" {
		t.Errorf("expected latest active over newer deprecated, got %s", resolved.Version)
	}
}

func TestTable_DisabledVersionsNeverResolve(t *testing.T) {
	table := NewTable()
	table.Add("orders", "submit", Version{Major: 2, Minor: 0, Patch: 0, Status: "disabled"})

	if _, err := table.Resolve("orders.submit@2"); err == nil {
		t.Error("expected no match when the only version is disabled")
	}
}

func TestTable_NoMatchIsError(t *testing.T) {
	table := NewTable()
	table.Add("orders", "submit", Version{Major: 1, Minor: 0, Patch: 0})

	if _, err := table.Resolve("orders.submit@^5.0.0"); err == nil {
		t.Error("expected resolve error for unsatisfiable range")
	}
	if _, err := table.Resolve("billing.pay@1"); err == nil {
		t.Error("expected resolve error for unknown service")
	}
}

func TestTable_ReleasePreferredOverPrerelease(t *testing.T) {
	table := NewTable()
	table.Add("orders", "submit", Version{Major: 2, Minor: 1, Patch: 0, Prerelease: "rc.1"})
	table.Add("orders", "submit", Version{Major: 2, Minor: 1, Patch: 0})

	resolved, err := table.Resolve("orders.submit@2")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Version.Prerelease != "" {
		t.Errorf("expected release build, got %s", resolved.Version)
	}
}
