package capture

import (
	"testing"
	"time"
)

func TestRegistry_LiveSetKeepsOrder(t *testing.T) {
	r := NewRegistry(8 * time.Second)
	a, b, c := &Process{trackID: "a"}, &Process{trackID: "b"}, &Process{trackID: "c"}

	for _, p := range []*Process{a, b, c} {
		if !r.Add(p) {
			t.Fatalf("Add(%s) returned false", p.trackID)
		}
	}
	if r.Add(b) {
		t.Error("Adding a live process twice should report false")
	}

	if !r.Remove(b) {
		t.Error("Expected Remove to report true")
	}
	if r.Remove(b) {
		t.Error("Second Remove should report false")
	}

	live := r.Live()
	if len(live) != 2 || live[0] != a || live[1] != c {
		t.Errorf("Unexpected live set %v", live)
	}
}

func TestRegistry_MarkCapturedRespectsMinimum(t *testing.T) {
	r := NewRegistry(8 * time.Second)

	if r.MarkCaptured("short", "Short", 3*time.Second) {
		t.Error("Capture under the minimum must not be recorded")
	}
	if r.Contains("short") {
		t.Error("Short capture should not be contained")
	}

	if !r.MarkCaptured("long", "Long", 8*time.Second) {
		t.Error("Capture at the minimum should be recorded")
	}
	if !r.Contains("long") {
		t.Error("Expected long capture to be contained")
	}

	captured := r.Captured()
	captured["other"] = "mutated"
	if r.Contains("other") {
		t.Error("Captured must return a copy")
	}
}
