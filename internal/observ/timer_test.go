package observ

import (
	"strings"
	"testing"
)

func TestTimer_PhasesInStartOrder(t *testing.T) {
	tm := NewTimer()
	endLink := tm.Start("link")
	endSelf := tm.Start("self")
	endSelf("1234 bytes")
	endLink("")

	r := tm.Report()
	if len(r.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(r.Phases))
	}
	if r.Phases[0].Name != "link" || r.Phases[1].Name != "self" {
		t.Fatalf("unexpected phase order: %+v", r.Phases)
	}
	if r.Phases[1].Note != "1234 bytes" {
		t.Fatalf("note = %q", r.Phases[1].Note)
	}
	if !strings.Contains(r.Summary(), "total") {
		t.Fatalf("summary missing total:\n%s", r.Summary())
	}
}

func TestTimer_NilIsSafe(t *testing.T) {
	var tm *Timer
	tm.Start("x")("note")
	if got := tm.Report(); len(got.Phases) != 0 {
		t.Fatalf("nil timer reported phases: %+v", got)
	}
}
