package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"

	"drti/internal/pipeline"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short.ll", 20); got != "short.ll" {
		t.Fatalf("short value changed: %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Fatalf("narrow truncate = %q", got)
	}
	for _, in := range []string{"a/very/long/path/module.ll", "模块模块模块模块.ll"} {
		got := Truncate(in, 12)
		if runewidth.StringWidth(got) > 12 || !strings.HasSuffix(got, "...") {
			t.Fatalf("Truncate(%q, 12) = %q", in, got)
		}
		if !strings.HasPrefix(in, strings.TrimSuffix(got, "...")) {
			t.Fatalf("Truncate(%q, 12) = %q is not a prefix", in, got)
		}
	}
}

func TestProgressModel_TracksModules(t *testing.T) {
	events := make(chan pipeline.Event)
	m := NewProgressModel("decorating", []string{"a.ll", "b.ll"}, events).(*progressModel)

	m.applyEvent(pipeline.Event{File: "a.ll", Stage: pipeline.StageDecorate, Status: pipeline.StatusWorking})
	if m.items[0].status != "decorating" {
		t.Fatalf("a.ll status = %q", m.items[0].status)
	}
	m.applyEvent(pipeline.Event{File: "a.ll", Stage: pipeline.StageWrite, Status: pipeline.StatusDone, Detail: "decorated"})
	m.applyEvent(pipeline.Event{File: "b.ll", Stage: pipeline.StageParse, Status: pipeline.StatusError, Err: errors.New("bad")})
	m.applyEvent(pipeline.Event{File: "unknown.ll", Status: pipeline.StatusDone})

	if got := m.fraction(); got != 1.0 {
		t.Fatalf("fraction = %v, want 1", got)
	}
	view := m.View()
	for _, want := range []string{"decorated", "error", "a.ll", "b.ll"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view lacks %q:\n%s", want, view)
		}
	}
}
