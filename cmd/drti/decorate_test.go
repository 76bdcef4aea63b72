package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/llir/llvm/asm"

	"drti/internal/config"
	"drti/internal/decorate"
	"drti/internal/manifest"
	"drti/internal/pipeline"
)

const fooBar = `target triple = "x86_64-unknown-linux-gnu"

define void @bar() {
entry:
  ret void
}

define void @foo() {
entry:
  call void @bar()
  ret void
}
`

func TestDefaultOutputPath(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"mod.ll", "mod.drti.ll"},
		{filepath.Join("a", "b.c.ll"), filepath.Join("a", "b.c.drti.ll")},
		{"plain", "plain.drti"},
	}
	for _, tc := range cases {
		if got := defaultOutputPath(tc.input); got != tc.want {
			t.Fatalf("defaultOutputPath(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestDecorateFile_WritesModuleAndManifest(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "mod.ll")
	if err := os.WriteFile(in, []byte(fooBar), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	out := defaultOutputPath(in)

	pass, err := decorate.New(decorate.Config{Targets: config.NewTargets("foo", "bar")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := decorateFile(context.Background(), pass, in, out, nil)
	if err != nil {
		t.Fatalf("decorateFile: %v", err)
	}
	if res.Status != decorate.StatusDecorated {
		t.Fatalf("status = %s, want decorated", res.Status)
	}

	m, err := asm.ParseFile(out)
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if m.TargetTriple != config.DefaultDecoratedTriple {
		t.Fatalf("output triple = %q", m.TargetTriple)
	}

	man, err := manifest.Read(manifest.PathFor(out))
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if man.Input != in || man.Output != out || len(man.Callsites) != 1 {
		t.Fatalf("manifest = %+v", man)
	}

	snap, err := decorate.Snapshot(m)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := checkSnapshot(out, snap); err != nil {
		t.Fatalf("checkSnapshot: %v", err)
	}
	if err := checkSnapshot(out, append(snap, ' ')); err == nil {
		t.Fatalf("checkSnapshot accepted a modified snapshot")
	}
}

func TestDecorateFile_SkippedWritesNoManifest(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "other.ll")
	src := "target triple = \"aarch64-unknown-linux-gnu\"\n\ndefine void @foo() {\nentry:\n  ret void\n}\n"
	if err := os.WriteFile(in, []byte(src), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	out := defaultOutputPath(in)

	pass, err := decorate.New(decorate.Config{Targets: config.NewTargets("foo")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := decorateFile(context.Background(), pass, in, out, nil)
	if err != nil {
		t.Fatalf("decorateFile: %v", err)
	}
	if res.Status != decorate.StatusSkippedTriple {
		t.Fatalf("status = %s, want skipped-triple", res.Status)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if _, err := os.Stat(manifest.PathFor(out)); !os.IsNotExist(err) {
		t.Fatalf("manifest written for a skipped module (err=%v)", err)
	}
}

func TestDecorateBatch_ReportsProgress(t *testing.T) {
	dir := t.TempDir()
	var jobs []*decorateJob
	for _, name := range []string{"one.ll", "two.ll", "three.ll"} {
		in := filepath.Join(dir, name)
		if err := os.WriteFile(in, []byte(fooBar), 0o600); err != nil {
			t.Fatalf("write input: %v", err)
		}
		jobs = append(jobs, &decorateJob{input: in, output: defaultOutputPath(in)})
	}
	pass, err := decorate.New(decorate.Config{Targets: config.NewTargets("foo", "bar")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var mu sync.Mutex
	final := make(map[string]pipeline.Event)
	stages := make(map[string][]string)
	sink := pipeline.SinkFunc(func(ev pipeline.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Status {
		case pipeline.StatusDone, pipeline.StatusError:
			final[ev.File] = ev
		case pipeline.StatusWorking:
			stages[ev.File] = append(stages[ev.File], string(ev.Stage))
		}
	})
	if err := decorateBatch(context.Background(), pass, jobs, 2, sink); err != nil {
		t.Fatalf("decorateBatch: %v", err)
	}

	for _, job := range jobs {
		if job.err != nil || job.result.Status != decorate.StatusDecorated {
			t.Fatalf("%s: status=%s err=%v", job.input, job.result.Status, job.err)
		}
		ev, ok := final[job.input]
		if !ok || ev.Status != pipeline.StatusDone || ev.Detail != "decorated" {
			t.Fatalf("%s: final event %+v", job.input, ev)
		}
		if got := strings.Join(stages[job.input], ","); got != "parse,decorate,verify,write" {
			t.Fatalf("%s: stages %s", job.input, got)
		}
	}
}

func TestDecorateBatch_ParseErrorIsReported(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "broken.ll")
	if err := os.WriteFile(in, []byte("define void @f( {"), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	pass, err := decorate.New(decorate.Config{Targets: config.NewTargets("f")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var got []pipeline.Event
	var mu sync.Mutex
	sink := pipeline.SinkFunc(func(ev pipeline.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	jobs := []*decorateJob{{input: in, output: defaultOutputPath(in)}}
	if err := decorateBatch(context.Background(), pass, jobs, 1, sink); err == nil {
		t.Fatal("expected parse error")
	}
	last := got[len(got)-1]
	if last.Status != pipeline.StatusError || last.Stage != pipeline.StageParse || last.Err == nil {
		t.Fatalf("last event = %+v", last)
	}
}
