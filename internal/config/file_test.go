package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Overlay(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[targets]
names = ["foo", "bar"]
file = "targets.txt"

[protocol]
retalign = 32

[trace]
level = "debug"
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := f.InlineTargets(); got != "foo bar" {
		t.Errorf("InlineTargets = %q", got)
	}
	if got := f.TargetsFile(); got != filepath.Join(dir, "targets.txt") {
		t.Errorf("TargetsFile = %q", got)
	}
	p, err := f.ProtocolOrDefault()
	if err != nil {
		t.Fatal(err)
	}
	if p.RetAlign != 32 || p.Magic != DefaultMagic || p.Triple != DefaultTriple {
		t.Errorf("protocol = %+v", p)
	}
	if f.TraceLevel() != "debug" {
		t.Errorf("TraceLevel = %q", f.TraceLevel())
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown_key", body: "[targets]\nnmes = [\"x\"]\n", want: "unknown keys"},
		{name: "zero_retalign", body: "[protocol]\nretalign = 0\n", want: "must be positive"},
		{name: "odd_retalign", body: "[protocol]\nretalign = 12\n", want: "power of two"},
		{name: "same_triples", body: "[protocol]\ndecorated_triple = \"x86_64-unknown-linux-gnu\"\n", want: "must differ"},
		{name: "bad_toml", body: "[targets\n", want: "failed to parse TOML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestFind_WalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[targets]\nnames = [\"foo\"]\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	path, ok, err := Find(nested)
	if err != nil || !ok {
		t.Fatalf("Find: ok=%v err=%v", ok, err)
	}
	if path != filepath.Join(root, FileName) {
		t.Fatalf("path = %q", path)
	}
}

func TestDefaultProtocolValid(t *testing.T) {
	if err := DefaultProtocol().Validate(); err != nil {
		t.Fatal(err)
	}
}
