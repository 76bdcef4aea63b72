package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up from the working directory
// upwards.
const FileName = "drti.toml"

// File mirrors drti.toml.
type File struct {
	Targets  targetsSection  `toml:"targets"`
	Protocol protocolSection `toml:"protocol"`
	Trace    traceSection    `toml:"trace"`

	// Path is where the file was loaded from.
	Path string `toml:"-"`
}

type targetsSection struct {
	Names []string `toml:"names"`
	File  string   `toml:"file"`
}

type protocolSection struct {
	RetAlign        uint64 `toml:"retalign"`
	Magic           uint64 `toml:"magic"`
	Triple          string `toml:"triple"`
	DecoratedTriple string `toml:"decorated_triple"`
}

type traceSection struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
}

// Find walks from startDir to the filesystem root looking for drti.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// Load parses and validates a drti.toml file.
func Load(path string) (*File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("protocol", "retalign") && f.Protocol.RetAlign == 0 {
		return nil, fmt.Errorf("%s: [protocol].retalign must be positive", path)
	}
	if f.Targets.File != "" && !filepath.IsAbs(f.Targets.File) {
		f.Targets.File = filepath.Join(filepath.Dir(path), f.Targets.File)
	}
	f.Path = path
	if _, err := f.ProtocolOrDefault(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// ProtocolOrDefault overlays the [protocol] section on DefaultProtocol.
func (f *File) ProtocolOrDefault() (Protocol, error) {
	p := DefaultProtocol()
	if f == nil {
		return p, nil
	}
	if f.Protocol.RetAlign != 0 {
		p.RetAlign = f.Protocol.RetAlign
	}
	if f.Protocol.Magic != 0 {
		p.Magic = f.Protocol.Magic
	}
	if f.Protocol.Triple != "" {
		p.Triple = f.Protocol.Triple
	}
	if f.Protocol.DecoratedTriple != "" {
		p.DecoratedTriple = f.Protocol.DecoratedTriple
	}
	return p, p.Validate()
}

// InlineTargets returns [targets].names joined for Resolve.
func (f *File) InlineTargets() string {
	if f == nil {
		return ""
	}
	return strings.Join(f.Targets.Names, " ")
}

// TargetsFile returns [targets].file resolved against the config directory.
func (f *File) TargetsFile() string {
	if f == nil {
		return ""
	}
	return f.Targets.File
}

// TraceLevel returns [trace].level.
func (f *File) TraceLevel() string {
	if f == nil {
		return ""
	}
	return f.Trace.Level
}
