// Package manifest reads and writes the sidecar file that records what a
// decoration run did to one module.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"

	"drti/internal/decorate"
	"drti/internal/observ"
	"drti/internal/version"
)

// SchemaVersion is bumped whenever Manifest changes shape.
const SchemaVersion uint16 = 1

// Ext is appended to the decorated module's path to name its manifest.
const Ext = ".drti"

var (
	// ErrSchema is returned for a manifest written by an incompatible tool.
	ErrSchema = errors.New("unsupported manifest schema")
	// ErrDigest is returned when a snapshot does not match the manifest.
	ErrDigest = errors.New("snapshot digest mismatch")
)

// Manifest describes one decorated module.
type Manifest struct {
	Schema         uint16    `json:"schema" msgpack:"schema"`
	Tool           string    `json:"tool" msgpack:"tool"`
	SupportVersion int       `json:"support_version" msgpack:"support_version"`
	CreatedAt      time.Time `json:"created_at" msgpack:"created_at"`

	Input  string `json:"input" msgpack:"input"`
	Output string `json:"output,omitempty" msgpack:"output,omitempty"`
	Triple string `json:"triple" msgpack:"triple"`
	Status string `json:"status" msgpack:"status"`

	Targets []string `json:"targets" msgpack:"targets"`
	Globals []string `json:"globals" msgpack:"globals"`

	SnapshotSize   uint64 `json:"snapshot_size" msgpack:"snapshot_size"`
	SnapshotDigest uint64 `json:"snapshot_xxh3" msgpack:"snapshot_xxh3"`

	Landings  []decorate.Landing  `json:"landings" msgpack:"landings"`
	Callsites []decorate.Callsite `json:"callsites" msgpack:"callsites"`

	Timings observ.Report `json:"timings" msgpack:"timings"`
}

// New builds the manifest for a finished run over input.
func New(input string, res decorate.Result) *Manifest {
	return &Manifest{
		Schema:         SchemaVersion,
		Tool:           version.Version,
		SupportVersion: version.SupportVersion,
		CreatedAt:      time.Now().UTC(),
		Input:          input,
		Triple:         res.Triple,
		Status:         res.Status.String(),
		Targets:        res.Targets,
		Globals:        res.Globals,
		SnapshotSize:   uint64(len(res.Snapshot)),
		SnapshotDigest: Digest(res.Snapshot),
		Landings:       res.Landings,
		Callsites:      res.Callsites,
		Timings:        res.Timings,
	}
}

// Digest hashes a snapshot.
func Digest(snapshot []byte) uint64 {
	return xxh3.Hash(snapshot)
}

// VerifySnapshot checks snapshot against the recorded size and digest.
func (m *Manifest) VerifySnapshot(snapshot []byte) error {
	if uint64(len(snapshot)) != m.SnapshotSize {
		return fmt.Errorf("%w: size %d, recorded %d", ErrDigest, len(snapshot), m.SnapshotSize)
	}
	if got := Digest(snapshot); got != m.SnapshotDigest {
		return fmt.Errorf("%w: %016x, recorded %016x", ErrDigest, got, m.SnapshotDigest)
	}
	return nil
}

// PathFor returns the manifest path for a decorated module path.
func PathFor(modulePath string) string {
	return modulePath + Ext
}

// Write stores m at path, replacing any previous file atomically.
func Write(path string, m *Manifest) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".drti-manifest-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err := msgpack.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Read loads the manifest at path and checks its schema.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if m.Schema != SchemaVersion {
		return nil, fmt.Errorf("%s: %w %d (want %d)", path, ErrSchema, m.Schema, SchemaVersion)
	}
	return &m, nil
}
