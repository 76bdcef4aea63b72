// Package config resolves the inputs of the decoration engine: the set of
// target function names and the platform protocol constants.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrNoTargets is returned when neither the inline list nor the targets
// file name any function. The engine cannot tell a deliberately disabled
// configuration from a broken one, so this is fatal.
var ErrNoTargets = errors.New("no target functions found: set DRTI_TARGET_NAMES and/or DRTI_TARGETS_FILE")

// Targets is an immutable set of target function names.
type Targets struct {
	names map[string]struct{}
	list  []string // sorted
}

// NewTargets builds a set from names, collapsing duplicates.
func NewTargets(names ...string) Targets {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	list := make([]string, 0, len(set))
	for n := range set {
		list = append(list, n)
	}
	sort.Strings(list)
	return Targets{names: set, list: list}
}

// Has reports whether name is a target. Matching is case-sensitive.
func (t Targets) Has(name string) bool {
	_, ok := t.names[name]
	return ok
}

// Len returns the number of distinct names.
func (t Targets) Len() int { return len(t.list) }

// Names returns the names in sorted order.
func (t Targets) Names() []string {
	out := make([]string, len(t.list))
	copy(out, t.list)
	return out
}

// Resolve builds the target set from a whitespace-separated inline list and
// an optional whitespace-separated file. An empty union yields ErrNoTargets.
func Resolve(inline, file string) (Targets, error) {
	names := strings.Fields(inline)
	if file != "" {
		fromFile, err := readTargetsFile(file)
		if err != nil {
			return Targets{}, err
		}
		names = append(names, fromFile...)
	}
	targets := NewTargets(names...)
	if targets.Len() == 0 {
		return Targets{}, ErrNoTargets
	}
	return targets, nil
}

func readTargetsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		names = append(names, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return names, nil
}
