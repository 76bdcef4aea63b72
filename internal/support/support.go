// Package support embeds the precompiled support fragment that the
// decoration pass links into every module it processes.
package support

import (
	"bytes"
	_ "embed"
	"fmt"
	"strconv"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
)

//go:embed drti_inline.ll
var inlineIR []byte

// Name is the resource name used in parse diagnostics.
const Name = "drti_inline.ll"

// Record type names defined by the fragment.
const (
	TypeReflect     = "struct.drti::reflect"
	TypeLandingSite = "struct.drti::landing_site"
	TypeCallsite    = "struct.drti::static_callsite"
	TypeTreenode    = "struct.drti::treenode"
)

// Hook functions. Landed and CallFrom are defined by the fragment; Caller,
// SetCaller and the runtime entry points are only referenced.
const (
	FuncLanded    = "_drti_landed"
	FuncCallFrom  = "_drti_call_from"
	FuncCaller    = "_drti_caller"
	FuncSetCaller = "_drti_set_caller"
)

const versionPrefix = "; drti-support-version:"

// Source returns a copy of the embedded fragment text.
func Source() []byte {
	return bytes.Clone(inlineIR)
}

// Version returns the version recorded in the fragment header.
func Version() (int, error) {
	line, _, _ := bytes.Cut(inlineIR, []byte("\n"))
	rest, ok := bytes.CutPrefix(line, []byte(versionPrefix))
	if !ok {
		return 0, fmt.Errorf("%s: missing version header", Name)
	}
	v, err := strconv.Atoi(string(bytes.TrimSpace(rest)))
	if err != nil {
		return 0, fmt.Errorf("%s: bad version header: %w", Name, err)
	}
	return v, nil
}

// Parse returns a fresh module for the fragment. Every call parses again
// because linking moves the fragment's definitions into the target module.
func Parse() (*ir.Module, error) {
	return asm.ParseBytes(Name, inlineIR)
}
