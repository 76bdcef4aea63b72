package decorate

import (
	"errors"
	"fmt"
	"strings"

	"fortio.org/safecast"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"

	"drti/internal/trace"
)

const (
	bitcodeGlobal = "__drti_bitcode"
	globalsGlobal = "__drti_globals"
	selfGlobal    = "__drti_self"
)

// collectGlobals lists the symbols whose addresses the runtime needs to
// rebuild the snapshot: every global variable except the llvm.* ones, then
// every non-intrinsic function declaration. Function definitions lose
// noinline and optnone on the way so the snapshot stays optimizable.
//
// The runtime resolves the table by position, so this order must match
// its own walk over the re-parsed snapshot.
func (d *decorator) collectGlobals() []constant.Constant {
	var out []constant.Constant
	for _, g := range d.module.Globals {
		if strings.HasPrefix(g.Name(), "llvm.") {
			continue
		}
		trace.Pointf(d.tracer, trace.ScopeFunction, "extern", "noting extern %s", g.Name())
		out = append(out, g)
		d.globalNames = append(d.globalNames, g.Name())
	}
	for _, f := range d.module.Funcs {
		switch {
		case isIntrinsic(f):
		case len(f.Blocks) == 0:
			trace.Pointf(d.tracer, trace.ScopeFunction, "extern", "noting extern %s", f.Name())
			out = append(out, f)
			d.globalNames = append(d.globalNames, f.Name())
		default:
			stripNoOptimize(f)
		}
	}
	return out
}

func isIntrinsic(f *ir.Func) bool {
	return strings.HasPrefix(f.Name(), "llvm.")
}

func isNoOptimize(a ir.FuncAttribute) bool {
	attr, ok := a.(enum.FuncAttr)
	return ok && (attr == enum.FuncAttrNoInline || attr == enum.FuncAttrOptNone)
}

// stripNoOptimize removes noinline and optnone from f. A referenced
// attribute group carrying either is flattened into f's own list.
func stripNoOptimize(f *ir.Func) {
	attrs := make([]ir.FuncAttribute, 0, len(f.FuncAttrs))
	for _, a := range f.FuncAttrs {
		if isNoOptimize(a) {
			continue
		}
		if group, ok := a.(*ir.AttrGroupDef); ok && groupHasNoOptimize(group) {
			for _, ga := range group.FuncAttrs {
				if !isNoOptimize(ga) {
					attrs = append(attrs, ga)
				}
			}
			continue
		}
		attrs = append(attrs, a)
	}
	f.FuncAttrs = attrs
}

func groupHasNoOptimize(g *ir.AttrGroupDef) bool {
	for _, a := range g.FuncAttrs {
		if isNoOptimize(a) {
			return true
		}
	}
	return false
}

// createSelf embeds the module's current text and its address table, and
// creates the reflect record every landing site points at. It runs after
// the support link and before any instrumentation, so the snapshot
// numbers calls exactly as collectCalls does.
func (d *decorator) createSelf() error {
	externs := d.collectGlobals()

	d.snapshot = []byte(d.module.String())
	snapshotSize, err := safecast.Conv[int64](len(d.snapshot))
	if err != nil {
		return fmt.Errorf("snapshot size: %w", err)
	}
	externCount, err := safecast.Conv[int64](len(externs))
	if err != nil {
		return fmt.Errorf("address table size: %w", err)
	}

	d.globals = newGlobalNamer(d.module)

	blob := d.module.NewGlobalDef(d.globals.unique(bitcodeGlobal), constant.NewCharArray(d.snapshot))
	blob.Immutable = true
	blob.Linkage = enum.LinkageInternal

	addrs := make([]constant.Constant, len(externs))
	for i, e := range externs {
		addrs[i] = constant.NewBitCast(e, types.I8Ptr)
	}
	tableType := types.NewArray(uint64(len(addrs)), types.I8Ptr)
	var table constant.Constant = constant.NewArray(tableType, addrs...)
	if len(addrs) == 0 {
		table = constant.NewZeroInitializer(tableType)
	}
	globals := d.module.NewGlobalDef(d.globals.unique(globalsGlobal), table)
	globals.Immutable = true
	globals.Linkage = enum.LinkageInternal

	self := constant.NewStruct(d.helpers.reflect,
		constant.NewBitCast(blob, types.I8Ptr),
		constant.NewInt(types.I64, snapshotSize),
		constant.NewBitCast(globals, types.NewPointer(types.I8Ptr)),
		constant.NewInt(types.I64, externCount),
	)
	d.reflect = d.module.NewGlobalDef(d.globals.unique(selfGlobal), self)
	d.reflect.Immutable = true
	d.reflect.Linkage = enum.LinkageInternal

	trace.Pointf(d.tracer, trace.ScopePass, "self", "inserted %s of size %d", d.reflect.Name(), len(d.snapshot))
	return nil
}

// ErrNoSnapshot is returned by Snapshot for modules the pass has not
// decorated.
var ErrNoSnapshot = errors.New("module carries no drti snapshot")

// Snapshot returns the module text embedded in a decorated module. It
// follows the reflect record to the snapshot blob, so uniqued names are
// found as well.
func Snapshot(m *ir.Module) ([]byte, error) {
	for _, g := range m.Globals {
		if g.Name() != selfGlobal && !strings.HasPrefix(g.Name(), selfGlobal+".") {
			continue
		}
		rec, ok := g.Init.(*constant.Struct)
		if !ok || len(rec.Fields) != 4 {
			continue
		}
		cast, ok := rec.Fields[0].(*constant.ExprBitCast)
		if !ok {
			continue
		}
		blob, ok := cast.From.(*ir.Global)
		if !ok {
			continue
		}
		if data, ok := blob.Init.(*constant.CharArray); ok {
			return data.X, nil
		}
	}
	return nil, ErrNoSnapshot
}
