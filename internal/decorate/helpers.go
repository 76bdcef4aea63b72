package decorate

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"drti/internal/irlink"
	"drti/internal/layout"
	"drti/internal/support"
	"drti/internal/trace"
)

// helpers are the support fragment's types and hooks, looked up by name in
// the linked module.
type helpers struct {
	landingSite *types.StructType
	callsite    *types.StructType
	treenode    *types.StructType
	reflect     *types.StructType
	landed      *ir.Func
	callFrom    *ir.Func
}

// addHelpers links the support fragment into the module. A fragment that
// does not parse is fatal; a failed link is returned as linkErr and leaves
// the module untouched.
func (d *decorator) addHelpers() (linkErr, err error) {
	frag, err := support.Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSupportCorrupt, err)
	}
	rep, err := irlink.Link(d.module, frag)
	if err != nil {
		return err, nil
	}
	trace.Pointf(d.tracer, trace.ScopePass, "link",
		"linked %s: %d types, %d globals, %d functions, %d resolved",
		support.Name, len(rep.AddedTypes), len(rep.AddedGlobals), len(rep.AddedFuncs), len(rep.Resolved))
	return nil, nil
}

// lookupHelpers finds the records and hooks the pass builds on and checks
// the record layouts. A zero status means everything is usable.
func (d *decorator) lookupHelpers() (Status, error) {
	named := make(map[string]*types.StructType)
	for _, t := range d.module.TypeDefs {
		if st, ok := t.(*types.StructType); ok {
			named[st.Name()] = st
		}
	}
	h := helpers{
		landingSite: named[support.TypeLandingSite],
		callsite:    named[support.TypeCallsite],
		treenode:    named[support.TypeTreenode],
		reflect:     named[support.TypeReflect],
		landed:      d.findFunc(support.FuncLanded),
		callFrom:    d.findFunc(support.FuncCallFrom),
	}
	if h.landingSite == nil || h.callsite == nil || h.treenode == nil || h.reflect == nil {
		trace.Point(d.tracer, trace.ScopePass, "helpers", "type(s) not found in module")
		return StatusHelpersMissing, nil
	}
	if h.landed == nil || h.callFrom == nil {
		trace.Point(d.tracer, trace.ScopePass, "helpers", "support function(s) not found in module")
		return StatusHelpersMissing, nil
	}

	eng := layout.New(layout.X86_64LinuxGNU())
	var errs []error
	for _, st := range []*types.StructType{h.reflect, h.landingSite, h.callsite, h.treenode} {
		rec, ok := layout.Lookup(st.Name())
		if !ok {
			continue
		}
		if err := eng.Check(rec, st); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		trace.Point(d.tracer, trace.ScopePass, "layout", err.Error())
		return StatusLayoutMismatch, err
	}
	d.helpers = h
	return 0, nil
}

func (d *decorator) findFunc(name string) *ir.Func {
	for _, f := range d.module.Funcs {
		if f.Name() == name {
			return f
		}
	}
	return nil
}
