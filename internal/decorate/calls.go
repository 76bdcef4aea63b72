package decorate

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"drti/internal/layout"
	"drti/internal/support"
	"drti/internal/trace"
)

const callsitePrefix = "_drti_callsite_"

// collectedCall is a call or invoke selected for decoration, with its
// ordinal among all non-asm calls of the function.
type collectedCall struct {
	ordinal uint32
	call    *ir.InstCall
	invoke  *ir.TermInvoke
}

func (c collectedCall) callee() value.Value {
	if c.call != nil {
		return c.call.Callee
	}
	return c.invoke.Invokee
}

func (c collectedCall) setCallee(v value.Value) {
	if c.call != nil {
		c.call.Callee = v
		c.call.Tail = enum.TailNoTail
		return
	}
	c.invoke.Invokee = v
}

// collectCalls numbers every call and invoke of f that is not inline asm,
// walking blocks in layout order and instructions in block order, and
// returns the ones to decorate. A call qualifies when its callee type is a
// target signature and it is either indirect or direct to a target. A
// direct call to a non-target with a target signature is left alone.
//
// The runtime repeats this walk on the snapshot, so it must run before f
// is modified.
func (d *decorator) collectCalls(f *ir.Func) ([]collectedCall, error) {
	var (
		out  []collectedCall
		next int
	)
	visit := func(callee value.Value, c collectedCall) error {
		if _, asm := callee.(*ir.InlineAsm); asm {
			return nil
		}
		ordinal, err := safecast.Conv[uint32](next)
		if err != nil {
			return fmt.Errorf("function %s: call number: %w", f.Name(), err)
		}
		next++

		direct, isDirect := callee.(*ir.Func)
		calleeName := "pointer"
		if isDirect {
			calleeName = direct.Name()
		}
		trace.Pointf(d.tracer, trace.ScopeCall, "call", "%s call_number %d %s", f.Name(), ordinal, calleeName)

		t := callee.Type()
		if pt, ok := t.(*types.PointerType); ok {
			t = pt.ElemType
		}
		if !d.isTargetType(t) {
			return nil
		}
		if isDirect && !d.isTarget(direct) {
			return nil
		}
		trace.Pointf(d.tracer, trace.ScopeCall, "collect", "collecting call to %s from %s call_number %d",
			support.FuncCallFrom, f.Name(), ordinal)
		c.ordinal = ordinal
		out = append(out, c)
		return nil
	}

	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			call, ok := inst.(*ir.InstCall)
			if !ok {
				continue
			}
			if err := visit(call.Callee, collectedCall{call: call}); err != nil {
				return nil, err
			}
		}
		if inv, ok := b.Term.(*ir.TermInvoke); ok {
			if err := visit(inv.Invokee, collectedCall{invoke: inv}); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// decorateCalls gives each collected call its callsite record and routes
// it through the resolver, in collection order.
func (d *decorator) decorateCalls(f *ir.Func, calls []collectedCall, caller value.Value, landing *ir.Global, names *localNamer) error {
	for _, c := range calls {
		site := d.createCallsiteGlobal(f, landing, c.ordinal)
		rec := Callsite{Function: f.Name(), Global: site.Name(), Ordinal: c.ordinal, Invoke: c.invoke != nil}
		if fn, ok := c.callee().(*ir.Func); ok {
			rec.Callee = fn.Name()
		}
		if err := d.decorateCall(f, c, caller, site, names); err != nil {
			return err
		}
		d.callsites = append(d.callsites, rec)
	}
	return nil
}

// decorateCall inserts before the call:
//
//	castOldTarget = bitcast callee to i8*
//	treenode = _drti_call_from(callsite, caller, castOldTarget)
//	resolved = load treenode->resolved_target, cast to callee's type
//	_drti_set_caller(treenode)
//
// and makes resolved the new callee. _drti_set_caller must stay right
// before the call: the machine pass replaces it with the sentinel preamble.
// Tail calls are disabled because the sentinel needs a real return address.
func (d *decorator) decorateCall(f *ir.Func, c collectedCall, caller value.Value, site *ir.Global, names *localNamer) error {
	old := c.callee()
	treenodePtr := types.NewPointer(d.helpers.treenode)
	resolvedType := d.helpers.treenode.Fields[layout.TreenodeResolvedTargetIndex]

	oldTarget := name(names, ir.NewBitCast(old, types.I8Ptr), "castOldTarget")
	node := name(names, ir.NewCall(d.helpers.callFrom, site, caller, oldTarget), "treenode")
	field := name(names, ir.NewGetElementPtr(d.helpers.treenode, node,
		constant.NewInt(types.I32, 0),
		constant.NewInt(types.I32, layout.TreenodeResolvedTargetIndex),
	), "resolved_target")
	loaded := name(names, ir.NewLoad(resolvedType, field), "resolvedTarget")
	newTarget := name(names, ir.NewBitCast(loaded, old.Type()), "castResolvedTarget")
	setCaller := ir.NewCall(d.declare(support.FuncSetCaller, types.Void, ir.NewParam("node", treenodePtr)), node)

	if err := insertBefore(f, c, oldTarget, node, field, loaded, newTarget, setCaller); err != nil {
		return err
	}
	c.setCallee(newTarget)
	return nil
}

// insertBefore places insts immediately before the call or invoke.
func insertBefore(f *ir.Func, c collectedCall, insts ...ir.Instruction) error {
	for _, b := range f.Blocks {
		if c.invoke != nil {
			if b.Term == c.invoke {
				b.Insts = append(b.Insts, insts...)
				return nil
			}
			continue
		}
		for i, inst := range b.Insts {
			if inst == c.call {
				b.Insts = slices.Insert(b.Insts, i, insts...)
				return nil
			}
		}
	}
	return fmt.Errorf("drti-decorate: function %s: collected call %d not found: %w", f.Name(), c.ordinal, ErrMalformedFunction)
}

// createCallsiteGlobal emits the static callsite record for one call.
func (d *decorator) createCallsiteGlobal(f *ir.Func, landing *ir.Global, ordinal uint32) *ir.Global {
	vector := d.helpers.callsite.Fields[3]
	site := constant.NewStruct(d.helpers.callsite,
		constant.NewInt(types.I64, 0),
		landing,
		constant.NewInt(types.I32, int64(ordinal)),
		constant.NewZeroInitializer(vector),
	)
	g := d.module.NewGlobalDef(d.globals.unique(callsitePrefix+f.Name()), site)
	g.Linkage = enum.LinkageInternal
	return g
}
