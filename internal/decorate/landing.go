package decorate

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"drti/internal/support"
	"drti/internal/trace"
)

const (
	landingPrefix          = "_drti_landing_"
	landingNameGlobal      = "__drti_landing_site_name"
	landingFuncNameGlobal  = "__drti_landing_site_function_name"
	returnAddressIntrinsic = "llvm.returnaddress"
)

// addLandingGlobals instruments every target definition: a landing site,
// the entry prologue and the qualifying outgoing calls. Calls are collected
// before the function is touched.
func (d *decorator) addLandingGlobals() error {
	for _, f := range d.targetFuncs {
		if len(f.Blocks) == 0 {
			continue
		}
		span := trace.Begin(d.tracer, trace.ScopeFunction, f.Name(), d.span)

		calls, err := d.collectCalls(f)
		if err != nil {
			span.End("failed")
			return err
		}
		landing := d.createLandingGlobal(f)
		names := newLocalNamer(f)
		caller := d.addLandingUpdate(f, landing, names)
		if err := d.decorateCalls(f, calls, caller, landing, names); err != nil {
			span.End("failed")
			return err
		}

		d.landings = append(d.landings, Landing{Function: f.Name(), Global: landing.Name(), Calls: len(calls)})
		trace.Pointf(d.tracer, trace.ScopeCall, "decorated", "%s", funcText{f})
		span.End(fmt.Sprintf("%d calls decorated", len(calls)))
	}
	return nil
}

// funcText defers printing a function body until a tracer wants it.
type funcText struct{ f *ir.Func }

func (t funcText) String() string { return t.f.LLString() }

// createLandingGlobal emits the landing site of f and its two name strings.
func (d *decorator) createLandingGlobal(f *ir.Func) *ir.Global {
	varName := d.globals.unique(landingPrefix + f.Name())

	nameStr := d.module.NewGlobalDef(d.globals.unique(landingNameGlobal), constant.NewCharArrayFromString(varName+"\x00"))
	nameStr.Immutable = true
	nameStr.Linkage = enum.LinkageInternal

	funcStr := d.module.NewGlobalDef(d.globals.unique(landingFuncNameGlobal), constant.NewCharArrayFromString(f.Name()+"\x00"))
	funcStr.Immutable = true
	funcStr.Linkage = enum.LinkageInternal

	site := constant.NewStruct(d.helpers.landingSite,
		constant.NewInt(types.I64, 0),
		constant.NewBitCast(nameStr, types.I8Ptr),
		constant.NewBitCast(funcStr, types.I8Ptr),
		d.reflect,
	)
	g := d.module.NewGlobalDef(varName, site)
	g.Linkage = enum.LinkageInternal
	return g
}

// addLandingUpdate splits the entry block of f after its leading allocas
// and inserts the caller probe:
//
//	entry:      allocas; aligned = (retaddr & (RETALIGN-1)) == 0
//	            br aligned, drti_land2, drti_land1
//	drti_land1: caller = phi [null, entry], [null, drti_land2], [node, drti_land3]
//	            rest of the original entry block
//	drti_land2: magic = ((i64*)retaddr)[-RETALIGN/8] == MAGIC
//	            br magic, drti_land3, drti_land1
//	drti_land3: node = _drti_caller(); _drti_landed(landing, node)
//	            br drti_land1
//
// The returned phi is the caller tree node for the rest of the function.
func (d *decorator) addLandingUpdate(f *ir.Func, landing *ir.Global, names *localNamer) value.Value {
	proto := d.pass.protocol
	entry := f.Blocks[0]

	split := len(entry.Insts)
	for i, inst := range entry.Insts {
		if _, ok := inst.(*ir.InstAlloca); !ok {
			split = i
			break
		}
	}

	land1 := ir.NewBlock(names.unique("drti_land1"))
	land1.Parent = f
	land1.Insts = append([]ir.Instruction(nil), entry.Insts[split:]...)
	land1.Term = entry.Term
	entry.Insts = entry.Insts[:split:split]
	retargetPhis(f, entry, land1)

	land2 := ir.NewBlock(names.unique("drti_land2"))
	land2.Parent = f
	land3 := ir.NewBlock(names.unique("drti_land3"))
	land3.Parent = f

	blocks := make([]*ir.Block, 0, len(f.Blocks)+3)
	blocks = append(blocks, entry, land1)
	blocks = append(blocks, f.Blocks[1:]...)
	f.Blocks = append(blocks, land2, land3)

	// Probe.
	retAddrFn := d.declare(returnAddressIntrinsic, types.I8Ptr, ir.NewParam("level", types.I32))
	retAddr := name(names, ir.NewCall(retAddrFn, constant.NewInt(types.I32, 0)), "drtiRetAddress")
	retInt := name(names, ir.NewPtrToInt(retAddr, types.I64), "drtiRetAddressCast")
	masked := name(names, ir.NewAnd(retInt, constant.NewInt(types.I64, int64(proto.RetAlign-1))), "drtiAndRetalign")
	aligned := name(names, ir.NewICmp(enum.IPredEQ, masked, constant.NewInt(types.I64, 0)), "drtiRetIsAligned")
	entry.Insts = append(entry.Insts, retAddr, retInt, masked, aligned)
	entry.Term = ir.NewCondBr(aligned, land2, land1)

	// Check.
	wordPtr := name(names, ir.NewIntToPtr(retInt, types.NewPointer(types.I64)), "drtiRetAddressCast")
	gep := name(names, ir.NewGetElementPtr(types.I64, wordPtr, constant.NewInt(types.I64, -int64(proto.RetAlign/8))), "drtiGep")
	maybeMagic := name(names, ir.NewLoad(types.I64, gep), "drtiMaybeMagic")
	matches := name(names, ir.NewICmp(enum.IPredEQ, maybeMagic, constant.NewInt(types.I64, int64(proto.Magic))), "drtiMatches")
	land2.Insts = []ir.Instruction{wordPtr, gep, maybeMagic, matches}
	land2.Term = ir.NewCondBr(matches, land3, land1)

	// Resolve.
	treenodePtr := types.NewPointer(d.helpers.treenode)
	callerFn := d.declare(support.FuncCaller, treenodePtr)
	node := name(names, ir.NewCall(callerFn), "drtiTreenode")
	trace.Pointf(d.tracer, trace.ScopeFunction, "landing", "adding call to %s from %s", d.helpers.landed.Name(), f.Name())
	land3.Insts = []ir.Instruction{node, ir.NewCall(d.helpers.landed, landing, node)}
	land3.Term = ir.NewBr(land1)

	// Merge.
	null := constant.NewNull(treenodePtr)
	caller := name(names, ir.NewPhi(
		ir.NewIncoming(null, entry),
		ir.NewIncoming(null, land2),
		ir.NewIncoming(node, land3),
	), "drtiCallerTreenode")
	land1.Insts = append([]ir.Instruction{caller}, land1.Insts...)
	return caller
}

// retargetPhis rewrites phi edges from the old entry block to land1, which
// now owns the entry's terminator.
func retargetPhis(f *ir.Func, entry, land1 *ir.Block) {
	for _, b := range f.Blocks[1:] {
		for _, inst := range b.Insts {
			phi, ok := inst.(*ir.InstPhi)
			if !ok {
				break
			}
			for _, inc := range phi.Incs {
				if inc.Pred == entry {
					inc.Pred = land1
				}
			}
		}
	}
}

// declare returns the module's function called name, declaring it with
// the given signature if absent. An existing function of another type is
// bitcast to the requested one.
func (d *decorator) declare(name string, ret types.Type, params ...*ir.Param) value.Value {
	paramTypes := make([]types.Type, len(params))
	for i, p := range params {
		paramTypes[i] = p.Typ
	}
	sig := types.NewFunc(ret, paramTypes...)
	if f := d.findFunc(name); f != nil {
		if f.Sig.Equal(sig) {
			return f
		}
		return constant.NewBitCast(f, types.NewPointer(sig))
	}
	d.globals.taken[name] = struct{}{}
	return d.module.NewFunc(name, ret, params...)
}
