package decorate

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"drti/internal/trace"
)

// findTargetFunctions records every function named in the target set,
// declaration or definition, and the distinct signatures among them. It
// reports false when the module has none.
func (d *decorator) findTargetFunctions() bool {
	d.targetSet = make(map[*ir.Func]struct{})
	for _, f := range d.module.Funcs {
		if !d.pass.targets.Has(f.Name()) {
			continue
		}
		if len(f.Blocks) > 0 {
			trace.Pointf(d.tracer, trace.ScopeFunction, "target", "found target function definition %s", f.Name())
		}
		d.targetFuncs = append(d.targetFuncs, f)
		d.targetSet[f] = struct{}{}
		d.addTargetType(f.Sig)
	}
	if len(d.targetFuncs) == 0 {
		trace.Point(d.tracer, trace.ScopePass, "targets", "no target functions found in module")
		return false
	}
	trace.Pointf(d.tracer, trace.ScopePass, "targets", "%d target functions", len(d.targetFuncs))
	return true
}

func (d *decorator) addTargetType(sig *types.FuncType) {
	if d.isTargetType(sig) {
		return
	}
	d.targetTypes = append(d.targetTypes, sig)
}

func (d *decorator) isTargetType(t types.Type) bool {
	for _, sig := range d.targetTypes {
		if sig.Equal(t) {
			return true
		}
	}
	return false
}

func (d *decorator) isTarget(f *ir.Func) bool {
	_, ok := d.targetSet[f]
	return ok
}

// checkEntryBlocks rejects target definitions whose entry block has no
// terminator, since the prologue cannot be split into them.
func (d *decorator) checkEntryBlocks() error {
	for _, f := range d.targetFuncs {
		if len(f.Blocks) > 0 && f.Blocks[0].Term == nil {
			return fmt.Errorf("drti-decorate: function %s: %w", f.Name(), ErrMalformedFunction)
		}
	}
	return nil
}
