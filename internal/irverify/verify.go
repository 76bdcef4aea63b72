// Package irverify checks structural invariants of an LLVM IR module after
// it has been rewritten in memory.
package irverify

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// Module checks m. It returns nil or every violation joined.
func Module(m *ir.Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	if err := validateGlobalNames(m); err != nil {
		errs = append(errs, err)
	}
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		if err := validateFunc(f); err != nil {
			errs = append(errs, fmt.Errorf("function @%s: %w", f.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func validateFunc(f *ir.Func) error {
	var errs []error

	if err := validateTerminated(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateTargets(f); err != nil {
		errs = append(errs, err)
	}
	if err := validatePhis(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateLocalNames(f); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateGlobalNames(m *ir.Module) error {
	var errs []error
	seen := make(map[string]struct{}, len(m.Globals)+len(m.Funcs))
	check := func(name string) {
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("global @%s defined more than once", name))
		}
		seen[name] = struct{}{}
	}
	for _, g := range m.Globals {
		check(g.Name())
	}
	for _, f := range m.Funcs {
		check(f.Name())
	}
	return errors.Join(errs...)
}

// validateTerminated checks that every block ends with a terminator.
func validateTerminated(f *ir.Func) error {
	var errs []error
	for _, b := range f.Blocks {
		if b.Term == nil {
			errs = append(errs, fmt.Errorf("%%%s: unterminated block", b.Name()))
		}
	}
	return errors.Join(errs...)
}

// validateTargets checks that branches stay inside the function.
func validateTargets(f *ir.Func) error {
	own := blockSet(f)
	var errs []error
	for _, b := range f.Blocks {
		if b.Term == nil {
			continue
		}
		for _, succ := range b.Term.Succs() {
			if _, ok := own[succ]; !ok {
				errs = append(errs, fmt.Errorf("%%%s: branch to foreign block %%%s", b.Name(), succ.Name()))
			}
		}
	}
	return errors.Join(errs...)
}

// validatePhis checks that phis lead their block and carry one incoming
// value per edge from each predecessor.
func validatePhis(f *ir.Func) error {
	preds := predecessors(f)
	var errs []error
	for _, b := range f.Blocks {
		leading := true
		for _, inst := range b.Insts {
			phi, ok := inst.(*ir.InstPhi)
			if !ok {
				leading = false
				continue
			}
			if !leading {
				errs = append(errs, fmt.Errorf("%%%s: phi %s after non-phi instruction", b.Name(), phi.Ident()))
				continue
			}
			if err := validatePhiEdges(b, phi, preds[b]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func validatePhiEdges(b *ir.Block, phi *ir.InstPhi, preds []*ir.Block) error {
	want := make(map[*ir.Block]int, len(preds))
	for _, p := range preds {
		want[p]++
	}
	got := make(map[*ir.Block]int, len(phi.Incs))
	for _, inc := range phi.Incs {
		pred, ok := any(inc.Pred).(*ir.Block)
		if !ok {
			return fmt.Errorf("%%%s: phi %s has non-block predecessor", b.Name(), phi.Ident())
		}
		got[pred]++
	}
	for p := range got {
		if _, ok := want[p]; !ok {
			return fmt.Errorf("%%%s: phi %s names %%%s, which is not a predecessor", b.Name(), phi.Ident(), p.Name())
		}
	}
	for p, n := range want {
		if got[p] != n {
			return fmt.Errorf("%%%s: phi %s has %d entries for predecessor %%%s, want %d", b.Name(), phi.Ident(), got[p], p.Name(), n)
		}
	}
	return nil
}

// validateLocalNames checks that explicitly named locals are unique.
func validateLocalNames(f *ir.Func) error {
	var errs []error
	seen := make(map[string]struct{})
	check := func(name string) {
		if name == "" {
			return
		}
		if _, err := strconv.ParseUint(name, 10, 64); err == nil {
			return
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("local %%%s defined more than once", name))
		}
		seen[name] = struct{}{}
	}
	for _, p := range f.Params {
		check(p.Name())
	}
	for _, b := range f.Blocks {
		check(b.Name())
		for _, inst := range b.Insts {
			if n, ok := inst.(value.Named); ok {
				check(n.Name())
			}
		}
		if n, ok := b.Term.(value.Named); ok {
			check(n.Name())
		}
	}
	return errors.Join(errs...)
}

func blockSet(f *ir.Func) map[*ir.Block]struct{} {
	set := make(map[*ir.Block]struct{}, len(f.Blocks))
	for _, b := range f.Blocks {
		set[b] = struct{}{}
	}
	return set
}

// predecessors lists each block's predecessors, once per edge.
func predecessors(f *ir.Func) map[*ir.Block][]*ir.Block {
	preds := make(map[*ir.Block][]*ir.Block, len(f.Blocks))
	for _, b := range f.Blocks {
		if b.Term == nil {
			continue
		}
		for _, succ := range b.Term.Succs() {
			preds[succ] = append(preds[succ], b)
		}
	}
	return preds
}
