package decorate

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// globalNamer hands out module-unique global names. A taken name gets a
// ".N" suffix, the same way LLVM uniques clashing globals.
type globalNamer struct {
	taken map[string]struct{}
}

func newGlobalNamer(m *ir.Module) *globalNamer {
	n := &globalNamer{taken: make(map[string]struct{}, len(m.Globals)+len(m.Funcs))}
	for _, g := range m.Globals {
		n.taken[g.Name()] = struct{}{}
	}
	for _, f := range m.Funcs {
		n.taken[f.Name()] = struct{}{}
	}
	return n
}

func (n *globalNamer) unique(base string) string {
	name := base
	for i := 1; ; i++ {
		if _, ok := n.taken[name]; !ok {
			n.taken[name] = struct{}{}
			return name
		}
		name = fmt.Sprintf("%s.%d", base, i)
	}
}

// localNamer hands out function-unique names for inserted values and
// blocks. New locals are always named so the numbering of the function's
// existing unnamed values stays intact.
type localNamer struct {
	taken map[string]struct{}
}

func newLocalNamer(f *ir.Func) *localNamer {
	n := &localNamer{taken: make(map[string]struct{})}
	for _, p := range f.Params {
		n.taken[p.Name()] = struct{}{}
	}
	for _, b := range f.Blocks {
		n.taken[b.Name()] = struct{}{}
		for _, inst := range b.Insts {
			if v, ok := inst.(value.Named); ok {
				n.taken[v.Name()] = struct{}{}
			}
		}
		if v, ok := b.Term.(value.Named); ok {
			n.taken[v.Name()] = struct{}{}
		}
	}
	return n
}

func (n *localNamer) unique(base string) string {
	name := base
	for i := 1; ; i++ {
		if _, ok := n.taken[name]; !ok {
			n.taken[name] = struct{}{}
			return name
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
}

// name sets a unique name on v and returns it.
func name[T value.Named](n *localNamer, v T, base string) T {
	v.SetName(n.unique(base))
	return v
}
