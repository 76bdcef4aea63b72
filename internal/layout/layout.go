package layout

import (
	"fmt"

	"github.com/llir/llvm/ir/types"
)

// TypeLayout is the ABI layout of a type for a specific Target.
type TypeLayout struct {
	Size  uint64
	Align uint64

	// Struct-only:
	FieldOffsets []uint64
}

// Engine computes memory layout for IR types. An Engine caches by type
// identity and is not safe for concurrent use.
type Engine struct {
	Target Target

	cache *cache
}

// New creates a new Engine for the specified target.
func New(target Target) *Engine {
	return &Engine{
		Target: target,
		cache:  newCache(),
	}
}

type layoutState struct {
	stack []types.Type
	index map[types.Type]int
}

func newLayoutState() *layoutState {
	return &layoutState{index: make(map[types.Type]int, 8)}
}

// LayoutOf computes and caches the layout of t.
func (e *Engine) LayoutOf(t types.Type) (TypeLayout, error) {
	if e.cache == nil {
		e.cache = newCache()
	}
	layout, err := e.layoutOf(t, newLayoutState())
	if err != nil {
		return layout, err
	}
	return layout, nil
}

func (e *Engine) layoutOf(t types.Type, state *layoutState) (TypeLayout, *LayoutError) {
	if cached, ok := e.cache.get(t); ok {
		return cached.Layout, cached.Err
	}

	if idx, ok := state.index[t]; ok {
		cycle := make([]string, 0, len(state.stack)-idx+1)
		for _, st := range state.stack[idx:] {
			cycle = append(cycle, typeLabel(st))
		}
		cycle = append(cycle, typeLabel(t))
		err := &LayoutError{
			Kind:  LayoutErrRecursiveUnsized,
			Type:  typeLabel(t),
			Cycle: cycle,
		}
		e.cache.put(t, &cacheEntry{Layout: TypeLayout{Align: 1}, Err: err})
		return TypeLayout{Align: 1}, err
	}

	state.index[t] = len(state.stack)
	state.stack = append(state.stack, t)
	layout, err := e.computeLayout(t, state)
	state.stack = state.stack[:len(state.stack)-1]
	delete(state.index, t)

	e.cache.put(t, &cacheEntry{Layout: layout, Err: err})
	return layout, err
}

// SizeOf returns the allocation size of a type in bytes.
func (e *Engine) SizeOf(t types.Type) (uint64, error) {
	l, err := e.LayoutOf(t)
	return l.Size, err
}

// AlignOf returns the alignment requirement of a type in bytes.
func (e *Engine) AlignOf(t types.Type) (uint64, error) {
	l, err := e.LayoutOf(t)
	return l.Align, err
}

// FieldOffset returns the byte offset of a struct field.
func (e *Engine) FieldOffset(st *types.StructType, fieldIdx int) (uint64, error) {
	l, err := e.LayoutOf(st)
	if err != nil {
		return 0, err
	}
	if fieldIdx < 0 || fieldIdx >= len(l.FieldOffsets) {
		return 0, fmt.Errorf("field %d out of range for %s with %d fields", fieldIdx, typeLabel(st), len(l.FieldOffsets))
	}
	return l.FieldOffsets[fieldIdx], nil
}
