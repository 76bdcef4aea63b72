package layout

import (
	"math"

	"github.com/llir/llvm/ir/types"
)

func (e *Engine) computeLayout(t types.Type, state *layoutState) (TypeLayout, *LayoutError) {
	switch t := t.(type) {
	case *types.IntType:
		return e.intLayout(t.BitSize), nil

	case *types.FloatType:
		switch t.Kind {
		case types.FloatKindHalf:
			return scalarLayoutBytes(2), nil
		case types.FloatKindFloat:
			return scalarLayoutBytes(4), nil
		case types.FloatKindDouble:
			return scalarLayoutBytes(8), nil
		default:
			// x86_fp80, fp128 and ppc_fp128 all occupy 16 bytes.
			return scalarLayoutBytes(16), nil
		}

	case *types.PointerType:
		return e.ptrLayout(), nil

	case *types.ArrayType:
		return e.arrayLayout(t, t.ElemType, t.Len, state)

	case *types.VectorType:
		elem, err := e.layoutOf(t.ElemType, state)
		if err != nil {
			return TypeLayout{Align: 1}, err
		}
		raw := elem.Size * t.Len
		align := nextPow2(raw)
		return TypeLayout{Size: alignUp(raw, align), Align: align}, nil

	case *types.StructType:
		if t.Opaque {
			return TypeLayout{Align: 1}, &LayoutError{Kind: LayoutErrOpaque, Type: typeLabel(t)}
		}
		return e.structLayout(t, state)

	default:
		return TypeLayout{Align: 1}, &LayoutError{Kind: LayoutErrUnsupported, Type: t.LLString()}
	}
}

func (e *Engine) ptrLayout() TypeLayout {
	return TypeLayout{Size: e.Target.PtrSize, Align: e.Target.PtrAlign}
}

func (e *Engine) intLayout(bits uint64) TypeLayout {
	bytes := nextPow2((bits + 7) / 8)
	if bytes <= e.Target.MaxIntAlign {
		return scalarLayoutBytes(bytes)
	}
	return TypeLayout{Size: alignUp((bits+7)/8, e.Target.MaxIntAlign), Align: e.Target.MaxIntAlign}
}

func (e *Engine) arrayLayout(t types.Type, elemT types.Type, n uint64, state *layoutState) (TypeLayout, *LayoutError) {
	elem, err := e.layoutOf(elemT, state)
	if err != nil {
		return TypeLayout{Align: 1}, err
	}
	if elem.Size != 0 && n > math.MaxUint64/elem.Size {
		return TypeLayout{Align: 1}, &LayoutError{Kind: LayoutErrSizeOverflow, Type: t.LLString()}
	}
	return TypeLayout{Size: elem.Size * n, Align: elem.Align}, nil
}

func (e *Engine) structLayout(st *types.StructType, state *layoutState) (TypeLayout, *LayoutError) {
	offsets := make([]uint64, len(st.Fields))
	var off, maxAlign uint64 = 0, 1
	for i, ft := range st.Fields {
		fl, err := e.layoutOf(ft, state)
		if err != nil {
			return TypeLayout{Align: 1}, err
		}
		align := fl.Align
		if st.Packed {
			align = 1
		}
		off = alignUp(off, align)
		offsets[i] = off
		if fl.Size > math.MaxUint64-off {
			return TypeLayout{Align: 1}, &LayoutError{Kind: LayoutErrSizeOverflow, Type: typeLabel(st)}
		}
		off += fl.Size
		if align > maxAlign {
			maxAlign = align
		}
	}
	return TypeLayout{Size: alignUp(off, maxAlign), Align: maxAlign, FieldOffsets: offsets}, nil
}

func scalarLayoutBytes(n uint64) TypeLayout {
	if n == 0 {
		return TypeLayout{Align: 1}
	}
	return TypeLayout{Size: n, Align: n}
}

func nextPow2(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func alignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
