package layout

import (
	"fmt"

	"github.com/llir/llvm/ir/types"
)

// MismatchError reports a difference between the schema and an IR type.
type MismatchError struct {
	TypeName string
	Field    string
	Reason   string
}

func (e *MismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("layout of %s: %s", e.TypeName, e.Reason)
	}
	return fmt.Sprintf("layout of %s.%s: %s", e.TypeName, e.Field, e.Reason)
}

// Check compares st with rec using the x86-64 SysV data layout.
func Check(rec Record, st *types.StructType) error {
	return New(X86_64LinuxGNU()).Check(rec, st)
}

// Check compares st with rec using the engine's target.
func (e *Engine) Check(rec Record, st *types.StructType) error {
	mismatch := func(field, format string, args ...any) error {
		return &MismatchError{TypeName: rec.TypeName, Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	if st == nil || st.Opaque {
		return mismatch("", "type is opaque or missing")
	}
	if len(st.Fields) < len(rec.Fields) || (!rec.Prefix && len(st.Fields) != len(rec.Fields)) {
		return mismatch("", "has %d fields, want %d", len(st.Fields), len(rec.Fields))
	}
	if _, err := e.LayoutOf(st); err != nil {
		return mismatch("", "%v", err)
	}
	for i, want := range rec.Fields {
		ft := st.Fields[i]
		if got := kindOf(ft); got != want.Kind {
			return mismatch(want.Name, "is %s, want %s", ft, want.Kind)
		}
		off, err := e.FieldOffset(st, i)
		if err != nil {
			return mismatch(want.Name, "%v", err)
		}
		if off != want.Offset {
			return mismatch(want.Name, "at offset %d, want %d", off, want.Offset)
		}
		if want.Size != 0 {
			if fs, err := e.SizeOf(ft); err != nil || fs != want.Size {
				return mismatch(want.Name, "is %d bytes, want %d", fs, want.Size)
			}
		}
		if want.Points != "" {
			pt := ft.(*types.PointerType)
			if pt.ElemType == nil || pt.ElemType.Name() != want.Points {
				return mismatch(want.Name, "points to %v, want %%%q", pt.ElemType, want.Points)
			}
		}
	}
	size, _ := e.SizeOf(st)
	if rec.Size != 0 && size != rec.Size {
		return mismatch("", "is %d bytes, want %d", size, rec.Size)
	}
	if align, _ := e.AlignOf(st); align != e.Target.PtrAlign {
		return mismatch("", "is %d-byte aligned, want %d", align, e.Target.PtrAlign)
	}
	return nil
}

func kindOf(t types.Type) Kind {
	switch t := t.(type) {
	case *types.IntType:
		switch t.BitSize {
		case 64:
			return KindInt64
		case 32:
			return KindInt32
		}
	case *types.PointerType:
		return KindPointer
	case *types.StructType, *types.ArrayType:
		return KindAggregate
	}
	return 0
}
