package layout

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/llir/llvm/ir/types"

	"drti/internal/support"
)

func supportStructs(t *testing.T) map[string]*types.StructType {
	t.Helper()
	m, err := support.Parse()
	if err != nil {
		t.Fatalf("support.Parse: %v", err)
	}
	out := make(map[string]*types.StructType)
	for _, td := range m.TypeDefs {
		if st, ok := td.(*types.StructType); ok {
			out[st.Name()] = st
		}
	}
	return out
}

func TestSchemaMatchesSupportFragment(t *testing.T) {
	structs := supportStructs(t)
	for _, rec := range Schema {
		st, ok := structs[rec.TypeName]
		if !ok {
			t.Fatalf("support fragment lacks %s", rec.TypeName)
		}
		if err := Check(rec, st); err != nil {
			t.Errorf("Check(%s): %v", rec.TypeName, err)
		}
	}
}

func TestMirrorSizesMatchFragment(t *testing.T) {
	structs := supportStructs(t)
	tests := []struct {
		name string
		want uintptr
	}{
		{support.TypeReflect, unsafe.Sizeof(Reflect{})},
		{support.TypeLandingSite, unsafe.Sizeof(LandingSite{})},
		{support.TypeCallsite, unsafe.Sizeof(StaticCallsite{})},
		{support.TypeTreenode, unsafe.Sizeof(Treenode{})},
	}
	for _, tt := range tests {
		got, err := New(X86_64LinuxGNU()).SizeOf(structs[tt.name])
		if err != nil {
			t.Fatalf("SizeOf(%s): %v", tt.name, err)
		}
		if got != uint64(tt.want) {
			t.Errorf("%s: IR size %d, Go mirror size %d", tt.name, got, tt.want)
		}
	}
}

func TestCheck_DetectsDrift(t *testing.T) {
	rec, ok := Lookup(support.TypeLandingSite)
	if !ok {
		t.Fatal("no schema for landing site")
	}
	reflectTy := types.NewStruct(types.I8Ptr, types.I64, types.NewPointer(types.I8Ptr), types.I64)
	reflectTy.SetName(support.TypeReflect)

	tests := []struct {
		name  string
		typ   *types.StructType
		field string
	}{
		{
			name:  "counter_narrowed",
			typ:   types.NewStruct(types.I32, types.I8Ptr, types.I8Ptr, types.NewPointer(reflectTy)),
			field: "total_called",
		},
		{
			name:  "field_inserted",
			typ:   types.NewStruct(types.I64, types.I32, types.I8Ptr, types.NewPointer(reflectTy)),
			field: "global_name",
		},
		{
			name:  "self_retyped",
			typ:   types.NewStruct(types.I64, types.I8Ptr, types.I8Ptr, types.I8Ptr),
			field: "self",
		},
		{
			name:  "self_to_opaque_struct",
			typ:   types.NewStruct(types.I64, types.I8Ptr, types.I8Ptr, types.NewPointer(named(support.TypeLandingSite))),
			field: "self",
		},
		{
			name: "too_short",
			typ:  types.NewStruct(types.I64, types.I8Ptr),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(rec, tt.typ)
			var me *MismatchError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MismatchError", err)
			}
			if me.Field != tt.field {
				t.Fatalf("field = %q, want %q (%v)", me.Field, tt.field, err)
			}
		})
	}
}

func TestFieldOffsets_Padding(t *testing.T) {
	st := types.NewStruct(types.I64, types.I8Ptr, types.I32, types.NewStruct(types.I8Ptr, types.I8Ptr, types.I8Ptr))
	eng := New(X86_64LinuxGNU())
	var got []uint64
	for i := range st.Fields {
		off, err := eng.FieldOffset(st, i)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, off)
	}
	want := []uint64{0, 8, 16, 24}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("offsets = %v, want %v", got, want)
		}
	}
}

func named(name string) *types.StructType {
	st := types.NewStruct()
	st.SetName(name)
	return st
}

func TestCheck_RecordSizes(t *testing.T) {
	rec, ok := Lookup(support.TypeCallsite)
	if !ok {
		t.Fatal("no schema for callsite")
	}
	landing := named(support.TypeLandingSite)
	tests := []struct {
		name  string
		typ   *types.StructType
		field string
	}{
		{
			name:  "vector_shrunk",
			typ:   types.NewStruct(types.I64, types.NewPointer(landing), types.I32, types.NewStruct(types.I8Ptr, types.I8Ptr)),
			field: "vector",
		},
		{
			name: "packed",
			typ: func() *types.StructType {
				st := types.NewStruct(types.I64, types.NewPointer(landing), types.I32, types.NewStruct(types.I8Ptr, types.I8Ptr, types.I8Ptr))
				st.Packed = true
				return st
			}(),
			field: "vector",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(rec, tt.typ)
			var me *MismatchError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MismatchError", err)
			}
			if me.Field != tt.field {
				t.Fatalf("field = %q, want %q (%v)", me.Field, tt.field, err)
			}
		})
	}
}

func TestFieldOffset_OutOfRange(t *testing.T) {
	eng := New(X86_64LinuxGNU())
	st := types.NewStruct(types.I64, types.I8Ptr)
	for _, idx := range []int{-1, 2} {
		if _, err := eng.FieldOffset(st, idx); err == nil {
			t.Fatalf("FieldOffset(%d) returned no error", idx)
		}
	}
}
