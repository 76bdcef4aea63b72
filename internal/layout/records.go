// Package layout owns the byte layout of the runtime records that the
// decoration pass builds as IR constants.
//
// The Go types in this file mirror the runtime's definitions. The
// assertions in assert.go make the build fail if a mirror drifts from the
// offsets in the schema table, and Check compares the table against the
// struct types found in a linked module.
package layout

import (
	"unsafe"

	"drti/internal/support"
)

// Reflect is the module self-description.
type Reflect struct {
	Module      *byte
	ModuleSize  uint64
	Globals     *unsafe.Pointer
	GlobalsSize uint64
}

// LandingSite is the per-target-function record.
type LandingSite struct {
	TotalCalled  uint64
	GlobalName   *byte
	FunctionName *byte
	Self         *Reflect
}

// CallsiteVector is runtime-owned scratch inside StaticCallsite.
type CallsiteVector struct {
	Begin unsafe.Pointer
	End   unsafe.Pointer
	Cap   unsafe.Pointer
}

// StaticCallsite is the per-decorated-call record.
type StaticCallsite struct {
	TotalCalls  uint64
	LandingSite *LandingSite
	CallNumber  uint32
	Vector      CallsiteVector
}

// Treenode is a node of the runtime call tree. The pass only reads
// ResolvedTarget.
type Treenode struct {
	Callsite       *StaticCallsite
	Caller         *Treenode
	Target         unsafe.Pointer
	Calls          uint64
	Children       unsafe.Pointer
	ResolvedTarget unsafe.Pointer
}

// Field offsets in bytes.
const (
	ReflectModule      = 0
	ReflectModuleSize  = 8
	ReflectGlobals     = 16
	ReflectGlobalsSize = 24

	LandingTotalCalled  = 0
	LandingGlobalName   = 8
	LandingFunctionName = 16
	LandingSelf         = 24

	CallsiteTotalCalls  = 0
	CallsiteLandingSite = 8
	CallsiteCallNumber  = 16
	CallsiteVectorField = 24

	TreenodeCallsite       = 0
	TreenodeCaller         = 8
	TreenodeTarget         = 16
	TreenodeCalls          = 24
	TreenodeChildren       = 32
	TreenodeResolvedTarget = 40
)

// Record and embedded field sizes in bytes.
const (
	ReflectSize        = 32
	LandingSiteSize    = 32
	CallsiteSize       = 48
	CallsiteVectorSize = 24
)

// TreenodeResolvedTargetIndex is the struct field index of
// Treenode.ResolvedTarget.
const TreenodeResolvedTargetIndex = 5

// Kind classifies a field for comparison with an IR type.
type Kind uint8

const (
	KindInt64 Kind = iota + 1
	KindInt32
	KindPointer
	KindAggregate
)

func (k Kind) String() string {
	switch k {
	case KindInt64:
		return "i64"
	case KindInt32:
		return "i32"
	case KindPointer:
		return "pointer"
	case KindAggregate:
		return "aggregate"
	}
	return "unknown"
}

// Field describes one record field.
type Field struct {
	Name   string
	Kind   Kind
	Offset uint64
	// Points names the struct a pointer field must point to, if any.
	Points string
	// Size is the byte size of an aggregate field. Zero skips the check.
	Size uint64
}

// Record describes a runtime record and its IR type name.
type Record struct {
	TypeName string
	Fields   []Field
	// Prefix allows the IR type to carry more fields than described.
	Prefix bool
	// Size is the record's allocation size. Zero skips the check, which
	// prefix records need.
	Size uint64
}

// Schema is the layout the pass assumes for each record.
var Schema = []Record{
	{
		TypeName: support.TypeReflect,
		Size:     ReflectSize,
		Fields: []Field{
			{Name: "module", Kind: KindPointer, Offset: ReflectModule},
			{Name: "module_size", Kind: KindInt64, Offset: ReflectModuleSize},
			{Name: "globals", Kind: KindPointer, Offset: ReflectGlobals},
			{Name: "globals_size", Kind: KindInt64, Offset: ReflectGlobalsSize},
		},
	},
	{
		TypeName: support.TypeLandingSite,
		Size:     LandingSiteSize,
		Fields: []Field{
			{Name: "total_called", Kind: KindInt64, Offset: LandingTotalCalled},
			{Name: "global_name", Kind: KindPointer, Offset: LandingGlobalName},
			{Name: "function_name", Kind: KindPointer, Offset: LandingFunctionName},
			{Name: "self", Kind: KindPointer, Offset: LandingSelf, Points: support.TypeReflect},
		},
	},
	{
		TypeName: support.TypeCallsite,
		Size:     CallsiteSize,
		Fields: []Field{
			{Name: "total_calls", Kind: KindInt64, Offset: CallsiteTotalCalls},
			{Name: "landing_site", Kind: KindPointer, Offset: CallsiteLandingSite, Points: support.TypeLandingSite},
			{Name: "call_number", Kind: KindInt32, Offset: CallsiteCallNumber},
			{Name: "vector", Kind: KindAggregate, Offset: CallsiteVectorField, Size: CallsiteVectorSize},
		},
	},
	{
		TypeName: support.TypeTreenode,
		Prefix:   true,
		Fields: []Field{
			{Name: "callsite", Kind: KindPointer, Offset: TreenodeCallsite, Points: support.TypeCallsite},
			{Name: "caller", Kind: KindPointer, Offset: TreenodeCaller, Points: support.TypeTreenode},
			{Name: "target", Kind: KindPointer, Offset: TreenodeTarget},
			{Name: "calls", Kind: KindInt64, Offset: TreenodeCalls},
			{Name: "children", Kind: KindPointer, Offset: TreenodeChildren},
			{Name: "resolved_target", Kind: KindPointer, Offset: TreenodeResolvedTarget},
		},
	},
}

// Lookup returns the schema record for an IR type name.
func Lookup(typeName string) (Record, bool) {
	for _, r := range Schema {
		if r.TypeName == typeName {
			return r, true
		}
	}
	return Record{}, false
}
