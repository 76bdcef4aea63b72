package layout

import "unsafe"

// Each index below is a constant; it is out of range (or overflows) unless
// the mirror's offset equals the schema constant, so drift breaks the build.
var (
	_ = [1]struct{}{}[unsafe.Offsetof(Reflect{}.Module)-ReflectModule]
	_ = [1]struct{}{}[unsafe.Offsetof(Reflect{}.ModuleSize)-ReflectModuleSize]
	_ = [1]struct{}{}[unsafe.Offsetof(Reflect{}.Globals)-ReflectGlobals]
	_ = [1]struct{}{}[unsafe.Offsetof(Reflect{}.GlobalsSize)-ReflectGlobalsSize]

	_ = [1]struct{}{}[unsafe.Offsetof(LandingSite{}.TotalCalled)-LandingTotalCalled]
	_ = [1]struct{}{}[unsafe.Offsetof(LandingSite{}.GlobalName)-LandingGlobalName]
	_ = [1]struct{}{}[unsafe.Offsetof(LandingSite{}.FunctionName)-LandingFunctionName]
	_ = [1]struct{}{}[unsafe.Offsetof(LandingSite{}.Self)-LandingSelf]

	_ = [1]struct{}{}[unsafe.Offsetof(StaticCallsite{}.TotalCalls)-CallsiteTotalCalls]
	_ = [1]struct{}{}[unsafe.Offsetof(StaticCallsite{}.LandingSite)-CallsiteLandingSite]
	_ = [1]struct{}{}[unsafe.Offsetof(StaticCallsite{}.CallNumber)-CallsiteCallNumber]
	_ = [1]struct{}{}[unsafe.Offsetof(StaticCallsite{}.Vector)-CallsiteVectorField]

	_ = [1]struct{}{}[unsafe.Offsetof(Treenode{}.Callsite)-TreenodeCallsite]
	_ = [1]struct{}{}[unsafe.Offsetof(Treenode{}.Caller)-TreenodeCaller]
	_ = [1]struct{}{}[unsafe.Offsetof(Treenode{}.Target)-TreenodeTarget]
	_ = [1]struct{}{}[unsafe.Offsetof(Treenode{}.Calls)-TreenodeCalls]
	_ = [1]struct{}{}[unsafe.Offsetof(Treenode{}.Children)-TreenodeChildren]
	_ = [1]struct{}{}[unsafe.Offsetof(Treenode{}.ResolvedTarget)-TreenodeResolvedTarget]

	_ = [1]struct{}{}[unsafe.Sizeof(Reflect{})-ReflectSize]
	_ = [1]struct{}{}[unsafe.Sizeof(LandingSite{})-LandingSiteSize]
	_ = [1]struct{}{}[unsafe.Sizeof(StaticCallsite{})-CallsiteSize]
	_ = [1]struct{}{}[unsafe.Sizeof(CallsiteVector{})-CallsiteVectorSize]
)

// Field types. These only compile while the mirrors keep the types the IR
// constants are built with.
func _() {
	var r Reflect
	var _ *byte = r.Module
	var _ uint64 = r.ModuleSize
	var _ *unsafe.Pointer = r.Globals
	var _ uint64 = r.GlobalsSize

	var l LandingSite
	var _ uint64 = l.TotalCalled
	var _ *byte = l.GlobalName
	var _ *byte = l.FunctionName
	var _ *Reflect = l.Self

	var c StaticCallsite
	var _ uint64 = c.TotalCalls
	var _ *LandingSite = c.LandingSite
	var _ uint32 = c.CallNumber
	var _ CallsiteVector = c.Vector

	var n Treenode
	var _ *StaticCallsite = n.Callsite
	var _ *Treenode = n.Caller
	var _ unsafe.Pointer = n.Target
	var _ uint64 = n.Calls
	var _ unsafe.Pointer = n.Children
	var _ unsafe.Pointer = n.ResolvedTarget
}
