// Package irlink merges one LLVM IR module into another.
//
// It covers what linking a small support fragment needs: named types,
// global variables, functions and attribute groups. Conflicts are found
// before anything is changed, so a failed Link leaves dst as it was.
package irlink

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

var (
	// ErrDuplicateSymbol is returned when both modules strongly define a symbol.
	ErrDuplicateSymbol = errors.New("symbol multiply defined")
	// ErrTypeClash is returned when a named type has two different bodies.
	ErrTypeClash = errors.New("named type defined differently")
	// ErrSymbolType is returned when a symbol's kind or type differs.
	ErrSymbolType = errors.New("symbol kind or type mismatch")
)

// Error describes a link failure for one symbol.
type Error struct {
	Symbol string
	Err    error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("link %s: %v", e.Symbol, e.Err)
	}
	return fmt.Sprintf("link %s: %v: %s", e.Symbol, e.Err, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Report lists what Link did.
type Report struct {
	AddedTypes   []string
	AddedGlobals []string
	AddedFuncs   []string
	// Resolved are dst declarations that src provided a body for.
	Resolved []string
	// Renamed maps local src symbols renamed to avoid a clash.
	Renamed map[string]string
	// LocalsRenamed maps local dst symbols moved aside for a src symbol
	// of the same name that takes part in linking.
	LocalsRenamed map[string]string
}

type action uint8

const (
	actAdd      action = iota + 1 // append src symbol to dst
	actRedirect                   // drop src symbol, point uses at dst
	actMove                       // move src body into dst declaration
	actRename                     // local src symbol, add under new name
	actEvict                      // rename local dst symbol, then add src
)

type plan struct {
	act  action
	src  value.Value
	dst  value.Value
	name string // actRename, actEvict
}

// Link merges src into dst. src must not be used afterwards.
func Link(dst, src *ir.Module) (*Report, error) {
	l := &linker{
		dst:      dst,
		src:      src,
		dstNames: make(map[string]value.Value),
		redirect: make(map[value.Value]value.Value),
		srcNames: make(map[string]struct{}),
		report:   &Report{Renamed: make(map[string]string), LocalsRenamed: make(map[string]string)},
	}
	for _, g := range dst.Globals {
		l.dstNames[g.Name()] = g
	}
	for _, f := range dst.Funcs {
		l.dstNames[f.Name()] = f
	}
	for _, g := range src.Globals {
		l.srcNames[g.Name()] = struct{}{}
	}
	for _, f := range src.Funcs {
		l.srcNames[f.Name()] = struct{}{}
	}

	typePlans, err := l.planTypes()
	if err != nil {
		return nil, err
	}
	var plans []plan
	for _, g := range src.Globals {
		p, err := l.planGlobal(g)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	for _, f := range src.Funcs {
		p, err := l.planFunc(f)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}

	l.applyTypes(typePlans)
	l.adoptAttrGroups()
	for _, p := range plans {
		l.apply(p)
	}
	l.rewriteMoved()
	return l.report, nil
}

type linker struct {
	dst, src *ir.Module
	dstNames map[string]value.Value
	srcNames map[string]struct{}
	redirect map[value.Value]value.Value
	touched  []*ir.Func
	inits    []*ir.Global
	report   *Report
}

type typePlan struct {
	def types.Type
	src *types.StructType
	dst *types.StructType // nil: add def
}

func (l *linker) planTypes() ([]typePlan, error) {
	byName := make(map[string]types.Type, len(l.dst.TypeDefs))
	for _, t := range l.dst.TypeDefs {
		byName[t.Name()] = t
	}
	var plans []typePlan
	for _, t := range l.src.TypeDefs {
		st, ok := t.(*types.StructType)
		existing, found := byName[t.Name()]
		if !found {
			plans = append(plans, typePlan{def: t})
			continue
		}
		dt, dok := existing.(*types.StructType)
		if !ok || !dok {
			if !existing.Equal(t) {
				return nil, &Error{Symbol: "%" + t.Name(), Err: ErrTypeClash}
			}
			continue
		}
		if dt.Opaque || st.Opaque {
			plans = append(plans, typePlan{def: t, src: st, dst: dt})
			continue
		}
		if !sameStructBody(dt, st) {
			return nil, &Error{Symbol: "%" + t.Name(), Err: ErrTypeClash, Detail: fmt.Sprintf("%s vs %s", dt.LLString(), st.LLString())}
		}
	}
	return plans, nil
}

func sameStructBody(a, b *types.StructType) bool {
	if a.Packed != b.Packed || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if !a.Fields[i].Equal(b.Fields[i]) {
			return false
		}
	}
	return true
}

func (l *linker) applyTypes(plans []typePlan) {
	for _, p := range plans {
		switch {
		case p.dst == nil:
			l.dst.TypeDefs = append(l.dst.TypeDefs, p.def)
			l.report.AddedTypes = append(l.report.AddedTypes, p.def.Name())
		case p.dst.Opaque && !p.src.Opaque:
			p.dst.Opaque = false
			p.dst.Packed = p.src.Packed
			p.dst.Fields = p.src.Fields
		}
	}
}

func (l *linker) planGlobal(g *ir.Global) (plan, error) {
	existing, found := l.dstNames[g.Name()]
	if !found {
		return plan{act: actAdd, src: g}, nil
	}
	if isLocal(g.Linkage) {
		return plan{act: actRename, src: g, name: l.freshName(g.Name())}, nil
	}
	if isLocalSymbol(existing) {
		return plan{act: actEvict, src: g, dst: existing, name: l.freshName(g.Name())}, nil
	}
	dg, ok := existing.(*ir.Global)
	if !ok {
		return plan{}, &Error{Symbol: "@" + g.Name(), Err: ErrSymbolType, Detail: "global variable vs function"}
	}
	if !dg.ContentType.Equal(g.ContentType) {
		return plan{}, &Error{Symbol: "@" + g.Name(), Err: ErrSymbolType, Detail: fmt.Sprintf("%s vs %s", dg.ContentType, g.ContentType)}
	}
	switch {
	case g.Init == nil:
		return plan{act: actRedirect, src: g, dst: dg}, nil
	case dg.Init == nil:
		return plan{act: actMove, src: g, dst: dg}, nil
	case isDiscardable(g.Linkage):
		return plan{act: actRedirect, src: g, dst: dg}, nil
	case isDiscardable(dg.Linkage):
		return plan{act: actMove, src: g, dst: dg}, nil
	}
	return plan{}, &Error{Symbol: "@" + g.Name(), Err: ErrDuplicateSymbol}
}

func (l *linker) planFunc(f *ir.Func) (plan, error) {
	existing, found := l.dstNames[f.Name()]
	if !found {
		return plan{act: actAdd, src: f}, nil
	}
	if isLocal(f.Linkage) {
		return plan{act: actRename, src: f, name: l.freshName(f.Name())}, nil
	}
	if isLocalSymbol(existing) {
		return plan{act: actEvict, src: f, dst: existing, name: l.freshName(f.Name())}, nil
	}
	df, ok := existing.(*ir.Func)
	if !ok {
		return plan{}, &Error{Symbol: "@" + f.Name(), Err: ErrSymbolType, Detail: "function vs global variable"}
	}
	if !df.Sig.Equal(f.Sig) {
		return plan{}, &Error{Symbol: "@" + f.Name(), Err: ErrSymbolType, Detail: fmt.Sprintf("%s vs %s", df.Sig, f.Sig)}
	}
	srcDef, dstDef := len(f.Blocks) > 0, len(df.Blocks) > 0
	switch {
	case !srcDef:
		return plan{act: actRedirect, src: f, dst: df}, nil
	case !dstDef:
		return plan{act: actMove, src: f, dst: df}, nil
	case isDiscardable(f.Linkage):
		return plan{act: actRedirect, src: f, dst: df}, nil
	case isDiscardable(df.Linkage):
		return plan{act: actMove, src: f, dst: df}, nil
	}
	return plan{}, &Error{Symbol: "@" + f.Name(), Err: ErrDuplicateSymbol}
}

func (l *linker) freshName(base string) string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s.%d", base, i)
		_, inSrc := l.srcNames[name]
		if _, taken := l.dstNames[name]; !taken && !inSrc {
			l.dstNames[name] = nil
			return name
		}
	}
}

func (l *linker) apply(p plan) {
	if p.act == actEvict {
		local := p.dst.(value.Named)
		old := local.Name()
		local.SetName(p.name)
		l.dstNames[p.name] = local
		delete(l.dstNames, old)
		l.report.LocalsRenamed[old] = p.name
		p.act = actAdd
	}
	switch src := p.src.(type) {
	case *ir.Global:
		switch p.act {
		case actAdd, actRename:
			if p.act == actRename {
				l.report.Renamed[src.Name()] = p.name
				src.SetName(p.name)
			}
			l.dst.Globals = append(l.dst.Globals, src)
			l.dstNames[src.Name()] = src
			l.inits = append(l.inits, src)
			l.report.AddedGlobals = append(l.report.AddedGlobals, src.Name())
		case actRedirect:
			l.redirect[src] = p.dst
		case actMove:
			dg := p.dst.(*ir.Global)
			dg.Init = src.Init
			dg.Immutable = src.Immutable
			dg.Linkage = src.Linkage
			if src.Align != 0 {
				dg.Align = src.Align
			}
			l.redirect[src] = dg
			l.inits = append(l.inits, dg)
			l.report.Resolved = append(l.report.Resolved, dg.Name())
		}
	case *ir.Func:
		switch p.act {
		case actAdd, actRename:
			if p.act == actRename {
				l.report.Renamed[src.Name()] = p.name
				src.SetName(p.name)
			}
			src.Parent = l.dst
			l.dst.Funcs = append(l.dst.Funcs, src)
			l.dstNames[src.Name()] = src
			l.touched = append(l.touched, src)
			l.report.AddedFuncs = append(l.report.AddedFuncs, src.Name())
		case actRedirect:
			l.redirect[src] = p.dst
		case actMove:
			df := p.dst.(*ir.Func)
			df.Params = src.Params
			df.Blocks = src.Blocks
			for _, b := range df.Blocks {
				b.Parent = df
			}
			df.Linkage = src.Linkage
			df.Preemption = src.Preemption
			df.Visibility = src.Visibility
			df.DLLStorageClass = src.DLLStorageClass
			df.CallingConv = src.CallingConv
			df.ReturnAttrs = src.ReturnAttrs
			df.UnnamedAddr = src.UnnamedAddr
			df.FuncAttrs = src.FuncAttrs
			df.Section = src.Section
			df.Partition = src.Partition
			df.Align = src.Align
			df.GC = src.GC
			df.Personality = src.Personality
			l.redirect[src] = df
			l.touched = append(l.touched, df)
			l.report.Resolved = append(l.report.Resolved, df.Name())
		}
	}
}

// adoptAttrGroups renumbers src attribute groups after dst's so both sets
// can be printed together.
func (l *linker) adoptAttrGroups() {
	var next int64
	for _, g := range l.dst.AttrGroupDefs {
		if g.ID >= next {
			next = g.ID + 1
		}
	}
	for _, g := range l.src.AttrGroupDefs {
		g.ID = next
		next++
		l.dst.AttrGroupDefs = append(l.dst.AttrGroupDefs, g)
	}
}

// rewriteMoved points every use inside linked-in code at dst symbols.
func (l *linker) rewriteMoved() {
	if len(l.redirect) == 0 {
		return
	}
	for _, f := range l.touched {
		ReplaceUses(f, l.redirect)
	}
	for _, g := range l.inits {
		if g.Init != nil {
			g.Init = replaceConst(g.Init, l.redirect)
		}
	}
}

func isLocal(linkage enum.Linkage) bool {
	return linkage == enum.LinkageInternal || linkage == enum.LinkagePrivate
}

func isLocalSymbol(v value.Value) bool {
	switch v := v.(type) {
	case *ir.Global:
		return isLocal(v.Linkage)
	case *ir.Func:
		return isLocal(v.Linkage)
	}
	return false
}

// isDiscardable reports linkages whose definition may be dropped in
// favour of another definition of the same symbol.
func isDiscardable(linkage enum.Linkage) bool {
	switch linkage {
	case enum.LinkageLinkOnce, enum.LinkageLinkOnceODR,
		enum.LinkageWeak, enum.LinkageWeakODR,
		enum.LinkageCommon, enum.LinkageAvailableExternally, enum.LinkageExternWeak:
		return true
	}
	return false
}
