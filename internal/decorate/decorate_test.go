package decorate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"drti/internal/config"
	"drti/internal/irverify"
	"drti/internal/trace"
)

const header = "target triple = \"x86_64-unknown-linux-gnu\"\n"

func parse(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := asm.ParseString("input.ll", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

func newPass(t *testing.T, names ...string) *Pass {
	t.Helper()
	p, err := New(Config{Targets: config.NewTargets(names...)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func run(t *testing.T, p *Pass, m *ir.Module) Result {
	t.Helper()
	res, err := p.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func funcByName(m *ir.Module, name string) *ir.Func {
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

func globalByName(m *ir.Module, name string) *ir.Global {
	for _, g := range m.Globals {
		if g.Name() == name {
			return g
		}
	}
	return nil
}

// numberCalls repeats the call enumeration on an untouched function and
// returns the callee of each ordinal.
func numberCalls(f *ir.Func) []value.Value {
	var out []value.Value
	add := func(callee value.Value) {
		if _, asm := callee.(*ir.InlineAsm); !asm {
			out = append(out, callee)
		}
	}
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			if call, ok := inst.(*ir.InstCall); ok {
				add(call.Callee)
			}
		}
		if inv, ok := b.Term.(*ir.TermInvoke); ok {
			add(inv.Invokee)
		}
	}
	return out
}

const fooBar = header + `
define void @bar() {
entry:
  ret void
}

define void @foo() {
entry:
  tail call void @bar()
  ret void
}
`

func TestNew_RequiresTargets(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, config.ErrNoTargets) {
		t.Fatalf("New error = %v, want ErrNoTargets", err)
	}
	_, err = New(Config{Targets: config.NewTargets("foo"), Protocol: config.Protocol{RetAlign: 12, Triple: "a", DecoratedTriple: "b"}})
	if err == nil {
		t.Fatalf("New accepted retalign 12")
	}
}

func TestRun_NoTargetsLeavesModuleUnchanged(t *testing.T) {
	m := parse(t, fooBar)
	before := m.String()
	res := run(t, newPass(t, "baz"), m)
	if res.Status != StatusNoTargets || res.Changed {
		t.Fatalf("status=%s changed=%v, want no-targets unchanged", res.Status, res.Changed)
	}
	if after := m.String(); after != before {
		t.Fatalf("module changed:\n%s", after)
	}
}

func TestRun_SkipsOtherTriple(t *testing.T) {
	m := parse(t, strings.Replace(fooBar, "x86_64-unknown-linux-gnu", "aarch64-unknown-linux-gnu", 1))
	before := m.String()
	res := run(t, newPass(t, "foo", "bar"), m)
	if res.Status != StatusSkippedTriple || res.Changed {
		t.Fatalf("status=%s changed=%v, want skipped-triple unchanged", res.Status, res.Changed)
	}
	if m.String() != before {
		t.Fatalf("module changed")
	}
}

func TestRun_FooCallsBar(t *testing.T) {
	m := parse(t, fooBar)
	res := run(t, newPass(t, "foo", "bar"), m)

	if res.Status != StatusDecorated || !res.Changed {
		t.Fatalf("status=%s changed=%v, want decorated", res.Status, res.Changed)
	}
	if m.TargetTriple != config.DefaultDecoratedTriple {
		t.Fatalf("triple = %q, want %q", m.TargetTriple, config.DefaultDecoratedTriple)
	}
	if len(res.Landings) != 2 || res.Landings[0].Function != "bar" || res.Landings[1].Function != "foo" {
		t.Fatalf("landings = %+v, want bar then foo", res.Landings)
	}
	for _, l := range res.Landings {
		if g := globalByName(m, l.Global); g == nil || g.Linkage != enum.LinkageInternal {
			t.Fatalf("landing global %s missing or not internal", l.Global)
		}
	}
	if len(res.Callsites) != 1 {
		t.Fatalf("callsites = %+v, want one", res.Callsites)
	}
	cs := res.Callsites[0]
	if cs.Function != "foo" || cs.Callee != "bar" || cs.Ordinal != 0 {
		t.Fatalf("callsite = %+v, want foo->bar #0", cs)
	}

	foo := funcByName(m, "foo")
	var labels []string
	for _, b := range foo.Blocks {
		labels = append(labels, b.Name())
	}
	if got := strings.Join(labels, ","); got != "entry,drti_land1,drti_land2,drti_land3" {
		t.Fatalf("foo blocks = %s", got)
	}

	var call *ir.InstCall
	for _, inst := range foo.Blocks[1].Insts {
		if c, ok := inst.(*ir.InstCall); ok && c.Callee != nil {
			if _, cast := c.Callee.(*ir.InstBitCast); cast {
				call = c
			}
		}
	}
	if call == nil {
		t.Fatalf("no call through the resolved target in drti_land1:\n%s", foo.LLString())
	}
	if call.Tail != enum.TailNoTail {
		t.Fatalf("call tail = %v, want notail", call.Tail)
	}
	text := foo.LLString()
	for _, want := range []string{"@_drti_call_from", "@_drti_set_caller", "@llvm.returnaddress", "@_drti_landed", "@_drti_caller"} {
		if !strings.Contains(text, want) {
			t.Fatalf("foo does not reference %s:\n%s", want, text)
		}
	}
	if strings.Contains(text, "tail call void @bar") {
		t.Fatalf("direct tail call survived:\n%s", text)
	}

	if err := irverify.Module(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := asm.ParseString("decorated.ll", m.String()); err != nil {
		t.Fatalf("decorated module does not reparse: %v", err)
	}
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	m := parse(t, fooBar)
	p := newPass(t, "foo", "bar")
	first := run(t, p, m)
	if first.Triple == config.DefaultTriple {
		t.Fatalf("triple not changed")
	}
	before := m.String()
	second := run(t, p, m)
	if second.Status != StatusSkippedTriple || second.Changed {
		t.Fatalf("second run status=%s changed=%v", second.Status, second.Changed)
	}
	if m.String() != before {
		t.Fatalf("second run changed the module")
	}
}

const mixedCalls = header + `
declare i32 @ext(i64)
declare i32 @other(i32)

define i32 @bar(i32 %y) {
entry:
  ret i32 %y
}

define i32 @foo(i32 %x, i32 (i32)* %fp) {
entry:
  %slot = alloca i32
  %a = call i32 @ext(i64 1)
  call void asm sideeffect "nop", ""()
  %b = call i32 @bar(i32 %x)
  %c = call i32 %fp(i32 %b)
  %d = call i32 @other(i32 %c)
  store i32 %d, i32* %slot
  ret i32 %d
}
`

func TestRun_OrdinalsAndSelection(t *testing.T) {
	m := parse(t, mixedCalls)
	res := run(t, newPass(t, "foo", "bar"), m)
	if res.Status != StatusDecorated {
		t.Fatalf("status = %s", res.Status)
	}

	var fooSites []Callsite
	for _, cs := range res.Callsites {
		if cs.Function == "foo" {
			fooSites = append(fooSites, cs)
		}
	}
	// ext=0 (not a target type), asm unnumbered, bar=1, %fp=2, other=3
	// (target type but a non-target declaration).
	if len(fooSites) != 2 {
		t.Fatalf("foo callsites = %+v, want 2", fooSites)
	}
	if fooSites[0].Ordinal != 1 || fooSites[0].Callee != "bar" {
		t.Fatalf("first callsite = %+v, want bar #1", fooSites[0])
	}
	if fooSites[1].Ordinal != 2 || fooSites[1].Callee != "" {
		t.Fatalf("second callsite = %+v, want indirect #2", fooSites[1])
	}

	foo := funcByName(m, "foo")
	entry := foo.Blocks[0]
	if _, ok := entry.Insts[0].(*ir.InstAlloca); !ok {
		t.Fatalf("entry does not start with the alloca: %T", entry.Insts[0])
	}
	if _, ok := entry.Insts[len(entry.Insts)-1].(*ir.InstICmp); !ok {
		t.Fatalf("entry does not end with the alignment test")
	}
	other := funcByName(m, "other")
	found := false
	for _, b := range foo.Blocks {
		for _, inst := range b.Insts {
			if c, ok := inst.(*ir.InstCall); ok && c.Callee == other {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("direct call to non-target @other was rewritten")
	}

	site := globalByName(m, fooSites[1].Global)
	if site == nil || !strings.Contains(site.LLString(), "i32 2") {
		t.Fatalf("callsite global %s does not carry ordinal 2", fooSites[1].Global)
	}
	if err := irverify.Module(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRun_SnapshotReproducesOrdinals(t *testing.T) {
	m := parse(t, mixedCalls)
	res := run(t, newPass(t, "foo", "bar"), m)

	snap, err := asm.ParseBytes("snapshot.ll", res.Snapshot)
	if err != nil {
		t.Fatalf("snapshot does not parse: %v", err)
	}
	if funcByName(snap, "_drti_landed") == nil {
		t.Fatalf("snapshot taken before the support link")
	}
	if strings.Contains(string(res.Snapshot), "drti_land1") || strings.Contains(string(res.Snapshot), "__drti_self") {
		t.Fatalf("snapshot contains decoration")
	}
	callees := numberCalls(funcByName(snap, "foo"))
	for _, cs := range res.Callsites {
		if cs.Function != "foo" {
			continue
		}
		if int(cs.Ordinal) >= len(callees) {
			t.Fatalf("ordinal %d out of range (%d calls)", cs.Ordinal, len(callees))
		}
		got := callees[cs.Ordinal]
		if cs.Callee != "" {
			fn, ok := got.(*ir.Func)
			if !ok || fn.Name() != cs.Callee {
				t.Fatalf("snapshot call %d is %v, want @%s", cs.Ordinal, got, cs.Callee)
			}
			continue
		}
		if p, ok := got.(*ir.Param); !ok || p.Name() != "fp" {
			t.Fatalf("snapshot call %d is %v, want %%fp", cs.Ordinal, got)
		}
	}

	self := globalByName(m, "__drti_self")
	if self == nil || !self.Immutable || self.Linkage != enum.LinkageInternal {
		t.Fatalf("__drti_self missing or not an internal constant")
	}
	table := globalByName(m, "__drti_globals")
	arr, ok := table.ContentType.(*types.ArrayType)
	if !ok || int(arr.Len) != len(res.Globals) {
		t.Fatalf("__drti_globals type %v, want %d entries", table.ContentType, len(res.Globals))
	}
	if !contains(res.Globals, "ext") || !contains(res.Globals, "other") || contains(res.Globals, "foo") {
		t.Fatalf("address table = %v", res.Globals)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestRun_PhiEdgesFollowSplit(t *testing.T) {
	m := parse(t, header+`
define i32 @foo(i1 %c) {
entry:
  br i1 %c, label %a, label %b
a:
  br label %b
b:
  %r = phi i32 [ 1, %entry ], [ 2, %a ]
  ret i32 %r
}
`)
	run(t, newPass(t, "foo"), m)
	foo := funcByName(m, "foo")
	land1 := foo.Blocks[1]
	var phi *ir.InstPhi
	for _, b := range foo.Blocks {
		if b.Name() == "b" {
			phi = b.Insts[0].(*ir.InstPhi)
		}
	}
	if phi.Incs[0].Pred != land1 {
		t.Fatalf("phi edge from entry not moved to %s", land1.Name())
	}
	if err := irverify.Module(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRun_Invoke(t *testing.T) {
	m := parse(t, header+`
declare i32 @__gxx_personality_v0(...)

define void @bar() {
entry:
  ret void
}

define void @foo() personality i32 (...)* @__gxx_personality_v0 {
entry:
  invoke void @bar() to label %ok unwind label %lp
ok:
  ret void
lp:
  %e = landingpad { i8*, i32 } cleanup
  resume { i8*, i32 } %e
}
`)
	res := run(t, newPass(t, "foo", "bar"), m)
	if len(res.Callsites) != 1 || !res.Callsites[0].Invoke || res.Callsites[0].Ordinal != 0 {
		t.Fatalf("callsites = %+v, want one invoke #0", res.Callsites)
	}
	inv := funcByName(m, "foo").Blocks[1].Term.(*ir.TermInvoke)
	if _, ok := inv.Invokee.(*ir.InstBitCast); !ok {
		t.Fatalf("invokee = %T, want resolved target cast", inv.Invokee)
	}
	if err := irverify.Module(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRun_StripsNoOptimize(t *testing.T) {
	m := parse(t, header+`
define void @foo() #0 {
entry:
  ret void
}

define void @helper() noinline {
entry:
  ret void
}

attributes #0 = { noinline nounwind optnone }
`)
	run(t, newPass(t, "foo"), m)
	for _, name := range []string{"foo", "helper"} {
		for _, a := range funcByName(m, name).FuncAttrs {
			if isNoOptimize(a) {
				t.Fatalf("@%s still has %v", name, a)
			}
			if _, group := a.(*ir.AttrGroupDef); group && name == "foo" {
				t.Fatalf("@foo still references the attribute group")
			}
		}
	}
	found := false
	for _, a := range funcByName(m, "foo").FuncAttrs {
		if a == enum.FuncAttrNoUnwind {
			found = true
		}
	}
	if !found {
		t.Fatalf("nounwind lost while flattening the group")
	}
}

func TestRun_MalformedEntryIsFatal(t *testing.T) {
	m := ir.NewModule()
	m.TargetTriple = config.DefaultTriple
	f := m.NewFunc("foo", types.Void)
	f.NewBlock("entry")
	_, err := newPass(t, "foo").Run(context.Background(), m)
	if !errors.Is(err, ErrMalformedFunction) {
		t.Fatalf("Run error = %v, want ErrMalformedFunction", err)
	}
}

func TestRun_LinkFailureIsRecoverable(t *testing.T) {
	m := parse(t, header+`
%"struct.drti::treenode" = type { i8* }

@keep = global %"struct.drti::treenode"* null

define void @foo() {
entry:
  ret void
}
`)
	before := m.String()
	res, err := newPass(t, "foo").Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusLinkFailed || res.Changed || res.Link == nil {
		t.Fatalf("status=%s changed=%v link=%v", res.Status, res.Changed, res.Link)
	}
	if m.String() != before {
		t.Fatalf("module changed by failed link")
	}
}

func TestLookupHelpers(t *testing.T) {
	p := newPass(t, "foo")
	tests := []struct {
		name string
		src  string
		want Status
	}{
		{
			name: "missing",
			src:  header,
			want: StatusHelpersMissing,
		},
		{
			name: "functions_missing",
			src: header + `
%"struct.drti::reflect" = type { i8*, i64, i8**, i64 }
%"struct.drti::landing_site" = type { i64, i8*, i8*, %"struct.drti::reflect"* }
%"struct.drti::static_callsite" = type { i64, %"struct.drti::landing_site"*, i32, [3 x i8*] }
%"struct.drti::treenode" = type { i8*, i8*, i8*, i64, i8*, i8* }
@r = global %"struct.drti::reflect" zeroinitializer
@l = global %"struct.drti::landing_site" zeroinitializer
@c = global %"struct.drti::static_callsite" zeroinitializer
@t = global %"struct.drti::treenode" zeroinitializer
`,
			want: StatusHelpersMissing,
		},
		{
			name: "treenode_too_short",
			src: header + `
%"struct.drti::reflect" = type { i8*, i64, i8**, i64 }
%"struct.drti::landing_site" = type { i64, i8*, i8*, %"struct.drti::reflect"* }
%"struct.drti::static_callsite" = type { i64, %"struct.drti::landing_site"*, i32, [3 x i8*] }
%"struct.drti::treenode" = type { i8*, i8* }
declare void @_drti_landed(%"struct.drti::landing_site"*, %"struct.drti::treenode"*)
declare %"struct.drti::treenode"* @_drti_call_from(%"struct.drti::static_callsite"*, %"struct.drti::treenode"*, i8*)
@r = global %"struct.drti::reflect" zeroinitializer
`,
			want: StatusLayoutMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &decorator{pass: p, module: parse(t, tt.src), tracer: trace.Nop}
			got, _ := d.lookupHelpers()
			if got != tt.want {
				t.Fatalf("lookupHelpers = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRun_TracesCallNumbers(t *testing.T) {
	ring := trace.NewRingTracer(256, trace.LevelDebug)
	ctx := trace.WithTracer(context.Background(), ring)
	if _, err := newPass(t, "foo", "bar").Run(ctx, parse(t, fooBar)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var sawCall, sawPass bool
	for _, ev := range ring.Snapshot() {
		if strings.Contains(ev.Detail, "foo call_number 0 bar") {
			sawCall = true
		}
		if ev.Kind == trace.KindSpanEnd && ev.Name == PassName && ev.Extra["status"] == "decorated" {
			sawPass = true
		}
	}
	if !sawCall || !sawPass {
		t.Fatalf("trace missing events: call=%v pass=%v", sawCall, sawPass)
	}
}

func TestSnapshot_SurvivesReparse(t *testing.T) {
	m := parse(t, fooBar)
	if _, err := Snapshot(m); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("undecorated Snapshot err = %v, want ErrNoSnapshot", err)
	}
	res := run(t, newPass(t, "foo", "bar"), m)

	out, err := asm.ParseString("decorated.ll", m.String())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	got, err := Snapshot(out)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if string(got) != string(res.Snapshot) {
		t.Fatalf("embedded snapshot differs from Result.Snapshot")
	}
}
