// Package pipeline assembles module passes into an ordered pipeline.
//
// Passes are registered by the caller at a named extension point; nothing
// registers itself at init time.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/llir/llvm/ir"

	"drti/internal/trace"
)

// ExtensionPoint is a slot of the optimization pipeline a pass runs in.
type ExtensionPoint uint8

const (
	EPModuleOptimizerEarly ExtensionPoint = iota + 1
	EPScalarOptimizerLate
	// EPOptimizerLast runs after every optimization. Decoration registers
	// here so the snapshot it embeds is already optimized.
	EPOptimizerLast
)

func (ep ExtensionPoint) String() string {
	switch ep {
	case EPModuleOptimizerEarly:
		return "module-optimizer-early"
	case EPScalarOptimizerLate:
		return "scalar-optimizer-late"
	case EPOptimizerLast:
		return "optimizer-last"
	}
	return "unknown"
}

// ParseExtensionPoint converts a name printed by String.
func ParseExtensionPoint(s string) (ExtensionPoint, error) {
	for ep := EPModuleOptimizerEarly; ep <= EPOptimizerLast; ep++ {
		if ep.String() == s {
			return ep, nil
		}
	}
	return 0, fmt.Errorf("unknown extension point %q", s)
}

// Pass transforms or checks one module.
type Pass interface {
	Name() string
	Run(ctx context.Context, m *ir.Module) error
}

// Func adapts a function to Pass.
type Func struct {
	PassName string
	Fn       func(ctx context.Context, m *ir.Module) error
}

func (f Func) Name() string { return f.PassName }

func (f Func) Run(ctx context.Context, m *ir.Module) error { return f.Fn(ctx, m) }

type entry struct {
	ep   ExtensionPoint
	seq  int
	pass Pass
}

// Builder collects passes. The zero value is ready to use.
type Builder struct {
	entries []entry
}

// Add registers p at ep. Passes at the same point run in the order added.
func (b *Builder) Add(ep ExtensionPoint, p Pass) *Builder {
	b.entries = append(b.entries, entry{ep: ep, seq: len(b.entries), pass: p})
	return b
}

// Build fixes the pass order.
func (b *Builder) Build() *Pipeline {
	entries := make([]entry, len(b.entries))
	copy(entries, b.entries)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ep != entries[j].ep {
			return entries[i].ep < entries[j].ep
		}
		return entries[i].seq < entries[j].seq
	})
	return &Pipeline{entries: entries}
}

// PhaseEvent reports one finished pass.
type PhaseEvent struct {
	Pass    string
	Point   ExtensionPoint
	Elapsed time.Duration
	Err     error
}

// Pipeline runs passes in extension point order.
type Pipeline struct {
	entries []entry
	// Observer, if set, is called after every pass.
	Observer func(PhaseEvent)
}

// Passes returns "point/name" for every pass in run order.
func (p *Pipeline) Passes() []string {
	out := make([]string, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.ep.String() + "/" + e.pass.Name()
	}
	return out
}

// Run runs every pass over m and stops at the first error.
func (p *Pipeline) Run(ctx context.Context, m *ir.Module) error {
	tr := trace.FromContext(ctx)
	parent := trace.CurrentSpan(ctx)
	for _, e := range p.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		span := trace.Begin(tr, trace.ScopeDriver, e.pass.Name(), parent).WithExtra("point", e.ep.String())
		started := time.Now()
		err := e.pass.Run(trace.WithSpan(ctx, span.ID()), m)
		elapsed := time.Since(started)
		if err != nil {
			span.End("error: " + err.Error())
		} else {
			span.End("")
		}
		if p.Observer != nil {
			p.Observer(PhaseEvent{Pass: e.pass.Name(), Point: e.ep, Elapsed: elapsed, Err: err})
		}
		if err != nil {
			return fmt.Errorf("%s: %w", e.pass.Name(), err)
		}
	}
	return nil
}
