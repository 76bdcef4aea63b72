// Package decorate implements the DRTI decoration pass over an LLVM IR
// module.
//
// For every target function definition the pass inserts an entry prologue
// that inspects the function's own return address for the caller sentinel,
// and routes each qualifying outgoing call through the _drti_call_from
// resolver. Before any of that it links the support fragment and embeds a
// textual snapshot of the module plus an address table of its external
// symbols, so the runtime can rebuild the module and reproduce the call
// numbering.
package decorate

import (
	"context"
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"drti/internal/config"
	"drti/internal/observ"
	"drti/internal/trace"
)

// PassName is the name the pass is registered and traced under.
const PassName = "drti-decorate"

var (
	// ErrMalformedFunction is returned when a target definition's entry
	// block cannot be split.
	ErrMalformedFunction = errors.New("malformed entry block")
	// ErrSupportCorrupt is returned when the embedded support fragment does
	// not parse. It is a defect of the build, not of the input.
	ErrSupportCorrupt = errors.New("embedded support fragment is corrupt")
)

// Status says how far the pass got on one module.
type Status uint8

const (
	StatusSkippedTriple Status = iota + 1
	StatusNoTargets
	StatusLinkFailed
	StatusHelpersMissing
	StatusLayoutMismatch
	StatusDecorated
)

func (s Status) String() string {
	switch s {
	case StatusSkippedTriple:
		return "skipped-triple"
	case StatusNoTargets:
		return "no-targets"
	case StatusLinkFailed:
		return "link-failed"
	case StatusHelpersMissing:
		return "helpers-missing"
	case StatusLayoutMismatch:
		return "layout-mismatch"
	case StatusDecorated:
		return "decorated"
	}
	return "unknown"
}

// Config is the explicit configuration of a Pass.
type Config struct {
	Targets config.Targets
	// Protocol defaults to config.DefaultProtocol when zero.
	Protocol config.Protocol
}

// Pass decorates modules. It holds no per-module state and may be reused.
type Pass struct {
	targets  config.Targets
	protocol config.Protocol
}

// New validates cfg. An empty target set is config.ErrNoTargets: the pass
// refuses to exist rather than silently doing nothing.
func New(cfg Config) (*Pass, error) {
	if cfg.Targets.Len() == 0 {
		return nil, config.ErrNoTargets
	}
	proto := cfg.Protocol
	if proto == (config.Protocol{}) {
		proto = config.DefaultProtocol()
	}
	if err := proto.Validate(); err != nil {
		return nil, fmt.Errorf("drti protocol: %w", err)
	}
	return &Pass{targets: cfg.Targets, protocol: proto}, nil
}

// Name returns the name the pass is traced under.
func (p *Pass) Name() string { return PassName }

// Landing describes one instrumented target definition.
type Landing struct {
	Function string `json:"function" msgpack:"function"`
	Global   string `json:"global" msgpack:"global"`
	Calls    int    `json:"calls" msgpack:"calls"`
}

// Callsite describes one decorated call.
type Callsite struct {
	Function string `json:"function" msgpack:"function"`
	Global   string `json:"global" msgpack:"global"`
	Ordinal  uint32 `json:"ordinal" msgpack:"ordinal"`
	// Callee is the direct callee name, empty for an indirect call.
	Callee string `json:"callee,omitempty" msgpack:"callee,omitempty"`
	Invoke bool   `json:"invoke,omitempty" msgpack:"invoke,omitempty"`
}

// Result reports what Run did to one module.
type Result struct {
	Status  Status
	Changed bool
	Triple  string
	// Targets are the target functions present in the module, in module order.
	Targets   []string
	Landings  []Landing
	Callsites []Callsite
	// Globals is the address table order embedded in __drti_globals.
	Globals []string
	// Snapshot is the embedded pre-decoration module text.
	Snapshot []byte
	// Link holds the linker's error when Status is StatusLinkFailed, and
	// Layout the validation error when Status is StatusLayoutMismatch.
	Link    error
	Layout  error
	Timings observ.Report
}

// Run decorates m in place. Only fatal conditions produce an error; every
// other reason to stop is reported through Result.Status.
func (p *Pass) Run(ctx context.Context, m *ir.Module) (Result, error) {
	tr := trace.FromContext(ctx)
	span := trace.Begin(tr, trace.ScopePass, PassName, trace.CurrentSpan(ctx))
	timer := observ.NewTimer()
	res, err := p.run(tr, span.ID(), timer, m)
	res.Timings = timer.Report()
	span.WithExtra("status", res.Status.String()).
		WithExtra("callsites", fmt.Sprint(len(res.Callsites))).
		End(res.Triple)
	return res, err
}

func (p *Pass) run(tr trace.Tracer, spanID uint64, timer *observ.Timer, m *ir.Module) (Result, error) {
	res := Result{Triple: m.TargetTriple}
	if m.TargetTriple != p.protocol.Triple {
		trace.Pointf(tr, trace.ScopePass, "skip", "skipping module for target %q", m.TargetTriple)
		res.Status = StatusSkippedTriple
		return res, nil
	}

	d := &decorator{
		pass:   p,
		module: m,
		tracer: tr,
		span:   spanID,
	}

	done := timer.Start("find-targets")
	found := d.findTargetFunctions()
	done(fmt.Sprintf("%d functions, %d types", len(d.targetFuncs), len(d.targetTypes)))
	if !found {
		res.Status = StatusNoTargets
		return res, nil
	}
	for _, f := range d.targetFuncs {
		res.Targets = append(res.Targets, f.Name())
	}
	if err := d.checkEntryBlocks(); err != nil {
		return res, err
	}

	done = timer.Start("link-support")
	linkErr, err := d.addHelpers()
	done("")
	if err != nil {
		return res, err
	}
	if linkErr != nil {
		trace.Point(tr, trace.ScopePass, "link-failed", linkErr.Error())
		res.Status = StatusLinkFailed
		res.Link = linkErr
		return res, nil
	}
	// The support code stays linked from here on, so every exit reports a
	// changed module.
	res.Changed = true

	done = timer.Start("lookup-helpers")
	status, layoutErr := d.lookupHelpers()
	done(status.String())
	if status != 0 {
		res.Status = status
		res.Layout = layoutErr
		return res, nil
	}

	done = timer.Start("create-self")
	if err := d.createSelf(); err != nil {
		done("failed")
		return res, err
	}
	done(fmt.Sprintf("%d bytes, %d globals", len(d.snapshot), len(d.globalNames)))
	res.Snapshot = d.snapshot
	res.Globals = d.globalNames

	done = timer.Start("instrument")
	err = d.addLandingGlobals()
	done(fmt.Sprintf("%d landings, %d callsites", len(d.landings), len(d.callsites)))
	res.Landings = d.landings
	res.Callsites = d.callsites
	if err != nil {
		return res, err
	}

	m.TargetTriple = p.protocol.DecoratedTriple
	res.Triple = m.TargetTriple
	res.Status = StatusDecorated
	return res, nil
}

// decorator holds the state of one Run over one module.
type decorator struct {
	pass   *Pass
	module *ir.Module
	tracer trace.Tracer
	span   uint64

	// targetFuncs and targetTypes are fixed by findTargetFunctions.
	targetFuncs []*ir.Func
	targetSet   map[*ir.Func]struct{}
	targetTypes []*types.FuncType

	helpers helpers
	globals *globalNamer

	reflect     *ir.Global
	snapshot    []byte
	globalNames []string

	landings  []Landing
	callsites []Callsite
}
