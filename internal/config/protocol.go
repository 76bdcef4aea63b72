package config

import (
	"fmt"
	"math/bits"
)

// Defaults for the x86-64 Linux protocol.
const (
	DefaultRetAlign        = 16
	DefaultMagic           = 0x445254494d414749 // "DRTIMAGI"
	DefaultTriple          = "x86_64-unknown-linux-gnu"
	DefaultDecoratedTriple = "x86_64_drti-unknown-linux-gnu"
)

// Protocol describes the hidden caller-identification contract shared with
// the machine-level pass that writes the sentinel word.
type Protocol struct {
	// RetAlign is the alignment of a cooperating call's return address. The
	// sentinel word sits RetAlign bytes before it.
	RetAlign uint64
	// Magic is the 64-bit sentinel value.
	Magic uint64
	// Triple is the only target triple the engine processes.
	Triple string
	// DecoratedTriple replaces Triple after decoration.
	DecoratedTriple string
}

// DefaultProtocol returns the x86-64 Linux protocol.
func DefaultProtocol() Protocol {
	return Protocol{
		RetAlign:        DefaultRetAlign,
		Magic:           DefaultMagic,
		Triple:          DefaultTriple,
		DecoratedTriple: DefaultDecoratedTriple,
	}
}

// Validate checks the protocol is usable.
func (p Protocol) Validate() error {
	if p.RetAlign == 0 || bits.OnesCount64(p.RetAlign) != 1 {
		return fmt.Errorf("retalign %d is not a power of two", p.RetAlign)
	}
	if p.RetAlign%8 != 0 {
		return fmt.Errorf("retalign %d is not a multiple of the sentinel word size", p.RetAlign)
	}
	if p.Triple == "" || p.DecoratedTriple == "" {
		return fmt.Errorf("target triples must be set")
	}
	if p.Triple == p.DecoratedTriple {
		return fmt.Errorf("decorated triple %q must differ from %q", p.DecoratedTriple, p.Triple)
	}
	return nil
}
