// Package sentinel finds cooperating call sites in compiled x86-64 code.
//
// A cooperating call is one whose return address is aligned to RetAlign
// and whose 64-bit word RetAlign bytes before the return address holds the
// magic value. Decorated target functions probe exactly that pattern at
// run time; the scanner lets a build check that the machine-level pass
// actually produced it.
package sentinel

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/arch/x86/x86asm"

	"drti/internal/config"
)

// Site is one cooperating call.
type Site struct {
	Section    string
	Function   string
	Addr       uint64 // address of the call instruction
	ReturnAddr uint64
	Len        int
	// Target is the direct call target, 0 for an indirect call.
	Target uint64
	Text   string
}

func (s Site) String() string {
	fn := s.Function
	if fn == "" {
		fn = "?"
	}
	return fmt.Sprintf("%s %#x <%s>: %s (returns to %#x)", s.Section, s.Addr, fn, s.Text, s.ReturnAddr)
}

const maxInstLen = 15

// ScanText scans code loaded at base. Every magic word is taken as a
// candidate; it counts when the instruction ending RetAlign bytes after it
// decodes as a call and that return address is aligned.
func ScanText(code []byte, base uint64, proto config.Protocol) []Site {
	align := int(proto.RetAlign)
	var sites []Site
	for off := 0; off+8 <= len(code); off++ {
		if binary.LittleEndian.Uint64(code[off:]) != proto.Magic {
			continue
		}
		retOff := off + align
		ret := base + uint64(retOff)
		if retOff > len(code) || ret%proto.RetAlign != 0 {
			continue
		}
		inst, n, ok := callEndingAt(code, retOff, off+8)
		if !ok {
			continue
		}
		pc := ret - uint64(n)
		site := Site{
			Addr:       pc,
			ReturnAddr: ret,
			Len:        n,
			Text:       x86asm.IntelSyntax(inst, pc, nil),
		}
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			site.Target = uint64(int64(ret) + int64(rel))
		}
		sites = append(sites, site)
	}
	return sites
}

// callEndingAt finds the call instruction that ends exactly at end. The
// machine pass jumps over the magic word to min, so decoding forward from
// min is tried first. When that stream does not line up with end (the
// padding is not plain code), the shortest call decoding that ends at end
// and starts no earlier than min is taken; trailing immediate bytes of a
// longer call can then be misread as a short indirect call.
func callEndingAt(code []byte, end, min int) (x86asm.Inst, int, bool) {
	if inst, n, ok := sweepToCall(code, end, min); ok {
		return inst, n, true
	}
	for n := 2; n <= maxInstLen && end-n >= min; n++ {
		inst, err := x86asm.Decode(code[end-n:end], 64)
		if err != nil || inst.Len != n {
			continue
		}
		if inst.Op == x86asm.CALL {
			return inst, n, true
		}
	}
	return x86asm.Inst{}, 0, false
}

// sweepToCall decodes linearly from start and reports the last
// instruction if the stream reaches end exactly on a call.
func sweepToCall(code []byte, end, start int) (x86asm.Inst, int, bool) {
	for pc := start; pc < end; {
		inst, err := x86asm.Decode(code[pc:end], 64)
		if err != nil || inst.Len == 0 {
			return x86asm.Inst{}, 0, false
		}
		pc += inst.Len
		if pc == end && inst.Op == x86asm.CALL {
			return inst, inst.Len, true
		}
	}
	return x86asm.Inst{}, 0, false
}

// ScanELF scans every executable section of an x86-64 ELF file and names
// the function containing each site.
func ScanELF(path string, proto config.Protocol) ([]Site, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%s: machine %s is not x86-64", path, f.Machine)
	}
	funcs := functionSymbols(f)

	var sites []Site
	for i, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("%s: section %s: %w", path, s.Name, err)
		}
		for _, site := range ScanText(data, s.Addr, proto) {
			site.Section = s.Name
			site.Function = funcs.lookup(elf.SectionIndex(i), site.Addr)
			sites = append(sites, site)
		}
	}
	return sites, nil
}

type funcSym struct {
	section elf.SectionIndex
	start   uint64
	end     uint64
	name    string
}

type funcTable []funcSym

func functionSymbols(f *elf.File) funcTable {
	syms, err := f.Symbols()
	if err != nil {
		return nil
	}
	var out funcTable
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 {
			continue
		}
		out = append(out, funcSym{section: s.Section, start: s.Value, end: s.Value + s.Size, name: s.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

func (t funcTable) lookup(section elf.SectionIndex, addr uint64) string {
	for _, s := range t {
		if s.section == section && s.start <= addr && addr < s.end {
			return s.name
		}
	}
	return ""
}
