// Package disasm decodes x86 and x86-64 integer code: single instructions,
// linear sweeps, listings, call edges and per-function control flow graphs.
package disasm

import (
	"fmt"
	"strings"

	"unpe/internal/binfmt"
)

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	BaseAddr uint64       // VA of the first byte in Data
	Arch     binfmt.Arch  // x86 or x86-64
	MaxSteps int          // maximum instructions to decode; 0 = 10M
	Symbols  SymbolLookup // optional symbol resolver
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Disassemble sweeps data linearly. Bytes that do not decode become one-byte
// BAD instructions and the sweep resumes at the next byte, so the result
// always covers data contiguously up to MaxSteps.
func Disassemble(data []byte, opts Options) ([]Instruction, error) {
	if !opts.Arch.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedArch, opts.Arch)
	}
	maxSteps := opts.effectiveMax()

	var result []Instruction
	for off := 0; off < len(data) && len(result) < maxSteps; {
		inst, err := DecodeAt(data, off, opts.BaseAddr, opts.Arch)
		if err != nil {
			if !IsDecodeFailure(err) {
				return result, err
			}
			inst = badByte(data, off, opts.BaseAddr)
		}
		result = append(result, inst)
		off += inst.Len
	}
	return result, nil
}

func badByte(data []byte, off int, base uint64) Instruction {
	return Instruction{
		Addr: base + uint64(off),
		Len:  1,
		Raw:  []byte{data[off]},
		Op:   BAD,
		Args: []Operand{immOp(int64(data[off]), 1)},
	}
}

// Format renders a slice of instructions as stable text output.
// Each line: <addr>  <hex bytes>  <disasm>  ; <comments>
// Annotators are checked in order; first non-empty result is used.
func Format(insts []Instruction, lookup SymbolLookup, annotators ...Annotator) string {
	var b strings.Builder
	for _, inst := range insts {
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "\n%s:\n", name)
			}
		}
		fmt.Fprintf(&b, "0x%08x  %-30s  %s", inst.Addr, hexBytes(inst.Raw), inst.String())
		for _, ann := range annotators {
			if s := ann(inst); s != "" {
				fmt.Fprintf(&b, "  ; %s", s)
				break
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func hexBytes(raw []byte) string {
	var b strings.Builder
	for i, c := range raw {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}

// PlaceholderLookup returns a SymbolLookup over a fixed set of known
// function entry points.
func PlaceholderLookup(entryPoints map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		if name, ok := entryPoints[addr]; ok {
			return name, true
		}
		return "", false
	}
}
