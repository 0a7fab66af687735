package disasm

import "unpe/internal/binfmt"

// Call-edge kinds.
const (
	CallDirect   = "direct"   // call rel32
	CallImport   = "import"   // call [iat]
	CallIndirect = "indirect" // call reg / call [mem]
	CallThunk    = "thunk"    // jmp [iat]
)

// CallEdge represents a call site extracted from disassembly.
type CallEdge struct {
	FromPC     uint64 `json:"from_pc"`
	Kind       string `json:"kind"`
	TargetPC   uint64 `json:"target_pc,omitempty"` // resolved VA for direct calls
	TargetName string `json:"target_name,omitempty"`
	Reg        string `json:"reg,omitempty"` // register for call reg (e.g. "esi")
	Via        string `json:"via,omitempty"` // provenance of the register value
}

// RegDef records the last definition of a register within the window.
type RegDef struct {
	Annotation string // e.g. "KERNEL32.dll!CreateFileW"
	Name       string // resolved callee name, if the annotation names one
	Age        int    // instructions since definition
}

// RegTracker tracks last-def provenance for the 16 GPR encodings.
// Definitions older than the window are expired.
type RegTracker struct {
	defs [16]RegDef
	w    int
}

// NewRegTracker creates a tracker with the given window size.
func NewRegTracker(w int) *RegTracker {
	return &RegTracker{w: w}
}

// Reset clears all tracked definitions. Call between functions.
func (rt *RegTracker) Reset() {
	rt.defs = [16]RegDef{}
}

// Tick ages all definitions by 1 and expires those beyond the window.
func (rt *RegTracker) Tick() {
	for i := range rt.defs {
		if rt.defs[i].Annotation != "" {
			rt.defs[i].Age++
			if rt.defs[i].Age > rt.w {
				rt.defs[i] = RegDef{}
			}
		}
	}
}

// Define records that register r was loaded from a known source.
func (rt *RegTracker) Define(r Reg, annotation, name string) {
	if n := r.Num(); n >= 0 {
		rt.defs[n] = RegDef{Annotation: annotation, Name: name}
	}
}

// Lookup returns the live definition of r, if any.
func (rt *RegTracker) Lookup(r Reg) (RegDef, bool) {
	n := r.Num()
	if n < 0 || rt.defs[n].Annotation == "" {
		return RegDef{}, false
	}
	return rt.defs[n], true
}

// Kill clears the definition for a register.
func (rt *RegTracker) Kill(r Reg) {
	if n := r.Num(); n >= 0 {
		rt.defs[n] = RegDef{}
	}
}

// ExtractCallEdges scans instructions for call sites. `mov reg, [iat]` and
// `mov reg, imm`/`lea reg, [rip+x]` naming a known symbol feed a register
// tracker with window w, which resolves a later `call reg`. Returned edges
// are in instruction order.
func ExtractCallEdges(insts []Instruction, symbols SymbolLookup, slots map[uint64]binfmt.Import, w int) []CallEdge {
	rt := NewRegTracker(w)
	var edges []CallEdge

	importAt := func(in *Instruction) (binfmt.Import, bool) {
		m, ok := in.MemOperand()
		if !ok {
			return binfmt.Import{}, false
		}
		addr, ok := in.MemAddr(m)
		if !ok {
			return binfmt.Import{}, false
		}
		imp, ok := slots[addr]
		return imp, ok
	}

	for i := range insts {
		in := &insts[i]
		switch {
		case in.Op == CALL && in.HasTarget:
			e := CallEdge{FromPC: in.Addr, Kind: CallDirect, TargetPC: in.Target}
			if symbols != nil {
				if name, ok := symbols(in.Target); ok {
					e.TargetName = name
				}
			}
			edges = append(edges, e)
			rt.Kill(Accumulator(4))

		case in.IsCall() && len(in.Args) == 1 && in.Args[0].Kind == KindReg:
			r := in.Args[0].Reg
			e := CallEdge{FromPC: in.Addr, Kind: CallIndirect, Reg: r.String()}
			if def, ok := rt.Lookup(r); ok {
				e.Via = def.Annotation
				e.TargetName = def.Name
			}
			edges = append(edges, e)
			rt.Kill(Accumulator(4))

		case in.IsCall():
			e := CallEdge{FromPC: in.Addr, Kind: CallIndirect}
			if imp, ok := importAt(in); ok {
				e.Kind = CallImport
				e.TargetName = imp.Label()
				e.Via = imp.DLL
			}
			edges = append(edges, e)
			rt.Kill(Accumulator(4))

		case in.Op == JMP && !in.HasTarget:
			if imp, ok := importAt(in); ok {
				edges = append(edges, CallEdge{FromPC: in.Addr, Kind: CallThunk, TargetName: imp.Label(), Via: imp.DLL})
			}

		case in.Op == MOV && len(in.Args) == 2 && in.Args[0].Kind == KindReg:
			dst := in.Args[0].Reg
			src := in.Args[1]
			rt.Kill(dst)
			if src.Kind == KindMem {
				if imp, ok := importAt(in); ok {
					rt.Define(dst, imp.DLL+"!"+imp.Label(), imp.Label())
				}
			} else if src.Kind == KindImm && symbols != nil {
				if name, ok := symbols(src.Unsigned()); ok {
					rt.Define(dst, name, name)
				}
			} else if src.Kind == KindReg {
				if def, ok := rt.Lookup(src.Reg); ok {
					rt.Define(dst, def.Annotation, def.Name)
				}
			}

		case in.Op == LEA && len(in.Args) == 2:
			dst := in.Args[0].Reg
			rt.Kill(dst)
			if addr, ok := in.MemAddr(in.Args[1].Mem); ok && symbols != nil {
				if name, ok := symbols(addr); ok {
					rt.Define(dst, name, name)
				}
			}

		default:
			if r, ok := in.WrittenReg(); ok {
				rt.Kill(r)
			}
		}
		rt.Tick()
	}

	return edges
}
