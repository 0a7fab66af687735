package semantic

import (
	"sort"
	"strconv"

	"unpe/internal/binfmt"
	"unpe/internal/disasm"
)

// Frame is the stack-frame map derived from a function's prologue. Memory
// operands relative to the frame pointer resolve to named locals
// (negative offsets) and parameters (above the saved frame pointer and
// return address). The prologue and the matching epilogue instructions are
// consumed and produce no statements.
type Frame struct {
	FP       disasm.Reg // RegNone when the function sets up no frame pointer
	Size     int64      // bytes reserved below the frame pointer
	ptrSize  int
	consumed map[uint64]bool
	vars     map[int64]Var
}

// NewFrame scans insts for a frame-pointer prologue and epilogues.
func NewFrame(insts []disasm.Instruction, arch binfmt.Arch) *Frame {
	f := &Frame{
		ptrSize:  arch.PtrSize(),
		consumed: make(map[uint64]bool),
		vars:     make(map[int64]Var),
	}
	bp := framePointer(arch)
	sp := stackPointer(arch)

	i := 0
	if i < len(insts) && isMovRegReg(&insts[i], disasm.EDI, disasm.EDI) {
		f.consume(&insts[i]) // hot-patch pad
		i++
	}
	switch {
	case i+1 < len(insts) && isPushReg(&insts[i], bp) && isMovRegReg(&insts[i+1], bp, sp):
		f.FP = bp
		f.consume(&insts[i])
		f.consume(&insts[i+1])
		i += 2
	case i < len(insts) && insts[i].Op == disasm.ENTER:
		f.FP = bp
		f.Size = insts[i].Args[0].Imm
		f.consume(&insts[i])
		i++
	}
	if i < len(insts) {
		if n, ok := stackAdjust(&insts[i], sp, disasm.SUB); ok {
			f.Size += n
			f.consume(&insts[i])
		}
	}

	for r := range insts {
		if insts[r].IsRet() {
			f.epilogue(insts[:r], bp, sp)
		}
	}
	if f.FP != disasm.RegNone {
		f.collectVars(insts)
	}
	return f
}

// epilogue consumes the teardown sequence ending right before a return.
func (f *Frame) epilogue(before []disasm.Instruction, bp, sp disasm.Reg) {
	k := len(before) - 1
	if k < 0 {
		return
	}
	if f.FP == disasm.RegNone {
		if n, ok := stackAdjust(&before[k], sp, disasm.ADD); ok && n == f.Size && n > 0 {
			f.consume(&before[k])
		}
		return
	}
	if before[k].Op == disasm.LEAVE {
		f.consume(&before[k])
		return
	}
	if !isPopReg(&before[k], bp) {
		return
	}
	f.consume(&before[k])
	if k--; k >= 0 && isMovRegReg(&before[k], sp, bp) {
		f.consume(&before[k])
	}
}

func (f *Frame) consume(in *disasm.Instruction) { f.consumed[in.Addr] = true }

// Consumed reports whether the instruction at addr belongs to the prologue
// or an epilogue.
func (f *Frame) Consumed(addr uint64) bool { return f != nil && f.consumed[addr] }

func (f *Frame) collectVars(insts []disasm.Instruction) {
	for i := range insts {
		for _, a := range insts[i].Args {
			if a.Kind != disasm.KindMem {
				continue
			}
			if v, ok := f.slot(a.Mem, a.Size); ok {
				if cur, seen := f.vars[v.Offset]; !seen || v.Size > cur.Size {
					f.vars[v.Offset] = v
				}
			}
		}
	}
}

// slot names a frame-relative memory reference.
func (f *Frame) slot(m disasm.Mem, size int) (Var, bool) {
	if f.FP == disasm.RegNone || m.Base != f.FP || m.Index != disasm.RegNone || m.RIPRel {
		return Var{}, false
	}
	if m.Seg != disasm.RegNone && m.Seg != disasm.SS {
		return Var{}, false
	}
	saved := int64(2 * f.ptrSize)
	switch {
	case m.Disp < 0:
		return Var{Name: "var_" + strconv.FormatInt(-m.Disp, 16), Size: size, Offset: m.Disp}, true
	case m.Disp >= saved:
		return Var{Name: "arg_" + strconv.FormatInt(m.Disp-saved, 16), Size: size, Offset: m.Disp, Param: true}, true
	}
	return Var{}, false
}

// Lookup resolves a memory operand to a frame variable.
func (f *Frame) Lookup(m disasm.Mem) (Var, bool) {
	if f == nil {
		return Var{}, false
	}
	v, ok := f.slot(m, 0)
	if !ok {
		return Var{}, false
	}
	if known, seen := f.vars[v.Offset]; seen {
		return known, true
	}
	return v, true
}

// Vars returns the frame's variables: parameters by ascending offset, then
// locals nearest the frame pointer first.
func (f *Frame) Vars() []Var {
	if f == nil {
		return nil
	}
	out := make([]Var, 0, len(f.vars))
	for _, v := range f.vars {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Param != b.Param {
			return a.Param
		}
		if a.Param {
			return a.Offset < b.Offset
		}
		return a.Offset > b.Offset
	})
	return out
}

func framePointer(arch binfmt.Arch) disasm.Reg {
	if arch == binfmt.ArchX8664 {
		return disasm.RBP
	}
	return disasm.EBP
}

func stackPointer(arch binfmt.Arch) disasm.Reg {
	if arch == binfmt.ArchX8664 {
		return disasm.RSP
	}
	return disasm.ESP
}

func isPushReg(in *disasm.Instruction, r disasm.Reg) bool {
	return in.Op == disasm.PUSH && len(in.Args) == 1 && in.Args[0].IsReg(r)
}

func isPopReg(in *disasm.Instruction, r disasm.Reg) bool {
	return in.Op == disasm.POP && len(in.Args) == 1 && in.Args[0].IsReg(r)
}

func isMovRegReg(in *disasm.Instruction, dst, src disasm.Reg) bool {
	return in.Op == disasm.MOV && len(in.Args) == 2 && in.Args[0].IsReg(dst) && in.Args[1].IsReg(src)
}

// stackAdjust matches `op sp, imm` and returns the immediate.
func stackAdjust(in *disasm.Instruction, sp disasm.Reg, op disasm.Op) (int64, bool) {
	if in.Op != op || len(in.Args) != 2 || !in.Args[0].IsReg(sp) || in.Args[1].Kind != disasm.KindImm {
		return 0, false
	}
	return in.Args[1].Imm, true
}
