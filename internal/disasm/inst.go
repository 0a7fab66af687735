package disasm

import (
	"fmt"
	"strings"
)

// OperandKind tags an Operand.
type OperandKind uint8

const (
	KindReg OperandKind = iota + 1
	KindImm
	KindMem
)

// Mem is a memory reference: seg:[base + index*scale + disp].
// RIPRel marks x86-64 rip-relative addressing; Disp is then relative to the
// end of the instruction.
type Mem struct {
	Seg    Reg
	Base   Reg
	Index  Reg
	Scale  uint8
	Disp   int64
	RIPRel bool
}

// Operand is one decoded operand. Size is in bytes. For direct branches the
// single operand is an immediate holding the absolute target.
type Operand struct {
	Kind OperandKind
	Size int
	Reg  Reg
	Imm  int64
	Mem  Mem
}

func regOp(r Reg) Operand { return Operand{Kind: KindReg, Size: r.Size(), Reg: r} }
func immOp(v int64, size int) Operand { return Operand{Kind: KindImm, Size: size, Imm: v} }

// IsReg reports whether o is the register r.
func (o Operand) IsReg(r Reg) bool { return o.Kind == KindReg && o.Reg == r }

// Unsigned returns an immediate zero-extended from its operand size, the
// value the destination register holds after a mov.
func (o Operand) Unsigned() uint64 {
	switch o.Size {
	case 1:
		return uint64(uint8(o.Imm))
	case 2:
		return uint64(uint16(o.Imm))
	case 4:
		return uint64(uint32(o.Imm))
	}
	return uint64(o.Imm)
}

func (o Operand) String() string {
	switch o.Kind {
	case KindReg:
		return o.Reg.String()
	case KindImm:
		return hexSigned(o.Imm)
	case KindMem:
		return ptrName(o.Size) + o.Mem.String()
	}
	return "?"
}

func (m Mem) String() string {
	var b strings.Builder
	if m.Seg != RegNone {
		b.WriteString(m.Seg.String())
		b.WriteByte(':')
	}
	b.WriteByte('[')
	n := 0
	if m.RIPRel {
		b.WriteString("rip")
		n++
	} else if m.Base != RegNone {
		b.WriteString(m.Base.String())
		n++
	}
	if m.Index != RegNone {
		if n > 0 {
			b.WriteByte('+')
		}
		b.WriteString(m.Index.String())
		if m.Scale > 1 {
			fmt.Fprintf(&b, "*%d", m.Scale)
		}
		n++
	}
	switch {
	case n == 0:
		fmt.Fprintf(&b, "0x%x", uint64(m.Disp))
	case m.Disp < 0:
		fmt.Fprintf(&b, "-0x%x", uint64(-m.Disp))
	case m.Disp > 0:
		fmt.Fprintf(&b, "+0x%x", uint64(m.Disp))
	}
	b.WriteByte(']')
	return b.String()
}

func ptrName(size int) string {
	switch size {
	case 1:
		return "byte ptr "
	case 2:
		return "word ptr "
	case 4:
		return "dword ptr "
	case 6:
		return "fword ptr "
	case 8:
		return "qword ptr "
	}
	return ""
}

func hexSigned(v int64) string {
	switch {
	case v < 0:
		return fmt.Sprintf("-0x%x", uint64(-v))
	case v < 10:
		return fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("0x%x", uint64(v))
}

// Prefix records which legacy prefixes were seen.
type Prefix uint8

const (
	PrefixLock Prefix = 1 << iota
	PrefixRep
	PrefixRepne
	PrefixOpSize
	PrefixAddrSize
	PrefixREX
)

// Instruction is one decoded x86 instruction. It is created by DecodeAt and
// never mutated afterwards.
type Instruction struct {
	Addr      uint64
	Len       int
	Raw       []byte
	Op        Op
	Cond      Cond // JCC, SETCC, CMOVCC only
	Args      []Operand
	OpSize    int // effective operand size in bytes
	AddrSize  int // effective address size in bytes
	Prefixes  Prefix
	Seg       Reg // segment override, RegNone if absent
	REX       byte
	Target    uint64 // absolute destination of a direct branch or call
	HasTarget bool
}

// Category returns the mnemonic category.
func (in *Instruction) Category() Category { return in.Op.Category() }

// Next returns the address of the following instruction.
func (in *Instruction) Next() uint64 { return in.Addr + uint64(in.Len) }

// Mnemonic returns the normalized lowercase mnemonic, with condition and
// string-operation size suffixes applied (e.g. "jne", "setl", "movsd").
func (in *Instruction) Mnemonic() string {
	switch in.Op {
	case JCC, SETCC, CMOVCC:
		return in.Op.String() + in.Cond.Suffix()
	case MOVS, STOS, LODS, CMPS, SCAS:
		return in.Op.String() + sizeSuffix(in.OpSize)
	case JECXZ:
		switch in.AddrSize {
		case 2:
			return "jcxz"
		case 8:
			return "jrcxz"
		}
	case PUSHA, POPA, PUSHF, POPF:
		name := in.Op.String()
		if in.OpSize == 2 {
			return strings.TrimSuffix(name, "d")
		}
		if in.OpSize == 8 {
			return strings.TrimSuffix(name, "d") + "q"
		}
		return name
	}
	return in.Op.String()
}

func sizeSuffix(size int) string {
	switch size {
	case 1:
		return "b"
	case 2:
		return "w"
	case 8:
		return "q"
	}
	return "d"
}

// String renders Intel-style text, e.g. "mov dword ptr [ebp-0x8], 0x5".
func (in *Instruction) String() string {
	var b strings.Builder
	if in.Prefixes&PrefixLock != 0 {
		b.WriteString("lock ")
	}
	switch {
	case in.Prefixes&PrefixRep != 0 && isStringOp(in.Op):
		if in.Op == CMPS || in.Op == SCAS {
			b.WriteString("repe ")
		} else {
			b.WriteString("rep ")
		}
	case in.Prefixes&PrefixRepne != 0 && isStringOp(in.Op):
		b.WriteString("repne ")
	}
	b.WriteString(in.Mnemonic())
	for i, a := range in.Args {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		if in.HasTarget && i == 0 && a.Kind == KindImm {
			fmt.Fprintf(&b, "0x%x", in.Target)
			continue
		}
		if in.Op == LEA && a.Kind == KindMem {
			b.WriteString(a.Mem.String())
			continue
		}
		b.WriteString(a.String())
	}
	return b.String()
}

func isStringOp(op Op) bool {
	switch op {
	case MOVS, STOS, LODS, CMPS, SCAS:
		return true
	}
	return false
}

// IsBranch reports jumps of any kind (jmp, jcc, loop family). Calls and
// returns are not branches.
func (in *Instruction) IsBranch() bool {
	switch in.Op {
	case JMP, JMPF, JCC, LOOP, LOOPE, LOOPNE, JECXZ:
		return true
	}
	return false
}

// IsConditional reports branches with a fallthrough successor.
func (in *Instruction) IsConditional() bool {
	switch in.Op {
	case JCC, LOOP, LOOPE, LOOPNE, JECXZ:
		return true
	}
	return false
}

// IsJump reports unconditional jumps (near or far, direct or indirect).
func (in *Instruction) IsJump() bool { return in.Op == JMP || in.Op == JMPF }

// IsCall reports near and far calls.
func (in *Instruction) IsCall() bool { return in.Op == CALL || in.Op == CALLF }

// IsRet reports ret/retn/retf.
func (in *Instruction) IsRet() bool { return in.Op == RET || in.Op == RETF }

// MemAddr returns the absolute address a memory operand refers to when it is
// statically known: rip-relative or a bare displacement.
func (in *Instruction) MemAddr(m Mem) (uint64, bool) {
	if m.RIPRel {
		return uint64(int64(in.Next()) + m.Disp), true
	}
	if m.Base == RegNone && m.Index == RegNone {
		if in.AddrSize == 8 {
			return uint64(m.Disp), true
		}
		return uint64(uint32(m.Disp)), true
	}
	return 0, false
}

// MemOperand returns the first memory operand, if any.
func (in *Instruction) MemOperand() (Mem, bool) {
	for _, a := range in.Args {
		if a.Kind == KindMem {
			return a.Mem, true
		}
	}
	return Mem{}, false
}

// WrittenReg returns the general-purpose register an instruction writes
// through its first operand, if any.
func (in *Instruction) WrittenReg() (Reg, bool) {
	switch in.Op {
	case CMP, TEST, BT, PUSH, CALL, CALLF, JMP, JMPF, JCC, RET, RETF, NOP, BAD:
		return RegNone, false
	}
	if len(in.Args) == 0 || in.Args[0].Kind != KindReg || !in.Args[0].Reg.IsGPR() {
		return RegNone, false
	}
	return in.Args[0].Reg, true
}
