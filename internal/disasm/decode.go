package disasm

import (
	"errors"
	"fmt"

	"unpe/internal/binfmt"
)

// Contract violations. These indicate a caller bug, not bad input bytes.
var (
	ErrOffsetOutOfRange = errors.New("disasm: offset outside buffer")
	ErrUnsupportedArch  = binfmt.ErrUnsupportedArch
)

// maxInstLen is the architectural limit on instruction length.
const maxInstLen = 15

// FailReason says why the bytes at an offset did not decode.
type FailReason string

const (
	FailTruncated FailReason = "truncated"
	FailInvalid   FailReason = "invalid opcode"
	FailTooLong   FailReason = "too long"
	FailOperand   FailReason = "invalid operand form"
)

// DecodeFailure is the local, non-fatal outcome of decoding garbage or a
// truncated tail. Scanners skip one byte and retry.
type DecodeFailure struct {
	Offset int
	Reason FailReason
	Opcode byte
}

func (f *DecodeFailure) Error() string {
	return fmt.Sprintf("disasm: decode at +0x%x: %s (opcode 0x%02x)", f.Offset, f.Reason, f.Opcode)
}

// IsDecodeFailure reports whether err is a DecodeFailure.
func IsDecodeFailure(err error) bool {
	var df *DecodeFailure
	return errors.As(err, &df)
}

var aluOps = [8]Op{ADD, OR, ADC, SBB, AND, SUB, XOR, CMP}
var shiftOps = [8]Op{ROL, ROR, RCL, RCR, SHL, SHR, SHL, SAR}

// DecodeAt decodes the instruction starting at code[off]. base is the
// virtual address of code[0]. It never reads outside code.
func DecodeAt(code []byte, off int, base uint64, arch binfmt.Arch) (Instruction, error) {
	if !arch.Valid() {
		return Instruction{}, fmt.Errorf("%w: %v", ErrUnsupportedArch, arch)
	}
	if off < 0 || off >= len(code) {
		return Instruction{}, fmt.Errorf("%w: %d not in [0,%d)", ErrOffsetOutOfRange, off, len(code))
	}
	d := decoder{code: code, start: off, pos: off, mode64: arch == binfmt.ArchX8664}
	d.decode()
	if d.fail != nil {
		return Instruction{}, d.fail
	}

	in := d.inst
	in.Addr = base + uint64(off)
	in.Len = d.pos - off
	in.Raw = append([]byte(nil), code[off:d.pos]...)
	in.OpSize = d.osz
	in.AddrSize = d.asz
	in.Prefixes = d.prefixes
	in.Seg = d.seg
	in.REX = d.rex
	if d.hasRel {
		in.HasTarget = true
		in.Target = d.maskIP(uint64(int64(in.Next()) + d.rel))
		in.Args = []Operand{immOp(int64(in.Target), d.asz)}
	}
	return in, nil
}

type decoder struct {
	code   []byte
	start  int
	pos    int
	mode64 bool

	prefixes Prefix
	seg      Reg
	rex      byte
	osz      int
	asz      int

	// ModR/M state
	hasModRM bool
	mod      byte
	reg      byte // with REX.R
	rm       byte // with REX.B when mod == 3
	mem      Mem

	rel    int64
	hasRel bool
	relOSz int

	inst Instruction
	fail *DecodeFailure
	op0  byte
}

func (d *decoder) failf(r FailReason) {
	if d.fail == nil {
		d.fail = &DecodeFailure{Offset: d.start, Reason: r, Opcode: d.op0}
	}
}

// next consumes one byte. After a failure it returns 0 without reading.
func (d *decoder) next() byte {
	if d.fail != nil {
		return 0
	}
	if d.pos-d.start >= maxInstLen {
		d.failf(FailTooLong)
		return 0
	}
	if d.pos >= len(d.code) {
		d.failf(FailTruncated)
		return 0
	}
	b := d.code[d.pos]
	d.pos++
	return b
}

func (d *decoder) peek() (byte, bool) {
	if d.pos >= len(d.code) || d.pos-d.start >= maxInstLen {
		return 0, false
	}
	return d.code[d.pos], true
}

// imm reads a little-endian immediate of size bytes, sign-extended.
func (d *decoder) imm(size int) int64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(d.next()) << (8 * i)
	}
	switch size {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	}
	return int64(v)
}

// immz is the "Iz" immediate: 16 bits with a 16-bit operand size,
// otherwise 32 bits sign-extended.
func (d *decoder) immz() int64 {
	if d.osz == 2 {
		return d.imm(2)
	}
	return d.imm(4)
}

func (d *decoder) rexW() bool { return d.rex&8 != 0 }
func (d *decoder) rexR() byte { return (d.rex >> 2) & 1 }
func (d *decoder) rexX() byte { return (d.rex >> 1) & 1 }
func (d *decoder) rexB() byte { return d.rex & 1 }

// stackSize is the operand size of push/pop and near indirect branches.
func (d *decoder) stackSize() int {
	if d.prefixes&PrefixOpSize != 0 {
		return 2
	}
	if d.mode64 {
		return 8
	}
	return 4
}

func (d *decoder) maskIP(ip uint64) uint64 {
	switch {
	case d.mode64:
		return ip
	case d.relOSz == 2:
		return ip & 0xFFFF
	}
	return ip & 0xFFFFFFFF
}

// relative reads a branch displacement of size bytes.
func (d *decoder) relative(size int) {
	d.rel = d.imm(size)
	d.hasRel = true
	d.relOSz = size
}

// nearRel reads the rel16/rel32 displacement of E8/E9/0F 8x. In 64-bit mode
// the operand-size prefix does not shrink it.
func (d *decoder) nearRel() {
	if !d.mode64 && d.osz == 2 {
		d.relative(2)
		return
	}
	d.relative(4)
}

func (d *decoder) prefixLoop() {
	for {
		b, ok := d.peek()
		if !ok {
			return
		}
		legacy := true
		switch b {
		case 0xF0:
			d.prefixes |= PrefixLock
		case 0xF2:
			d.prefixes = d.prefixes&^PrefixRep | PrefixRepne
		case 0xF3:
			d.prefixes = d.prefixes&^PrefixRepne | PrefixRep
		case 0x26, 0x2E, 0x36, 0x3E, 0x64, 0x65:
			d.seg = segRegs[segIndex(b)]
		case 0x66:
			d.prefixes |= PrefixOpSize
		case 0x67:
			d.prefixes |= PrefixAddrSize
		default:
			if !d.mode64 || b&0xF0 != 0x40 {
				return
			}
			legacy = false
			d.rex = b
			d.prefixes |= PrefixREX
		}
		if legacy && d.rex != 0 {
			// REX only counts when it immediately precedes the opcode.
			d.rex = 0
			d.prefixes &^= PrefixREX
		}
		d.pos++
	}
}

func segIndex(b byte) int {
	switch b {
	case 0x26:
		return 0
	case 0x2E:
		return 1
	case 0x36:
		return 2
	case 0x3E:
		return 3
	case 0x64:
		return 4
	}
	return 5
}

func (d *decoder) setSizes() {
	switch {
	case d.rexW():
		d.osz = 8
	case d.prefixes&PrefixOpSize != 0:
		d.osz = 2
	default:
		d.osz = 4
	}
	switch {
	case d.mode64 && d.prefixes&PrefixAddrSize != 0:
		d.asz = 4
	case d.mode64:
		d.asz = 8
	case d.prefixes&PrefixAddrSize != 0:
		d.asz = 2
	default:
		d.asz = 4
	}
}

// modrm consumes the ModR/M byte together with any SIB byte and displacement.
func (d *decoder) modrm() {
	if d.hasModRM {
		return
	}
	d.hasModRM = true
	b := d.next()
	d.mod = b >> 6
	d.reg = (b>>3)&7 | d.rexR()<<3
	rm := b & 7
	if d.mod == 3 {
		d.rm = rm | d.rexB()<<3
		return
	}
	d.mem = Mem{Seg: d.seg, Scale: 1}
	if d.asz == 2 {
		d.modrm16(rm)
		return
	}

	switch {
	case rm == 4:
		sib := d.next()
		scale := sib >> 6
		index := (sib>>3)&7 | d.rexX()<<3
		base := sib & 7
		if index != 4 {
			d.mem.Index = gpr(d.asz, int(index), false)
			d.mem.Scale = 1 << scale
		}
		if base == 5 && d.mod == 0 {
			d.mem.Disp = d.imm(4)
			return
		}
		d.mem.Base = gpr(d.asz, int(base|d.rexB()<<3), false)
	case rm == 5 && d.mod == 0:
		d.mem.Disp = d.imm(4)
		if d.mode64 {
			d.mem.RIPRel = true
		}
		return
	default:
		d.mem.Base = gpr(d.asz, int(rm|d.rexB()<<3), false)
	}

	switch d.mod {
	case 1:
		d.mem.Disp = d.imm(1)
	case 2:
		d.mem.Disp = d.imm(4)
	}
}

var modrm16Base = [8][2]Reg{
	{BX, SI}, {BX, DI}, {BP, SI}, {BP, DI}, {SI, RegNone}, {DI, RegNone}, {BP, RegNone}, {BX, RegNone},
}

func (d *decoder) modrm16(rm byte) {
	if d.mod == 0 && rm == 6 {
		d.mem.Disp = d.imm(2)
		return
	}
	d.mem.Base = modrm16Base[rm][0]
	d.mem.Index = modrm16Base[rm][1]
	switch d.mod {
	case 1:
		d.mem.Disp = d.imm(1)
	case 2:
		d.mem.Disp = d.imm(2)
	}
}

// rmOp returns the r/m operand at the given width.
func (d *decoder) rmOp(size int) Operand {
	d.modrm()
	if d.mod == 3 {
		return regOp(gpr(size, int(d.rm), d.rex != 0))
	}
	return Operand{Kind: KindMem, Size: size, Mem: d.mem}
}

// memOp returns the r/m operand, failing if it encodes a register.
func (d *decoder) memOp(size int) Operand {
	o := d.rmOp(size)
	if o.Kind != KindMem {
		d.failf(FailOperand)
	}
	return o
}

// regOp returns the ModR/M reg-field GPR at the given width.
func (d *decoder) regOp(size int) Operand {
	d.modrm()
	return regOp(gpr(size, int(d.reg), d.rex != 0))
}

// opReg returns the GPR encoded in the low 3 opcode bits (plus REX.B).
func (d *decoder) opReg(b byte, size int) Operand {
	return regOp(gpr(size, int(b&7|d.rexB()<<3), d.rex != 0))
}

func (d *decoder) emit(op Op, args ...Operand) {
	d.inst.Op = op
	d.inst.Args = args
}

func (d *decoder) invalid() { d.failf(FailInvalid) }

func (d *decoder) only32() bool {
	if d.mode64 {
		d.invalid()
		return false
	}
	return true
}

func (d *decoder) decode() {
	d.prefixLoop()
	d.setSizes()
	b := d.next()
	d.op0 = b
	if d.fail != nil {
		return
	}
	v := d.osz

	switch {
	case b < 0x40 && b&7 < 6:
		op := aluOps[b>>3]
		switch b & 7 {
		case 0:
			d.emit(op, d.rmOp(1), d.regOp(1))
		case 1:
			d.emit(op, d.rmOp(v), d.regOp(v))
		case 2:
			d.emit(op, d.regOp(1), d.rmOp(1))
		case 3:
			d.emit(op, d.regOp(v), d.rmOp(v))
		case 4:
			d.emit(op, regOp(AL), immOp(d.imm(1), 1))
		case 5:
			d.emit(op, regOp(Accumulator(v)), immOp(d.immz(), v))
		}
		return
	case b >= 0x40 && b <= 0x4F:
		// Only reachable in 32-bit mode; in 64-bit mode these are REX.
		if b < 0x48 {
			d.emit(INC, d.opReg(b, v))
		} else {
			d.emit(DEC, d.opReg(b, v))
		}
		return
	case b >= 0x50 && b <= 0x57:
		d.emit(PUSH, d.opReg(b, d.stackSize()))
		return
	case b >= 0x58 && b <= 0x5F:
		d.emit(POP, d.opReg(b, d.stackSize()))
		return
	case b >= 0x70 && b <= 0x7F:
		d.inst.Cond = Cond(b & 15)
		d.emit(JCC)
		d.relative(1)
		return
	case b >= 0x91 && b <= 0x97:
		d.emit(XCHG, d.opReg(b, v), regOp(Accumulator(v)))
		return
	case b >= 0xB0 && b <= 0xB7:
		d.emit(MOV, d.opReg(b, 1), immOp(d.imm(1), 1))
		return
	case b >= 0xB8 && b <= 0xBF:
		dst := d.opReg(b, v)
		if v == 8 {
			d.emit(MOV, dst, immOp(d.imm(8), 8))
		} else {
			d.emit(MOV, dst, immOp(d.imm(v), v))
		}
		return
	}

	switch b {
	case 0x06, 0x0E, 0x16, 0x1E:
		if d.only32() {
			d.emit(PUSH, regOp(segRegs[b>>3]))
		}
	case 0x07, 0x17, 0x1F:
		if d.only32() {
			d.emit(POP, regOp(segRegs[b>>3]))
		}
	case 0x0F:
		d.decode0F()
	case 0x60:
		if d.only32() {
			d.emit(PUSHA)
		}
	case 0x61:
		if d.only32() {
			d.emit(POPA)
		}
	case 0x63:
		if !d.mode64 {
			d.invalid() // arpl
			return
		}
		d.emit(MOVSXD, d.regOp(v), d.rmOp(4))
	case 0x68:
		d.emit(PUSH, immOp(d.immz(), d.stackSize()))
	case 0x69:
		dst, src := d.regOp(v), d.rmOp(v)
		d.emit(IMUL, dst, src, immOp(d.immz(), v))
	case 0x6A:
		d.emit(PUSH, immOp(d.imm(1), d.stackSize()))
	case 0x6B:
		dst, src := d.regOp(v), d.rmOp(v)
		d.emit(IMUL, dst, src, immOp(d.imm(1), v))
	case 0x80, 0x82:
		if b == 0x82 && !d.only32() {
			return
		}
		dst := d.rmOp(1)
		d.emit(aluOps[d.reg&7], dst, immOp(d.imm(1), 1))
	case 0x81:
		dst := d.rmOp(v)
		d.emit(aluOps[d.reg&7], dst, immOp(d.immz(), v))
	case 0x83:
		dst := d.rmOp(v)
		d.emit(aluOps[d.reg&7], dst, immOp(d.imm(1), v))
	case 0x84:
		d.emit(TEST, d.rmOp(1), d.regOp(1))
	case 0x85:
		d.emit(TEST, d.rmOp(v), d.regOp(v))
	case 0x86:
		d.emit(XCHG, d.rmOp(1), d.regOp(1))
	case 0x87:
		d.emit(XCHG, d.rmOp(v), d.regOp(v))
	case 0x88:
		d.emit(MOV, d.rmOp(1), d.regOp(1))
	case 0x89:
		d.emit(MOV, d.rmOp(v), d.regOp(v))
	case 0x8A:
		d.emit(MOV, d.regOp(1), d.rmOp(1))
	case 0x8B:
		d.emit(MOV, d.regOp(v), d.rmOp(v))
	case 0x8C:
		d.modrm()
		sreg := segRegs[d.reg&7]
		if sreg == RegNone {
			d.invalid()
			return
		}
		size := 2
		if d.mod == 3 {
			size = v
		}
		d.emit(MOV, d.rmOp(size), regOp(sreg))
	case 0x8D:
		dst := d.regOp(v)
		d.emit(LEA, dst, d.memOp(0))
	case 0x8E:
		d.modrm()
		sreg := segRegs[d.reg&7]
		if sreg == RegNone || sreg == CS {
			d.invalid()
			return
		}
		d.emit(MOV, regOp(sreg), d.rmOp(2))
	case 0x8F:
		d.modrm()
		if d.reg&7 != 0 {
			d.invalid()
			return
		}
		d.emit(POP, d.rmOp(d.stackSize()))
	case 0x90:
		switch {
		case d.rexB() != 0:
			d.emit(XCHG, d.opReg(b, v), regOp(Accumulator(v)))
		case d.prefixes&PrefixRep != 0:
			d.emit(PAUSE)
		default:
			d.emit(NOP)
		}
	case 0x98:
		d.emit(bySize(v, CBW, CWDE, CDQE))
	case 0x99:
		d.emit(bySize(v, CWD, CDQ, CQO))
	case 0x9A:
		if d.only32() {
			off := d.immz()
			sel := d.imm(2)
			d.emit(CALLF, immOp(sel, 2), immOp(off, v))
		}
	case 0x9C:
		d.osz = d.stackSize()
		d.emit(PUSHF)
	case 0x9D:
		d.osz = d.stackSize()
		d.emit(POPF)
	case 0x9E:
		d.emit(SAHF)
	case 0x9F:
		d.emit(LAHF)
	case 0xA0, 0xA1, 0xA2, 0xA3:
		size := 1
		if b&1 == 1 {
			size = v
		}
		m := Operand{Kind: KindMem, Size: size, Mem: Mem{Seg: d.seg, Scale: 1, Disp: d.imm(d.asz)}}
		acc := regOp(Accumulator(size))
		if b < 0xA2 {
			d.emit(MOV, acc, m)
		} else {
			d.emit(MOV, m, acc)
		}
	case 0xA4, 0xA5:
		d.stringOp(b, MOVS)
	case 0xA6, 0xA7:
		d.stringOp(b, CMPS)
	case 0xA8:
		d.emit(TEST, regOp(AL), immOp(d.imm(1), 1))
	case 0xA9:
		d.emit(TEST, regOp(Accumulator(v)), immOp(d.immz(), v))
	case 0xAA, 0xAB:
		d.stringOp(b, STOS)
	case 0xAC, 0xAD:
		d.stringOp(b, LODS)
	case 0xAE, 0xAF:
		d.stringOp(b, SCAS)
	case 0xC0:
		dst := d.rmOp(1)
		d.emit(shiftOps[d.reg&7], dst, immOp(d.imm(1), 1))
	case 0xC1:
		dst := d.rmOp(v)
		d.emit(shiftOps[d.reg&7], dst, immOp(d.imm(1), 1))
	case 0xC2:
		d.emit(RET, immOp(d.imm(2)&0xFFFF, 2))
	case 0xC3:
		d.emit(RET)
	case 0xC6:
		d.modrm()
		if d.reg&7 != 0 {
			d.invalid()
			return
		}
		dst := d.rmOp(1)
		d.emit(MOV, dst, immOp(d.imm(1), 1))
	case 0xC7:
		d.modrm()
		if d.reg&7 != 0 {
			d.invalid()
			return
		}
		dst := d.rmOp(v)
		d.emit(MOV, dst, immOp(d.immz(), v))
	case 0xC8:
		size := d.imm(2) & 0xFFFF
		level := d.imm(1) & 0xFF
		d.emit(ENTER, immOp(size, 2), immOp(level, 1))
	case 0xC9:
		d.emit(LEAVE)
	case 0xCA:
		d.emit(RETF, immOp(d.imm(2)&0xFFFF, 2))
	case 0xCB:
		d.emit(RETF)
	case 0xCC:
		d.emit(INT3)
	case 0xCD:
		d.emit(INT, immOp(d.imm(1)&0xFF, 1))
	case 0xD0:
		dst := d.rmOp(1)
		d.emit(shiftOps[d.reg&7], dst, immOp(1, 1))
	case 0xD1:
		dst := d.rmOp(v)
		d.emit(shiftOps[d.reg&7], dst, immOp(1, 1))
	case 0xD2:
		dst := d.rmOp(1)
		d.emit(shiftOps[d.reg&7], dst, regOp(CL))
	case 0xD3:
		dst := d.rmOp(v)
		d.emit(shiftOps[d.reg&7], dst, regOp(CL))
	case 0xE0:
		d.emit(LOOPNE)
		d.relative(1)
	case 0xE1:
		d.emit(LOOPE)
		d.relative(1)
	case 0xE2:
		d.emit(LOOP)
		d.relative(1)
	case 0xE3:
		d.emit(JECXZ)
		d.relative(1)
	case 0xE8:
		d.emit(CALL)
		d.nearRel()
	case 0xE9:
		d.emit(JMP)
		d.nearRel()
	case 0xEA:
		if d.only32() {
			off := d.immz()
			sel := d.imm(2)
			d.emit(JMPF, immOp(sel, 2), immOp(off, v))
		}
	case 0xEB:
		d.emit(JMP)
		d.relative(1)
	case 0xF4:
		d.emit(HLT)
	case 0xF5:
		d.emit(CMC)
	case 0xF6, 0xF7:
		d.group3(b)
	case 0xF8:
		d.emit(CLC)
	case 0xF9:
		d.emit(STC)
	case 0xFA:
		d.emit(CLI)
	case 0xFB:
		d.emit(STI)
	case 0xFC:
		d.emit(CLD)
	case 0xFD:
		d.emit(STD)
	case 0xFE:
		d.modrm()
		switch d.reg & 7 {
		case 0:
			d.emit(INC, d.rmOp(1))
		case 1:
			d.emit(DEC, d.rmOp(1))
		default:
			d.invalid()
		}
	case 0xFF:
		d.group5()
	default:
		// BCD adjust, far pointer loads, port I/O, x87 and VEX/EVEX escapes
		// are outside the modeled integer subset.
		d.invalid()
	}
}

func bySize(size int, w, d, q Op) Op {
	switch size {
	case 2:
		return w
	case 8:
		return q
	}
	return d
}

func (d *decoder) stringOp(b byte, op Op) {
	if b&1 == 0 {
		d.osz = 1
	}
	d.emit(op)
}

func (d *decoder) group3(b byte) {
	size := d.osz
	if b == 0xF6 {
		size = 1
	}
	dst := d.rmOp(size)
	switch d.reg & 7 {
	case 0, 1:
		var imm int64
		if size == 1 {
			imm = d.imm(1)
		} else {
			imm = d.immz()
		}
		d.emit(TEST, dst, immOp(imm, size))
	case 2:
		d.emit(NOT, dst)
	case 3:
		d.emit(NEG, dst)
	case 4:
		d.emit(MUL, dst)
	case 5:
		d.emit(IMUL, dst)
	case 6:
		d.emit(DIV, dst)
	case 7:
		d.emit(IDIV, dst)
	}
	if size == 1 {
		d.osz = 1
	}
}

func (d *decoder) group5() {
	d.modrm()
	v := d.osz
	switch d.reg & 7 {
	case 0:
		d.emit(INC, d.rmOp(v))
	case 1:
		d.emit(DEC, d.rmOp(v))
	case 2:
		d.emit(CALL, d.rmOp(d.branchSizeIndirect()))
	case 3:
		d.emit(CALLF, d.memOp(farSize(v)))
	case 4:
		d.emit(JMP, d.rmOp(d.branchSizeIndirect()))
	case 5:
		d.emit(JMPF, d.memOp(farSize(v)))
	case 6:
		d.emit(PUSH, d.rmOp(d.stackSize()))
	default:
		d.invalid()
	}
}

func (d *decoder) branchSizeIndirect() int {
	if d.mode64 {
		return 8
	}
	return d.osz
}

func farSize(osz int) int { return osz + 2 }

func (d *decoder) decode0F() {
	b := d.next()
	if d.fail != nil {
		return
	}
	v := d.osz

	switch {
	case b >= 0x40 && b <= 0x4F:
		d.inst.Cond = Cond(b & 15)
		d.emit(CMOVCC, d.regOp(v), d.rmOp(v))
		return
	case b >= 0x80 && b <= 0x8F:
		d.inst.Cond = Cond(b & 15)
		d.emit(JCC)
		d.nearRel()
		return
	case b >= 0x90 && b <= 0x9F:
		d.inst.Cond = Cond(b & 15)
		d.emit(SETCC, d.rmOp(1))
		d.osz = 1
		return
	case b >= 0xC8 && b <= 0xCF:
		d.emit(BSWAP, d.opReg(b, v))
		return
	case b == 0x0D || (b >= 0x18 && b <= 0x1F):
		// prefetch hints and the reserved multi-byte NOP space
		d.emit(NOP, d.rmOp(v))
		return
	}

	switch b {
	case 0x05:
		d.emit(SYSCALL)
	case 0x0B:
		d.emit(UD2)
	case 0x31:
		d.emit(RDTSC)
	case 0xA2:
		d.emit(CPUID)
	case 0xA3:
		d.emit(BT, d.rmOp(v), d.regOp(v))
	case 0xAB:
		d.emit(BTS, d.rmOp(v), d.regOp(v))
	case 0xB3:
		d.emit(BTR, d.rmOp(v), d.regOp(v))
	case 0xBB:
		d.emit(BTC, d.rmOp(v), d.regOp(v))
	case 0xBA:
		dst := d.rmOp(v)
		ops := [8]Op{BAD, BAD, BAD, BAD, BT, BTS, BTR, BTC}
		op := ops[d.reg&7]
		if op == BAD {
			d.invalid()
			return
		}
		d.emit(op, dst, immOp(d.imm(1), 1))
	case 0xA4:
		dst, src := d.rmOp(v), d.regOp(v)
		d.emit(SHLD, dst, src, immOp(d.imm(1), 1))
	case 0xA5:
		d.emit(SHLD, d.rmOp(v), d.regOp(v), regOp(CL))
	case 0xAC:
		dst, src := d.rmOp(v), d.regOp(v)
		d.emit(SHRD, dst, src, immOp(d.imm(1), 1))
	case 0xAD:
		d.emit(SHRD, d.rmOp(v), d.regOp(v), regOp(CL))
	case 0xAF:
		d.emit(IMUL, d.regOp(v), d.rmOp(v))
	case 0xB0:
		d.emit(CMPXCHG, d.rmOp(1), d.regOp(1))
	case 0xB1:
		d.emit(CMPXCHG, d.rmOp(v), d.regOp(v))
	case 0xB6:
		d.emit(MOVZX, d.regOp(v), d.rmOp(1))
	case 0xB7:
		d.emit(MOVZX, d.regOp(v), d.rmOp(2))
	case 0xBC:
		d.emit(BSF, d.regOp(v), d.rmOp(v))
	case 0xBD:
		d.emit(BSR, d.regOp(v), d.rmOp(v))
	case 0xBE:
		d.emit(MOVSX, d.regOp(v), d.rmOp(1))
	case 0xBF:
		d.emit(MOVSX, d.regOp(v), d.rmOp(2))
	case 0xC0:
		d.emit(XADD, d.rmOp(1), d.regOp(1))
	case 0xC1:
		d.emit(XADD, d.rmOp(v), d.regOp(v))
	default:
		// system tables, SSE/AVX and three-byte escapes
		d.invalid()
	}
}
