package semantic

import (
	"strconv"
	"strings"

	"unpe/internal/binfmt"
	"unpe/internal/disasm"
)

// Translator maps instructions to statements for one function. It holds
// read-only context only; the last comparison is passed in explicitly.
type Translator struct {
	Arch    binfmt.Arch
	Frame   *Frame
	Calls   map[uint64]disasm.CallEdge // by call-site address
	Symbols disasm.SymbolLookup
	Imports map[uint64]binfmt.Import // by IAT slot VA
}

// Block is the translation of one basic block.
type Block struct {
	Stmts []Statement
	Cond  Expr // condition under which the final branch is taken, nil if none

	// Hidden lists jumps that are not the block's last instruction. The
	// block continues past them, so their targets are not successors.
	Hidden []uint64
}

// NewTranslator builds a translator for a function's instructions.
func NewTranslator(arch binfmt.Arch, insts []disasm.Instruction, calls []disasm.CallEdge, symbols disasm.SymbolLookup, imports map[uint64]binfmt.Import) *Translator {
	byPC := make(map[uint64]disasm.CallEdge, len(calls))
	for _, e := range calls {
		byPC[e.FromPC] = e
	}
	return &Translator{
		Arch:    arch,
		Frame:   NewFrame(insts, arch),
		Calls:   byPC,
		Symbols: symbols,
		Imports: imports,
	}
}

// Blocks translates every block of cfg, indexed by block ID.
func (t *Translator) Blocks(cfg *disasm.FuncCFG) []Block {
	out := make([]Block, len(cfg.Blocks))
	for i := range cfg.Blocks {
		out[i] = t.Block(cfg.BlockInsts(&cfg.Blocks[i]))
	}
	return out
}

// Block translates a run of instructions. A cmp or test fills the
// comparison slot, which is read by the next conditional branch or setcc
// and reset at the start of each block. Pushes directly feeding a 32-bit
// call become its arguments.
func (t *Translator) Block(insts []disasm.Instruction) Block {
	var (
		b      Block
		last   *Compare
		pushes []int // indexes into b.Stmts of pending argument pushes
	)
	for i := range insts {
		in := &insts[i]
		if in.IsConditional() {
			b.Cond = BranchCondition(in, last)
			continue
		}
		if in.IsJump() && i < len(insts)-1 {
			b.Hidden = append(b.Hidden, in.Addr)
			b.Stmts = append(b.Stmts, Raw{Comment: hiddenJump(in)})
			continue
		}
		s := t.Translate(in, last)
		last = nextCompare(in, s, last)
		switch st := s.(type) {
		case nil:
			continue
		case Compare:
			continue
		case Assign:
			_, push := st.Dest.(Stack)
			_, pop := st.Src.(Stack)
			switch {
			case push && t.Arch == binfmt.ArchX86:
				pushes = append(pushes, len(b.Stmts))
			case pop && len(pushes) > 0:
				pushes = pushes[:len(pushes)-1]
			case st.Dest == (Register{Name: stackPointer(t.Arch).String()}):
				pushes = nil
			}
		case Call:
			if len(pushes) > 0 {
				for k := len(pushes) - 1; k >= 0; k-- {
					st.Args = append(st.Args, b.Stmts[pushes[k]].(Assign).Src)
					b.Stmts[pushes[k]] = nil
				}
				pushes = nil
				s = st
			}
		}
		b.Stmts = append(b.Stmts, s)
	}
	b.Stmts = compact(b.Stmts)
	return b
}

func hiddenJump(in *disasm.Instruction) string {
	if in.HasTarget {
		return "jmp 0x" + hexAddr(in.Target) + " inside block, edge not followed"
	}
	return "jmp inside block, edge not followed"
}

func compact(ss []Statement) []Statement {
	out := ss[:0]
	for _, s := range ss {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// nextCompare updates the comparison slot after in. Flag-setting
// arithmetic compares its result against zero; other flag writers clear
// the slot.
func nextCompare(in *disasm.Instruction, s Statement, last *Compare) *Compare {
	switch in.Op {
	case disasm.CMP, disasm.TEST:
		if c, ok := s.(Compare); ok {
			return &c
		}
		return nil
	case disasm.ADD, disasm.SUB, disasm.AND, disasm.OR, disasm.XOR,
		disasm.INC, disasm.DEC, disasm.NEG, disasm.SHL, disasm.SHR, disasm.SAR:
		if a, ok := s.(Assign); ok {
			return &Compare{Left: a.Dest, Right: a.Dest, Test: true}
		}
		return nil
	case disasm.ADC, disasm.SBB, disasm.MUL, disasm.IMUL, disasm.DIV, disasm.IDIV,
		disasm.ROL, disasm.ROR, disasm.RCL, disasm.RCR, disasm.SHLD, disasm.SHRD,
		disasm.BT, disasm.BTS, disasm.BTR, disasm.BTC, disasm.BSF, disasm.BSR,
		disasm.CMPS, disasm.SCAS, disasm.XADD, disasm.CMPXCHG, disasm.POPF, disasm.SAHF,
		disasm.CALL, disasm.CALLF:
		return nil
	}
	return last
}

// Translate maps one instruction to at most one statement. Jumps, nops and
// consumed prologue/epilogue instructions yield nil.
func (t *Translator) Translate(in *disasm.Instruction, last *Compare) Statement {
	if t.Frame.Consumed(in.Addr) {
		return nil
	}
	args := in.Args
	arg := func(i int) Expr { return t.operand(in, args[i]) }

	switch in.Op {
	case disasm.MOV:
		return Assign{Dest: arg(0), Src: arg(1)}
	case disasm.MOVZX, disasm.MOVSX, disasm.MOVSXD:
		return Assign{Dest: arg(0), Src: Cast{X: arg(1), Size: args[0].Size, Signed: in.Op != disasm.MOVZX}}
	case disasm.LEA:
		return Assign{Dest: arg(0), Src: t.address(in, args[1].Mem)}

	case disasm.ADD, disasm.SUB, disasm.AND, disasm.OR, disasm.XOR,
		disasm.SHL, disasm.SHR, disasm.SAR, disasm.ROL, disasm.ROR:
		if (in.Op == disasm.XOR || in.Op == disasm.SUB) && args[0].Kind == disasm.KindReg && args[0] == args[1] {
			return Assign{Dest: arg(0), Src: IntConst(0, args[0].Size)}
		}
		return Assign{Dest: arg(0), Op: compound[in.Op], Src: arg(1)}
	case disasm.ADC, disasm.SBB:
		op := OpAdd
		if in.Op == disasm.SBB {
			op = OpSub
		}
		return Assign{Dest: arg(0), Op: op, Src: Binary{Op: OpAdd, L: arg(1), R: cf}}
	case disasm.INC:
		return Assign{Dest: arg(0), Op: OpAdd, Src: IntConst(1, args[0].Size)}
	case disasm.DEC:
		return Assign{Dest: arg(0), Op: OpSub, Src: IntConst(1, args[0].Size)}
	case disasm.NEG:
		return Assign{Dest: arg(0), Src: Unary{Op: UnNeg, X: arg(0)}}
	case disasm.NOT:
		return Assign{Dest: arg(0), Src: Unary{Op: UnNot, X: arg(0)}}
	case disasm.IMUL:
		switch len(args) {
		case 3:
			return Assign{Dest: arg(0), Src: Binary{Op: OpMul, L: arg(1), R: arg(2)}}
		case 2:
			return Assign{Dest: arg(0), Op: OpMul, Src: arg(1)}
		}
		return Assign{Dest: t.acc(args[0].Size), Op: OpMul, Src: arg(0)}
	case disasm.MUL:
		return Assign{Dest: t.acc(args[0].Size), Op: OpMul, Src: arg(0)}
	case disasm.DIV, disasm.IDIV:
		return Assign{Dest: t.acc(args[0].Size), Op: OpDiv, Src: arg(0)}
	case disasm.CBW, disasm.CWDE, disasm.CDQE:
		return Assign{Dest: t.acc(in.OpSize), Src: Cast{X: t.acc(in.OpSize / 2), Size: in.OpSize, Signed: true}}

	case disasm.CMP:
		return Compare{Left: arg(0), Right: arg(1)}
	case disasm.TEST:
		return Compare{Left: arg(0), Right: arg(1), Test: true}
	case disasm.SETCC:
		return Assign{Dest: arg(0), Src: Condition(in.Cond, last)}

	case disasm.PUSH:
		return Assign{Dest: Stack{}, Src: arg(0)}
	case disasm.POP:
		return Assign{Dest: arg(0), Src: Stack{}}

	case disasm.CALL, disasm.CALLF:
		return t.call(in)
	case disasm.JMP:
		// An import thunk is a tail call; other jumps belong to the structurer.
		if e, ok := t.Calls[in.Addr]; ok && e.Kind == disasm.CallThunk {
			return Call{Addr: in.Addr, Name: e.TargetName, Resolved: true, Module: e.Via}
		}
		return nil
	case disasm.RET, disasm.RETF:
		return Return{Value: t.acc(t.Arch.PtrSize())}
	case disasm.JMPF, disasm.JCC, disasm.LOOP, disasm.LOOPE, disasm.LOOPNE, disasm.JECXZ:
		return nil

	case disasm.NOP, disasm.PAUSE:
		return nil
	case disasm.XCHG:
		if args[0] == args[1] {
			return nil
		}
	}
	return Raw{Comment: in.String()}
}

var compound = map[disasm.Op]BinOp{
	disasm.ADD: OpAdd, disasm.SUB: OpSub, disasm.AND: OpAnd, disasm.OR: OpOr, disasm.XOR: OpXor,
	disasm.SHL: OpShl, disasm.SHR: OpShr, disasm.SAR: OpSar, disasm.ROL: OpRol, disasm.ROR: OpRor,
}

func (t *Translator) acc(size int) Register {
	return Register{Name: disasm.Accumulator(size).String()}
}

// call resolves a call site: a precomputed call edge first, then the
// direct target's symbol or the IAT slot of the memory operand. Anything
// left gets a synthesized name.
func (t *Translator) call(in *disasm.Instruction) Call {
	c := Call{Addr: in.Addr}
	if !in.HasTarget && len(in.Args) == 1 {
		c.Target = t.operand(in, in.Args[0])
	}
	e, ok := t.Calls[in.Addr]
	if !ok {
		e = t.localEdge(in)
	}
	switch {
	case e.TargetName != "":
		c.Name, c.Resolved = e.TargetName, true
		c.Module = moduleOf(e)
		if e.Kind == disasm.CallImport {
			c.Target = nil
		}
	case in.HasTarget:
		c.Name = "sub_" + hexAddr(in.Target)
	default:
		c.Name = "indirect_" + hexAddr(in.Addr)
	}
	return c
}

func (t *Translator) localEdge(in *disasm.Instruction) disasm.CallEdge {
	e := disasm.CallEdge{FromPC: in.Addr}
	if in.HasTarget {
		e.Kind, e.TargetPC = disasm.CallDirect, in.Target
		if t.Symbols != nil {
			e.TargetName, _ = t.Symbols(in.Target)
		}
		return e
	}
	e.Kind = disasm.CallIndirect
	if m, ok := in.MemOperand(); ok {
		if addr, ok := in.MemAddr(m); ok {
			if imp, ok := t.Imports[addr]; ok {
				e.Kind, e.TargetName, e.Via = disasm.CallImport, imp.Label(), imp.DLL
			}
		}
	}
	return e
}

// moduleOf extracts the DLL from an edge's provenance ("KERNEL32.dll" or
// "KERNEL32.dll!Sleep").
func moduleOf(e disasm.CallEdge) string {
	if e.Kind != disasm.CallImport && !strings.Contains(e.Via, "!") {
		return ""
	}
	dll, _, _ := strings.Cut(e.Via, "!")
	return dll
}

func (t *Translator) operand(in *disasm.Instruction, a disasm.Operand) Expr {
	switch a.Kind {
	case disasm.KindReg:
		return Register{Name: a.Reg.String()}
	case disasm.KindImm:
		return IntConst(a.Imm, a.Size)
	case disasm.KindMem:
		if v, ok := t.Frame.Lookup(a.Mem); ok {
			v.Size = a.Size
			return v
		}
		if addr, ok := in.MemAddr(a.Mem); ok {
			if imp, ok := t.Imports[addr]; ok {
				return Symbol{Name: imp.Label()}
			}
			return t.global(addr, a.Size)
		}
		return Mem{Addr: addrExpr(a.Mem), Size: a.Size, Seg: segName(a.Mem.Seg)}
	}
	return Symbol{Name: a.String()}
}

// address is the value lea computes: the address of a frame slot or
// global, or the raw address arithmetic.
func (t *Translator) address(in *disasm.Instruction, m disasm.Mem) Expr {
	if v, ok := t.Frame.Lookup(m); ok {
		return AddrOf{X: v}
	}
	if addr, ok := in.MemAddr(m); ok {
		return AddrOf{X: t.global(addr, 0)}
	}
	return addrExpr(m)
}

func (t *Translator) global(addr uint64, size int) Global {
	g := Global{Addr: addr, Size: size}
	if t.Symbols != nil {
		if name, ok := t.Symbols(addr); ok {
			g.Name = name
			return g
		}
	}
	g.Name = sizePrefix(size) + "_" + hexAddr(addr)
	return g
}

func sizePrefix(size int) string {
	switch size {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	case 8:
		return "qword"
	}
	return "unk"
}

// addrExpr builds base + index*scale + disp.
func addrExpr(m disasm.Mem) Expr {
	var e Expr
	add := func(x Expr) {
		if e == nil {
			e = x
			return
		}
		e = Binary{Op: OpAdd, L: e, R: x}
	}
	if m.Base != disasm.RegNone {
		add(Register{Name: m.Base.String()})
	}
	if m.Index != disasm.RegNone {
		var idx Expr = Register{Name: m.Index.String()}
		if m.Scale > 1 {
			idx = Binary{Op: OpMul, L: idx, R: IntConst(int64(m.Scale), 0)}
		}
		add(idx)
	}
	switch {
	case e == nil:
		return IntConst(m.Disp, 0)
	case m.Disp < 0:
		return Binary{Op: OpSub, L: e, R: IntConst(-m.Disp, 0)}
	case m.Disp > 0:
		add(IntConst(m.Disp, 0))
	}
	return e
}

func segName(r disasm.Reg) string {
	if r == disasm.RegNone {
		return ""
	}
	return r.String()
}

func hexAddr(v uint64) string { return strconv.FormatUint(v, 16) }
