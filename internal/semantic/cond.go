package semantic

import "unpe/internal/disasm"

// condEntry is what a condition code tests after `cmp a, b`. Codes with no
// ordering meaning (o, s, p and their negations) leave op as OpNone.
type condEntry struct {
	op       BinOp
	unsigned bool
}

// condTable is the single source for branch condition text. The structurer
// and every backend read conditions through it.
var condTable = [16]condEntry{
	disasm.CondB:  {OpLt, true},
	disasm.CondAE: {OpGe, true},
	disasm.CondE:  {OpEq, false},
	disasm.CondNE: {OpNe, false},
	disasm.CondBE: {OpLe, true},
	disasm.CondA:  {OpGt, true},
	disasm.CondL:  {OpLt, false},
	disasm.CondGE: {OpGe, false},
	disasm.CondLE: {OpLe, false},
	disasm.CondG:  {OpGt, false},
}

// CompareOp returns the comparison a condition code tests. ok is false for
// the flag-only codes.
func CompareOp(c disasm.Cond) (op BinOp, unsigned, ok bool) {
	e := condTable[c&15]
	return e.op, e.unsigned, e.op != OpNone
}

var (
	zf = Flag{Name: "ZF"}
	sf = Flag{Name: "SF"}
	cf = Flag{Name: "CF"}
	of = Flag{Name: "OF"}
	pf = Flag{Name: "PF"}
)

func not(x Expr) Expr { return Unary{Op: UnLogNot, X: x} }

// FlagCondition spells a condition code in terms of CPU flags.
func FlagCondition(c disasm.Cond) Expr {
	sfNeOf := Binary{Op: OpNe, L: sf, R: of}
	sfEqOf := Binary{Op: OpEq, L: sf, R: of}
	switch c & 15 {
	case disasm.CondO:
		return of
	case disasm.CondNO:
		return not(of)
	case disasm.CondB:
		return cf
	case disasm.CondAE:
		return not(cf)
	case disasm.CondE:
		return zf
	case disasm.CondNE:
		return not(zf)
	case disasm.CondBE:
		return Binary{Op: OpLogOr, L: cf, R: zf}
	case disasm.CondA:
		return Binary{Op: OpLogAnd, L: not(cf), R: not(zf)}
	case disasm.CondS:
		return sf
	case disasm.CondNS:
		return not(sf)
	case disasm.CondP:
		return pf
	case disasm.CondNP:
		return not(pf)
	case disasm.CondL:
		return sfNeOf
	case disasm.CondGE:
		return sfEqOf
	case disasm.CondLE:
		return Binary{Op: OpLogOr, L: zf, R: sfNeOf}
	}
	return Binary{Op: OpLogAnd, L: not(zf), R: sfEqOf}
}

// Condition returns the expression under which condition c holds, given
// the last comparison in the block. With no comparison it falls back to
// flags.
func Condition(c disasm.Cond, last *Compare) Expr {
	c &= 15
	if last == nil {
		return FlagCondition(c)
	}
	if last.Test {
		return testCondition(c, last)
	}
	if op, unsigned, ok := CompareOp(c); ok {
		return Binary{Op: op, L: last.Left, R: last.Right, Unsigned: unsigned}
	}
	diff := Binary{Op: OpSub, L: last.Left, R: last.Right}
	switch c {
	case disasm.CondS:
		return Binary{Op: OpLt, L: diff, R: Zero}
	case disasm.CondNS:
		return Binary{Op: OpGe, L: diff, R: Zero}
	}
	return FlagCondition(c)
}

// testCondition handles `test a, b`: the value a&b compared against zero,
// with OF and CF cleared.
func testCondition(c disasm.Cond, last *Compare) Expr {
	var v Expr = last.Left
	if last.Left != last.Right {
		v = Binary{Op: OpAnd, L: last.Left, R: last.Right}
	}
	switch c {
	case disasm.CondE, disasm.CondBE:
		return Binary{Op: OpEq, L: v, R: Zero}
	case disasm.CondNE, disasm.CondA:
		return Binary{Op: OpNe, L: v, R: Zero}
	case disasm.CondS, disasm.CondL:
		return Binary{Op: OpLt, L: v, R: Zero}
	case disasm.CondNS, disasm.CondGE:
		return Binary{Op: OpGe, L: v, R: Zero}
	case disasm.CondLE:
		return Binary{Op: OpLe, L: v, R: Zero}
	case disasm.CondG:
		return Binary{Op: OpGt, L: v, R: Zero}
	}
	return FlagCondition(c)
}

// BranchCondition returns the taken condition of a conditional branch, or
// nil for anything else.
func BranchCondition(in *disasm.Instruction, last *Compare) Expr {
	count := Register{Name: countReg(in.AddrSize).String()}
	counted := Binary{Op: OpNe, L: count, R: Zero}
	switch in.Op {
	case disasm.JCC:
		return Condition(in.Cond, last)
	case disasm.LOOP:
		return counted
	case disasm.LOOPE:
		return Binary{Op: OpLogAnd, L: counted, R: zf}
	case disasm.LOOPNE:
		return Binary{Op: OpLogAnd, L: counted, R: not(zf)}
	case disasm.JECXZ:
		return Binary{Op: OpEq, L: count, R: Zero}
	}
	return nil
}

func countReg(addrSize int) disasm.Reg {
	switch addrSize {
	case 2:
		return disasm.CX
	case 8:
		return disasm.RCX
	}
	return disasm.ECX
}

var negated = map[BinOp]BinOp{
	OpEq: OpNe, OpNe: OpEq,
	OpLt: OpGe, OpGe: OpLt,
	OpLe: OpGt, OpGt: OpLe,
}

// Negate returns the logical negation of a condition, folding comparisons
// and double negations.
func Negate(e Expr) Expr {
	switch x := e.(type) {
	case Binary:
		if op, ok := negated[x.Op]; ok {
			x.Op = op
			return x
		}
		switch x.Op {
		case OpLogAnd:
			return Binary{Op: OpLogOr, L: Negate(x.L), R: Negate(x.R)}
		case OpLogOr:
			return Binary{Op: OpLogAnd, L: Negate(x.L), R: Negate(x.R)}
		}
	case Unary:
		if x.Op == UnLogNot {
			return x.X
		}
	}
	return not(e)
}
