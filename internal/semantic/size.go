package semantic

import "unpe/internal/disasm"

var regSizes = func() map[string]int {
	m := make(map[string]int)
	for r := disasm.AL; r <= disasm.R15; r++ {
		m[r.String()] = r.Size()
	}
	return m
}()

// SizeOf returns the width of e in bytes. ptr is used for addresses and
// for expressions that carry no width of their own. Arithmetic takes the
// width of its left operand; comparisons and flags are one byte wide.
func SizeOf(e Expr, ptr int) int {
	orPtr := func(n int) int {
		if n > 0 {
			return n
		}
		return ptr
	}
	switch x := e.(type) {
	case Register:
		return orPtr(regSizes[x.Name])
	case Const:
		return orPtr(x.Size)
	case Var:
		return orPtr(x.Size)
	case Global:
		return orPtr(x.Size)
	case Mem:
		return orPtr(x.Size)
	case Cast:
		return orPtr(x.Size)
	case Binary:
		if x.Op.IsCompare() || x.Op.IsLogical() {
			return 1
		}
		return SizeOf(x.L, ptr)
	case Unary:
		if x.Op == UnLogNot {
			return 1
		}
		return SizeOf(x.X, ptr)
	case Flag:
		return 1
	}
	return ptr
}
