package semantic

// WalkExpr calls fn for e and every expression nested in it, parents first.
func WalkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch x := e.(type) {
	case Mem:
		WalkExpr(x.Addr, fn)
	case AddrOf:
		WalkExpr(x.X, fn)
	case Binary:
		WalkExpr(x.L, fn)
		WalkExpr(x.R, fn)
	case Unary:
		WalkExpr(x.X, fn)
	case Cast:
		WalkExpr(x.X, fn)
	}
}

// Exprs returns the top-level expressions of a statement.
func Exprs(s Statement) []Expr {
	switch x := s.(type) {
	case Assign:
		return []Expr{x.Dest, x.Src}
	case Compare:
		return []Expr{x.Left, x.Right}
	case Call:
		return append([]Expr{x.Target}, x.Args...)
	case Return:
		return []Expr{x.Value}
	case Goto:
		return []Expr{x.Cond}
	}
	return nil
}
