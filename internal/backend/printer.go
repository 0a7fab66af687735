package backend

import (
	"fmt"
	"sort"
	"strings"

	"unpe/internal/binfmt"
	"unpe/internal/semantic"
	"unpe/internal/structure"
)

// syntax is how one target spells the shared statement and region forms.
type syntax struct {
	indent    string
	comment   string // line comment prefix
	end       string // statement terminator
	colon     bool   // blocks open with ':' and close by dedent
	parenCond bool   // if (cond)
	and, or   string
	not       string // logical not, including any trailing space
	bitNot    string
	truth     string
	forever   string // header of an unconditional loop
	doWhile   bool   // post-test loops render as do { } while (cond)
	gotos     bool   // false: label jumps become comments
	div       string

	typeName  func(size int, signed bool) string // "" for untyped targets
	cast      func(x string, size int, signed bool) string
	deref     func(addr string, size int) string
	addrOf    func(x string) string
	signature func(name string, params []string, ret string) string
	param     func(name, typ string) string
	declare   func(names []string, typ string) string // nil: no declarations
	reserved  map[string]bool
}

// printer renders functions through a syntax. It accumulates output in a
// buffer; nothing is written until the caller asks for String.
type printer struct {
	syn   *syntax
	ptr   int
	b     strings.Builder
	depth int
	stmts []int // statements emitted per open block
}

func newPrinter(syn *syntax, arch binfmt.Arch) *printer {
	ptr := arch.PtrSize()
	if ptr == 0 {
		ptr = 4
	}
	return &printer{syn: syn, ptr: ptr}
}

func (p *printer) String() string { return p.b.String() }

func (p *printer) write(depth int, s string) {
	for i := 0; i < depth; i++ {
		p.b.WriteString(p.syn.indent)
	}
	p.b.WriteString(s)
	p.b.WriteByte('\n')
}

// line writes one statement.
func (p *printer) line(s string) {
	p.write(p.depth, s)
	if n := len(p.stmts); n > 0 {
		p.stmts[n-1]++
	}
}

// note writes a comment line. Comments do not count as statements.
func (p *printer) note(s string) {
	if s == "" {
		p.write(p.depth, strings.TrimRight(p.syn.comment, " "))
		return
	}
	p.write(p.depth, p.syn.comment+s)
}

func (p *printer) blank() { p.b.WriteByte('\n') }

func (p *printer) open(header string) {
	if p.syn.colon {
		p.line(header + ":")
	} else {
		p.line(header + " {")
	}
	p.depth++
	p.stmts = append(p.stmts, 0)
}

// fill keeps colon blocks syntactically non-empty.
func (p *printer) fill() {
	if p.syn.colon && p.stmts[len(p.stmts)-1] == 0 {
		p.line("pass")
	}
}

func (p *printer) pop() {
	p.fill()
	p.depth--
	p.stmts = p.stmts[:len(p.stmts)-1]
}

func (p *printer) close(trailer string) {
	p.pop()
	if !p.syn.colon {
		p.line("}" + trailer)
	}
}

func (p *printer) orElse() {
	p.pop()
	if p.syn.colon {
		p.line("else:")
	} else {
		p.line("} else {")
	}
	p.depth++
	p.stmts = append(p.stmts, 0)
}

func (p *printer) ifHeader(cond semantic.Expr) string {
	if p.syn.parenCond {
		return "if (" + p.expr(cond) + ")"
	}
	return "if " + p.expr(cond)
}

func (p *printer) size(n int) int {
	if n > 0 {
		return n
	}
	return p.ptr
}

// ident makes name a valid identifier of the target.
func (p *printer) ident(name string) string {
	var b strings.Builder
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			b.WriteRune(c)
		case c >= '0' && c <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" {
		s = "_"
	}
	if p.syn.reserved[s] {
		s += "_"
	}
	return s
}

func constant(v int64) string {
	switch {
	case v > -0x100 && v < 0x100:
		return fmt.Sprint(v)
	case v < 0:
		return fmt.Sprintf("-0x%x", uint64(-v))
	}
	return fmt.Sprintf("0x%x", v)
}

// operand renders e for use inside a larger expression.
func (p *printer) operand(e semantic.Expr) string {
	switch e.(type) {
	case semantic.Binary:
		return "(" + p.expr(e) + ")"
	}
	return p.expr(e)
}

func (p *printer) expr(e semantic.Expr) string {
	switch x := e.(type) {
	case nil:
		return p.syn.truth
	case semantic.Register:
		return x.Name
	case semantic.Const:
		return constant(x.Value)
	case semantic.Var:
		return x.Name
	case semantic.Global:
		return p.ident(x.Name)
	case semantic.Symbol:
		return p.ident(x.Name)
	case semantic.Flag:
		return x.Name
	case semantic.Stack:
		return "pop()"
	case semantic.Mem:
		addr := p.expr(x.Addr)
		if x.Seg != "" {
			addr = x.Seg + "_base + " + p.operand(x.Addr)
		}
		return p.syn.deref(addr, p.size(x.Size))
	case semantic.AddrOf:
		return p.syn.addrOf(p.operand(x.X))
	case semantic.Cast:
		return p.syn.cast(p.operand(x.X), p.size(x.Size), x.Signed)
	case semantic.Unary:
		switch x.Op {
		case semantic.UnNeg:
			return "-" + p.operand(x.X)
		case semantic.UnNot:
			return p.syn.bitNot + p.operand(x.X)
		}
		return p.syn.not + p.operand(x.X)
	case semantic.Binary:
		return p.binary(x)
	}
	return fmt.Sprintf("%v", e)
}

func (p *printer) binary(x semantic.Binary) string {
	switch x.Op {
	case semantic.OpRol:
		return "rol(" + p.expr(x.L) + ", " + p.expr(x.R) + ")"
	case semantic.OpRor:
		return "ror(" + p.expr(x.L) + ", " + p.expr(x.R) + ")"
	}
	l, r := p.operand(x.L), p.operand(x.R)
	if x.Unsigned && x.Op.IsCompare() {
		// Registers are signed; unsigned orderings need explicit casts.
		n := p.size(max(semantic.SizeOf(x.L, p.ptr), semantic.SizeOf(x.R, p.ptr)))
		if _, ok := x.L.(semantic.Const); !ok {
			l = p.syn.cast(l, n, false)
		}
		if _, ok := x.R.(semantic.Const); !ok {
			r = p.syn.cast(r, n, false)
		}
	}
	return l + " " + p.binop(x.Op) + " " + r
}

func (p *printer) binop(op semantic.BinOp) string {
	switch op {
	case semantic.OpLogAnd:
		return p.syn.and
	case semantic.OpLogOr:
		return p.syn.or
	case semantic.OpDiv:
		return p.syn.div
	}
	return op.String()
}

func (p *printer) stmt(s semantic.Statement) {
	end := p.syn.end
	switch x := s.(type) {
	case semantic.Assign:
		p.assign(x)
	case semantic.Compare:
		if x.Test {
			p.note("test " + p.expr(x.Left) + ", " + p.expr(x.Right))
		} else {
			p.note("cmp " + p.expr(x.Left) + ", " + p.expr(x.Right))
		}
	case semantic.Call:
		p.call(x)
	case semantic.Return:
		if x.Value == nil {
			p.line("return" + end)
		} else {
			p.line("return " + p.expr(x.Value) + end)
		}
	case semantic.Raw:
		p.note(x.Comment)
	case semantic.Goto:
		p.jump(x)
	}
}

func (p *printer) assign(a semantic.Assign) {
	end := p.syn.end
	if _, ok := a.Dest.(semantic.Stack); ok {
		p.line("push(" + p.expr(a.Src) + ")" + end)
		return
	}
	d := p.expr(a.Dest)
	switch a.Op {
	case semantic.OpNone:
		p.line(d + " = " + p.expr(a.Src) + end)
	case semantic.OpRol, semantic.OpRor:
		p.line(d + " = " + p.binary(semantic.Binary{Op: a.Op, L: a.Dest, R: a.Src}) + end)
	default:
		p.line(d + " " + p.binop(a.Op) + "= " + p.expr(a.Src) + end)
	}
}

func (p *printer) call(c semantic.Call) {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = p.expr(a)
	}
	s := p.ident(c.Name) + "(" + strings.Join(args, ", ") + ")" + p.syn.end
	switch {
	case c.Module != "":
		s += "  " + p.syn.comment + c.Module
	case !c.Resolved && c.Target != nil:
		s += "  " + p.syn.comment + "via " + p.expr(c.Target)
	}
	p.line(s)
}

func (p *printer) jump(g semantic.Goto) {
	if g.Cond != nil {
		p.open(p.ifHeader(g.Cond))
		p.jump(semantic.Goto{Kind: g.Kind, Label: g.Label, Target: g.Target})
		p.close("")
		return
	}
	switch g.Kind {
	case semantic.JumpBreak:
		p.line("break" + p.syn.end)
	case semantic.JumpContinue:
		p.line("continue" + p.syn.end)
	default:
		if p.syn.gotos {
			p.line("goto " + g.Label + p.syn.end)
		} else {
			p.note("goto " + g.Label)
		}
	}
}

func (p *printer) region(r structure.Region) {
	switch x := r.(type) {
	case structure.Seq:
		for _, it := range x.Items {
			p.region(it)
		}
	case structure.Linear:
		for _, blk := range x.Blocks {
			p.label(blk)
			for _, s := range blk.Stmts {
				p.stmt(s)
			}
		}
	case structure.If:
		p.open(p.ifHeader(x.Cond))
		p.region(x.Then)
		if x.Else != nil {
			p.orElse()
			p.region(x.Else)
		}
		p.close("")
	case structure.Loop:
		switch {
		case x.Cond == nil:
			p.open(p.syn.forever)
			p.region(x.Body)
			p.close("")
		case p.syn.doWhile && !continues(x.Body):
			p.open("do")
			p.region(x.Body)
			p.close(" while (" + p.expr(x.Cond) + ")" + p.syn.end)
		default:
			p.open(p.syn.forever)
			p.region(x.Body)
			p.jump(semantic.Goto{Kind: semantic.JumpBreak, Cond: semantic.Negate(x.Cond)})
			p.close("")
		}
	}
}

// continues reports whether body jumps back to its own loop head. A C
// continue inside do/while runs the exit test instead, so such loops keep
// the forever form. Nested loops own their continues.
func continues(body structure.Region) bool {
	switch x := body.(type) {
	case structure.Seq:
		for _, it := range x.Items {
			if continues(it) {
				return true
			}
		}
	case structure.If:
		return continues(x.Then) || (x.Else != nil && continues(x.Else))
	case structure.Linear:
		for _, blk := range x.Blocks {
			for _, st := range blk.Stmts {
				if g, ok := st.(semantic.Goto); ok && g.Kind == semantic.JumpContinue {
					return true
				}
			}
		}
	}
	return false
}

// label writes a block label one level out, the way C and Go place them.
func (p *printer) label(blk structure.Block) {
	if blk.Label == "" {
		return
	}
	if !p.syn.gotos {
		p.note(blk.Label + ":")
		return
	}
	s := blk.Label + ":"
	if len(blk.Stmts) == 0 {
		s += " ;"
	}
	p.write(max(p.depth-1, 0), s)
}

func (p *printer) typeOf(size int) string { return p.syn.typeName(p.size(size), true) }

func (p *printer) function(f Func) {
	if f.Note != "" {
		p.note(f.Note)
	}
	params := make([]string, len(f.Params))
	for i, v := range f.Params {
		params[i] = p.syn.param(v.Name, p.typeOf(v.Size))
	}
	p.open(p.syn.signature(p.ident(f.Name), params, p.typeOf(p.ptr)))
	p.declarations(f)
	p.region(f.Body)
	p.close("")
}

// declarations declares locals and the registers the body uses, one line
// per width.
func (p *printer) declarations(f Func) {
	if p.syn.declare == nil {
		return
	}
	bySize := map[int][]string{}
	for _, v := range f.Locals {
		n := p.size(v.Size)
		bySize[n] = append(bySize[n], v.Name)
	}
	regs := map[string]int{}
	visit := func(e semantic.Expr) {
		semantic.WalkExpr(e, func(e semantic.Expr) {
			if r, ok := e.(semantic.Register); ok {
				regs[r.Name] = semantic.SizeOf(r, p.ptr)
			}
		})
	}
	structure.Walk(f.Body, func(r structure.Region) {
		switch x := r.(type) {
		case structure.Linear:
			for _, blk := range x.Blocks {
				for _, s := range blk.Stmts {
					for _, e := range semantic.Exprs(s) {
						visit(e)
					}
				}
			}
		case structure.If:
			visit(x.Cond)
		case structure.Loop:
			visit(x.Cond)
		}
	})
	names := make([]string, 0, len(regs))
	for n := range regs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		bySize[regs[n]] = append(bySize[regs[n]], n)
	}

	sizes := make([]int, 0, len(bySize))
	for n := range bySize {
		sizes = append(sizes, n)
	}
	sort.Ints(sizes)
	for _, n := range sizes {
		p.line(p.syn.declare(bySize[n], p.syn.typeName(n, true)))
	}
	if len(sizes) > 0 {
		p.blank()
	}
}
