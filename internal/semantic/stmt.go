package semantic

// Statement is one abstract statement. An instruction yields at most one.
type Statement interface{ stmt() }

// Assign is Dest = Src, or Dest Op= Src when Op is not OpNone.
type Assign struct {
	Dest Expr
	Op   BinOp
	Src  Expr
}

// Compare records a cmp or test. It is never emitted: it is threaded to the
// next conditional branch or setcc in the same block.
type Compare struct {
	Left, Right Expr
	Test        bool // test: Left & Right against zero
}

// Call is a call site. Name is always set: the resolved callee, or a
// synthesized sub_<hex>/indirect_<hex> name when Resolved is false.
type Call struct {
	Addr     uint64
	Target   Expr   // callee operand for indirect calls, nil for direct ones
	Name     string
	Resolved bool
	Module   string // importing DLL for import calls
	Args     []Expr // stack arguments in call order, when recovered from pushes
}

// Return leaves the function. Value is the accumulator.
type Return struct{ Value Expr }

// Raw is an unmodeled instruction carried as a comment.
type Raw struct{ Comment string }

// JumpKind types a Goto.
type JumpKind uint8

const (
	JumpLabel    JumpKind = iota // goto Label
	JumpBreak                    // leave the innermost loop
	JumpContinue                 // next iteration of the innermost loop
)

// Goto is a branch the structurer could not fold into a region. Cond is nil
// for unconditional transfers.
type Goto struct {
	Kind   JumpKind
	Label  string
	Target uint64
	Cond   Expr
}

func (Assign) stmt()  {}
func (Compare) stmt() {}
func (Call) stmt()    {}
func (Return) stmt()  {}
func (Raw) stmt()     {}
func (Goto) stmt()    {}

// Label returns the label name for a block address.
func Label(addr uint64) string { return "loc_" + hexAddr(addr) }
