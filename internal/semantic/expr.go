// Package semantic maps decoded instructions to target-independent
// statements. Backends render these; they never see instructions.
package semantic

import "fmt"

// Expr is an expression node. All implementations are comparable values.
type Expr interface{ expr() }

// BinOp is a binary operator. OpNone marks a plain assignment.
type BinOp uint8

const (
	OpNone BinOp = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr // logical
	OpSar // arithmetic
	OpRol
	OpRor

	// comparisons
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// logical
	OpLogAnd
	OpLogOr
)

var binOpNames = [...]string{
	OpNone: "", OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpAnd: "&", OpOr: "|", OpXor: "^", OpShl: "<<", OpShr: ">>", OpSar: ">>",
	OpRol: "rol", OpRor: "ror",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpLogAnd: "&&", OpLogOr: "||",
}

// String returns the C spelling of the operator.
func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// IsCompare reports ==, !=, <, <=, >, >=.
func (op BinOp) IsCompare() bool { return op >= OpEq && op <= OpGe }

// IsLogical reports && and ||.
func (op BinOp) IsLogical() bool { return op == OpLogAnd || op == OpLogOr }

// UnOp is a unary operator.
type UnOp uint8

const (
	UnNeg UnOp = iota + 1 // arithmetic negation
	UnNot                 // bitwise complement
	UnLogNot              // logical not
)

// Register is a machine register used as a variable.
type Register struct{ Name string }

// Const is an integer literal. Size is in bytes, 0 when unknown.
type Const struct {
	Value int64
	Size  int
}

// Var is a named stack slot: var_N for locals, arg_N for parameters.
type Var struct {
	Name   string
	Size   int
	Offset int64 // from the frame pointer
	Param  bool
}

// Global is an absolute memory location, named by symbol or by size prefix
// (dword_402000).
type Global struct {
	Addr uint64
	Name string
	Size int
}

// Mem is a dereference of a computed address.
type Mem struct {
	Addr Expr
	Size int
	Seg  string // segment override, "" for the default segment
}

// AddrOf takes the address of a Var or Global.
type AddrOf struct{ X Expr }

// Binary applies Op to L and R. Unsigned qualifies ordering comparisons.
type Binary struct {
	Op       BinOp
	L, R     Expr
	Unsigned bool
}

// Unary applies Op to X.
type Unary struct {
	Op UnOp
	X  Expr
}

// Cast converts X to Size bytes with sign or zero extension.
type Cast struct {
	X      Expr
	Size   int
	Signed bool
}

// Flag is a single CPU flag (ZF, SF, CF, OF, PF) read when no comparison
// is available.
type Flag struct{ Name string }

// Stack is the top of the machine stack: pushed to as a destination,
// popped from as a source.
type Stack struct{}

// Symbol is a resolved name used as an expression, e.g. an import.
type Symbol struct{ Name string }

func (Register) expr() {}
func (Const) expr()    {}
func (Var) expr()      {}
func (Global) expr()   {}
func (Mem) expr()      {}
func (AddrOf) expr()   {}
func (Binary) expr()   {}
func (Unary) expr()    {}
func (Cast) expr()     {}
func (Flag) expr()     {}
func (Stack) expr()    {}
func (Symbol) expr()   {}

// Zero is the constant 0.
var Zero = Const{}

// IntConst returns a Const of the given value and size.
func IntConst(v int64, size int) Const { return Const{Value: v, Size: size} }
