package disasm

// Op is the closed set of mnemonics the decoder produces. Conditional
// families (JCC, SETCC, CMOVCC) carry their condition in Instruction.Cond.
type Op uint8

const (
	BAD Op = iota // undecodable byte, only produced by the linear sweep

	// data transfer
	MOV
	MOVZX
	MOVSX
	MOVSXD
	LEA
	XCHG
	CMOVCC
	SETCC
	BSWAP
	CBW
	CWDE
	CDQE
	CWD
	CDQ
	CQO
	MOVS
	STOS
	LODS
	CMPS
	SCAS
	LAHF
	SAHF

	// arithmetic
	ADD
	ADC
	SUB
	SBB
	CMP
	INC
	DEC
	NEG
	MUL
	IMUL
	DIV
	IDIV
	XADD
	CMPXCHG

	// logical / bit
	AND
	OR
	XOR
	NOT
	TEST
	SHL
	SHR
	SAR
	ROL
	ROR
	RCL
	RCR
	SHLD
	SHRD
	BT
	BTS
	BTR
	BTC
	BSF
	BSR

	// control flow
	CALL
	CALLF
	JMP
	JMPF
	JCC
	LOOP
	LOOPE
	LOOPNE
	JECXZ
	RET
	RETF

	// stack
	PUSH
	POP
	PUSHA
	POPA
	PUSHF
	POPF
	ENTER
	LEAVE

	// system
	INT
	INT3
	HLT
	SYSCALL
	CPUID
	RDTSC
	UD2
	CLI
	STI

	// misc
	NOP
	PAUSE
	CLC
	STC
	CMC
	CLD
	STD

	opCount
)

// Category groups mnemonics by what they do.
type Category uint8

const (
	CatMisc Category = iota
	CatDataTransfer
	CatArithmetic
	CatLogical
	CatControlFlow
	CatStack
	CatSystem
)

func (c Category) String() string {
	switch c {
	case CatDataTransfer:
		return "data-transfer"
	case CatArithmetic:
		return "arithmetic"
	case CatLogical:
		return "logical"
	case CatControlFlow:
		return "control-flow"
	case CatStack:
		return "stack"
	case CatSystem:
		return "system"
	}
	return "misc"
}

type opInfo struct {
	name string
	cat  Category
}

var opTable = [opCount]opInfo{
	BAD:     {".byte", CatMisc},
	MOV:     {"mov", CatDataTransfer},
	MOVZX:   {"movzx", CatDataTransfer},
	MOVSX:   {"movsx", CatDataTransfer},
	MOVSXD:  {"movsxd", CatDataTransfer},
	LEA:     {"lea", CatDataTransfer},
	XCHG:    {"xchg", CatDataTransfer},
	CMOVCC:  {"cmov", CatDataTransfer},
	SETCC:   {"set", CatDataTransfer},
	BSWAP:   {"bswap", CatDataTransfer},
	CBW:     {"cbw", CatDataTransfer},
	CWDE:    {"cwde", CatDataTransfer},
	CDQE:    {"cdqe", CatDataTransfer},
	CWD:     {"cwd", CatDataTransfer},
	CDQ:     {"cdq", CatDataTransfer},
	CQO:     {"cqo", CatDataTransfer},
	MOVS:    {"movs", CatDataTransfer},
	STOS:    {"stos", CatDataTransfer},
	LODS:    {"lods", CatDataTransfer},
	CMPS:    {"cmps", CatArithmetic},
	SCAS:    {"scas", CatArithmetic},
	LAHF:    {"lahf", CatDataTransfer},
	SAHF:    {"sahf", CatDataTransfer},
	ADD:     {"add", CatArithmetic},
	ADC:     {"adc", CatArithmetic},
	SUB:     {"sub", CatArithmetic},
	SBB:     {"sbb", CatArithmetic},
	CMP:     {"cmp", CatArithmetic},
	INC:     {"inc", CatArithmetic},
	DEC:     {"dec", CatArithmetic},
	NEG:     {"neg", CatArithmetic},
	MUL:     {"mul", CatArithmetic},
	IMUL:    {"imul", CatArithmetic},
	DIV:     {"div", CatArithmetic},
	IDIV:    {"idiv", CatArithmetic},
	XADD:    {"xadd", CatArithmetic},
	CMPXCHG: {"cmpxchg", CatArithmetic},
	AND:     {"and", CatLogical},
	OR:      {"or", CatLogical},
	XOR:     {"xor", CatLogical},
	NOT:     {"not", CatLogical},
	TEST:    {"test", CatLogical},
	SHL:     {"shl", CatLogical},
	SHR:     {"shr", CatLogical},
	SAR:     {"sar", CatLogical},
	ROL:     {"rol", CatLogical},
	ROR:     {"ror", CatLogical},
	RCL:     {"rcl", CatLogical},
	RCR:     {"rcr", CatLogical},
	SHLD:    {"shld", CatLogical},
	SHRD:    {"shrd", CatLogical},
	BT:      {"bt", CatLogical},
	BTS:     {"bts", CatLogical},
	BTR:     {"btr", CatLogical},
	BTC:     {"btc", CatLogical},
	BSF:     {"bsf", CatLogical},
	BSR:     {"bsr", CatLogical},
	CALL:    {"call", CatControlFlow},
	CALLF:   {"call far", CatControlFlow},
	JMP:     {"jmp", CatControlFlow},
	JMPF:    {"jmp far", CatControlFlow},
	JCC:     {"j", CatControlFlow},
	LOOP:    {"loop", CatControlFlow},
	LOOPE:   {"loope", CatControlFlow},
	LOOPNE:  {"loopne", CatControlFlow},
	JECXZ:   {"jecxz", CatControlFlow},
	RET:     {"ret", CatControlFlow},
	RETF:    {"retf", CatControlFlow},
	PUSH:    {"push", CatStack},
	POP:     {"pop", CatStack},
	PUSHA:   {"pushad", CatStack},
	POPA:    {"popad", CatStack},
	PUSHF:   {"pushfd", CatStack},
	POPF:    {"popfd", CatStack},
	ENTER:   {"enter", CatStack},
	LEAVE:   {"leave", CatStack},
	INT:     {"int", CatSystem},
	INT3:    {"int3", CatSystem},
	HLT:     {"hlt", CatSystem},
	SYSCALL: {"syscall", CatSystem},
	CPUID:   {"cpuid", CatSystem},
	RDTSC:   {"rdtsc", CatSystem},
	UD2:     {"ud2", CatSystem},
	CLI:     {"cli", CatSystem},
	STI:     {"sti", CatSystem},
	NOP:     {"nop", CatMisc},
	PAUSE:   {"pause", CatMisc},
	CLC:     {"clc", CatMisc},
	STC:     {"stc", CatMisc},
	CMC:     {"cmc", CatMisc},
	CLD:     {"cld", CatMisc},
	STD:     {"std", CatMisc},
}

func (op Op) String() string {
	if op < opCount {
		return opTable[op].name
	}
	return "?"
}

// Category returns the mnemonic's category.
func (op Op) Category() Category {
	if op < opCount {
		return opTable[op].cat
	}
	return CatMisc
}

// Cond is an x86 condition code in encoding order (the low nibble of
// Jcc/SETcc/CMOVcc opcodes).
type Cond uint8

const (
	CondO Cond = iota
	CondNO
	CondB
	CondAE
	CondE
	CondNE
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
)

var condSuffix = [16]string{"o", "no", "b", "ae", "e", "ne", "be", "a", "s", "ns", "p", "np", "l", "ge", "le", "g"}

// Suffix returns the mnemonic suffix, e.g. "ne" for jne/setne.
func (c Cond) Suffix() string { return condSuffix[c&15] }

// Negate returns the opposite condition. Encodings pair up on the low bit.
func (c Cond) Negate() Cond { return c ^ 1 }

func (c Cond) String() string { return c.Suffix() }
