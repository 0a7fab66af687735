package disasm

// Reg is an x86 register. General-purpose registers are laid out in four
// width classes of 16 (8/16/32/64-bit) so that class base + encoding number
// yields the register.
type Reg uint8

const (
	RegNone Reg = iota

	AL
	CL
	DL
	BL
	AH
	CH
	DH
	BH
	SPL
	BPL
	SIL
	DIL
	R8B
	R9B
	R10B
	R11B
	R12B
	R13B
	R14B
	R15B

	AX
	CX
	DX
	BX
	SP
	BP
	SI
	DI
	R8W
	R9W
	R10W
	R11W
	R12W
	R13W
	R14W
	R15W

	EAX
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	R8D
	R9D
	R10D
	R11D
	R12D
	R13D
	R14D
	R15D

	RAX
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	ES
	CS
	SS
	DS
	FS
	GS

	IP
	EIP
	RIP

	regCount
)

var regNames = [regCount]string{
	RegNone: "",
	AL:      "al", CL: "cl", DL: "dl", BL: "bl", AH: "ah", CH: "ch", DH: "dh", BH: "bh",
	SPL: "spl", BPL: "bpl", SIL: "sil", DIL: "dil",
	R8B: "r8b", R9B: "r9b", R10B: "r10b", R11B: "r11b", R12B: "r12b", R13B: "r13b", R14B: "r14b", R15B: "r15b",
	AX: "ax", CX: "cx", DX: "dx", BX: "bx", SP: "sp", BP: "bp", SI: "si", DI: "di",
	R8W: "r8w", R9W: "r9w", R10W: "r10w", R11W: "r11w", R12W: "r12w", R13W: "r13w", R14W: "r14w", R15W: "r15w",
	EAX: "eax", ECX: "ecx", EDX: "edx", EBX: "ebx", ESP: "esp", EBP: "ebp", ESI: "esi", EDI: "edi",
	R8D: "r8d", R9D: "r9d", R10D: "r10d", R11D: "r11d", R12D: "r12d", R13D: "r13d", R14D: "r14d", R15D: "r15d",
	RAX: "rax", RCX: "rcx", RDX: "rdx", RBX: "rbx", RSP: "rsp", RBP: "rbp", RSI: "rsi", RDI: "rdi",
	R8: "r8", R9: "r9", R10: "r10", R11: "r11", R12: "r12", R13: "r13", R14: "r14", R15: "r15",
	ES: "es", CS: "cs", SS: "ss", DS: "ds", FS: "fs", GS: "gs",
	IP: "ip", EIP: "eip", RIP: "rip",
}

func (r Reg) String() string {
	if r < regCount {
		return regNames[r]
	}
	return "?"
}

// Size returns the register width in bytes.
func (r Reg) Size() int {
	switch {
	case r >= AL && r <= R15B:
		return 1
	case r >= AX && r <= R15W, r >= ES && r <= GS, r == IP:
		return 2
	case r >= EAX && r <= R15D, r == EIP:
		return 4
	case r >= RAX && r <= R15, r == RIP:
		return 8
	}
	return 0
}

// IsGPR reports whether r is a general-purpose register of any width.
func (r Reg) IsGPR() bool { return r >= AL && r <= R15 }

// Num returns the architectural encoding number (0-15) of a 16/32/64-bit
// GPR, or -1. AH..BH and the 8-bit class do not map cleanly and return -1.
func (r Reg) Num() int {
	switch {
	case r >= AX && r <= R15W:
		return int(r - AX)
	case r >= EAX && r <= R15D:
		return int(r - EAX)
	case r >= RAX && r <= R15:
		return int(r - RAX)
	}
	return -1
}

// IsStackPointer reports sp/esp/rsp.
func (r Reg) IsStackPointer() bool { return r.Num() == 4 }

// IsFramePointer reports bp/ebp/rbp.
func (r Reg) IsFramePointer() bool { return r.Num() == 5 }

// gpr returns the general-purpose register numbered num at the given width.
// For width 1, rex selects spl..dil instead of ah..bh for numbers 4-7.
func gpr(size, num int, rex bool) Reg {
	num &= 15
	switch size {
	case 1:
		switch {
		case num < 4:
			return AL + Reg(num)
		case num < 8 && !rex:
			return AH + Reg(num-4)
		case num < 8:
			return SPL + Reg(num-4)
		}
		return R8B + Reg(num-8)
	case 2:
		return AX + Reg(num)
	case 4:
		return EAX + Reg(num)
	case 8:
		return RAX + Reg(num)
	}
	return RegNone
}

var segRegs = [8]Reg{ES, CS, SS, DS, FS, GS, RegNone, RegNone}

// Accumulator returns al/ax/eax/rax for the given width.
func Accumulator(size int) Reg { return gpr(size, 0, false) }
