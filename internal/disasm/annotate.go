package disasm

import (
	"fmt"

	"unpe/internal/binfmt"
)

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(inst Instruction) string

// ImportAnnotator annotates instructions whose memory operand is an IAT
// slot, e.g. `call dword ptr [0x402004]  ; KERNEL32.dll!ExitProcess`.
// slots maps slot VA → import.
func ImportAnnotator(slots map[uint64]binfmt.Import) Annotator {
	return func(inst Instruction) string {
		m, ok := inst.MemOperand()
		if !ok {
			return ""
		}
		addr, ok := inst.MemAddr(m)
		if !ok {
			return ""
		}
		if imp, found := slots[addr]; found {
			return fmt.Sprintf("%s!%s", imp.DLL, imp.Label())
		}
		return ""
	}
}

// TargetAnnotator annotates direct branches and calls with the symbol at
// their destination, e.g. `call 0x401020  ; <sub_401020>`.
func TargetAnnotator(symbols SymbolLookup) Annotator {
	return func(inst Instruction) string {
		if !inst.HasTarget || symbols == nil {
			return ""
		}
		if name, ok := symbols(inst.Target); ok {
			return fmt.Sprintf("<%s>", name)
		}
		return ""
	}
}

// FailureAnnotator marks BAD bytes in a listing.
func FailureAnnotator() Annotator {
	return func(inst Instruction) string {
		if inst.Op == BAD {
			return "undecodable"
		}
		return ""
	}
}
