package disasm

// BranchInfo describes a block-terminating control transfer.
type BranchInfo struct {
	Target    uint64 // absolute target address, valid when HasTarget
	HasTarget bool   // false for indirect and far transfers
	Cond      bool   // true if conditional (has fallthrough)
	IsJump    bool   // unconditional jmp
	IsRet     bool   // ret/retf
}

// DecodeBranch classifies in. Returns nil if the instruction is not a
// branch or return. Calls are not branches: they return to the next
// instruction.
func DecodeBranch(in *Instruction) *BranchInfo {
	switch {
	case in.IsRet():
		return &BranchInfo{IsRet: true}
	case !in.IsBranch():
		return nil
	}
	bi := &BranchInfo{
		Cond:   in.IsConditional(),
		IsJump: in.IsJump(),
	}
	if in.HasTarget {
		bi.Target = in.Target
		bi.HasTarget = true
	}
	return bi
}

// IsBranchTerminator returns true if the instruction ends a basic block.
func IsBranchTerminator(in *Instruction) bool {
	return DecodeBranch(in) != nil
}

// IsBackward reports a direct branch whose target precedes the branch.
func IsBackward(in *Instruction) bool {
	return in.IsBranch() && in.HasTarget && in.Target < in.Addr
}
