package disasm

import (
	"golang.org/x/arch/x86/x86asm"

	"unpe/internal/binfmt"
)

// IntelText renders in with the x/arch reference decoder. It returns "" when
// the reference decoder rejects the bytes.
func IntelText(in Instruction, arch binfmt.Arch) string {
	ref, err := x86asm.Decode(in.Raw, arch.Bits())
	if err != nil {
		return ""
	}
	return x86asm.IntelSyntax(ref, in.Addr, nil)
}

// Mismatch records an instruction whose length disagrees with x86asm.
type Mismatch struct {
	Addr   uint64 `json:"addr"`
	Ours   int    `json:"ours"`
	Ref    int    `json:"ref"`
	Text   string `json:"text"`
	RefErr string `json:"ref_err,omitempty"`
}

// CrossCheck re-decodes every non-BAD instruction of a sweep with x86asm and
// reports length disagreements. Instructions x86asm rejects are reported
// with Ref = 0.
func CrossCheck(insts []Instruction, arch binfmt.Arch) []Mismatch {
	var out []Mismatch
	for _, in := range insts {
		if in.Op == BAD {
			continue
		}
		ref, err := x86asm.Decode(in.Raw, arch.Bits())
		if err != nil {
			out = append(out, Mismatch{Addr: in.Addr, Ours: in.Len, Text: in.String(), RefErr: err.Error()})
			continue
		}
		if ref.Len != in.Len {
			out = append(out, Mismatch{Addr: in.Addr, Ours: in.Len, Ref: ref.Len, Text: in.String()})
		}
	}
	return out
}

// RefAnnotator emits the x86asm rendering of each instruction, for listings
// that show both decoders side by side.
func RefAnnotator(arch binfmt.Arch) Annotator {
	return func(in Instruction) string {
		if in.Op == BAD {
			return ""
		}
		return IntelText(in, arch)
	}
}
