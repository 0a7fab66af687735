package discover

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"unpe/internal/binfmt"
	"unpe/internal/disasm"
)

// minPartition keeps tiny sections from being split into many goroutines.
const minPartition = 64 << 10

type hit struct {
	off int
	sig Signature
}

// scanRegion runs the prologue scan over r in up to n partitions. Each
// partition owns the start offsets in its range but may read past its end
// to complete a match. Results are merged in offset order.
func scanRegion(ctx context.Context, r codeRegion, tbl table, n int) ([]hit, error) {
	if len(tbl) == 0 {
		return nil, nil
	}
	size := len(r.data)
	if most := (size + minPartition - 1) / minPartition; n > most {
		n = most
	}
	if n < 1 {
		n = 1
	}
	step := (size + n - 1) / n

	parts := make([][]hit, n)
	g, ctx := errgroup.WithContext(ctx)
	for p := 0; p < n; p++ {
		lo, hi := p*step, min((p+1)*step, size)
		g.Go(func() error {
			for off := lo; off < hi; off++ {
				if off&0xFFF == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if s, ok := tbl.match(r.data, off); ok {
					parts[p] = append(parts[p], hit{off: off, sig: s})
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []hit
	for _, p := range parts {
		out = append(out, p...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].off < out[j].off })
	return out, nil
}

type bounded struct {
	insts     []disasm.Instruction
	size      int
	epilogue  string
	truncated bool
	skipped   []uint64
}

// bound decodes forward from off until the first return, the window, or
// the end of code. Undecodable bytes become one-byte BAD instructions.
func bound(code []byte, off int, base uint64, arch binfmt.Arch, window int) bounded {
	limit := min(off+window, len(code))
	// Decoding against code[:limit] keeps every instruction inside the window.
	view := code[:limit]

	var b bounded
	for pos := off; pos < limit; {
		in, err := disasm.DecodeAt(view, pos, base, arch)
		if err != nil {
			in = disasm.Instruction{
				Addr: base + uint64(pos),
				Len:  1,
				Raw:  []byte{view[pos]},
				Op:   disasm.BAD,
			}
			b.skipped = append(b.skipped, in.Addr)
		}
		b.insts = append(b.insts, in)
		pos += in.Len
		b.size += in.Len
		if in.IsRet() {
			b.epilogue = epilogueKind(b.insts)
			return b
		}
	}
	b.truncated = true
	return b
}

func epilogueKind(insts []disasm.Instruction) string {
	ret := insts[len(insts)-1]
	if len(ret.Args) == 1 {
		return EpilogueRetImm
	}
	if len(insts) >= 2 {
		switch insts[len(insts)-2].Op {
		case disasm.LEAVE:
			return EpilogueLeaveRet
		case disasm.POP:
			return EpiloguePopRet
		}
	}
	return EpilogueRet
}
