package disasm

import "sort"

// EdgeKind types a CFG edge.
type EdgeKind uint8

const (
	EdgeFallthrough EdgeKind = iota
	EdgeTaken                // conditional branch taken
	EdgeUnconditional
	EdgeCall
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeTaken:
		return "conditional-taken"
	case EdgeUnconditional:
		return "unconditional"
	case EdgeCall:
		return "call"
	}
	return "fallthrough"
}

// BasicBlock represents a sequence of instructions with a single entry point.
type BasicBlock struct {
	ID        int
	Start     int    // index into FuncCFG.Insts (inclusive)
	End       int    // index into FuncCFG.Insts (exclusive)
	StartAddr uint64 // address of the first instruction
	EndAddr   uint64 // address one past the last byte
	Succs     []Succ // successor edges
	Preds     []int  // predecessor block IDs, ascending, deduplicated
	IsEntry   bool
	IsTerm    bool // no successors: ret, indirect transfer, or jump out of function
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Kind    EdgeKind
	Cond    string // "" = unconditional, "T" = taken/true, "F" = fallthrough/false
}

// Edge is a typed CFG edge.
type Edge struct {
	From int
	To   int
	Kind EdgeKind
}

// FuncCFG is a per-function control flow graph.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Instruction
}

// BlockInsts returns the instructions of block b.
func (g *FuncCFG) BlockInsts(b *BasicBlock) []Instruction {
	return g.Insts[b.Start:b.End]
}

// Last returns the final instruction of block b.
func (g *FuncCFG) Last(b *BasicBlock) *Instruction {
	return &g.Insts[b.End-1]
}

// BlockAt returns the block starting at addr.
func (g *FuncCFG) BlockAt(addr uint64) (*BasicBlock, bool) {
	i := sort.Search(len(g.Blocks), func(i int) bool { return g.Blocks[i].StartAddr >= addr })
	if i < len(g.Blocks) && g.Blocks[i].StartAddr == addr {
		return &g.Blocks[i], true
	}
	return nil, false
}

// Edges flattens all successor lists.
func (g *FuncCFG) Edges() []Edge {
	var out []Edge
	for i := range g.Blocks {
		for _, s := range g.Blocks[i].Succs {
			out = append(out, Edge{From: g.Blocks[i].ID, To: s.BlockID, Kind: s.Kind})
		}
	}
	return out
}

// BuildCFG constructs a control flow graph from a function's instruction stream.
// The algorithm:
//  1. Find block leaders: index 0, branch targets, instructions after
//     conditional branches and after returns.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges from each block's last instruction, plus call
//     edges for calls that land inside the function.
//
// Block IDs follow address order.
func BuildCFG(name string, insts []Instruction) FuncCFG {
	if len(insts) == 0 {
		return FuncCFG{Name: name, Insts: insts}
	}

	// Map address → instruction index for branch target resolution.
	addrToIdx := make(map[uint64]int, len(insts))
	for i, inst := range insts {
		addrToIdx[inst.Addr] = i
	}

	// Pass 1: Identify block leaders.
	leaders := make(map[int]bool)
	leaders[0] = true

	for i := range insts {
		bi := DecodeBranch(&insts[i])
		if bi == nil {
			continue
		}
		if (bi.Cond || bi.IsRet) && i+1 < len(insts) {
			leaders[i+1] = true
		}
		if bi.HasTarget {
			if idx, ok := addrToIdx[bi.Target]; ok {
				leaders[idx] = true
			}
		}
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: Partition into blocks.
	blocks := make([]BasicBlock, len(sorted))
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(insts)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = BasicBlock{
			ID:        i,
			Start:     start,
			End:       end,
			StartAddr: insts[start].Addr,
			EndAddr:   insts[end-1].Next(),
			IsEntry:   start == 0,
		}
		leaderToBlock[start] = i
	}

	blockOf := func(addr uint64) int {
		if idx, ok := addrToIdx[addr]; ok {
			if bid, ok := leaderToBlock[idx]; ok {
				return bid
			}
		}
		return -1
	}

	// Pass 3: Compute successors.
	for i := range blocks {
		blk := &blocks[i]
		last := &insts[blk.End-1]
		bi := DecodeBranch(last)
		next := -1
		if i+1 < len(blocks) {
			next = i + 1
		}

		switch {
		case bi == nil:
			if next >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: next, Kind: EdgeFallthrough})
			}
		case bi.IsRet:
		case bi.IsJump:
			if t := targetBlock(bi, blockOf); t >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: t, Kind: EdgeUnconditional})
			}
		case bi.HasTarget:
			// Conditional: taken (T) goes to target, fallthrough (F) goes to next.
			if t := blockOf(bi.Target); t >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: t, Kind: EdgeTaken, Cond: "T"})
			}
			if next >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: next, Kind: EdgeFallthrough, Cond: "F"})
			}
		}

		for j := blk.Start; j < blk.End; j++ {
			in := &insts[j]
			if !in.IsCall() || !in.HasTarget {
				continue
			}
			if t := blockOf(in.Target); t >= 0 && !hasSucc(blk.Succs, t, EdgeCall) {
				blk.Succs = append(blk.Succs, Succ{BlockID: t, Kind: EdgeCall})
			}
		}

		blk.IsTerm = !hasFlow(blk.Succs)
	}

	for i := range blocks {
		for _, s := range blocks[i].Succs {
			blocks[s.BlockID].Preds = append(blocks[s.BlockID].Preds, i)
		}
	}
	for i := range blocks {
		sort.Ints(blocks[i].Preds)
		blocks[i].Preds = dedupInts(blocks[i].Preds)
	}

	return FuncCFG{
		Name:   name,
		Blocks: blocks,
		Insts:  insts,
	}
}

func targetBlock(bi *BranchInfo, blockOf func(uint64) int) int {
	if !bi.HasTarget {
		return -1
	}
	return blockOf(bi.Target)
}

func hasSucc(ss []Succ, id int, kind EdgeKind) bool {
	for _, s := range ss {
		if s.BlockID == id && s.Kind == kind {
			return true
		}
	}
	return false
}

// hasFlow reports whether any successor continues intra-procedural flow.
func hasFlow(ss []Succ) bool {
	for _, s := range ss {
		if s.Kind != EdgeCall {
			return true
		}
	}
	return false
}

func dedupInts(xs []int) []int {
	if len(xs) < 2 {
		return xs
	}
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}
