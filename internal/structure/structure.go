// Package structure folds a function's CFG into a tree of regions: linear
// runs, if/else and loops.
//
// The structurer walks blocks in address order. It is a heuristic over
// address layout, not an interval or dominance analysis: irreducible or
// interleaved control flow degrades to linear runs with explicit gotos.
// Every block lands in exactly one Linear region.
package structure

import (
	"strconv"

	"unpe/internal/disasm"
	"unpe/internal/semantic"
)

// Region is a node of the structured tree.
type Region interface{ region() }

// Block is one basic block inside a Linear region.
type Block struct {
	ID    int
	Addr  uint64
	Label string // set when a goto targets this block
	Stmts []semantic.Statement
}

// Linear is a run of blocks executed in order.
type Linear struct{ Blocks []Block }

// Seq is a sequence of regions.
type Seq struct{ Items []Region }

// If runs Then when Cond holds, Else (may be nil) otherwise.
type If struct {
	Cond semantic.Expr
	Then Region
	Else Region
}

// Loop repeats Body. Cond is tested after each iteration; nil means the
// loop only exits through a break, a return or a goto.
type Loop struct {
	Header int // block ID of the loop head
	Cond   semantic.Expr
	Body   Region
}

func (Linear) region() {}
func (Seq) region()    {}
func (If) region()     {}
func (Loop) region()   {}

// Tree is a structured function body.
type Tree struct {
	Root  Region
	Gotos int // label gotos left in Linear regions
}

type loopCtx struct {
	header, latch, exit int // block indexes; exit may equal len(blocks)
}

type builder struct {
	cfg    *disasm.FuncCFG
	blocks []semantic.Block
	loops  []loopCtx
	labels map[int]bool
	gotos  int
}

// Build structures cfg. blocks holds the translation of each CFG block,
// indexed by block ID.
func Build(cfg *disasm.FuncCFG, blocks []semantic.Block) *Tree {
	b := &builder{cfg: cfg, blocks: blocks, labels: make(map[int]bool)}
	n := len(cfg.Blocks)
	root := b.build(0, n, n)
	if len(b.labels) > 0 {
		walkBlocks(root, func(blk *Block) {
			if b.labels[blk.ID] {
				blk.Label = semantic.Label(blk.Addr)
			}
		})
	}
	return &Tree{Root: root, Gotos: b.gotos}
}

// build structures blocks [lo, hi). next is the block index control
// reaches when the range finishes; it is hi for straight-line nesting,
// the loop head inside a loop body, and len(blocks) at the top level.
func (b *builder) build(lo, hi, next int) Region {
	var (
		items []Region
		run   []Block
	)
	flush := func() {
		if len(run) > 0 {
			items = append(items, Linear{Blocks: run})
			run = nil
		}
	}
	// reaches reports whether a region spanning up to block t stays inside
	// the range: t is interior, or t is the range end and control resumes
	// there anyway.
	reaches := func(t int) bool { return t < hi || (t == hi && next == hi) }

	for i := lo; i < hi; {
		if j, ok := b.loopAt(i, hi); ok {
			flush()
			items = append(items, b.loop(i, j))
			i = j + 1
			continue
		}

		blk := b.block(i)
		bi := b.branch(i)
		if bi != nil && bi.Cond && bi.HasTarget {
			if t, ok := b.index(bi.Target); ok && t > i+1 && reaches(t) {
				cond := b.cond(i)
				run = append(run, blk)
				flush()
				if j := b.jumpTarget(t - 1); t-1 > i && j > t && reaches(j) {
					items = append(items, If{
						Cond: semantic.Negate(cond),
						Then: b.build(i+1, t, j),
						Else: b.build(t, j, j),
					})
					i = j
					continue
				}
				items = append(items, If{Cond: semantic.Negate(cond), Then: b.build(i+1, t, t)})
				i = t
				continue
			}
		}

		natural := next
		if i+1 < hi {
			natural = i + 1
		}
		b.unstructured(&blk, i, natural, bi)
		run = append(run, blk)
		i++
	}
	flush()
	return seq(items)
}

// loopAt finds the furthest branch in [i, hi) back to block i. Blocks that
// already head an enclosing loop are skipped.
func (b *builder) loopAt(i, hi int) (int, bool) {
	for _, l := range b.loops {
		if l.header == i {
			return 0, false
		}
	}
	head := b.cfg.Blocks[i].StartAddr
	for j := hi - 1; j >= i; j-- {
		if bi := b.branch(j); bi != nil && bi.HasTarget && bi.Target == head {
			return j, true
		}
	}
	return 0, false
}

func (b *builder) loop(i, j int) Region {
	b.loops = append(b.loops, loopCtx{header: i, latch: j, exit: j + 1})
	body := b.build(i, j+1, i)
	b.loops = b.loops[:len(b.loops)-1]

	var cond semantic.Expr
	if bi := b.branch(j); bi != nil && bi.Cond {
		cond = b.cond(j)
	}
	return Loop{Header: b.cfg.Blocks[i].ID, Cond: cond, Body: body}
}

// unstructured appends a goto for a block's final branch when the
// surrounding regions do not already express it.
func (b *builder) unstructured(blk *Block, i, natural int, bi *disasm.BranchInfo) {
	if bi == nil || !bi.HasTarget {
		return
	}
	var cond semantic.Expr
	if bi.Cond {
		cond = b.cond(i)
	}
	t, ok := b.index(bi.Target)
	if !ok {
		blk.Stmts = append(blk.Stmts, semantic.Raw{Comment: "jump out of function to 0x" + strconv.FormatUint(bi.Target, 16)})
		return
	}
	if t == natural {
		return
	}
	g := semantic.Goto{Target: bi.Target, Cond: cond}
	if n := len(b.loops); n > 0 {
		l := b.loops[n-1]
		switch {
		case t == l.header && i == l.latch:
			return
		case t == l.header:
			g.Kind = semantic.JumpContinue
		case t == l.exit:
			g.Kind = semantic.JumpBreak
		}
	}
	if g.Kind == semantic.JumpLabel {
		g.Label = semantic.Label(bi.Target)
		b.labels[b.cfg.Blocks[t].ID] = true
		b.gotos++
	}
	blk.Stmts = append(blk.Stmts, g)
}

func (b *builder) block(i int) Block {
	bb := &b.cfg.Blocks[i]
	var stmts []semantic.Statement
	if i < len(b.blocks) {
		stmts = append(stmts, b.blocks[i].Stmts...)
	}
	return Block{ID: bb.ID, Addr: bb.StartAddr, Stmts: stmts}
}

// cond is the taken condition of block i's final branch.
func (b *builder) cond(i int) semantic.Expr {
	if i < len(b.blocks) && b.blocks[i].Cond != nil {
		return b.blocks[i].Cond
	}
	return semantic.BranchCondition(b.cfg.Last(&b.cfg.Blocks[i]), nil)
}

func (b *builder) branch(i int) *disasm.BranchInfo {
	return disasm.DecodeBranch(b.cfg.Last(&b.cfg.Blocks[i]))
}

// jumpTarget returns the block index an unconditional jump at the end of
// block i lands on, or -1.
func (b *builder) jumpTarget(i int) int {
	bi := b.branch(i)
	if bi == nil || !bi.IsJump || !bi.HasTarget {
		return -1
	}
	t, ok := b.index(bi.Target)
	if !ok {
		return -1
	}
	return t
}

func (b *builder) index(addr uint64) (int, bool) {
	blk, ok := b.cfg.BlockAt(addr)
	if !ok {
		return 0, false
	}
	return blk.ID, true
}

func seq(items []Region) Region {
	switch len(items) {
	case 0:
		return Linear{}
	case 1:
		return items[0]
	}
	return Seq{Items: items}
}
