package structure

import (
	"errors"
	"fmt"

	"unpe/internal/disasm"
)

var (
	ErrBlockUnvisited  = errors.New("structure: block not in any region")
	ErrBlockDuplicated = errors.New("structure: block in more than one region")
	ErrBlockUnknown    = errors.New("structure: region references unknown block")
)

// Validate checks that every block of cfg appears in exactly one Linear
// region of root.
func Validate(root Region, cfg *disasm.FuncCFG) error {
	seen := make([]int, len(cfg.Blocks))
	var err error
	walkBlocks(root, func(b *Block) {
		if err != nil {
			return
		}
		if b.ID < 0 || b.ID >= len(seen) {
			err = fmt.Errorf("%w: %d", ErrBlockUnknown, b.ID)
			return
		}
		seen[b.ID]++
		if seen[b.ID] > 1 {
			err = fmt.Errorf("%w: %d in %s", ErrBlockDuplicated, b.ID, cfg.Name)
		}
	})
	if err != nil {
		return err
	}
	for id, n := range seen {
		if n == 0 {
			return fmt.Errorf("%w: %d in %s", ErrBlockUnvisited, id, cfg.Name)
		}
	}
	return nil
}

// BlockIDs lists block IDs in tree order.
func BlockIDs(root Region) []int {
	var ids []int
	walkBlocks(root, func(b *Block) { ids = append(ids, b.ID) })
	return ids
}

// Walk calls fn for every region in pre-order.
func Walk(r Region, fn func(Region)) {
	if r == nil {
		return
	}
	fn(r)
	switch x := r.(type) {
	case Seq:
		for _, it := range x.Items {
			Walk(it, fn)
		}
	case If:
		Walk(x.Then, fn)
		Walk(x.Else, fn)
	case Loop:
		Walk(x.Body, fn)
	}
}

// walkBlocks visits every block in place.
func walkBlocks(r Region, fn func(*Block)) {
	Walk(r, func(r Region) {
		if l, ok := r.(Linear); ok {
			for i := range l.Blocks {
				fn(&l.Blocks[i])
			}
		}
	})
}
