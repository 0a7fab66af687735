package callgraph

import (
	"fmt"
	"strings"

	"github.com/zboralski/lattice"

	"unpe/internal/disasm"
)

// BuildCFG maps each function's CFG to a lattice.FuncCFG. Functions without
// a CFG are left out.
func BuildCFG(funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		if f.CFG == nil {
			continue
		}
		cg.Funcs = append(cg.Funcs, convertFuncCFG(f.CFG, f.CallEdges))
	}
	return cg
}

// BuildFuncCFG builds a single-function lattice.FuncCFG. It also returns the
// number of basic blocks, for filtering trivial functions.
func BuildFuncCFG(cfg *disasm.FuncCFG, edges []disasm.CallEdge) (*lattice.FuncCFG, int) {
	return convertFuncCFG(cfg, edges), len(cfg.Blocks)
}

// convertFuncCFG copies block bounds and flow successors. Calls are not
// successors in lattice; each call site in a block becomes a CallSite at
// its instruction index instead.
func convertFuncCFG(dcfg *disasm.FuncCFG, edges []disasm.CallEdge) *lattice.FuncCFG {
	sites := make(map[uint64]disasm.CallEdge, len(edges))
	for _, e := range edges {
		sites[e.FromPC] = e
	}

	out := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{ID: db.ID, Start: db.Start, End: db.End, Term: db.IsTerm}
		for _, s := range db.Succs {
			if s.Kind != disasm.EdgeCall {
				lb.Succs = append(lb.Succs, lattice.Successor{BlockID: s.BlockID, Cond: s.Cond})
			}
		}
		end := min(db.End, len(dcfg.Insts))
		for idx := db.Start; idx < end; idx++ {
			if e, ok := sites[dcfg.Insts[idx].Addr]; ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{Offset: idx, Callee: siteLabel(e)})
			}
		}
		out.Blocks = append(out.Blocks, lb)
	}
	return out
}

// siteLabel names a call site even when the callee is unknown: a direct
// call shows its target address, an indirect one its register.
func siteLabel(e disasm.CallEdge) string {
	if name := calleeName(e); name != "" {
		return name
	}
	if e.Kind == disasm.CallDirect {
		return fmt.Sprintf("0x%x", e.TargetPC)
	}
	return strings.TrimSpace("indirect " + e.Reg)
}
