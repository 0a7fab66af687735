// Package callgraph exports call graphs and CFGs as lattice graphs for DOT
// rendering.
package callgraph

import (
	"github.com/zboralski/lattice"

	"unpe/internal/disasm"
)

// FuncInfo holds the data needed to build call graph and CFG for one function.
type FuncInfo struct {
	Name      string
	CFG       *disasm.FuncCFG
	CallEdges []disasm.CallEdge
}

// BuildCallGraph constructs a lattice.Graph from analyzed functions.
// Each function becomes a node. Each resolved call edge becomes an edge.
// Indirect calls with no recovered target are skipped.
func BuildCallGraph(funcs []FuncInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, e := range f.CallEdges {
			callee := calleeName(e)
			if callee == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: callee,
			})
		}
	}
	g.Dedup()
	return g
}

// calleeName prefers the resolved name, then the register provenance.
func calleeName(e disasm.CallEdge) string {
	if e.TargetName != "" {
		return e.TargetName
	}
	if e.Kind == disasm.CallIndirect {
		return e.Via
	}
	return ""
}
