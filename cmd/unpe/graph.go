package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"
	lrender "github.com/zboralski/lattice/render"

	"unpe/internal/analysis"
	"unpe/internal/callgraph"
	"unpe/internal/disasm"
	"unpe/internal/output"
	"unpe/internal/render"
)

var (
	GraphOutFlag = &cli.PathFlag{
		Name:     "out",
		Aliases:  []string{"o"},
		Usage:    "output directory for DOT files",
		Required: true,
	}
	FromFlag = &cli.PathFlag{
		Name:  "from",
		Usage: "read functions.jsonl and call_edges.jsonl from a previous decompile run instead of an image",
	}
	ReachableFlag = &cli.BoolFlag{
		Name:  "reachable",
		Usage: "keep only functions reachable from the entry point and exports",
	}
	MaxNodesFlag = &cli.IntFlag{
		Name:  "max-nodes",
		Usage: "cap on function nodes (0 = all)",
	}
	LatticeFlag = &cli.BoolFlag{
		Name:  "lattice",
		Usage: "also write lattice call graph and per-function CFGs",
	}
)

var GraphCommand = &cli.Command{
	Name:      "graph",
	Usage:     "Writes the call graph as DOT",
	ArgsUsage: "<image>",
	Action:    Graph,
	Flags: []cli.Flag{
		GraphOutFlag,
		FromFlag,
		ReachableFlag,
		MaxNodesFlag,
		LatticeFlag,
	},
}

func Graph(c *cli.Context) error {
	dir := c.Path(GraphOutFlag.Name)
	var (
		funcs []disasm.FuncRecord
		edges []disasm.CallEdgeRecord
		res   *analysis.Result
		err   error
	)
	if from := c.Path(FromFlag.Name); from != "" {
		if c.Bool(LatticeFlag.Name) {
			return fmt.Errorf("--lattice needs an image, not --from")
		}
		if funcs, err = output.ReadFunctions(from); err != nil {
			return err
		}
		if edges, err = output.ReadCallEdges(from); err != nil {
			return err
		}
	} else {
		cfg := configFrom(c)
		img, err := loadImage(c, cfg)
		if err != nil {
			return err
		}
		if res, err = analysis.Run(c.Context, img, cfg, slog.Default()); err != nil {
			return err
		}
		funcs, edges = res.FuncRecords(), res.CallEdgeRecords()
	}

	var keep map[string]bool
	if c.Bool(ReachableFlag.Name) {
		keep = render.ReachableSet(render.FindEntryPoints(funcs, edges), edges)
	}
	dot := render.CallgraphDOT(funcs, edges, "call graph", render.NASA, c.Int(MaxNodesFlag.Name), keep)
	if err := output.WriteDOT(dir, "", "callgraph", dot); err != nil {
		return err
	}
	slog.Info("wrote call graph", "dir", dir, "functions", len(funcs), "edges", len(edges))

	if res == nil || !c.Bool(LatticeFlag.Name) {
		return nil
	}
	infos := make([]callgraph.FuncInfo, 0, len(res.Funcs))
	for _, f := range res.Funcs {
		if keep != nil && !keep[f.Name] {
			continue
		}
		infos = append(infos, callgraph.FuncInfo{Name: f.Name, CFG: &f.CFG, CallEdges: f.Calls})
	}
	if err := output.WriteDOT(dir, "", "lattice_callgraph", lrender.DOT(callgraph.BuildCallGraph(infos), "call graph")); err != nil {
		return err
	}
	if err := output.WriteDOT(dir, "", "lattice_cfg", lrender.DOTCFG(callgraph.BuildCFG(infos), "control flow")); err != nil {
		return err
	}
	slog.Info("wrote lattice graphs", "dir", dir, "functions", len(infos))
	return nil
}
