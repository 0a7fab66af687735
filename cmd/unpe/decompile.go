package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"unpe/internal/analysis"
	"unpe/internal/backend"
	"unpe/internal/disasm"
	"unpe/internal/output"
	"unpe/internal/render"
)

var (
	OutFlag = &cli.PathFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "output directory (default from config)",
	}
	TargetFlag = &cli.StringSliceFlag{
		Name:    "target",
		Aliases: []string{"t"},
		Usage:   "target language, repeatable: c, cpp, go, python",
	}
	CFGFlag = &cli.BoolFlag{
		Name:  "cfg",
		Usage: "also write one DOT file per function CFG",
	}
	MinComplexityFlag = &cli.StringFlag{
		Name:  "min-complexity",
		Usage: "decompile only functions at least this complex: simple, medium, complex",
	}
	MaxFunctionsFlag = &cli.IntFlag{
		Name:  "max-functions",
		Usage: "stop after this many functions (0 = all)",
	}
)

var DecompileCommand = &cli.Command{
	Name:      "decompile",
	Usage:     "Decompiles every discovered function",
	ArgsUsage: "<image>",
	Action:    Decompile,
	Flags: []cli.Flag{
		OutFlag,
		TargetFlag,
		CFGFlag,
		MinComplexityFlag,
		MaxFunctionsFlag,
	},
}

func Decompile(c *cli.Context) error {
	cfg := configFrom(c)
	if c.IsSet(TargetFlag.Name) {
		cfg.Targets = c.StringSlice(TargetFlag.Name)
	}
	if c.IsSet(MinComplexityFlag.Name) {
		cfg.MinComplexity = c.String(MinComplexityFlag.Name)
	}
	if c.IsSet(MaxFunctionsFlag.Name) {
		cfg.MaxFunctions = c.Int(MaxFunctionsFlag.Name)
	}
	if c.IsSet(OutFlag.Name) {
		cfg.OutputDir = c.Path(OutFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	img, err := loadImage(c, cfg)
	if err != nil {
		return err
	}
	res, err := analysis.Run(c.Context, img, cfg, slog.Default())
	if err != nil {
		return err
	}

	dir := cfg.OutputDir
	u := res.Unit(analysis.Module(img.Path))
	for _, name := range cfg.Targets {
		be, err := backend.Lookup(name)
		if err != nil {
			return err
		}
		path, err := output.WriteSource(dir, be, u)
		if err != nil {
			return err
		}
		slog.Info("wrote source", "target", be.Name(), "path", path, "functions", len(u.Funcs))
	}

	if err := output.WriteFunctions(dir, res.FuncRecords()); err != nil {
		return err
	}
	edges := res.CallEdgeRecords()
	if err := output.WriteCallEdges(dir, edges); err != nil {
		return err
	}
	if err := output.WriteReport(dir, res.Report()); err != nil {
		return err
	}
	slog.Info("wrote records", "dir", dir, "functions", len(res.Funcs), "call_edges", len(edges))

	if c.Bool(CFGFlag.Name) {
		n, err := writeCFGs(dir, res)
		if err != nil {
			return err
		}
		slog.Info("wrote cfgs", "dir", dir, "count", n)
	}
	return nil
}

// writeCFGs writes cfg/<name>.dot for every function with more than one
// block.
func writeCFGs(dir string, res *analysis.Result) (int, error) {
	symbols := analysis.Symbols(res.Image, res.Discovered())
	ann := []disasm.Annotator{
		disasm.FailureAnnotator(),
		disasm.ImportAnnotator(res.Image.ImportBySlot()),
		disasm.TargetAnnotator(symbols),
	}
	n := 0
	for _, f := range res.Funcs {
		if len(f.CFG.Blocks) < 2 {
			continue
		}
		if err := output.WriteDOT(dir, "cfg", f.Name, render.CFGDOT(f.CFG, render.NASA, ann...)); err != nil {
			return n, fmt.Errorf("cfg %s: %w", f.Name, err)
		}
		n++
	}
	return n, nil
}
