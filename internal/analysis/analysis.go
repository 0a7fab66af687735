// Package analysis runs the decompilation pipeline over one image:
// discovery, call-edge extraction, translation and structuring, with one
// worker per function. It is the only layer above the core that logs.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"unpe/internal/binfmt"
	"unpe/internal/config"
	"unpe/internal/diag"
	"unpe/internal/disasm"
	"unpe/internal/discover"
	"unpe/internal/semantic"
	"unpe/internal/structure"
)

// Function is a discovered function with its decompilation. Tree is nil
// when the function was skipped or failed structuring in best-effort mode.
type Function struct {
	*discover.Function
	Calls  []disasm.CallEdge
	Vars   []semantic.Var
	Tree   *structure.Tree
	Reason string // why Tree is nil
}

// Decompiled reports whether f has a region tree.
func (f *Function) Decompiled() bool { return f.Tree != nil }

// Result is the outcome of one run.
type Result struct {
	Image *binfmt.Image
	Funcs []*Function // by entry address
	Diags *diag.Diags
}

// Run analyzes img with cfg. A nil log uses slog.Default. In strict mode
// the first structuring failure aborts the run.
func Run(ctx context.Context, img *binfmt.Image, cfg config.Config, log *slog.Logger) (*Result, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Arch != "" {
		a, err := binfmt.ParseArch(cfg.Arch)
		if err != nil {
			return nil, fmt.Errorf("analysis: %w", err)
		}
		img.Arch = a
	}
	extra, err := cfg.Signatures(img.Arch)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	diags := &diag.Diags{}
	found, err := discover.Discover(ctx, img, discover.Options{
		Window:       cfg.Window,
		Partitions:   cfg.ScanPartitions,
		Workers:      cfg.Workers,
		Extra:        extra,
		MaxFunctions: cfg.MaxFunctions,
	}, diags)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	log.Info("discovered functions", "count", len(found), "arch", img.Arch.String())

	res := &Result{Image: img, Diags: diags, Funcs: make([]*Function, len(found))}
	symbols := Symbols(img, found)
	slots := img.ImportBySlot()
	mode := cfg.DiagMode()
	floor := rank(discover.Complexity(cfg.MinComplexity))

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, df := range found {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f := &Function{Function: df}
			res.Funcs[i] = f
			f.Calls = disasm.ExtractCallEdges(df.Insts, symbols, slots, cfg.CallWindow)
			for _, e := range f.Calls {
				if e.TargetName == "" && e.Kind != disasm.CallDirect {
					diags.Addf(e.FromPC, diag.KindUnresolved, "%s: %s call", df.Name, e.Kind)
				}
			}
			if rank(df.Complexity) < floor {
				f.Reason = "below min_complexity"
				return nil
			}
			return decompile(f, img.Arch, symbols, slots, mode, diags, log)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	done := 0
	for _, f := range res.Funcs {
		if f.Decompiled() {
			done++
		}
	}
	log.Info("decompiled functions", "count", done, "dropped", len(res.Funcs)-done, "diagnostics", diags.Len())
	return res, nil
}

func decompile(f *Function, arch binfmt.Arch, symbols disasm.SymbolLookup, slots map[uint64]binfmt.Import, mode diag.Mode, diags *diag.Diags, log *slog.Logger) error {
	tr := semantic.NewTranslator(arch, f.Insts, f.Calls, symbols, slots)
	blocks := tr.Blocks(&f.CFG)
	for _, b := range blocks {
		for _, pc := range b.Hidden {
			diags.Addf(pc, diag.KindHidden, "%s: jump at 0x%x does not end its block", f.Name, pc)
		}
	}
	tree := structure.Build(&f.CFG, blocks)
	if err := structure.Validate(tree.Root, &f.CFG); err != nil {
		if mode == diag.ModeStrict {
			return fmt.Errorf("analysis: %s: %w", f.Name, err)
		}
		diags.Addf(f.Entry, diag.KindStructure, "%s dropped: %v", f.Name, err)
		f.Reason = err.Error()
		return nil
	}
	if tree.Gotos > 0 {
		log.Debug("unstructured flow", "func", f.Name, "gotos", tree.Gotos)
	}
	f.Tree = tree
	f.Vars = tr.Frame.Vars()
	return nil
}

// Symbols names every discovered function and every export.
func Symbols(img *binfmt.Image, funcs []*discover.Function) disasm.SymbolLookup {
	names := make(map[uint64]string, len(funcs)+len(img.Exports))
	for _, e := range img.Exports {
		names[e.Address] = e.Name
	}
	for _, f := range funcs {
		names[f.Entry] = f.Name
	}
	return disasm.PlaceholderLookup(names)
}

func rank(c discover.Complexity) int {
	switch c {
	case discover.Medium:
		return 1
	case discover.Complex:
		return 2
	}
	return 0
}

// Edges returns every call edge of every function, by call site.
func (r *Result) Edges() []disasm.CallEdge {
	var out []disasm.CallEdge
	for _, f := range r.Funcs {
		out = append(out, f.Calls...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FromPC < out[j].FromPC })
	return out
}

// Discovered returns the underlying discovery records.
func (r *Result) Discovered() []*discover.Function {
	out := make([]*discover.Function, len(r.Funcs))
	for i, f := range r.Funcs {
		out[i] = f.Function
	}
	return out
}

// usedImports returns the imports named by funcs' call edges, in table order.
func usedImports(img *binfmt.Image, funcs []*Function) []binfmt.Import {
	used := map[string]bool{}
	for _, f := range funcs {
		for _, e := range f.Calls {
			switch {
			case e.Kind == disasm.CallImport || e.Kind == disasm.CallThunk:
				used[e.Via+"!"+e.TargetName] = true
			case e.Kind == disasm.CallIndirect && strings.Contains(e.Via, "!"):
				used[e.Via] = true
			}
		}
	}
	var out []binfmt.Import
	for _, imp := range img.Imports {
		if used[imp.DLL+"!"+imp.Label()] {
			out = append(out, imp)
		}
	}
	return out
}
