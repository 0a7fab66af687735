package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"unpe/internal/analysis"
	"unpe/internal/binfmt"
	"unpe/internal/config"
	"unpe/internal/diag"
	"unpe/internal/disasm"
	"unpe/internal/discover"
	"unpe/internal/output"
)

var (
	VerifyFlag = &cli.BoolFlag{
		Name:  "verify",
		Usage: "re-decode with x/arch and report length mismatches",
	}
	IntelFlag = &cli.BoolFlag{
		Name:  "intel",
		Usage: "annotate each line with the x/arch Intel syntax",
	}
	ListingOutFlag = &cli.PathFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "write listing.txt to this directory instead of stdout",
	}
)

var DisasmCommand = &cli.Command{
	Name:      "disasm",
	Usage:     "Prints a linear-sweep listing of the code sections",
	ArgsUsage: "<image>",
	Action:    Disasm,
	Flags: []cli.Flag{
		VerifyFlag,
		IntelFlag,
		ListingOutFlag,
	},
}

func Disasm(c *cli.Context) error {
	cfg := configFrom(c)
	img, err := loadImage(c, cfg)
	if err != nil {
		return err
	}
	if cfg.Arch != "" {
		if img.Arch, err = binfmt.ParseArch(cfg.Arch); err != nil {
			return err
		}
	}

	funcs, err := discoverOnly(c.Context, img, cfg)
	if err != nil {
		return err
	}
	symbols := analysis.Symbols(img, funcs)

	var insts []disasm.Instruction
	for _, s := range img.CodeSections() {
		si, err := disasm.Disassemble(img.SectionData(s), disasm.Options{BaseAddr: img.SectionVA(s), Arch: img.Arch, Symbols: symbols})
		if err != nil {
			return fmt.Errorf("section %s: %w", s.Name, err)
		}
		insts = append(insts, si...)
	}

	ann := []disasm.Annotator{
		disasm.FailureAnnotator(),
		disasm.ImportAnnotator(img.ImportBySlot()),
		disasm.TargetAnnotator(symbols),
	}
	if c.Bool(IntelFlag.Name) {
		ann = append(ann, disasm.RefAnnotator(img.Arch))
	}

	if dir := c.Path(ListingOutFlag.Name); dir != "" {
		if err := output.WriteASMSingle(dir, insts, symbols, ann...); err != nil {
			return err
		}
		slog.Info("wrote listing", "dir", dir, "instructions", len(insts))
	} else {
		fmt.Fprint(c.App.Writer, disasm.Format(insts, symbols, ann...))
	}

	if !c.Bool(VerifyFlag.Name) {
		return nil
	}
	bad := disasm.CrossCheck(insts, img.Arch)
	for _, m := range bad {
		if m.RefErr != "" {
			fmt.Fprintf(c.App.ErrWriter, "0x%08x  len %d, x/arch: %s  %s\n", m.Addr, m.Ours, m.RefErr, m.Text)
		} else {
			fmt.Fprintf(c.App.ErrWriter, "0x%08x  len %d, x/arch len %d  %s\n", m.Addr, m.Ours, m.Ref, m.Text)
		}
	}
	slog.Info("verified listing", "instructions", len(insts), "mismatches", len(bad))
	if len(bad) > 0 {
		return fmt.Errorf("verify: %d of %d instructions disagree with x/arch", len(bad), len(insts))
	}
	return nil
}

// discoverOnly runs function discovery without decompiling.
func discoverOnly(ctx context.Context, img *binfmt.Image, cfg config.Config) ([]*discover.Function, error) {
	extra, err := cfg.Signatures(img.Arch)
	if err != nil {
		return nil, err
	}
	diags := &diag.Diags{}
	funcs, err := discover.Discover(ctx, img, discover.Options{
		Window:       cfg.Window,
		Partitions:   cfg.ScanPartitions,
		Workers:      cfg.Workers,
		Extra:        extra,
		MaxFunctions: cfg.MaxFunctions,
	}, diags)
	if err != nil {
		return nil, err
	}
	for _, d := range diags.Items() {
		slog.Debug("discovery", "diag", d.String())
	}
	return funcs, nil
}
