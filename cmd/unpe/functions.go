package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"unpe/internal/analysis"
)

var JSONFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "print JSON lines instead of a table",
}

var FunctionsCommand = &cli.Command{
	Name:      "functions",
	Usage:     "Lists discovered functions",
	ArgsUsage: "<image>",
	Action:    Functions,
	Flags:     []cli.Flag{JSONFlag},
}

func Functions(c *cli.Context) error {
	cfg := configFrom(c)
	img, err := loadImage(c, cfg)
	if err != nil {
		return err
	}
	funcs, err := discoverOnly(c.Context, img, cfg)
	if err != nil {
		return err
	}

	if c.Bool(JSONFlag.Name) {
		enc := json.NewEncoder(c.App.Writer)
		for _, f := range funcs {
			if err := enc.Encode(analysis.Record(f)); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDR\tSIZE\tBLOCKS\tSOURCE\tPROLOGUE\tCOMPLEXITY\tNAME")
	for _, f := range funcs {
		prologue := f.Compiler
		if prologue == "" {
			prologue = "-"
		}
		name := f.Name
		if f.Truncated {
			name += " (truncated)"
		}
		fmt.Fprintf(tw, "0x%08x\t%d\t%d\t%s\t%s\t%s\t%s\n", f.Entry, f.Size, len(f.CFG.Blocks), f.Source, prologue, f.Complexity, name)
	}
	return tw.Flush()
}
