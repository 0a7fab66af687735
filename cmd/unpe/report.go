package main

import (
	"encoding/json"
	"log/slog"

	"github.com/urfave/cli/v2"

	"unpe/internal/analysis"
	"unpe/internal/output"
	"unpe/internal/render"
)

var ReportOutFlag = &cli.PathFlag{
	Name:    "out",
	Aliases: []string{"o"},
	Usage:   "write report.json to this directory instead of stdout",
}

var ReportCommand = &cli.Command{
	Name:      "report",
	Usage:     "Prints the analysis report: toolchain and packer guesses, entropy, complexity, diagnostics",
	ArgsUsage: "<image>",
	Action:    Report,
	Flags:     []cli.Flag{ReportOutFlag},
}

// fullReport adds call graph statistics to the analysis report.
type fullReport struct {
	analysis.Report
	CallGraph render.CallgraphStats `json:"callgraph"`
}

func Report(c *cli.Context) error {
	cfg := configFrom(c)
	img, err := loadImage(c, cfg)
	if err != nil {
		return err
	}
	res, err := analysis.Run(c.Context, img, cfg, slog.Default())
	if err != nil {
		return err
	}
	rep := fullReport{
		Report:    res.Report(),
		CallGraph: render.ComputeStats(res.FuncRecords(), res.CallEdgeRecords()),
	}

	if dir := c.Path(ReportOutFlag.Name); dir != "" {
		return output.WriteReport(dir, rep)
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
