package analysis

import (
	"fmt"

	"github.com/oklog/ulid/v2"

	"unpe/internal/binfmt"
	"unpe/internal/diag"
	"unpe/internal/pattern"
)

// Report is the JSON summary of a run.
type Report struct {
	RunID       string           `json:"run_id"`
	Input       string           `json:"input,omitempty"`
	Arch        string           `json:"arch"`
	ImageBase   string           `json:"image_base"`
	EntryPoint  string           `json:"entry_point,omitempty"`
	Sections    []binfmt.Section `json:"sections"`
	DLLs        []string         `json:"dlls,omitempty"`
	Imports     int              `json:"imports"`
	Exports     int              `json:"exports"`
	Functions   int              `json:"functions"`
	Decompiled  int              `json:"decompiled"`
	Gotos       int              `json:"gotos"`
	Patterns    pattern.Report   `json:"patterns"`
	Diagnostics []diag.Diag      `json:"diagnostics,omitempty"`
	DiagCounts  map[string]int   `json:"diagnostic_counts,omitempty"`
}

// Report summarizes r. Each call gets a fresh run id.
func (r *Result) Report() Report {
	img := r.Image
	rep := Report{
		RunID:     ulid.Make().String(),
		Input:     img.Path,
		Arch:      img.Arch.String(),
		ImageBase: fmt.Sprintf("0x%x", img.ImageBase),
		Sections:  img.Sections,
		DLLs:      img.DLLs(),
		Imports:   len(img.Imports),
		Exports:   len(img.Exports),
		Functions: len(r.Funcs),
		Patterns:  pattern.Analyze(img, r.Discovered()),
	}
	if img.EntryPoint != 0 {
		rep.EntryPoint = fmt.Sprintf("0x%x", img.EntryPoint)
	}
	for _, f := range r.Funcs {
		if f.Decompiled() {
			rep.Decompiled++
			rep.Gotos += f.Tree.Gotos
		}
	}
	rep.Diagnostics = r.Diags.Items()
	for _, d := range rep.Diagnostics {
		if rep.DiagCounts == nil {
			rep.DiagCounts = map[string]int{}
		}
		rep.DiagCounts[string(d.Kind)]++
	}
	return rep
}
