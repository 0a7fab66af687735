package analysis

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"unpe/internal/backend"
	"unpe/internal/disasm"
	"unpe/internal/discover"
)

// Module derives an output base name from an input path: "dir/Foo.DLL"
// becomes "foo".
func Module(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "image"
	}
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// Unit collects the decompiled functions into one backend unit.
func (r *Result) Unit(module string) *backend.Unit {
	u := &backend.Unit{Module: module, Source: r.Image.Path, Arch: r.Image.Arch}
	var kept []*Function
	for _, f := range r.Funcs {
		if !f.Decompiled() {
			continue
		}
		kept = append(kept, f)
		bf := backend.Func{
			Name: f.Name,
			Addr: f.Entry,
			Body: f.Tree.Root,
			Note: note(f),
		}
		for _, v := range f.Vars {
			if v.Param {
				bf.Params = append(bf.Params, v)
			} else {
				bf.Locals = append(bf.Locals, v)
			}
		}
		u.Funcs = append(u.Funcs, bf)
	}
	u.Imports = usedImports(r.Image, kept)
	return u
}

func note(f *Function) string {
	parts := []string{fmt.Sprintf("0x%x, %d bytes, %s", f.Entry, f.Size, f.Complexity)}
	if f.Compiler != "" {
		parts = append(parts, f.Compiler+" prologue")
	}
	if f.Truncated {
		parts = append(parts, "truncated")
	}
	if f.Tree.Gotos > 0 {
		parts = append(parts, fmt.Sprintf("%d gotos", f.Tree.Gotos))
	}
	return strings.Join(parts, ", ")
}

// FuncRecords returns one functions.jsonl record per function.
func (r *Result) FuncRecords() []disasm.FuncRecord {
	out := make([]disasm.FuncRecord, 0, len(r.Funcs))
	for _, f := range r.Funcs {
		out = append(out, Record(f.Function))
	}
	return out
}

// Record converts a discovered function to its functions.jsonl form.
func Record(f *discover.Function) disasm.FuncRecord {
	return disasm.FuncRecord{
		PC:         fmt.Sprintf("0x%x", f.Entry),
		Size:       f.Size,
		Name:       f.Name,
		Source:     string(f.Source),
		Compiler:   f.Compiler,
		Insts:      len(f.Insts),
		Blocks:     len(f.CFG.Blocks),
		Score:      f.Score,
		Complexity: string(f.Complexity),
		Truncated:  f.Truncated,
	}
}

// CallEdgeRecords returns one call_edges.jsonl record per call site,
// grouped by caller.
func (r *Result) CallEdgeRecords() []disasm.CallEdgeRecord {
	var out []disasm.CallEdgeRecord
	for _, f := range r.Funcs {
		edges := append([]disasm.CallEdge(nil), f.Calls...)
		sort.Slice(edges, func(i, j int) bool { return edges[i].FromPC < edges[j].FromPC })
		for _, e := range edges {
			rec := disasm.CallEdgeRecord{
				FromFunc: f.Name,
				FromPC:   fmt.Sprintf("0x%x", e.FromPC),
				Kind:     e.Kind,
				Target:   e.TargetName,
				Reg:      e.Reg,
				Via:      e.Via,
			}
			if rec.Target == "" && e.Kind == disasm.CallDirect {
				rec.Target = fmt.Sprintf("0x%x", e.TargetPC)
			}
			out = append(out, rec)
		}
	}
	return out
}
