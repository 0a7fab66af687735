package render

import (
	"fmt"
	"sort"
	"strings"

	"unpe/internal/disasm"
)

// Provenance categories of a call edge.
const (
	ProvDirect     = "direct"
	ProvImport     = "import"
	ProvIndirect   = "indirect"
	ProvUnresolved = "unresolved"
)

// ClassifyEdgeProv returns the provenance category for a call edge.
func ClassifyEdgeProv(e disasm.CallEdgeRecord) string {
	switch e.Kind {
	case disasm.CallDirect:
		return ProvDirect
	case disasm.CallImport, disasm.CallThunk:
		return ProvImport
	}
	if e.Target != "" {
		return ProvIndirect
	}
	return ProvUnresolved
}

func edgeColor(prov string, t Theme) string {
	switch prov {
	case ProvImport:
		return t.EdgeImport
	case ProvIndirect:
		return t.EdgeIndirect
	case ProvUnresolved:
		return t.EdgeUnresolved
	}
	return t.EdgeDirect
}

func edgeStyle(prov string) string {
	switch prov {
	case ProvIndirect:
		return "dotted"
	case ProvUnresolved:
		return "dashed"
	}
	return "solid"
}

// edgeTarget names the callee node of e.
func edgeTarget(e disasm.CallEdgeRecord) string {
	if e.Target != "" {
		return e.Target
	}
	if e.Reg != "" {
		return "call " + e.Reg
	}
	return "indirect"
}

// importDLL returns the DLL of an import edge, "" otherwise.
func importDLL(e disasm.CallEdgeRecord) string {
	switch {
	case e.Kind == disasm.CallImport || e.Kind == disasm.CallThunk:
		return e.Via
	case e.Kind == disasm.CallIndirect && strings.Contains(e.Via, "!"):
		return e.Via[:strings.Index(e.Via, "!")]
	}
	return ""
}

type edgeKey struct {
	from, to, prov string
}

// CallgraphDOT renders a callgraph from functions and call edges as DOT.
// Imported callees are grouped in one cluster per DLL; other external
// targets are plaintext nodes. maxNodes limits the number of function nodes
// rendered (0 = all). If keep is non-nil only functions in it are rendered.
// Output is deterministic.
func CallgraphDOT(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord, title string, t Theme, maxNodes int, keep map[string]bool) string {
	var shown []disasm.FuncRecord
	for _, f := range funcs {
		if keep == nil || keep[f.Name] {
			shown = append(shown, f)
		}
	}
	if maxNodes > 0 && len(shown) > maxNodes {
		shown = shown[:maxNodes]
	}
	funcSet := make(map[string]bool, len(shown))
	for _, f := range shown {
		funcSet[f.Name] = true
	}

	counts := make(map[edgeKey]int)
	dllOf := make(map[string]string)
	for _, e := range edges {
		if !funcSet[e.FromFunc] {
			continue
		}
		to := edgeTarget(e)
		prov := ClassifyEdgeProv(e)
		counts[edgeKey{e.FromFunc, to, prov}]++
		if dll := importDLL(e); dll != "" && !funcSet[to] {
			dllOf[to] = dll
		}
	}
	keys := make([]edgeKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.from != b.from {
			return a.from < b.from
		}
		if a.to != b.to {
			return a.to < b.to
		}
		return a.prov < b.prov
	})

	var b strings.Builder
	b.WriteString("digraph callgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  compound=true;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee];\n")
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	for _, f := range shown {
		label := truncLabel(f.Name, 60)
		switch {
		case f.Source == "entry" || f.Source == "export":
			fmt.Fprintf(&b, "  %s [label=%q, penwidth=1.5, color=%q];\n", dotID(f.Name), label, t.EntryBorder)
		case strings.HasPrefix(f.Name, "sub_"):
			fmt.Fprintf(&b, "  %s [label=%q, fillcolor=%q];\n", dotID(f.Name), label, t.StubFill)
		default:
			fmt.Fprintf(&b, "  %s [label=%q];\n", dotID(f.Name), label)
		}
	}
	b.WriteByte('\n')

	byDLL := make(map[string][]string)
	var loose []string
	seen := make(map[string]bool)
	for _, k := range keys {
		if funcSet[k.to] || seen[k.to] {
			continue
		}
		seen[k.to] = true
		if dll := dllOf[k.to]; dll != "" {
			byDLL[dll] = append(byDLL[dll], k.to)
		} else {
			loose = append(loose, k.to)
		}
	}
	dlls := make([]string, 0, len(byDLL))
	for d := range byDLL {
		dlls = append(dlls, d)
	}
	sort.Strings(dlls)
	for _, dll := range dlls {
		fmt.Fprintf(&b, "  subgraph %s {\n", "cluster_"+dotID(dll))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n", t.ClusterLabel, dotEscape(dll))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range byDLL[dll] {
			fmt.Fprintf(&b, "    %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
				dotID(name), truncLabel(name, 50), t.ExternalText)
		}
		b.WriteString("  }\n")
	}
	for _, name := range loose {
		fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
			dotID(name), truncLabel(name, 50), t.ExternalText)
	}
	b.WriteByte('\n')

	for _, k := range keys {
		color := edgeColor(k.prov, t)
		attrs := fmt.Sprintf("color=%q, style=%q", color, edgeStyle(k.prov))
		if n := counts[k]; n > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(n)*0.1)
			if n > 2 {
				attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%dx</font>>", color, n)
			}
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

// CallgraphStats summarizes call edges.
type CallgraphStats struct {
	TotalFunctions int            `json:"total_functions"`
	TotalEdges     int            `json:"total_edges"`
	ProvCounts     map[string]int `json:"provenance"`
	TopCallers     []NameCount    `json:"top_callers"` // sorted desc
	TopCallees     []NameCount    `json:"top_callees"` // sorted desc
	TopDLLs        []NameCount    `json:"top_dlls"`    // by import call sites
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ComputeStats computes callgraph statistics from records.
func ComputeStats(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord) CallgraphStats {
	stats := CallgraphStats{
		TotalFunctions: len(funcs),
		TotalEdges:     len(edges),
		ProvCounts:     make(map[string]int),
	}
	callers := make(map[string]int)
	callees := make(map[string]int)
	dlls := make(map[string]int)
	for _, e := range edges {
		stats.ProvCounts[ClassifyEdgeProv(e)]++
		callers[e.FromFunc]++
		if e.Target != "" {
			callees[e.Target]++
		}
		if dll := importDLL(e); dll != "" {
			dlls[dll]++
		}
	}
	stats.TopCallers = topNMap(callers, 20)
	stats.TopCallees = topNMap(callees, 20)
	stats.TopDLLs = topNMap(dlls, 20)
	return stats
}

// topNMap returns the top n entries of m by count, ties by name.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
