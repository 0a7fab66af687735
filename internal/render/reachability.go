package render

import (
	"sort"

	"unpe/internal/disasm"
)

// FindEntryPoints returns the exported functions, the image entry point and
// every function with no incoming direct call, sorted.
func FindEntryPoints(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord) []string {
	called := make(map[string]bool)
	for _, e := range edges {
		if e.Kind == disasm.CallDirect && e.Target != "" {
			called[e.Target] = true
		}
	}
	var entries []string
	for _, f := range funcs {
		if f.Source == "entry" || f.Source == "export" || !called[f.Name] {
			entries = append(entries, f.Name)
		}
	}
	sort.Strings(entries)
	return entries
}

// ReachableSet returns every function reachable from roots over direct
// call edges, roots included. Import and indirect edges never reach a
// discovered function and are ignored.
func ReachableSet(roots []string, edges []disasm.CallEdgeRecord) map[string]bool {
	callees := make(map[string][]string)
	for _, e := range edges {
		if e.Kind == disasm.CallDirect && e.Target != "" {
			callees[e.FromFunc] = append(callees[e.FromFunc], e.Target)
		}
	}

	seen := make(map[string]bool, len(roots))
	work := append([]string(nil), roots...)
	for len(work) > 0 {
		fn := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[fn] {
			continue
		}
		seen[fn] = true
		work = append(work, callees[fn]...)
	}
	return seen
}
