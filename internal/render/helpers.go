// Package render produces Graphviz DOT from analysis records.
package render

import (
	"fmt"
	"strings"
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// dotEscape escapes s for a DOT HTML label.
func dotEscape(s string) string { return htmlEscaper.Replace(s) }

// dotID maps a symbol to a DOT identifier. Bytes outside [A-Za-z0-9_]
// become _XXXX, so "KERNEL32.dll" gives n_KERNEL32_002edll.
func dotID(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 2)
	b.WriteString("n_")
	for _, c := range name {
		switch {
		case c == '_', c >= '0' && c <= '9', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
			b.WriteRune(c)
		default:
			fmt.Fprintf(&b, "_%04x", c)
		}
	}
	return b.String()
}

// truncLabel cuts s to at most n runes, ending in "..." when shortened.
func truncLabel(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
