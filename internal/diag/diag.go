// Package diag collects non-fatal analysis diagnostics.
package diag

import (
	"fmt"
	"sort"
	"sync"
)

// Kind classifies a diagnostic message.
type Kind string

const (
	KindSkipped    Kind = "skipped"    // undecodable bytes passed over
	KindTruncated  Kind = "truncated"  // function bounded by the scan window
	KindOverlap    Kind = "overlap"    // later-starting function discarded
	KindUnresolved Kind = "unresolved" // call target without a name
	KindStructure  Kind = "structure"  // region tree failed validation
	KindLimit      Kind = "limit"      // a configured cap was hit
	KindHidden     Kind = "hidden"     // jump inside a block, its edge not followed
)

// Diag records a non-fatal issue encountered during analysis.
type Diag struct {
	Addr uint64 `json:"addr"`
	Kind Kind   `json:"kind"`
	Msg  string `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Addr, d.Msg)
}

// Diags accumulates diagnostics. It is safe for concurrent use so that
// per-function workers can report into one collector.
type Diags struct {
	mu    sync.Mutex
	items []Diag
}

func (d *Diags) Add(addr uint64, kind Kind, msg string) {
	d.mu.Lock()
	d.items = append(d.items, Diag{Addr: addr, Kind: kind, Msg: msg})
	d.mu.Unlock()
}

func (d *Diags) Addf(addr uint64, kind Kind, format string, args ...any) {
	d.Add(addr, kind, fmt.Sprintf(format, args...))
}

// Merge appends all of other's items.
func (d *Diags) Merge(other *Diags) {
	for _, it := range other.Items() {
		d.Add(it.Addr, it.Kind, it.Msg)
	}
}

// Items returns a copy of the diagnostics sorted by address, then kind.
func (d *Diags) Items() []Diag {
	d.mu.Lock()
	out := append([]Diag(nil), d.items...)
	d.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Addr != out[j].Addr {
			return out[i].Addr < out[j].Addr
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func (d *Diags) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Count returns the number of diagnostics of the given kind.
func (d *Diags) Count(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, it := range d.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}

// Mode controls error handling behavior.
type Mode int

const (
	ModeBestEffort Mode = iota // drop the failing function, record a diagnostic
	ModeStrict                 // first invariant violation fails the run
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "best-effort"
}

// ParseMode accepts "strict" and "best-effort" (or "" for the default).
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "best-effort", "besteffort":
		return ModeBestEffort, nil
	case "strict":
		return ModeStrict, nil
	}
	return ModeBestEffort, fmt.Errorf("diag: unknown mode %q", s)
}
