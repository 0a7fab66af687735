// Package discover locates functions in the code sections of an image.
//
// Three sources feed the candidate set: a byte-by-byte prologue scan, the
// export table and the image entry point. Candidates are bounded by a
// forward decode that stops at the first return, merged by address and
// made non-overlapping.
package discover

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"unpe/internal/binfmt"
	"unpe/internal/diag"
	"unpe/internal/disasm"
)

// DefaultWindow bounds the forward epilogue search.
const DefaultWindow = 4096

// Source says where a function candidate came from.
type Source string

const (
	SourcePrologue Source = "prologue"
	SourceExport   Source = "export"
	SourceEntry    Source = "entry"
)

// EntryName names the image entry point when no export does.
const EntryName = "start"

// Options controls discovery.
type Options struct {
	Window       int         // epilogue search window in bytes; 0 = DefaultWindow
	Partitions   int         // parallel scan partitions per section; 0 = GOMAXPROCS
	Workers      int         // bounding/CFG workers; 0 = GOMAXPROCS
	Extra        []Signature // appended to DefaultPrologues
	MaxFunctions int         // 0 = unlimited
}

func (o Options) window() int {
	if o.Window > 0 {
		return o.Window
	}
	return DefaultWindow
}

func orProcs(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// Function is one discovered function. It exclusively owns its CFG.
type Function struct {
	Entry      uint64
	Name       string
	Synthetic  bool // Name is sub_<hex>
	Source     Source
	Compiler   string // prologue family guess, "" if no prologue matched
	Epilogue   string // epilogue kind that bounded the function, "" if truncated
	Size       int
	Insts      []disasm.Instruction
	CFG        disasm.FuncCFG
	Score      int
	Complexity Complexity
	Truncated  bool // bounded by the window or section end, not a return
}

// End returns the address one past the function's last byte.
func (f *Function) End() uint64 { return f.Entry + uint64(f.Size) }

// SyntheticName returns the placeholder name for an address.
func SyntheticName(addr uint64) string { return fmt.Sprintf("sub_%x", addr) }

type candidate struct {
	addr      uint64
	name      string
	synthetic bool
	source    Source
	family    string
}

// codeRegion is a code section's bytes and their VA.
type codeRegion struct {
	name string
	base uint64
	data []byte
}

func regions(img *binfmt.Image) []codeRegion {
	var out []codeRegion
	for _, s := range img.CodeSections() {
		data := img.SectionData(s)
		if s.VirtualSize > 0 && int(s.VirtualSize) < len(data) {
			data = data[:s.VirtualSize]
		}
		if len(data) == 0 {
			continue
		}
		out = append(out, codeRegion{name: s.Name, base: img.SectionVA(s), data: data})
	}
	return out
}

func regionOf(rs []codeRegion, addr uint64) (codeRegion, bool) {
	for _, r := range rs {
		if addr >= r.base && addr < r.base+uint64(len(r.data)) {
			return r, true
		}
	}
	return codeRegion{}, false
}

// Discover finds, bounds and scores the functions of img. Functions are
// returned sorted by entry address and never overlap. Non-fatal issues are
// recorded in diags.
func Discover(ctx context.Context, img *binfmt.Image, opts Options, diags *diag.Diags) ([]*Function, error) {
	if !img.Arch.Valid() {
		return nil, fmt.Errorf("discover: %w", binfmt.ErrUnsupportedArch)
	}
	if diags == nil {
		diags = &diag.Diags{}
	}
	rs := regions(img)
	tbl := newTable(img.Arch, append(append([]Signature(nil), DefaultPrologues...), opts.Extra...))

	var cands []candidate
	for _, r := range rs {
		hits, err := scanRegion(ctx, r, tbl, orProcs(opts.Partitions))
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			addr := r.base + uint64(h.off)
			cands = append(cands, candidate{addr: addr, name: SyntheticName(addr), synthetic: true, source: SourcePrologue, family: h.sig.Family})
		}
	}
	for _, e := range img.Exports {
		if _, ok := regionOf(rs, e.Address); !ok {
			continue
		}
		cands = append(cands, candidate{addr: e.Address, name: e.Name, source: SourceExport})
	}
	if img.EntryPoint != 0 {
		if _, ok := regionOf(rs, img.EntryPoint); ok {
			cands = append(cands, candidate{addr: img.EntryPoint, name: EntryName, source: SourceEntry})
		}
	}

	merged := mergeCandidates(cands)
	funcs, err := materialize(ctx, img.Arch, rs, merged, opts, diags)
	if err != nil {
		return nil, err
	}
	funcs = dropOverlaps(funcs, diags)

	if opts.MaxFunctions > 0 && len(funcs) > opts.MaxFunctions {
		diags.Addf(funcs[opts.MaxFunctions].Entry, diag.KindLimit, "kept %d of %d functions", opts.MaxFunctions, len(funcs))
		funcs = funcs[:opts.MaxFunctions]
	}
	return funcs, nil
}

// mergeCandidates collapses candidates sharing an address. The first
// non-synthetic name seen wins; the compiler family is taken from any
// prologue match at that address.
func mergeCandidates(cands []candidate) []candidate {
	byAddr := make(map[uint64]int, len(cands))
	var out []candidate
	for _, c := range cands {
		i, ok := byAddr[c.addr]
		if !ok {
			byAddr[c.addr] = len(out)
			out = append(out, c)
			continue
		}
		cur := &out[i]
		if cur.synthetic && !c.synthetic {
			cur.name, cur.synthetic, cur.source = c.name, false, c.source
		}
		if cur.family == "" {
			cur.family = c.family
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	return out
}

// materialize bounds each candidate and builds its CFG, in parallel. Each
// worker writes only its own slot.
func materialize(ctx context.Context, arch binfmt.Arch, rs []codeRegion, cands []candidate, opts Options, diags *diag.Diags) ([]*Function, error) {
	funcs := make([]*Function, len(cands))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(orProcs(opts.Workers))
	for i, c := range cands {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, ok := regionOf(rs, c.addr)
			if !ok {
				return nil
			}
			b := bound(r.data, int(c.addr-r.base), r.base, arch, opts.window())
			if len(b.insts) == 0 {
				return nil
			}
			f := &Function{
				Entry:     c.addr,
				Name:      c.name,
				Synthetic: c.synthetic,
				Source:    c.source,
				Compiler:  c.family,
				Epilogue:  b.epilogue,
				Size:      b.size,
				Insts:     b.insts,
				Truncated: b.truncated,
			}
			f.CFG = disasm.BuildCFG(f.Name, f.Insts)
			f.Score = Score(f.Insts)
			f.Complexity = Classify(f.Score)
			for _, off := range b.skipped {
				diags.Addf(off, diag.KindSkipped, "%s: undecodable byte", f.Name)
			}
			if f.Truncated {
				diags.Addf(f.Entry, diag.KindTruncated, "%s: no return within %d bytes", f.Name, b.size)
			}
			funcs[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := funcs[:0]
	for _, f := range funcs {
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// dropOverlaps keeps functions in address order, discarding any function
// that starts inside the previously kept one.
func dropOverlaps(funcs []*Function, diags *diag.Diags) []*Function {
	var out []*Function
	for _, f := range funcs {
		if n := len(out); n > 0 && f.Entry < out[n-1].End() {
			diags.Addf(f.Entry, diag.KindOverlap, "%s discarded: inside %s", f.Name, out[n-1].Name)
			continue
		}
		out = append(out, f)
	}
	return out
}
