// Package pattern fingerprints the toolchain and packer of an image and
// classifies its strings. Nothing here feeds decompilation; the results go
// to the analysis report.
package pattern

import (
	"bytes"
	"math"
	"sort"
	"strings"

	"unpe/internal/binfmt"
	"unpe/internal/discover"
)

// HighEntropy is the section entropy, in bits per byte, above which code
// is considered compressed or encrypted.
const HighEntropy = 7.2

// Guess is one fingerprint that fired.
type Guess struct {
	Name     string   `json:"name"`
	Evidence []string `json:"evidence"`
}

// SectionEntropy is the Shannon entropy of one section's raw data.
type SectionEntropy struct {
	Name       string  `json:"name"`
	Entropy    float64 `json:"entropy"`
	Executable bool    `json:"executable,omitempty"`
	High       bool    `json:"high,omitempty"`
}

// Histogram counts functions per complexity bucket.
type Histogram struct {
	Simple  int `json:"simple"`
	Medium  int `json:"medium"`
	Complex int `json:"complex"`
}

// Report is the pattern engine's output.
type Report struct {
	Compilers  []Guess          `json:"compilers,omitempty"`
	Packers    []Guess          `json:"packers,omitempty"`
	Packed     bool             `json:"packed"`
	Sections   []SectionEntropy `json:"sections"`
	Complexity Histogram        `json:"complexity"`
	Families   map[string]int   `json:"prologue_families,omitempty"`
	Strings    []StringRef      `json:"strings,omitempty"`
	StringCats map[string]int   `json:"string_categories,omitempty"`
}

// Entropy returns the Shannon entropy of data in bits per byte.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	ent := 0.0
	total := float64(len(data))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		ent -= p * math.Log2(p)
	}
	return ent
}

// Analyze fingerprints img. funcs may be nil when discovery did not run.
func Analyze(img *binfmt.Image, funcs []*discover.Function) Report {
	var r Report
	for _, s := range img.Sections {
		e := SectionEntropy{
			Name:       s.Name,
			Entropy:    math.Round(Entropy(img.SectionData(s))*1000) / 1000,
			Executable: s.Executable || s.Type == binfmt.SectionCode,
		}
		e.High = e.Executable && e.Entropy > HighEntropy
		r.Sections = append(r.Sections, e)
	}

	for _, f := range funcs {
		switch f.Complexity {
		case discover.Simple:
			r.Complexity.Simple++
		case discover.Medium:
			r.Complexity.Medium++
		case discover.Complex:
			r.Complexity.Complex++
		}
		if f.Compiler != "" {
			if r.Families == nil {
				r.Families = map[string]int{}
			}
			r.Families[f.Compiler]++
		}
	}

	facts := newFacts(img)
	for _, rl := range compilerRules {
		if g, ok := facts.match(rl, r.Families); ok {
			r.Compilers = append(r.Compilers, g)
		}
	}
	for _, rl := range packerRules {
		if g, ok := facts.match(rl, nil); ok {
			r.Packers = append(r.Packers, g)
		}
	}
	if g, ok := generic(img, r.Sections); ok {
		r.Packers = append(r.Packers, g)
	}
	r.Packed = len(r.Packers) > 0
	r.Strings, r.StringCats = Signals(img)
	sortGuesses(r.Compilers)
	return r
}

type facts struct {
	data     []byte
	sections map[string]bool
	dlls     map[string]bool
}

func newFacts(img *binfmt.Image) facts {
	f := facts{data: img.Data, sections: map[string]bool{}, dlls: map[string]bool{}}
	for _, s := range img.Sections {
		f.sections[strings.ToLower(s.Name)] = true
	}
	for _, d := range img.DLLs() {
		f.dlls[strings.ToLower(d)] = true
	}
	return f
}

func (f facts) match(rl rule, families map[string]int) (Guess, bool) {
	g := Guess{Name: rl.name}
	for _, s := range rl.sections {
		if f.sections[strings.ToLower(s)] {
			g.Evidence = append(g.Evidence, "section "+s)
		}
	}
	for _, s := range rl.strings {
		if bytes.Contains(f.data, []byte(s)) {
			g.Evidence = append(g.Evidence, "string "+`"`+s+`"`)
		}
	}
	for _, d := range rl.dlls {
		if f.dlls[strings.ToLower(d)] {
			g.Evidence = append(g.Evidence, "import "+d)
		}
	}
	for _, fam := range rl.families {
		if n := families[fam]; n > 0 {
			g.Evidence = append(g.Evidence, "prologue "+fam)
		}
	}
	return g, len(g.Evidence) > 0
}

// generic flags packing without a named packer: high-entropy executable
// sections, or a writable executable section over a thin import table.
func generic(img *binfmt.Image, sections []SectionEntropy) (Guess, bool) {
	g := Guess{Name: "unknown"}
	for _, s := range sections {
		if s.High {
			g.Evidence = append(g.Evidence, "entropy "+s.Name)
		}
	}
	if len(img.Imports) < 5 {
		for _, s := range img.Sections {
			if s.Executable && s.Writable {
				g.Evidence = append(g.Evidence, "writable code "+s.Name)
			}
		}
	}
	return g, len(g.Evidence) > 0
}

// sortGuesses orders guesses by evidence count, strongest first.
func sortGuesses(gs []Guess) {
	sort.SliceStable(gs, func(i, j int) bool { return len(gs[i].Evidence) > len(gs[j].Evidence) })
}
