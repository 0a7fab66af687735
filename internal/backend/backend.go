// Package backend renders structured functions as source text in a target
// language. Backends see only regions and statements; adding a target never
// touches decoding, CFG building or structuring.
package backend

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"unpe/internal/binfmt"
	"unpe/internal/semantic"
	"unpe/internal/structure"
)

// ErrUnknownTarget is returned by Lookup for an unregistered name.
var ErrUnknownTarget = errors.New("backend: unknown target")

// Backend renders one Unit in a target syntax.
type Backend interface {
	// Name is the target name used on the command line ("c", "go", ...).
	Name() string

	// Ext is the file extension of rendered output, without the dot.
	Ext() string

	// Render writes u to w. Rendering the same Unit twice produces
	// identical bytes.
	Render(u *Unit, w io.Writer) error
}

// Func is one structured function.
type Func struct {
	Name   string
	Addr   uint64
	Params []semantic.Var // ascending stack offset
	Locals []semantic.Var
	Body   structure.Region
	Note   string // one-line summary rendered above the function, optional
}

// Unit is the content of one output file.
type Unit struct {
	Module  string // file base name of the input, e.g. "sample"
	Source  string // input path, for the header comment
	Arch    binfmt.Arch
	Funcs   []Func
	Imports []binfmt.Import // imports referenced by Funcs
}

var (
	mu       sync.RWMutex
	registry = map[string]Backend{}
)

// Register adds b to the registry, replacing any backend of the same name.
func Register(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	registry[b.Name()] = b
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Backend, error) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownTarget, name, strings.Join(namesLocked(), ", "))
	}
	return b, nil
}

// Names lists registered targets in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(NewC())
	Register(NewCPP())
	Register(NewGo())
	Register(NewPython())
}

// importGroups groups imports by DLL in first-seen order, deduplicating
// names within a DLL.
func importGroups(imps []binfmt.Import) []importGroup {
	var groups []importGroup
	index := map[string]int{}
	seen := map[string]bool{}
	for _, imp := range imps {
		name := imp.Label()
		if seen[imp.DLL+"!"+name] {
			continue
		}
		seen[imp.DLL+"!"+name] = true
		i, ok := index[imp.DLL]
		if !ok {
			i = len(groups)
			index[imp.DLL] = i
			groups = append(groups, importGroup{DLL: imp.DLL})
		}
		groups[i].Names = append(groups[i].Names, name)
	}
	return groups
}

type importGroup struct {
	DLL   string
	Names []string
}
