package backend

import (
	"fmt"
	"io"
	"strings"
)

var pyKeywords = words(`False None True and as assert async await break class continue
	def del elif else except finally for from global if import in is lambda nonlocal not
	or pass raise return try while with yield`)

// Python renders Python pseudocode. Integers are unbounded, so widths only
// show up as masks and sign extensions; label jumps become comments.
type Python struct{ syn *syntax }

// NewPython returns the Python backend.
func NewPython() *Python {
	return &Python{syn: &syntax{
		indent:   "    ",
		comment:  "# ",
		colon:    true,
		and:      "and",
		or:       "or",
		not:      "not ",
		bitNot:   "~",
		truth:    "True",
		forever:  "while True",
		div:      "//",
		typeName: func(int, bool) string { return "" },
		cast: func(x string, size int, signed bool) string {
			if signed {
				return fmt.Sprintf("sext(%s, %d)", x, size*8)
			}
			return fmt.Sprintf("(%s & 0x%x)", x, uint64(1)<<(size*8)-1)
		},
		deref: func(addr string, size int) string {
			return fmt.Sprintf("mem%d[%s]", size*8, addr)
		},
		addrOf: func(x string) string { return "addressof(" + x + ")" },
		signature: func(name string, params []string, _ string) string {
			return "def " + name + "(" + strings.Join(params, ", ") + ")"
		},
		param:    func(name, _ string) string { return name },
		reserved: pyKeywords,
	}}
}

func (*Python) Name() string { return "python" }
func (*Python) Ext() string  { return "py" }

func (py *Python) Render(u *Unit, w io.Writer) error {
	p := newPrinter(py.syn, u.Arch)
	p.line(`"""` + header(u) + `"""`)
	if groups := importGroups(u.Imports); len(groups) > 0 {
		p.blank()
		for _, g := range groups {
			p.note(g.DLL + ": " + strings.Join(g.Names, ", "))
		}
	}
	for _, f := range u.Funcs {
		p.blank()
		p.blank()
		p.function(f)
	}
	_, err := io.WriteString(w, p.String())
	return err
}
