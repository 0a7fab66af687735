package backend

import (
	"fmt"
	"io"
	"strings"
)

var goKeywords = words(`break case chan const continue default defer else fallthrough
	for func go goto if import interface map package range return select struct switch
	type var true false nil`)

func goType(size int, signed bool) string {
	if signed {
		return fmt.Sprintf("int%d", size*8)
	}
	return fmt.Sprintf("uint%d", size*8)
}

// Go renders Go-flavored pseudocode. Memory is spelled as the arrays
// mem8..mem64 indexed by address.
type Go struct{ syn *syntax }

// NewGo returns the Go backend.
func NewGo() *Go {
	return &Go{syn: &syntax{
		indent:   "\t",
		comment:  "// ",
		and:      "&&",
		or:       "||",
		not:      "!",
		bitNot:   "^",
		truth:    "true",
		forever:  "for",
		gotos:    true,
		div:      "/",
		typeName: goType,
		cast: func(x string, size int, signed bool) string {
			if strings.HasPrefix(x, "(") && strings.HasSuffix(x, ")") {
				x = x[1 : len(x)-1]
			}
			return goType(size, signed) + "(" + x + ")"
		},
		deref: func(addr string, size int) string {
			return fmt.Sprintf("mem%d[%s]", size*8, addr)
		},
		addrOf: func(x string) string { return "&" + x },
		signature: func(name string, params []string, ret string) string {
			return "func " + name + "(" + strings.Join(params, ", ") + ") " + ret
		},
		param:    func(name, typ string) string { return name + " " + typ },
		declare:  func(names []string, typ string) string { return "var " + strings.Join(names, ", ") + " " + typ },
		reserved: goKeywords,
	}}
}

func (*Go) Name() string { return "go" }
func (*Go) Ext() string  { return "go" }

func (g *Go) Render(u *Unit, w io.Writer) error {
	p := newPrinter(g.syn, u.Arch)
	p.note(header(u))
	p.blank()
	p.line("package " + strings.ToLower(p.ident(moduleName(u))))
	if groups := importGroups(u.Imports); len(groups) > 0 {
		p.blank()
		p.note("Imports:")
		for _, gr := range groups {
			p.note("\t" + gr.DLL + ": " + strings.Join(gr.Names, ", "))
		}
	}
	for _, f := range u.Funcs {
		p.blank()
		p.function(f)
	}
	_, err := io.WriteString(w, p.String())
	return err
}
