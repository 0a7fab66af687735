package backend

import (
	"fmt"
	"io"
	"strings"
)

var cKeywords = words(`auto break case char const continue default do double else enum
	extern float for goto if inline int long register restrict return short signed sizeof
	static struct switch typedef union unsigned void volatile while bool true false`)

var cppKeywords = words(`alignas alignof and asm catch class constexpr delete explicit
	export friend mutable namespace new noexcept not nullptr operator or private protected
	public template this throw try typeid typename using virtual xor`)

func words(s string) map[string]bool {
	m := map[string]bool{}
	for _, w := range strings.Fields(s) {
		m[w] = true
	}
	return m
}

func cType(prefix string) func(int, bool) string {
	return func(size int, signed bool) string {
		u := "u"
		if signed {
			u = ""
		}
		return fmt.Sprintf("%s%sint%d_t", prefix, u, size*8)
	}
}

func cSyntax(cpp bool) *syntax {
	prefix, reserved := "", cKeywords
	if cpp {
		prefix = "std::"
		reserved = map[string]bool{}
		for _, m := range []map[string]bool{cKeywords, cppKeywords} {
			for w := range m {
				reserved[w] = true
			}
		}
	}
	typeName := cType(prefix)
	s := &syntax{
		indent:    "    ",
		comment:   "// ",
		end:       ";",
		parenCond: true,
		and:       "&&",
		or:        "||",
		not:       "!",
		bitNot:    "~",
		truth:     "1",
		forever:   "for (;;)",
		doWhile:   true,
		gotos:     true,
		div:       "/",
		typeName:  typeName,
		cast: func(x string, size int, signed bool) string {
			return "(" + typeName(size, signed) + ")" + x
		},
		deref: func(addr string, size int) string {
			return "*(" + typeName(size, true) + " *)(" + addr + ")"
		},
		addrOf: func(x string) string { return "&" + x },
		signature: func(name string, params []string, ret string) string {
			if len(params) == 0 {
				return ret + " " + name + "(void)"
			}
			return ret + " " + name + "(" + strings.Join(params, ", ") + ")"
		},
		param:    func(name, typ string) string { return typ + " " + name },
		declare:  func(names []string, typ string) string { return typ + " " + strings.Join(names, ", ") + ";" },
		reserved: reserved,
	}
	if cpp {
		s.truth = "true"
		s.deref = func(addr string, size int) string {
			return "*reinterpret_cast<" + typeName(size, true) + " *>(" + addr + ")"
		}
		s.cast = func(x string, size int, signed bool) string {
			return "static_cast<" + typeName(size, signed) + ">(" + x + ")"
		}
	}
	return s
}

// C renders C99 pseudocode.
type C struct{ syn *syntax }

// NewC returns the C backend.
func NewC() *C { return &C{syn: cSyntax(false)} }

func (*C) Name() string { return "c" }
func (*C) Ext() string  { return "c" }

func (c *C) Render(u *Unit, w io.Writer) error {
	p := newPrinter(c.syn, u.Arch)
	p.b.WriteString("/*\n * " + header(u) + "\n */\n\n")
	p.b.WriteString("#include <stdint.h>\n\n")
	externs(p, u)
	prototypes(p, u)
	for _, f := range u.Funcs {
		p.blank()
		p.function(f)
	}
	_, err := io.WriteString(w, p.String())
	return err
}

// CPP renders C++ pseudocode inside a namespace named after the module.
type CPP struct{ syn *syntax }

// NewCPP returns the C++ backend.
func NewCPP() *CPP { return &CPP{syn: cSyntax(true)} }

func (*CPP) Name() string { return "cpp" }
func (*CPP) Ext() string  { return "cpp" }

func (c *CPP) Render(u *Unit, w io.Writer) error {
	p := newPrinter(c.syn, u.Arch)
	ns := p.ident(moduleName(u))
	p.note(header(u))
	p.blank()
	p.b.WriteString("#include <cstdint>\n\n")
	externs(p, u)
	p.b.WriteString("namespace " + ns + " {\n\n")
	prototypes(p, u)
	for _, f := range u.Funcs {
		p.blank()
		p.function(f)
	}
	p.b.WriteString("\n}  // namespace " + ns + "\n")
	_, err := io.WriteString(w, p.String())
	return err
}

// externs declares the imports the unit calls, grouped by DLL.
func externs(p *printer, u *Unit) {
	groups := importGroups(u.Imports)
	for _, g := range groups {
		p.note(g.DLL)
		for _, n := range g.Names {
			p.line("extern " + p.typeOf(p.ptr) + " " + p.ident(n) + "();")
		}
	}
	if len(groups) > 0 {
		p.blank()
	}
}

func prototypes(p *printer, u *Unit) {
	for _, f := range u.Funcs {
		params := make([]string, len(f.Params))
		for i, v := range f.Params {
			params[i] = p.syn.param(v.Name, p.typeOf(v.Size))
		}
		p.line(p.syn.signature(p.ident(f.Name), params, p.typeOf(p.ptr)) + ";")
	}
}

func header(u *Unit) string {
	src := u.Source
	if src == "" {
		src = moduleName(u)
	}
	return fmt.Sprintf("Decompiled from %s (%s) by unpe. Pseudocode, not meant to compile.", src, u.Arch)
}

func moduleName(u *Unit) string {
	if u.Module == "" {
		return "module"
	}
	return u.Module
}
