package backend

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unpe/internal/binfmt"
	"unpe/internal/semantic"
	"unpe/internal/structure"
)

var (
	eax = semantic.Register{Name: "eax"}
	ecx = semantic.Register{Name: "ecx"}
)

func sampleUnit() *Unit {
	arg := semantic.Var{Name: "arg_0", Size: 4, Offset: 8, Param: true}
	local := semantic.Var{Name: "var_4", Size: 4, Offset: -4}
	body := structure.Seq{Items: []structure.Region{
		structure.Linear{Blocks: []structure.Block{{ID: 0, Addr: 0x401000, Stmts: []semantic.Statement{
			semantic.Assign{Dest: local, Src: arg},
		}}}},
		structure.Loop{
			Header: 1,
			Cond:   semantic.Binary{Op: semantic.OpLt, L: eax, R: semantic.IntConst(10, 4)},
			Body: structure.Linear{Blocks: []structure.Block{{ID: 1, Addr: 0x401006, Stmts: []semantic.Statement{
				semantic.Assign{Dest: eax, Op: semantic.OpAdd, Src: semantic.IntConst(1, 4)},
			}}}},
		},
		structure.If{
			Cond: semantic.Binary{Op: semantic.OpEq, L: eax, R: ecx},
			Then: structure.Linear{Blocks: []structure.Block{{ID: 2, Addr: 0x40100e, Stmts: []semantic.Statement{
				semantic.Call{Addr: 0x401010, Name: "Sleep", Resolved: true, Module: "KERNEL32.dll", Args: []semantic.Expr{semantic.IntConst(100, 4)}},
			}}}},
		},
		structure.Linear{Blocks: []structure.Block{{ID: 3, Addr: 0x401018, Stmts: []semantic.Statement{
			semantic.Return{Value: eax},
		}}}},
	}}
	return &Unit{
		Module:  "sample",
		Source:  "sample.exe",
		Arch:    binfmt.ArchX86,
		Funcs:   []Func{{Name: "sub_401000", Addr: 0x401000, Params: []semantic.Var{arg}, Locals: []semantic.Var{local}, Body: body}},
		Imports: []binfmt.Import{{DLL: "KERNEL32.dll", Name: "Sleep", Slot: 0x402000}},
	}
}

func render(t *testing.T, name string, u *Unit) string {
	t.Helper()
	b, err := Lookup(name)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, b.Render(u, &buf))
	return buf.String()
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"c", "cpp", "go", "python"}, Names())

	b, err := Lookup("C")
	require.NoError(t, err)
	assert.Equal(t, "c", b.Ext())

	py, err := Lookup("python")
	require.NoError(t, err)
	assert.Equal(t, "py", py.Ext())

	_, err = Lookup("rust")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestRender_C(t *testing.T) {
	want := `/*
 * Decompiled from sample.exe (x86) by unpe. Pseudocode, not meant to compile.
 */

#include <stdint.h>

// KERNEL32.dll
extern int32_t Sleep();

int32_t sub_401000(int32_t arg_0);

int32_t sub_401000(int32_t arg_0) {
    int32_t var_4, eax, ecx;

    var_4 = arg_0;
    do {
        eax += 1;
    } while (eax < 10);
    if (eax == ecx) {
        Sleep(100);  // KERNEL32.dll
    }
    return eax;
}
`
	assert.Equal(t, want, render(t, "c", sampleUnit()))
}

func TestRender_Python(t *testing.T) {
	want := `"""Decompiled from sample.exe (x86) by unpe. Pseudocode, not meant to compile."""

# KERNEL32.dll: Sleep


def sub_401000(arg_0):
    var_4 = arg_0
    while True:
        eax += 1
        if eax >= 10:
            break
    if eax == ecx:
        Sleep(100)  # KERNEL32.dll
    return eax
`
	assert.Equal(t, want, render(t, "python", sampleUnit()))
}

func TestRender_Go(t *testing.T) {
	out := render(t, "go", sampleUnit())
	assert.Contains(t, out, "package sample\n")
	assert.Contains(t, out, "// \tKERNEL32.dll: Sleep\n")
	assert.Contains(t, out, "func sub_401000(arg_0 int32) int32 {\n\tvar var_4, eax, ecx int32\n")
	assert.Contains(t, out, "\tfor {\n\t\teax += 1\n\t\tif eax >= 10 {\n\t\t\tbreak\n\t\t}\n\t}\n")
	assert.NotContains(t, out, ";")
}

func TestRender_CPP(t *testing.T) {
	out := render(t, "cpp", sampleUnit())
	assert.Contains(t, out, "#include <cstdint>\n")
	assert.Contains(t, out, "extern std::int32_t Sleep();\n")
	assert.Contains(t, out, "namespace sample {\n")
	assert.Contains(t, out, "std::int32_t sub_401000(std::int32_t arg_0) {\n")
	assert.Contains(t, out, "}  // namespace sample\n")
}

func TestRender_Idempotent(t *testing.T) {
	u := sampleUnit()
	for _, name := range Names() {
		first := render(t, name, u)
		second := render(t, name, u)
		assert.NotEmpty(t, first, name)
		assert.Equal(t, first, second, name)
	}
}

func TestRender_Gotos(t *testing.T) {
	u := sampleUnit()
	u.Funcs = []Func{{
		Name: "sub_401000",
		Body: structure.Seq{Items: []structure.Region{
			structure.Linear{Blocks: []structure.Block{{ID: 0, Stmts: []semantic.Statement{
				semantic.Goto{Label: "loc_401009", Target: 0x401009, Cond: semantic.Binary{Op: semantic.OpNe, L: eax, R: semantic.Zero}},
			}}}},
			structure.Linear{Blocks: []structure.Block{{ID: 1, Label: "loc_401009"}}},
		}},
	}}

	c := render(t, "c", u)
	assert.Contains(t, c, "    if (eax != 0) {\n        goto loc_401009;\n    }\n")
	assert.Contains(t, c, "loc_401009: ;\n}\n")

	py := render(t, "python", u)
	assert.Contains(t, py, "    if eax != 0:\n        # goto loc_401009\n        pass\n")
	assert.Contains(t, py, "    # loc_401009:\n")
	assert.Contains(t, py, "def sub_401000():\n")
}

func TestRender_EmptyBody(t *testing.T) {
	u := &Unit{Module: "m", Arch: binfmt.ArchX8664, Funcs: []Func{{Name: "f", Body: structure.Linear{}}}}
	assert.Contains(t, render(t, "python", u), "def f():\n    pass\n")
	assert.Contains(t, render(t, "c", u), "int64_t f(void) {\n}\n")
}

// continueUnit is `do { eax++; if (eax != 5) jump to head } while (ecx < 10)`
// as the structurer builds it: the jump back to the head is a continue
// that must not run the latch test.
func continueUnit() *Unit {
	return &Unit{
		Module: "m",
		Arch:   binfmt.ArchX86,
		Funcs: []Func{{Name: "f", Body: structure.Loop{
			Header: 0,
			Cond:   semantic.Binary{Op: semantic.OpLt, L: ecx, R: semantic.IntConst(10, 4)},
			Body: structure.Seq{Items: []structure.Region{
				structure.Linear{Blocks: []structure.Block{{ID: 0, Stmts: []semantic.Statement{
					semantic.Assign{Dest: eax, Op: semantic.OpAdd, Src: semantic.IntConst(1, 4)},
				}}}},
				structure.If{
					Cond: semantic.Binary{Op: semantic.OpNe, L: eax, R: semantic.IntConst(5, 4)},
					Then: structure.Linear{Blocks: []structure.Block{{ID: 1, Stmts: []semantic.Statement{
						semantic.Goto{Kind: semantic.JumpContinue, Target: 0x401003},
					}}}},
				},
			}},
		}}},
	}
}

func TestRender_ContinueToLoopHead(t *testing.T) {
	want := map[string]string{
		"c":      "    for (;;) {\n        eax += 1;\n        if (eax != 5) {\n            continue;\n        }\n        if (ecx >= 10) {\n            break;\n        }\n    }\n",
		"cpp":    "    for (;;) {\n        eax += 1;\n        if (eax != 5) {\n            continue;\n        }\n        if (ecx >= 10) {\n            break;\n        }\n    }\n",
		"go":     "\tfor {\n\t\teax += 1\n\t\tif eax != 5 {\n\t\t\tcontinue\n\t\t}\n\t\tif ecx >= 10 {\n\t\t\tbreak\n\t\t}\n\t}\n",
		"python": "    while True:\n        eax += 1\n        if eax != 5:\n            continue\n        if ecx >= 10:\n            break\n",
	}
	for _, name := range Names() {
		out := render(t, name, continueUnit())
		assert.Contains(t, out, want[name], name)
		assert.NotContains(t, out, "do {", name)
	}
}

func TestRender_DoWhileWithNestedContinue(t *testing.T) {
	// A continue owned by an inner loop leaves the outer do/while intact.
	inner := continueUnit().Funcs[0].Body
	u := &Unit{Module: "m", Arch: binfmt.ArchX86, Funcs: []Func{{Name: "f", Body: structure.Loop{
		Header: 0,
		Cond:   semantic.Binary{Op: semantic.OpNe, L: eax, R: semantic.Zero},
		Body:   inner,
	}}}}
	out := render(t, "c", u)
	assert.Contains(t, out, "    do {\n        for (;;) {\n")
	assert.Contains(t, out, "    } while (eax != 0);\n")
}
