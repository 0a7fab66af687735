package render

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unpe/internal/binfmt"
	"unpe/internal/disasm"
)

func TestCFGDOT(t *testing.T) {
	// test eax, eax; je +1; inc eax; ret
	code, err := hex.DecodeString("85c0740140c3")
	require.NoError(t, err)
	insts, err := disasm.Disassemble(code, disasm.Options{BaseAddr: 0x401000, Arch: binfmt.ArchX86})
	require.NoError(t, err)
	cfg := disasm.BuildCFG("sub_401000", insts)
	require.Len(t, cfg.Blocks, 3)

	marks := func(in disasm.Instruction) string {
		if in.IsRet() {
			return "leave <here>"
		}
		return ""
	}
	dot := CFGDOT(cfg, NASA, marks)
	assert.True(t, strings.HasPrefix(dot, "digraph cfg {\n"))
	assert.Contains(t, dot, "bb0 [label=<0x401000: ")
	assert.Contains(t, dot, "; leave &lt;here&gt;")
	assert.Contains(t, dot, `bb0 -> bb2 [color="#0B3D91", label=<<font point-size="7" color="#0B3D91">T</font>>];`)
	assert.Contains(t, dot, `bb0 -> bb1 [color="#FC3D21"`)
	assert.Contains(t, dot, `bb1 -> bb2 [color="#424242"];`)
	assert.Equal(t, dot, CFGDOT(cfg, NASA, marks))

	assert.Empty(t, CFGDOT(disasm.FuncCFG{}, NASA))
}

func records() ([]disasm.FuncRecord, []disasm.CallEdgeRecord) {
	funcs := []disasm.FuncRecord{
		{Name: "start", Source: "entry"},
		{Name: "sub_401100", Source: "prologue"},
		{Name: "sub_401200", Source: "prologue"},
		{Name: "orphan", Source: "export"},
	}
	edges := []disasm.CallEdgeRecord{
		{FromFunc: "start", Kind: disasm.CallDirect, Target: "sub_401100"},
		{FromFunc: "start", Kind: disasm.CallImport, Target: "ExitProcess", Via: "KERNEL32.dll"},
		{FromFunc: "sub_401100", Kind: disasm.CallIndirect, Reg: "esi", Target: "Sleep", Via: "KERNEL32.dll!Sleep"},
		{FromFunc: "sub_401100", Kind: disasm.CallIndirect, Reg: "eax"},
		{FromFunc: "sub_401100", Kind: disasm.CallImport, Target: "MessageBoxA", Via: "USER32.dll"},
		{FromFunc: "sub_401100", Kind: disasm.CallImport, Target: "MessageBoxA", Via: "USER32.dll"},
		{FromFunc: "sub_401100", Kind: disasm.CallImport, Target: "MessageBoxA", Via: "USER32.dll"},
	}
	return funcs, edges
}

func TestClassifyEdgeProv(t *testing.T) {
	_, edges := records()
	var got []string
	for _, e := range edges[:4] {
		got = append(got, ClassifyEdgeProv(e))
	}
	assert.Equal(t, []string{ProvDirect, ProvImport, ProvIndirect, ProvUnresolved}, got)
}

func TestCallgraphDOT(t *testing.T) {
	funcs, edges := records()
	dot := CallgraphDOT(funcs, edges, "calls", NASA, 0, nil)
	assert.Contains(t, dot, "subgraph cluster_n_KERNEL32_002edll {")
	assert.Contains(t, dot, "subgraph cluster_n_USER32_002edll {")
	assert.Contains(t, dot, `n_start [label="start", penwidth=1.5`)
	assert.Contains(t, dot, `n_sub_401100 [label="sub_401100", fillcolor="#ECEFF1"];`)
	assert.Contains(t, dot, `n_call_0020eax [label="call eax", shape=plaintext`)
	assert.Contains(t, dot, `n_sub_401100 -> n_MessageBoxA [color="#00695C", style="solid", penwidth=0.8, label=`)
	assert.Contains(t, dot, `n_sub_401100 -> n_Sleep [color="#E65100", style="dotted"];`)
	assert.Equal(t, dot, CallgraphDOT(funcs, edges, "calls", NASA, 0, nil))

	only := CallgraphDOT(funcs, edges, "", NASA, 0, map[string]bool{"start": true})
	assert.NotContains(t, only, "MessageBoxA")
	assert.Contains(t, only, "n_start -> n_sub_401100")
}

func TestComputeStats(t *testing.T) {
	funcs, edges := records()
	s := ComputeStats(funcs, edges)
	assert.Equal(t, 4, s.TotalFunctions)
	assert.Equal(t, 7, s.TotalEdges)
	assert.Equal(t, map[string]int{ProvDirect: 1, ProvImport: 4, ProvIndirect: 1, ProvUnresolved: 1}, s.ProvCounts)
	assert.Equal(t, NameCount{"sub_401100", 5}, s.TopCallers[0])
	assert.Equal(t, NameCount{"MessageBoxA", 3}, s.TopCallees[0])
	assert.Equal(t, []NameCount{{"USER32.dll", 3}, {"KERNEL32.dll", 2}}, s.TopDLLs)
}

func TestReachability(t *testing.T) {
	funcs, edges := records()
	roots := FindEntryPoints(funcs, edges)
	assert.Equal(t, []string{"orphan", "start", "sub_401200"}, roots)

	r := ReachableSet([]string{"start"}, edges)
	assert.Equal(t, map[string]bool{"start": true, "sub_401100": true}, r)
}
