package disasm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unpe/internal/binfmt"
)

var testSlots = map[uint64]binfmt.Import{
	0x402000: {DLL: "KERNEL32.dll", Name: "Sleep", Slot: 0x402000},
	0x402004: {DLL: "USER32.dll", Name: "MessageBoxA", Slot: 0x402004},
	0x402008: {DLL: "WS2_32.dll", Ordinal: 23, Slot: 0x402008},
}

func TestExtractCallEdges(t *testing.T) {
	//   0x1000: mov esi, dword ptr [0x402000]
	//   0x1006: push 0
	//   0x1008: call esi
	//   0x100a: call dword ptr [0x402004]
	//   0x1010: call 0x1000
	//   0x1015: call dword ptr [eax]
	//   0x1017: ret
	insts := sweep(t, binfmt.ArchX86, 0x1000,
		"8b3500204000 6a00 ffd6 ff1504204000 e8ebffffff ff10 c3")
	symbols := PlaceholderLookup(map[uint64]string{0x1000: "start"})

	edges := ExtractCallEdges(insts, symbols, testSlots, 8)
	require.Len(t, edges, 4)

	assert.Equal(t, CallEdge{FromPC: 0x1008, Kind: CallIndirect, Reg: "esi", Via: "KERNEL32.dll!Sleep", TargetName: "Sleep"}, edges[0])
	assert.Equal(t, CallEdge{FromPC: 0x100a, Kind: CallImport, TargetName: "MessageBoxA", Via: "USER32.dll"}, edges[1])
	assert.Equal(t, CallEdge{FromPC: 0x1010, Kind: CallDirect, TargetPC: 0x1000, TargetName: "start"}, edges[2])
	assert.Equal(t, CallEdge{FromPC: 0x1015, Kind: CallIndirect}, edges[3])
}

func TestExtractCallEdges_Window(t *testing.T) {
	// mov esi, [iat]; n nops; call esi
	build := func(n int) []Instruction {
		return sweep(t, binfmt.ArchX86, 0x1000, "8b3500204000"+strings.Repeat("90", n)+"ffd6")
	}

	edges := ExtractCallEdges(build(7), nil, testSlots, 8)
	require.Len(t, edges, 1)
	assert.Equal(t, "Sleep", edges[0].TargetName)

	edges = ExtractCallEdges(build(9), nil, testSlots, 8)
	require.Len(t, edges, 1)
	assert.Empty(t, edges[0].TargetName)
	assert.Empty(t, edges[0].Via)
}

func TestExtractCallEdges_Overwrite(t *testing.T) {
	// mov esi, [iat]; xor esi, esi; call esi: the xor kills the definition.
	insts := sweep(t, binfmt.ArchX86, 0x1000, "8b3500204000 31f6 ffd6")
	edges := ExtractCallEdges(insts, nil, testSlots, 8)
	require.Len(t, edges, 1)
	assert.Empty(t, edges[0].TargetName)
}

func TestExtractCallEdges_RegisterCopy(t *testing.T) {
	// mov eax, [iat]; mov ebx, eax; call ebx
	insts := sweep(t, binfmt.ArchX86, 0x1000, "a108204000 89c3 ffd3")
	edges := ExtractCallEdges(insts, nil, testSlots, 8)
	require.Len(t, edges, 1)
	assert.Equal(t, "ws2_32_ord23", edges[0].TargetName)
	assert.Equal(t, "ebx", edges[0].Reg)
}

func TestExtractCallEdges_HighImmediate(t *testing.T) {
	// mov esi, 0x80401000; call esi: the immediate is not sign-extended.
	insts := sweep(t, binfmt.ArchX86, 0x80400000, "be00104080 ffd6")
	symbols := PlaceholderLookup(map[uint64]string{0x80401000: "sub_80401000"})
	edges := ExtractCallEdges(insts, symbols, nil, 8)
	require.Len(t, edges, 1)
	assert.Equal(t, CallEdge{FromPC: 0x80400005, Kind: CallIndirect, Reg: "esi", Via: "sub_80401000", TargetName: "sub_80401000"}, edges[0])
}

func TestExtractCallEdges_ImportThunk(t *testing.T) {
	// x64: jmp qword ptr [rip+0xffa] lands on 0x402000.
	insts := sweep(t, binfmt.ArchX8664, 0x401000, "ff25fa0f0000")
	edges := ExtractCallEdges(insts, nil, testSlots, 8)
	require.Len(t, edges, 1)
	assert.Equal(t, CallThunk, edges[0].Kind)
	assert.Equal(t, "Sleep", edges[0].TargetName)
}

func TestRegTracker(t *testing.T) {
	rt := NewRegTracker(2)
	rt.Define(ESI, "a", "A")
	def, ok := rt.Lookup(RSI)
	require.True(t, ok, "widths share an encoding number")
	assert.Equal(t, "A", def.Name)

	rt.Tick()
	rt.Tick()
	_, ok = rt.Lookup(ESI)
	assert.True(t, ok)
	rt.Tick()
	_, ok = rt.Lookup(ESI)
	assert.False(t, ok)

	rt.Define(EAX, "b", "")
	rt.Reset()
	_, ok = rt.Lookup(EAX)
	assert.False(t, ok)

	rt.Define(AL, "ignored", "")
	_, ok = rt.Lookup(AL)
	assert.False(t, ok)
}
