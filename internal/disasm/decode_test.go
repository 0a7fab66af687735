package disasm

import (
	"encoding/hex"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"unpe/internal/binfmt"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err)
	return b
}

type decodeCase struct {
	arch binfmt.Arch
	code string
	text string
}

var decodeCases = []decodeCase{
	{binfmt.ArchX86, "55", "push ebp"},
	{binfmt.ArchX86, "8b ec", "mov ebp, esp"},
	{binfmt.ArchX86, "89 e5", "mov ebp, esp"},
	{binfmt.ArchX86, "b8 05 00 00 00", "mov eax, 5"},
	{binfmt.ArchX86, "5d", "pop ebp"},
	{binfmt.ArchX86, "c3", "ret"},
	{binfmt.ArchX86, "c2 08 00", "ret 8"},
	{binfmt.ArchX86, "c7 45 f8 05 00 00 00", "mov dword ptr [ebp-0x8], 5"},
	{binfmt.ArchX86, "8b 04 8d 00 10 40 00", "mov eax, dword ptr [ecx*4+0x401000]"},
	{binfmt.ArchX86, "8b 44 24 04", "mov eax, dword ptr [esp+0x4]"},
	{binfmt.ArchX86, "ff 15 04 20 40 00", "call dword ptr [0x402004]"},
	{binfmt.ArchX86, "ff e0", "jmp eax"},
	{binfmt.ArchX86, "ff 10", "call dword ptr [eax]"},
	{binfmt.ArchX86, "66 b8 34 12", "mov ax, 0x1234"},
	{binfmt.ArchX86, "f3 a5", "rep movsd"},
	{binfmt.ArchX86, "f3 a6", "repe cmpsb"},
	{binfmt.ArchX86, "0f b6 c0", "movzx eax, al"},
	{binfmt.ArchX86, "0f bf 4d 08", "movsx ecx, word ptr [ebp+0x8]"},
	{binfmt.ArchX86, "0f 94 c0", "sete al"},
	{binfmt.ArchX86, "0f 4c c1", "cmovl eax, ecx"},
	{binfmt.ArchX86, "83 ec 10", "sub esp, 0x10"},
	{binfmt.ArchX86, "81 c4 00 01 00 00", "add esp, 0x100"},
	{binfmt.ArchX86, "33 c0", "xor eax, eax"},
	{binfmt.ArchX86, "85 c0", "test eax, eax"},
	{binfmt.ArchX86, "3c 7f", "cmp al, 0x7f"},
	{binfmt.ArchX86, "c1 e0 04", "shl eax, 4"},
	{binfmt.ArchX86, "d1 f8", "sar eax, 1"},
	{binfmt.ArchX86, "f7 d8", "neg eax"},
	{binfmt.ArchX86, "f7 f1", "div ecx"},
	{binfmt.ArchX86, "0f af c1", "imul eax, ecx"},
	{binfmt.ArchX86, "6b c0 0c", "imul eax, eax, 0xc"},
	{binfmt.ArchX86, "8d 45 f0", "lea eax, [ebp-0x10]"},
	{binfmt.ArchX86, "6a 00", "push 0"},
	{binfmt.ArchX86, "68 00 30 40 00", "push 0x403000"},
	{binfmt.ArchX86, "40", "inc eax"},
	{binfmt.ArchX86, "4f", "dec edi"},
	{binfmt.ArchX86, "60", "pushad"},
	{binfmt.ArchX86, "a1 00 30 40 00", "mov eax, dword ptr [0x403000]"},
	{binfmt.ArchX86, "f0 0f c1 01", "lock xadd dword ptr [ecx], eax"},
	{binfmt.ArchX86, "64 a1 00 00 00 00", "mov eax, dword ptr fs:[0x0]"},
	{binfmt.ArchX86, "67 8b 07", "mov eax, dword ptr [bx]"},
	{binfmt.ArchX86, "c9", "leave"},
	{binfmt.ArchX86, "cc", "int3"},
	{binfmt.ArchX86, "cd 2e", "int 0x2e"},
	{binfmt.ArchX86, "90", "nop"},
	{binfmt.ArchX86, "f3 90", "pause"},
	{binfmt.ArchX86, "0f 1f 44 00 00", "nop dword ptr [eax+eax]"},
	{binfmt.ArchX86, "0f a2", "cpuid"},
	{binfmt.ArchX86, "c8 10 00 00", "enter 0x10, 0"},
	{binfmt.ArchX8664, "55", "push rbp"},
	{binfmt.ArchX8664, "48 89 e5", "mov rbp, rsp"},
	{binfmt.ArchX8664, "48 83 ec 20", "sub rsp, 0x20"},
	{binfmt.ArchX8664, "41 57", "push r15"},
	{binfmt.ArchX8664, "44 8b 45 f0", "mov r8d, dword ptr [rbp-0x10]"},
	{binfmt.ArchX8664, "48 63 c8", "movsxd rcx, eax"},
	{binfmt.ArchX8664, "48 8b 05 10 00 00 00", "mov rax, qword ptr [rip+0x10]"},
	{binfmt.ArchX8664, "48 89 5c 24 08", "mov qword ptr [rsp+0x8], rbx"},
	{binfmt.ArchX8664, "40 53", "push rbx"},
	{binfmt.ArchX8664, "40 88 f0", "mov al, sil"},
	{binfmt.ArchX8664, "4d 31 c0", "xor r8, r8"},
	{binfmt.ArchX8664, "ff 15 00 10 00 00", "call qword ptr [rip+0x1000]"},
	{binfmt.ArchX8664, "41 ff d3", "call r11"},
	{binfmt.ArchX8664, "48 cf", "iretq"},
	{binfmt.ArchX8664, "0f 05", "syscall"},
	{binfmt.ArchX8664, "48 98", "cdqe"},
	{binfmt.ArchX8664, "48 99", "cqo"},
	{binfmt.ArchX8664, "48 0f c8", "bswap rax"},
	{binfmt.ArchX8664, "48 ab", "stosq"},
	{binfmt.ArchX8664, "c3", "ret"},
}

func TestDecodeAt_Table(t *testing.T) {
	for _, tc := range decodeCases {
		t.Run(tc.arch.String()+"/"+tc.text, func(t *testing.T) {
			code := unhex(t, tc.code)
			if tc.text == "iretq" {
				// iretq is outside the modeled subset.
				_, err := DecodeAt(code, 0, 0x401000, tc.arch)
				require.True(t, IsDecodeFailure(err), "err = %v", err)
				return
			}
			in, err := DecodeAt(code, 0, 0x401000, tc.arch)
			require.NoError(t, err)
			assert.Equal(t, len(code), in.Len, "length")
			assert.Equal(t, code, in.Raw)
			assert.Equal(t, tc.text, in.String())
			assert.Equal(t, uint64(0x401000), in.Addr)
		})
	}
}

func TestDecodeAt_Branches(t *testing.T) {
	tests := []struct {
		arch   binfmt.Arch
		code   string
		text   string
		target uint64
		cond   bool
	}{
		{binfmt.ArchX86, "74 05", "je 0x401007", 0x401007, true},
		{binfmt.ArchX86, "7c fa", "jl 0x400ffc", 0x400ffc, true},
		{binfmt.ArchX86, "0f 8c 10 00 00 00", "jl 0x401016", 0x401016, true},
		{binfmt.ArchX86, "eb fe", "jmp 0x401000", 0x401000, false},
		{binfmt.ArchX86, "e9 fb 0f 00 00", "jmp 0x402000", 0x402000, false},
		{binfmt.ArchX86, "e8 fb ff ff ff", "call 0x401000", 0x401000, false},
		{binfmt.ArchX86, "e2 fe", "loop 0x401000", 0x401000, true},
		{binfmt.ArchX86, "e3 02", "jecxz 0x401004", 0x401004, true},
		{binfmt.ArchX8664, "0f 85 00 01 00 00", "jne 0x401106", 0x401106, true},
		{binfmt.ArchX8664, "e8 00 00 00 00", "call 0x401005", 0x401005, false},
		{binfmt.ArchX8664, "e3 00", "jrcxz 0x401002", 0x401002, true},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			in, err := DecodeAt(unhex(t, tc.code), 0, 0x401000, tc.arch)
			require.NoError(t, err)
			assert.True(t, in.HasTarget)
			assert.Equal(t, tc.target, in.Target)
			assert.Equal(t, tc.text, in.String())
			assert.Equal(t, tc.cond, in.IsConditional())
			assert.Equal(t, CatControlFlow, in.Category())
		})
	}
}

func TestDecodeAt_Operands(t *testing.T) {
	in, err := DecodeAt(unhex(t, "8b 04 8d 00 10 40 00"), 0, 0, binfmt.ArchX86)
	require.NoError(t, err)
	require.Len(t, in.Args, 2)
	assert.Equal(t, KindReg, in.Args[0].Kind)
	assert.Equal(t, EAX, in.Args[0].Reg)
	m := in.Args[1]
	require.Equal(t, KindMem, m.Kind)
	assert.Equal(t, RegNone, m.Mem.Base)
	assert.Equal(t, ECX, m.Mem.Index)
	assert.Equal(t, uint8(4), m.Mem.Scale)
	assert.Equal(t, int64(0x401000), m.Mem.Disp)
	assert.Equal(t, 4, m.Size)

	in, err = DecodeAt(unhex(t, "48 8b 05 10 00 00 00"), 0, 0x140001000, binfmt.ArchX8664)
	require.NoError(t, err)
	mem, ok := in.MemOperand()
	require.True(t, ok)
	assert.True(t, mem.RIPRel)
	addr, ok := in.MemAddr(mem)
	require.True(t, ok)
	assert.Equal(t, uint64(0x140001017), addr)
	assert.Equal(t, 8, in.OpSize)
	assert.Equal(t, byte(0x48), in.REX)

	in, err = DecodeAt(unhex(t, "48 b8 88 77 66 55 44 33 22 11"), 0, 0, binfmt.ArchX8664)
	require.NoError(t, err)
	assert.Equal(t, 10, in.Len)
	assert.Equal(t, int64(0x1122334455667788), in.Args[1].Imm)
}

func TestDecodeAt_REXOnlyBeforeOpcode(t *testing.T) {
	// 48 66 89 c8: the REX is followed by a legacy prefix and is dropped, so
	// the operand size comes from 0x66.
	in, err := DecodeAt(unhex(t, "48 66 89 c8"), 0, 0, binfmt.ArchX8664)
	require.NoError(t, err)
	assert.Equal(t, "mov ax, cx", in.String())
	assert.Equal(t, byte(0), in.REX)
}

func TestDecodeAt_Categories(t *testing.T) {
	tests := []struct {
		code string
		cat  Category
	}{
		{"89 c8", CatDataTransfer},
		{"01 c8", CatArithmetic},
		{"21 c8", CatLogical},
		{"c3", CatControlFlow},
		{"50", CatStack},
		{"f4", CatSystem},
		{"90", CatMisc},
	}
	for _, tc := range tests {
		in, err := DecodeAt(unhex(t, tc.code), 0, 0, binfmt.ArchX86)
		require.NoError(t, err)
		assert.Equal(t, tc.cat, in.Category(), tc.code)
		assert.Equal(t, tc.cat.String(), in.Category().String())
	}
}

func TestDecodeAt_Failures(t *testing.T) {
	tests := []struct {
		name   string
		arch   binfmt.Arch
		code   string
		reason FailReason
	}{
		{"lone escape", binfmt.ArchX86, "0f", FailTruncated},
		{"short rel32", binfmt.ArchX86, "e8 00 00", FailTruncated},
		{"short modrm", binfmt.ArchX86, "8b", FailTruncated},
		{"short sib disp", binfmt.ArchX86, "8b 04 8d 00 10", FailTruncated},
		{"prefix only", binfmt.ArchX86, "66 66", FailTruncated},
		{"rex only", binfmt.ArchX8664, "48", FailTruncated},
		{"x87", binfmt.ArchX86, "d8 00", FailInvalid},
		{"sse", binfmt.ArchX86, "0f 28 c1", FailInvalid},
		{"push es in long mode", binfmt.ArchX8664, "06", FailInvalid},
		{"lea register form", binfmt.ArchX86, "8d c0", FailOperand},
		{"too long", binfmt.ArchX86, strings.Repeat("66 ", 15) + "90", FailTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code := unhex(t, tc.code)
			_, err := DecodeAt(code, 0, 0, tc.arch)
			require.Error(t, err)
			var df *DecodeFailure
			require.ErrorAs(t, err, &df)
			assert.Equal(t, tc.reason, df.Reason)
			assert.Equal(t, 0, df.Offset)
		})
	}
}

func TestDecodeAt_ContractViolations(t *testing.T) {
	code := []byte{0x90}
	_, err := DecodeAt(code, 1, 0, binfmt.ArchX86)
	assert.ErrorIs(t, err, ErrOffsetOutOfRange)
	_, err = DecodeAt(code, -1, 0, binfmt.ArchX86)
	assert.ErrorIs(t, err, ErrOffsetOutOfRange)
	_, err = DecodeAt(code, 0, 0, binfmt.ArchUnknown)
	assert.ErrorIs(t, err, ErrUnsupportedArch)
	assert.False(t, IsDecodeFailure(err))
}

// Every instruction decoded from any buffer lies fully inside it and its
// Raw bytes match its length.
func TestDecodeAt_Totality(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, arch := range []binfmt.Arch{binfmt.ArchX86, binfmt.ArchX8664} {
		for round := 0; round < 200; round++ {
			buf := make([]byte, 1+rng.Intn(64))
			rng.Read(buf)
			for off := range buf {
				in, err := DecodeAt(buf, off, 0x1000, arch)
				if err != nil {
					require.True(t, IsDecodeFailure(err), "unexpected error %v", err)
					continue
				}
				require.Positive(t, in.Len)
				require.LessOrEqual(t, in.Len, maxInstLen)
				require.LessOrEqual(t, off+in.Len, len(buf))
				require.Equal(t, buf[off:off+in.Len], in.Raw)
			}
		}
	}
}

// A linear sweep is contiguous: each instruction starts where the previous
// one ended, so no byte is decoded twice.
func TestDisassemble_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	buf := make([]byte, 4096)
	rng.Read(buf)
	for _, arch := range []binfmt.Arch{binfmt.ArchX86, binfmt.ArchX8664} {
		insts, err := Disassemble(buf, Options{BaseAddr: 0x1000, Arch: arch})
		require.NoError(t, err)
		next := uint64(0x1000)
		total := 0
		for _, in := range insts {
			require.Equal(t, next, in.Addr)
			require.Len(t, in.Raw, in.Len)
			next = in.Next()
			total += in.Len
		}
		assert.Equal(t, len(buf), total)
	}
}

// Lengths agree with x86asm on every modeled encoding.
func TestDecodeAt_MatchesReference(t *testing.T) {
	for _, tc := range decodeCases {
		code := unhex(t, tc.code)
		in, err := DecodeAt(code, 0, 0, tc.arch)
		if err != nil {
			continue
		}
		ref, err := x86asm.Decode(code, tc.arch.Bits())
		require.NoError(t, err, tc.code)
		assert.Equal(t, ref.Len, in.Len, tc.code)
	}
}
