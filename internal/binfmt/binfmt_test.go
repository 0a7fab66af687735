package binfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArch(t *testing.T) {
	for in, want := range map[string]Arch{
		"x86": ArchX86, "I386": ArchX86, " ia32 ": ArchX86,
		"x86-64": ArchX8664, "AMD64": ArchX8664, "x64": ArchX8664,
	} {
		got, err := ParseArch(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseArch("arm64")
	assert.ErrorIs(t, err, ErrUnsupportedArch)

	assert.Equal(t, 4, ArchX86.PtrSize())
	assert.Equal(t, 8, ArchX8664.PtrSize())
	assert.False(t, ArchUnknown.Valid())
	assert.Equal(t, "x86-64", ArchX8664.String())
}

func TestImage(t *testing.T) {
	img := &Image{
		ImageBase: 0x400000,
		Data:      []byte{0, 1, 2, 3, 4, 5},
		Sections: []Section{
			{Name: ".text", VirtualAddress: 0x1000, PointerToRawData: 0, SizeOfRawData: 4, Type: SectionCode},
			{Name: ".data", VirtualAddress: 0x2000, PointerToRawData: 4, SizeOfRawData: 16, Type: SectionData},
		},
		Imports: []Import{
			{DLL: "USER32.dll", Name: "MessageBoxA", Slot: 0x403000},
			{DLL: "KERNEL32.dll", Ordinal: 7, Slot: 0x403010},
			{DLL: "USER32.dll", Name: "GetDC", Slot: 0x403004},
		},
	}

	assert.Equal(t, []byte{4, 5}, img.SectionData(img.Sections[1]), "clamped to the file")
	assert.Nil(t, img.SectionData(Section{PointerToRawData: 99}))
	assert.Len(t, img.CodeSections(), 1)

	s, ok := img.SectionAt(0x401003)
	require.True(t, ok)
	assert.Equal(t, ".text", s.Name)
	_, ok = img.SectionAt(0x401004)
	assert.False(t, ok)

	assert.Equal(t, []string{"KERNEL32.dll", "USER32.dll"}, img.DLLs())
	assert.Equal(t, "GetDC", img.ImportBySlot()[0x403004].Name)
	assert.Equal(t, "kernel32_ord7", img.Imports[1].Label())
}
