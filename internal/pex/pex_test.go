package pex

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unpe/internal/binfmt"
)

// samplePE builds a PE32 image with .text at RVA 0x1000 and .idata at RVA
// 0x2000. It imports KERNEL32.dll!Sleep and ordinal 16, and exports Run.
func samplePE(t *testing.T, machine uint16) []byte {
	t.Helper()
	buf := make([]byte, 0x600)
	copy(buf, "MZ")
	binary.LittleEndian.PutUint32(buf[0x3c:], 0x40)
	copy(buf[0x40:], "PE\x00\x00")

	oh := pe.OptionalHeader32{
		Magic:               0x10b,
		AddressOfEntryPoint: 0x1000,
		ImageBase:           0x400000,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		SizeOfImage:         0x3000,
		SizeOfHeaders:       0x200,
		NumberOfRvaAndSizes: 16,
	}
	oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT] = pe.DataDirectory{VirtualAddress: 0x2100, Size: 0x60}
	oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT] = pe.DataDirectory{VirtualAddress: 0x2010, Size: 40}

	section := func(name string, rva, off, chars uint32) pe.SectionHeader32 {
		var h pe.SectionHeader32
		copy(h.Name[:], name)
		h.VirtualSize, h.VirtualAddress = 0x200, rva
		h.SizeOfRawData, h.PointerToRawData = 0x200, off
		h.Characteristics = chars
		return h
	}

	var hdr bytes.Buffer
	for _, v := range []any{
		pe.FileHeader{Machine: machine, NumberOfSections: 2, SizeOfOptionalHeader: 224, Characteristics: 0x102},
		oh,
		section(".text", 0x1000, 0x200, pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE|pe.IMAGE_SCN_MEM_READ),
		section(".idata", 0x2000, 0x400, pe.IMAGE_SCN_CNT_INITIALIZED_DATA|pe.IMAGE_SCN_MEM_READ|pe.IMAGE_SCN_MEM_WRITE),
	} {
		require.NoError(t, binary.Write(&hdr, binary.LittleEndian, v))
	}
	copy(buf[0x44:], hdr.Bytes())

	// push ebp; mov ebp, esp; call [0x402000]; pop ebp; ret
	copy(buf[0x200:], []byte{0x55, 0x8b, 0xec, 0xff, 0x15, 0x00, 0x20, 0x40, 0x00, 0x5d, 0xc3})

	at := func(rva uint32) []byte { return buf[0x400+rva-0x2000:] }
	put := func(rva uint32, vs ...uint32) {
		for i, v := range vs {
			binary.LittleEndian.PutUint32(at(rva+uint32(i)*4), v)
		}
	}
	put(0x2000, 0x2070, 0x80000010, 0)        // IAT
	put(0x2010, 0x2040, 0, 0, 0x2060, 0x2000) // descriptor, then a zero terminator
	put(0x2040, 0x2070, 0x80000010, 0)        // lookup table
	copy(at(0x2060), "KERNEL32.dll\x00")
	copy(at(0x2072), "Sleep\x00")

	put(0x2100+12, 0x2158, 1, 1, 1, 0x2130, 0x2140, 0x2148) // name, base, counts, tables
	put(0x2130, 0x1000)
	put(0x2140, 0x2150)
	binary.LittleEndian.PutUint16(at(0x2148), 0)
	copy(at(0x2150), "Run\x00")
	return buf
}

func TestParse(t *testing.T) {
	img, err := Parse(samplePE(t, pe.IMAGE_FILE_MACHINE_I386))
	require.NoError(t, err)

	assert.Equal(t, binfmt.ArchX86, img.Arch)
	assert.Equal(t, uint64(0x400000), img.ImageBase)
	assert.Equal(t, uint64(0x401000), img.EntryPoint)

	require.Len(t, img.Sections, 2)
	text := img.Sections[0]
	assert.Equal(t, ".text", text.Name)
	assert.Equal(t, binfmt.SectionCode, text.Type)
	assert.True(t, text.Executable)
	assert.False(t, text.Writable)
	assert.Equal(t, binfmt.SectionData, img.Sections[1].Type)
	assert.True(t, img.Sections[1].Writable)
	assert.Equal(t, byte(0x55), img.SectionData(text)[0])

	assert.Equal(t, []binfmt.Import{
		{DLL: "KERNEL32.dll", Name: "Sleep", Slot: 0x402000},
		{DLL: "KERNEL32.dll", Ordinal: 16, Slot: 0x402004},
	}, img.Imports)
	assert.Equal(t, []binfmt.Export{{Name: "Run", Address: 0x401000}}, img.Exports)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("not a pe file at all"))
	assert.ErrorIs(t, err, ErrNotPE)

	_, err = Parse(samplePE(t, pe.IMAGE_FILE_MACHINE_ARM64))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.exe")
	require.NoError(t, os.WriteFile(path, samplePE(t, pe.IMAGE_FILE_MACHINE_I386), 0o644))

	img, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, img.Path)

	_, err = Open(filepath.Join(t.TempDir(), "missing.exe"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRaw(t *testing.T) {
	img, err := Raw([]byte{0x90, 0xc3}, binfmt.ArchX8664, 0x140001000)
	require.NoError(t, err)
	require.Len(t, img.CodeSections(), 1)
	assert.Equal(t, uint64(0x140001000), img.SectionVA(img.Sections[0]))
	assert.Zero(t, img.EntryPoint)

	_, err = Raw(nil, binfmt.ArchUnknown, 0)
	assert.ErrorIs(t, err, binfmt.ErrUnsupportedArch)
}
