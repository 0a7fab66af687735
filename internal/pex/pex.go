// Package pex loads PE32/PE32+ executables into a binfmt.Image.
package pex

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"unpe/internal/binfmt"
)

var (
	ErrNotPE         = errors.New("pex: not a PE file")
	ErrUnsupported   = errors.New("pex: unsupported machine (want i386 or amd64)")
	ErrNoOptHeader   = errors.New("pex: missing optional header")
	ErrRVAOutOfRange = errors.New("pex: RVA not backed by file data")
)

// Directory walks are capped so a corrupt table cannot spin forever.
const (
	maxDescriptors = 4096
	maxThunks      = 1 << 16
	maxNameLen     = 512
)

// Open reads the file at path and parses it as a PE image.
func Open(path string) (*binfmt.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pex: open: %w", err)
	}
	img, err := Parse(data)
	if err != nil {
		return nil, err
	}
	img.Path = path
	return img, nil
}

// Parse parses an in-memory PE image. The returned Image aliases data.
func Parse(data []byte) (*binfmt.Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPE, err)
	}
	defer f.Close()

	img := &binfmt.Image{Data: data}
	switch f.FileHeader.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		img.Arch = binfmt.ArchX86
	case pe.IMAGE_FILE_MACHINE_AMD64:
		img.Arch = binfmt.ArchX8664
	default:
		return nil, fmt.Errorf("%w: 0x%x", ErrUnsupported, f.FileHeader.Machine)
	}

	var dirs []pe.DataDirectory
	var entryRVA uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.ImageBase = uint64(oh.ImageBase)
		entryRVA = oh.AddressOfEntryPoint
		dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, uint32(len(oh.DataDirectory)))]
	case *pe.OptionalHeader64:
		img.ImageBase = oh.ImageBase
		entryRVA = oh.AddressOfEntryPoint
		dirs = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, uint32(len(oh.DataDirectory)))]
	default:
		return nil, ErrNoOptHeader
	}
	if entryRVA != 0 {
		img.EntryPoint = img.ImageBase + uint64(entryRVA)
	}

	for _, s := range f.Sections {
		img.Sections = append(img.Sections, binfmt.Section{
			Name:             strings.TrimRight(s.Name, "\x00"),
			VirtualAddress:   s.VirtualAddress,
			VirtualSize:      s.VirtualSize,
			PointerToRawData: s.Offset,
			SizeOfRawData:    s.Size,
			Type:             sectionType(s.Characteristics),
			Executable:       s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0,
			Writable:         s.Characteristics&pe.IMAGE_SCN_MEM_WRITE != 0,
		})
	}

	r := &rvaReader{img: img}
	if len(dirs) > pe.IMAGE_DIRECTORY_ENTRY_IMPORT {
		if d := dirs[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]; d.VirtualAddress != 0 {
			img.Imports = r.imports(d.VirtualAddress)
		}
	}
	if len(dirs) > pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
		if d := dirs[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]; d.VirtualAddress != 0 {
			img.Exports = r.exports(d)
		}
	}
	return img, nil
}

// Raw wraps a headerless code blob (shellcode, dumped .text) as a single
// executable section mapped at base. A blob has no entry point.
func Raw(data []byte, arch binfmt.Arch, base uint64) (*binfmt.Image, error) {
	if !arch.Valid() {
		return nil, fmt.Errorf("pex: raw: %w", binfmt.ErrUnsupportedArch)
	}
	return &binfmt.Image{
		Arch:      arch,
		ImageBase: base,
		Sections: []binfmt.Section{{
			Name:          ".text",
			VirtualSize:   uint32(len(data)),
			SizeOfRawData: uint32(len(data)),
			Type:          binfmt.SectionCode,
			Executable:    true,
		}},
		Data: data,
	}, nil
}

func sectionType(c uint32) binfmt.SectionType {
	switch {
	case c&(pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE) != 0:
		return binfmt.SectionCode
	case c&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0:
		return binfmt.SectionBSS
	case c&pe.IMAGE_SCN_CNT_INITIALIZED_DATA != 0:
		return binfmt.SectionData
	}
	return binfmt.SectionOther
}

// rvaReader resolves RVAs through the section table of img.
type rvaReader struct {
	img *binfmt.Image
}

func (r *rvaReader) offset(rva uint32) (uint64, error) {
	for _, s := range r.img.Sections {
		size := s.VirtualSize
		if s.SizeOfRawData > size {
			size = s.SizeOfRawData
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			delta := rva - s.VirtualAddress
			if delta >= s.SizeOfRawData {
				break
			}
			off := uint64(s.PointerToRawData) + uint64(delta)
			if off >= uint64(len(r.img.Data)) {
				break
			}
			return off, nil
		}
	}
	return 0, fmt.Errorf("%w: 0x%x", ErrRVAOutOfRange, rva)
}

func (r *rvaReader) u16(rva uint32) (uint16, bool) {
	off, err := r.offset(rva)
	if err != nil || off+2 > uint64(len(r.img.Data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(r.img.Data[off:]), true
}

func (r *rvaReader) u32(rva uint32) (uint32, bool) {
	off, err := r.offset(rva)
	if err != nil || off+4 > uint64(len(r.img.Data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(r.img.Data[off:]), true
}

func (r *rvaReader) u64(rva uint32) (uint64, bool) {
	off, err := r.offset(rva)
	if err != nil || off+8 > uint64(len(r.img.Data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(r.img.Data[off:]), true
}

func (r *rvaReader) cstring(rva uint32) string {
	off, err := r.offset(rva)
	if err != nil {
		return ""
	}
	end := off
	for end < uint64(len(r.img.Data)) && end-off < maxNameLen && r.img.Data[end] != 0 {
		end++
	}
	return string(r.img.Data[off:end])
}

// imports walks IMAGE_IMPORT_DESCRIPTORs. Names come from the lookup table
// (OriginalFirstThunk) when present; slots always come from FirstThunk.
func (r *rvaReader) imports(dirRVA uint32) []binfmt.Import {
	wide := r.img.Arch == binfmt.ArchX8664
	thunkSize := uint32(4)
	if wide {
		thunkSize = 8
	}

	var out []binfmt.Import
	for i := uint32(0); i < maxDescriptors; i++ {
		desc := dirRVA + i*20
		lookup, ok1 := r.u32(desc)
		nameRVA, ok2 := r.u32(desc + 12)
		iat, ok3 := r.u32(desc + 16)
		if !ok1 || !ok2 || !ok3 || (lookup == 0 && nameRVA == 0 && iat == 0) {
			break
		}
		dll := r.cstring(nameRVA)
		if lookup == 0 {
			lookup = iat
		}
		for j := uint32(0); j < maxThunks; j++ {
			var thunk uint64
			var ok bool
			if wide {
				thunk, ok = r.u64(lookup + j*thunkSize)
			} else {
				var t32 uint32
				t32, ok = r.u32(lookup + j*thunkSize)
				thunk = uint64(t32)
			}
			if !ok || thunk == 0 {
				break
			}
			imp := binfmt.Import{
				DLL:  dll,
				Slot: r.img.ImageBase + uint64(iat) + uint64(j*thunkSize),
			}
			ordinalFlag := uint64(1) << 31
			if wide {
				ordinalFlag = 1 << 63
			}
			if thunk&ordinalFlag != 0 {
				imp.Ordinal = uint16(thunk)
			} else {
				imp.Name = r.cstring(uint32(thunk) + 2) // skip hint
			}
			out = append(out, imp)
		}
	}
	return out
}

// exports walks the named entries of the export directory. Forwarder
// entries (function RVA inside the directory itself) are skipped.
func (r *rvaReader) exports(d pe.DataDirectory) []binfmt.Export {
	dir := d.VirtualAddress
	numNames, ok1 := r.u32(dir + 24)
	funcs, ok2 := r.u32(dir + 28)
	names, ok3 := r.u32(dir + 32)
	ords, ok4 := r.u32(dir + 36)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	if numNames > maxThunks {
		numNames = maxThunks
	}

	var out []binfmt.Export
	for i := uint32(0); i < numNames; i++ {
		nameRVA, ok := r.u32(names + i*4)
		if !ok {
			break
		}
		ord, ok := r.u16(ords + i*2)
		if !ok {
			break
		}
		fn, ok := r.u32(funcs + uint32(ord)*4)
		if !ok || fn == 0 {
			continue
		}
		if fn >= dir && fn < dir+d.Size {
			continue
		}
		name := r.cstring(nameRVA)
		if name == "" {
			continue
		}
		out = append(out, binfmt.Export{Name: name, Address: r.img.ImageBase + uint64(fn)})
	}
	return out
}
