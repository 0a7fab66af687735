// Package binfmt holds the read-only facts a container format reader yields
// about an executable: architecture, image base, entry point, sections,
// imports and exports. Nothing in the analysis core parses the container
// itself; it only consumes an Image.
package binfmt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedArch is returned when an architecture name is not x86 or x86-64.
var ErrUnsupportedArch = errors.New("binfmt: unsupported architecture")

// Arch selects operand/address defaults and register tables.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86          // 32-bit protected mode
	ArchX8664        // 64-bit long mode
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchX8664:
		return "x86-64"
	}
	return "unknown"
}

// Bits returns the default address width, 32 or 64. Zero for unknown archs.
func (a Arch) Bits() int {
	switch a {
	case ArchX86:
		return 32
	case ArchX8664:
		return 64
	}
	return 0
}

// PtrSize returns the native pointer size in bytes.
func (a Arch) PtrSize() int { return a.Bits() / 8 }

// Valid reports whether a is one of the supported architectures.
func (a Arch) Valid() bool { return a == ArchX86 || a == ArchX8664 }

// ParseArch accepts "x86", "i386", "386", "x86-64", "x86_64", "amd64", "x64".
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x86", "i386", "386", "ia32":
		return ArchX86, nil
	case "x86-64", "x86_64", "amd64", "x64":
		return ArchX8664, nil
	}
	return ArchUnknown, fmt.Errorf("%w: %q", ErrUnsupportedArch, s)
}

// SectionType classifies a section by its characteristics.
type SectionType string

const (
	SectionCode  SectionType = "code"
	SectionData  SectionType = "data"
	SectionBSS   SectionType = "bss"
	SectionOther SectionType = "other"
)

// Section describes one section table entry. VirtualAddress is an RVA.
type Section struct {
	Name             string      `json:"name"`
	VirtualAddress   uint32      `json:"virtual_address"`
	VirtualSize      uint32      `json:"virtual_size"`
	PointerToRawData uint32      `json:"pointer_to_raw_data"`
	SizeOfRawData    uint32      `json:"size_of_raw_data"`
	Type             SectionType `json:"type"`
	Executable       bool        `json:"executable,omitempty"`
	Writable         bool        `json:"writable,omitempty"`
}

// Import is one imported function. Slot is the absolute VA of its IAT entry,
// which is what `call [slot]` references. Ordinal is set when Name is empty.
type Import struct {
	DLL     string `json:"dll"`
	Name    string `json:"name,omitempty"`
	Ordinal uint16 `json:"ordinal,omitempty"`
	Slot    uint64 `json:"slot"`
}

// Label returns the import name, or "<dll>_ord<ordinal>" for ordinal imports.
func (imp Import) Label() string {
	if imp.Name != "" {
		return imp.Name
	}
	dll := strings.TrimSuffix(strings.ToLower(imp.DLL), ".dll")
	return fmt.Sprintf("%s_ord%d", dll, imp.Ordinal)
}

// Export is one exported symbol. Address is an absolute VA.
type Export struct {
	Name    string `json:"name"`
	Address uint64 `json:"address"`
}

// Image bundles everything the core reads. Data is the raw file bytes;
// section contents are sliced out of it by file offset.
type Image struct {
	Path       string    `json:"path,omitempty"`
	Arch       Arch      `json:"-"`
	ImageBase  uint64    `json:"image_base"`
	EntryPoint uint64    `json:"entry_point"` // absolute VA, 0 if none
	Sections   []Section `json:"sections"`
	Imports    []Import  `json:"imports,omitempty"`
	Exports    []Export  `json:"exports,omitempty"`
	Data       []byte    `json:"-"`
}

// SectionData returns the raw bytes of s, clamped to the file size.
func (img *Image) SectionData(s Section) []byte {
	start := uint64(s.PointerToRawData)
	end := start + uint64(s.SizeOfRawData)
	if start >= uint64(len(img.Data)) {
		return nil
	}
	if end > uint64(len(img.Data)) {
		end = uint64(len(img.Data))
	}
	return img.Data[start:end]
}

// SectionVA returns the absolute VA of the first byte of s.
func (img *Image) SectionVA(s Section) uint64 {
	return img.ImageBase + uint64(s.VirtualAddress)
}

// CodeSections returns the sections of type code, in table order.
func (img *Image) CodeSections() []Section {
	var out []Section
	for _, s := range img.Sections {
		if s.Type == SectionCode {
			out = append(out, s)
		}
	}
	return out
}

// SectionAt returns the section whose raw data covers va.
func (img *Image) SectionAt(va uint64) (Section, bool) {
	for _, s := range img.Sections {
		start := img.SectionVA(s)
		if va >= start && va < start+uint64(s.SizeOfRawData) {
			return s, true
		}
	}
	return Section{}, false
}

// ImportBySlot builds a slot VA → import lookup.
func (img *Image) ImportBySlot() map[uint64]Import {
	m := make(map[uint64]Import, len(img.Imports))
	for _, imp := range img.Imports {
		m[imp.Slot] = imp
	}
	return m
}

// DLLs returns the distinct imported DLL names, sorted.
func (img *Image) DLLs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, imp := range img.Imports {
		if !seen[imp.DLL] {
			seen[imp.DLL] = true
			out = append(out, imp.DLL)
		}
	}
	sort.Strings(out)
	return out
}
