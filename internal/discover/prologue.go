package discover

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"unpe/internal/binfmt"
)

// Signature is a prologue byte pattern tagged with a compiler family guess.
type Signature struct {
	Bytes  []byte
	Family string
	Arch   binfmt.Arch
	Text   string // instruction text, for reports
}

func sig(arch binfmt.Arch, family, code, text string) Signature {
	b, err := hex.DecodeString(strings.ReplaceAll(code, " ", ""))
	if err != nil {
		panic(err)
	}
	return Signature{Bytes: b, Family: family, Arch: arch, Text: text}
}

// DefaultPrologues is the built-in prologue table.
var DefaultPrologues = []Signature{
	sig(binfmt.ArchX86, "msvc-hotpatch", "8b ff 55 8b ec", "mov edi, edi; push ebp; mov ebp, esp"),
	sig(binfmt.ArchX86, "msvc", "55 8b ec", "push ebp; mov ebp, esp"),
	sig(binfmt.ArchX86, "gcc", "55 89 e5", "push ebp; mov ebp, esp"),
	sig(binfmt.ArchX8664, "gcc", "55 48 89 e5", "push rbp; mov rbp, rsp"),
	sig(binfmt.ArchX8664, "msvc", "55 48 8b ec", "push rbp; mov rbp, rsp"),
	sig(binfmt.ArchX8664, "msvc", "40 53 48 83 ec", "push rbx; sub rsp, imm8"),
	sig(binfmt.ArchX8664, "msvc", "48 89 5c 24", "mov [rsp+x], rbx"),
	sig(binfmt.ArchX8664, "msvc-leaf", "48 83 ec", "sub rsp, imm8"),
}

// ParseSignature builds a signature from a hex byte string such as
// "55 8b ec". Spaces are ignored.
func ParseSignature(arch binfmt.Arch, family, code string) (Signature, error) {
	if !arch.Valid() {
		return Signature{}, fmt.Errorf("discover: signature %q: %w", code, binfmt.ErrUnsupportedArch)
	}
	b, err := hex.DecodeString(strings.ReplaceAll(code, " ", ""))
	if err != nil {
		return Signature{}, fmt.Errorf("discover: signature %q: %w", code, err)
	}
	if len(b) == 0 {
		return Signature{}, fmt.Errorf("discover: signature %q: empty", code)
	}
	return Signature{Bytes: b, Family: family, Arch: arch, Text: code}, nil
}

// table holds the signatures for one arch, longest first so the most
// specific pattern wins at a given offset.
type table []Signature

func newTable(arch binfmt.Arch, sigs []Signature) table {
	var t table
	for _, s := range sigs {
		if s.Arch == arch && len(s.Bytes) > 0 {
			t = append(t, s)
		}
	}
	sort.SliceStable(t, func(i, j int) bool { return len(t[i].Bytes) > len(t[j].Bytes) })
	return t
}

// match returns the longest signature matching code at off.
func (t table) match(code []byte, off int) (Signature, bool) {
	for _, s := range t {
		if off+len(s.Bytes) <= len(code) && string(code[off:off+len(s.Bytes)]) == string(s.Bytes) {
			return s, true
		}
	}
	return Signature{}, false
}

// Epilogue kinds recognized when bounding a function.
const (
	EpilogueLeaveRet = "leave;ret"
	EpiloguePopRet   = "pop;ret"
	EpilogueRetImm   = "ret imm16"
	EpilogueRet      = "ret"
)
