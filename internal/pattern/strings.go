package pattern

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"

	"unpe/internal/binfmt"
)

// String categories.
const (
	CatURL      = "url"
	CatHost     = "host"
	CatCrypto   = "crypto"
	CatAuth     = "auth"
	CatRegistry = "registry"
	CatPath     = "path"
	CatCommand  = "command"
	CatFileExt  = "file"
	CatBase64   = "base64"
	CatAntiDbg  = "anti-debug"
)

// MinStringLen is the shortest run of printable characters kept.
const MinStringLen = 5

// maxSignals caps the classified strings kept in a report.
const maxSignals = 256

var (
	reURL       = regexp.MustCompile(`(?i)(https?|wss?|ftp)://`)
	reIPLiteral = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reBase64    = regexp.MustCompile(`^[A-Za-z0-9+/]{20,}={0,2}$`)
	reRegistry  = regexp.MustCompile(`(?i)^(HKEY_[A-Z_]+|HKLM|HKCU|SOFTWARE\\|SYSTEM\\CurrentControlSet)`)
	rePath      = regexp.MustCompile(`(?i)(^[a-z]:\\|^\\\\[^\\]+\\|%(appdata|temp|programdata|systemroot|userprofile)%)`)

	// Short crypto words need word-boundary matching ("rsa" in "Traversal").
	reCryptoShort = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(aes|rsa|hmac|sha1|sha256|sha512|md5|rc4|3des|xor)([^a-zA-Z]|$)`)

	reAuth = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(password|passwd|credential|token|secret|login|bearer|authorization)([^a-zA-Z]|$)`)

	cryptoKeywords = []string{
		"encrypt", "decrypt", "cipher", "cryptacquirecontext", "cryptencrypt", "cryptdecrypt",
		"bcryptopenalgorithmprovider", "chacha", "blowfish", "salsa20",
	}

	commandKeywords = []string{
		"cmd.exe", "cmd /c", "powershell", "rundll32", "regsvr32", "schtasks", "wscript", "cscript", "mshta", "vssadmin",
	}

	antiDebugKeywords = []string{
		"isdebuggerpresent", "checkremotedebuggerpresent", "ntqueryinformationprocess",
		"outputdebugstring", "ollydbg", "x64dbg", "windbg", "ida pro", "vmware", "virtualbox", "sbiedll",
	}

	fileExtensions = []string{
		".exe", ".dll", ".sys", ".bat", ".cmd", ".ps1", ".vbs", ".js", ".scr", ".lnk", ".zip", ".dat", ".tmp",
	}
)

// StringRef is one printable string found in the image. Offset is the
// file offset of its first byte.
type StringRef struct {
	Value      string   `json:"value"`
	Offset     uint32   `json:"offset"`
	Wide       bool     `json:"wide,omitempty"` // UTF-16LE
	Categories []string `json:"categories"`
}

// ClassifyString returns the categories matching value, nil if none.
func ClassifyString(value string) []string {
	if len(value) < 2 {
		return nil
	}
	var cats []string
	lower := strings.ToLower(value)
	add := func(ok bool, cat string) {
		if ok {
			cats = append(cats, cat)
		}
	}

	add(reURL.MatchString(value), CatURL)
	add(reIPLiteral.MatchString(value), CatHost)
	add(containsAny(lower, cryptoKeywords) || reCryptoShort.MatchString(value), CatCrypto)
	add(reAuth.MatchString(value), CatAuth)
	add(reRegistry.MatchString(value), CatRegistry)
	add(rePath.MatchString(value), CatPath)
	add(containsAny(lower, commandKeywords), CatCommand)
	add(containsAny(lower, antiDebugKeywords), CatAntiDbg)
	add(hasExt(lower), CatFileExt)

	// Exclude identifiers that merely share the base64 alphabet.
	trimmed := strings.TrimSpace(value)
	add(reBase64.MatchString(trimmed) && Entropy([]byte(trimmed)) > 4.0 && !isCamelCase(trimmed), CatBase64)
	return cats
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func hasExt(lower string) bool {
	for _, ext := range fileExtensions {
		if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext+" ") || strings.Contains(lower, ext+"\"") {
			return true
		}
	}
	return false
}

func isCamelCase(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] >= 'a' && s[i-1] <= 'z' && s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

func printable(c uint16) bool { return c == '\t' || (c >= 0x20 && c < 0x7f) }

// ExtractStrings finds ASCII and UTF-16LE runs of at least minLen printable
// characters in data, by offset. base is added to each offset.
func ExtractStrings(data []byte, base uint32, minLen int) []StringRef {
	var out []StringRef
	start := -1
	for i := 0; i <= len(data); i++ {
		if i < len(data) && printable(uint16(data[i])) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minLen {
			out = append(out, StringRef{Value: string(data[start:i]), Offset: base + uint32(start)})
		}
		start = -1
	}

	for parity := 0; parity < 2; parity++ {
		var run []uint16
		begin := 0
		flush := func() {
			if len(run) >= minLen {
				out = append(out, StringRef{Value: string(utf16.Decode(run)), Offset: base + uint32(begin), Wide: true})
			}
			run = run[:0]
		}
		for i := parity; i+1 < len(data); i += 2 {
			c := uint16(data[i]) | uint16(data[i+1])<<8
			if printable(c) && data[i+1] == 0 {
				if len(run) == 0 {
					begin = i
				}
				run = append(run, c)
				continue
			}
			flush()
		}
		flush()
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Signals returns the classified strings of the non-code sections of img,
// capped at a fixed count, and the number of strings per category.
func Signals(img *binfmt.Image) ([]StringRef, map[string]int) {
	var (
		refs   []StringRef
		counts map[string]int
	)
	for _, s := range img.Sections {
		if s.Type == binfmt.SectionCode {
			continue
		}
		for _, r := range ExtractStrings(img.SectionData(s), s.PointerToRawData, MinStringLen) {
			cats := ClassifyString(r.Value)
			if len(cats) == 0 {
				continue
			}
			if counts == nil {
				counts = map[string]int{}
			}
			for _, c := range cats {
				counts[c]++
			}
			if len(refs) < maxSignals {
				r.Categories = cats
				refs = append(refs, r)
			}
		}
	}
	return refs, counts
}
