// Package output writes unpe analysis results to files.
package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"unpe/internal/backend"
	"unpe/internal/disasm"
)

// File names inside an output directory.
const (
	FunctionsFile = "functions.jsonl"
	CallEdgesFile = "call_edges.jsonl"
	ReportFile    = "report.json"
	ListingFile   = "listing.txt"
)

// WriteReport writes v to report.json.
func WriteReport(dir string, v any) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	return writeJSON(filepath.Join(dir, ReportFile), v)
}

// WriteFunctions writes one functions.jsonl line per record.
func WriteFunctions(dir string, recs []disasm.FuncRecord) error {
	return writeJSONL(filepath.Join(dir, FunctionsFile), recs)
}

// WriteCallEdges writes one call_edges.jsonl line per record.
func WriteCallEdges(dir string, recs []disasm.CallEdgeRecord) error {
	return writeJSONL(filepath.Join(dir, CallEdgesFile), recs)
}

// ReadFunctions loads functions.jsonl from a previous run.
func ReadFunctions(dir string) ([]disasm.FuncRecord, error) {
	return readJSONL[disasm.FuncRecord](filepath.Join(dir, FunctionsFile))
}

// ReadCallEdges loads call_edges.jsonl from a previous run.
func ReadCallEdges(dir string) ([]disasm.CallEdgeRecord, error) {
	return readJSONL[disasm.CallEdgeRecord](filepath.Join(dir, CallEdgesFile))
}

// WriteSource renders u with be to src/<target>/<module>.<ext> and returns
// the path written.
func WriteSource(dir string, be backend.Backend, u *backend.Unit) (string, error) {
	path := filepath.Join(dir, "src", be.Name(), u.Module+"."+be.Ext())
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("output: mkdir src: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("output: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := be.Render(u, w); err != nil {
		f.Close()
		return "", fmt.Errorf("output: render %s: %w", be.Name(), err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("output: write %s: %w", path, err)
	}
	return path, f.Close()
}

// WriteDOT writes a DOT graph to <sub>/<name>.dot. name is sanitized for
// the file system.
func WriteDOT(dir, sub, name, dot string) error {
	path := filepath.Join(dir, sub, fileName(name)+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", sub, err)
	}
	return os.WriteFile(path, []byte(dot), 0644)
}

// WriteASM writes disassembled instructions to asm/<name>.txt.
func WriteASM(dir string, name string, insts []disasm.Instruction, lookup disasm.SymbolLookup, annotators ...disasm.Annotator) error {
	path := filepath.Join(dir, "asm", fileName(name)+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}
	text := disasm.Format(insts, lookup, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

// WriteASMSingle writes all instructions to a single listing.txt file.
func WriteASMSingle(dir string, insts []disasm.Instruction, lookup disasm.SymbolLookup, annotators ...disasm.Annotator) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	text := disasm.Format(insts, lookup, annotators...)
	return os.WriteFile(filepath.Join(dir, ListingFile), []byte(text), 0644)
}

// fileName replaces path separators and other awkward characters.
func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}

func writeJSONL[T any](path string, recs []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range recs {
		if err := enc.Encode(&recs[i]); err != nil {
			f.Close()
			return fmt.Errorf("output: write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return f.Close()
}

func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	defer f.Close()

	var out []T
	dec := json.NewDecoder(f)
	for {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("output: read %s: %w", path, err)
		}
		out = append(out, rec)
	}
}
