package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blob holds two functions at 0x401000 and 0x401020; the first calls the
// second.
const blob = "55 8b ec 8b 45 08 e8 15 00 00 00 5d c3" +
	" cc cc cc cc cc cc cc cc cc cc cc cc cc cc cc cc cc cc cc" +
	" 55 8b ec 33 c0 5d c3"

func writeBlob(t *testing.T) string {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(blob, " ", ""))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"unpe", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestTargets(t *testing.T) {
	out, err := runApp(t, "targets")
	require.NoError(t, err)
	assert.Equal(t, "c        .c\ncpp      .cpp\ngo       .go\npython   .py\n", out)
}

func TestFunctions(t *testing.T) {
	path := writeBlob(t)
	out, err := runApp(t, "--raw", "functions", "--json", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "0x401020", rec["pc"])
	assert.Equal(t, "sub_401020", rec["name"])

	out, err = runApp(t, "--raw", "functions", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ADDR"))
	assert.Contains(t, out, "sub_401000")
}

func TestDecompile(t *testing.T) {
	path := writeBlob(t)
	dir := t.TempDir()
	_, err := runApp(t, "--raw", "decompile", "--out", dir, "-t", "c", "-t", "python", "--cfg", path)
	require.NoError(t, err)

	for _, name := range []string{"functions.jsonl", "call_edges.jsonl", "report.json", "src/c/blob.c", "src/python/blob.py"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	src, err := os.ReadFile(filepath.Join(dir, "src", "c", "blob.c"))
	require.NoError(t, err)
	assert.Contains(t, string(src), "sub_401020(")

	edges, err := os.ReadFile(filepath.Join(dir, "call_edges.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(edges), `"target":"sub_401020"`)
}

func TestDecompile_UnknownTarget(t *testing.T) {
	_, err := runApp(t, "--raw", "decompile", "--out", t.TempDir(), "-t", "rust", writeBlob(t))
	assert.Error(t, err)
}

func TestDisasm(t *testing.T) {
	path := writeBlob(t)
	out, err := runApp(t, "--raw", "disasm", "--verify", "--intel", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sub_401000:")
	assert.Contains(t, out, "<sub_401020>")
}

func TestGraph(t *testing.T) {
	path := writeBlob(t)
	dir := t.TempDir()
	_, err := runApp(t, "--raw", "graph", "--out", dir, "--lattice", "--reachable", path)
	require.NoError(t, err)
	dot, err := os.ReadFile(filepath.Join(dir, "callgraph.dot"))
	require.NoError(t, err)
	assert.Contains(t, string(dot), "n_sub_401000 -> n_sub_401020")
	for _, name := range []string{"lattice_callgraph.dot", "lattice_cfg.dot"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	from := t.TempDir()
	_, err = runApp(t, "--raw", "decompile", "--out", from, path)
	require.NoError(t, err)
	again := t.TempDir()
	_, err = runApp(t, "graph", "--out", again, "--from", from)
	require.NoError(t, err)
	dot2, err := os.ReadFile(filepath.Join(again, "callgraph.dot"))
	require.NoError(t, err)
	assert.Equal(t, string(dot), string(dot2))
}

func TestReport(t *testing.T) {
	out, err := runApp(t, "--raw", "report", writeBlob(t))
	require.NoError(t, err)
	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, float64(2), rep["functions"])
	assert.Contains(t, rep, "run_id")
	assert.Contains(t, rep, "callgraph")
}

func TestConfigOverrides(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "unpe.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("targets = [\"go\"]\nmode = \"strict\"\n"), 0o644))
	dir := t.TempDir()
	_, err := runApp(t, "--config", cfgPath, "--raw", "decompile", "--out", dir, writeBlob(t))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "src", "go", "blob.go"))
	assert.NoError(t, err)

	_, err = runApp(t, "--mode", "lenient", "targets")
	assert.Error(t, err)
}

func TestMissingInput(t *testing.T) {
	_, err := runApp(t, "functions")
	assert.ErrorIs(t, err, errNoInput)
}
