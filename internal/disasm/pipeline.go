package disasm

// FuncRecord is one line in functions.jsonl.
type FuncRecord struct {
	PC         string `json:"pc"`
	Size       int    `json:"size"`
	Name       string `json:"name"`
	Source     string `json:"source"`             // prologue, export, entry
	Compiler   string `json:"compiler,omitempty"` // prologue family guess
	Insts      int    `json:"insts"`
	Blocks     int    `json:"blocks"`
	Score      int    `json:"score"`
	Complexity string `json:"complexity"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	FromFunc string `json:"from_func"`
	FromPC   string `json:"from_pc"`
	Kind     string `json:"kind"`             // direct, import, indirect, thunk
	Target   string `json:"target,omitempty"` // resolved name or "0x..." for direct
	Reg      string `json:"reg,omitempty"`    // register for call reg
	Via      string `json:"via,omitempty"`    // provenance for call reg / import DLL
}
