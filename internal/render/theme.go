package render

// Theme holds colors for graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Call edge colors by kind.
	EdgeDirect     string // call rel32
	EdgeImport     string // call [iat], jmp [iat]
	EdgeIndirect   string // call reg with recovered provenance
	EdgeUnresolved string // indirect call with no target

	// CFG edge colors.
	EdgeTaken       string
	EdgeFallthrough string

	// Node accents.
	EntryBorder  string // function entry block, call graph roots
	StubFill     string // synthetic sub_xxx functions, terminal blocks
	ExternalText string // imports and unresolved targets

	// Cluster styling.
	ClusterBorder string // per-DLL subgraph border
	ClusterLabel  string // per-DLL subgraph label text
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeDirect:     "#424242", // dark gray
	EdgeImport:     "#00695C", // teal
	EdgeIndirect:   "#E65100", // deep orange
	EdgeUnresolved: "#FC3D21", // NASA red

	EdgeTaken:       "#0B3D91", // NASA blue
	EdgeFallthrough: "#FC3D21",

	EntryBorder:  "#0B3D91",
	StubFill:     "#ECEFF1", // blue-gray 50
	ExternalText: "#9E9E9E",

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}
