package pattern

// rule fingerprints one toolchain or packer. Any match is evidence; the
// rule fires when at least one piece of evidence is found.
type rule struct {
	name     string
	sections []string // exact section names, case-insensitive
	strings  []string // byte strings anywhere in the file
	dlls     []string // imported DLL names, case-insensitive
	families []string // prologue families that back the guess
}

var compilerRules = []rule{
	{
		name:     "msvc",
		strings:  []string{"Microsoft Visual C++", "Microsoft (R) Optimizing Compiler"},
		dlls:     []string{"vcruntime140.dll", "msvcr100.dll", "msvcr110.dll", "msvcr120.dll", "msvcp140.dll", "api-ms-win-crt-runtime-l1-1-0.dll"},
		families: []string{"msvc", "msvc-hotpatch", "msvc-leaf"},
	},
	{
		name:     "mingw-gcc",
		sections: []string{".eh_frame", ".gcc_except_table"},
		strings:  []string{"GCC: (", "Mingw-w64 runtime failure", "libgcc_s_dw2-1.dll"},
		dlls:     []string{"libgcc_s_dw2-1.dll", "libgcc_s_seh-1.dll", "libstdc++-6.dll", "libwinpthread-1.dll"},
		families: []string{"gcc"},
	},
	{
		name:     "go",
		sections: []string{".symtab"},
		strings:  []string{"Go build ID:", "runtime.main", "go.buildid"},
	},
	{
		name:    "rust",
		strings: []string{"/rustc/", "rust_panic", "RUST_BACKTRACE"},
	},
	{
		name:     "delphi",
		sections: []string{"CODE", "DATA", "BSS"},
		strings:  []string{"Borland", "SOFTWARE\\Borland\\Delphi"},
		dlls:     []string{"borlndmm.dll"},
	},
	{
		name: "dotnet",
		dlls: []string{"mscoree.dll"},
	},
}

var packerRules = []rule{
	{name: "upx", sections: []string{"UPX0", "UPX1", "UPX2", ".upx"}, strings: []string{"UPX!"}},
	{name: "aspack", sections: []string{".aspack", ".adata"}},
	{name: "mpress", sections: []string{".MPRESS1", ".MPRESS2"}},
	{name: "petite", sections: []string{".petite"}},
	{name: "nspack", sections: []string{".nsp0", ".nsp1", ".nsp2"}},
	{name: "pecompact", sections: []string{"PEC2", "PEC2TO", "PECompact2"}},
	{name: "themida", sections: []string{".themida", ".winlice"}},
	{name: "vmprotect", sections: []string{".vmp0", ".vmp1", ".vmp2"}},
	{name: "enigma", sections: []string{".enigma1", ".enigma2"}},
	{name: "fsg", strings: []string{"FSG!"}},
}
