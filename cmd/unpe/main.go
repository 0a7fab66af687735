// Command unpe decompiles x86 and x86-64 PE images into C, C++, Go or
// Python pseudocode.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "unpe: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "unpe"
	app.Usage = "PE decompiler"
	app.Description = "Finds functions in x86/x86-64 PE images, structures their control flow and renders pseudocode."
	app.Flags = globalFlags
	app.Before = setup
	app.Commands = []*cli.Command{
		DecompileCommand,
		DisasmCommand,
		FunctionsCommand,
		GraphCommand,
		ReportCommand,
		TargetsCommand,
	}
	return app
}
