package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"unpe/internal/backend"
)

var TargetsCommand = &cli.Command{
	Name:   "targets",
	Usage:  "Lists the output languages",
	Action: Targets,
}

func Targets(c *cli.Context) error {
	for _, name := range backend.Names() {
		be, err := backend.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%-8s .%s\n", be.Name(), be.Ext())
	}
	return nil
}
