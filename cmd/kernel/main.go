// cmd/kernel is the command-line interface to the kernel: boot it
// against a disk image and a shell program, or inspect a disk image's
// file table.
package main

import (
	"context"
	"os"

	"github.com/rvkernel/rvkernel/internal/cli"
	"github.com/rvkernel/rvkernel/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Boot(),
	cmd.Inspect(),
}

func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
