// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Command opencarve recursively carves a file into its constituent parts
// and browses the result, the command-line entry point over
// internal/scheduler, internal/metadir, and internal/webdavbrowse.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cobra.EnableCommandSorting = false
	rootCommand.AddCommand(scanCommand, showCommand, browseCommand)
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCommand = &cobra.Command{
	Use:   "opencarve",
	Short: "opencarve recursively carves and catalogues the contents of a file",
}
