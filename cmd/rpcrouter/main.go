package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set by the build.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "rpcrouter",
		Short:   "JSON-RPC gateway that routes requests across upstream providers by quota, rate and observed behaviour.",
		Version: version,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newUsageCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
