package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:           "pilot",
		Short:         "Sales lead discovery supervisor",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(serveCMD(), runCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
