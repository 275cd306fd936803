package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "emacall",
		Short:         "Low latency streaming voice replies for phone calls",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newConsoleCmd(),
		newConfigCmd(&configPath),
	)
	return root
}
