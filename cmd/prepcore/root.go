package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "prepcore",
		Short:        "Electropolishing workflow controller",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to the configuration file")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newRecipesCommand(&configPath))
	cmd.AddCommand(newHashPasswordCommand())

	return cmd
}
